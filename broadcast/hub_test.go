package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	Type    string             `json:"type"`
	Payload models.Leaderboard `json:"payload"`
}

func startHub(t *testing.T) (*Hub, context.CancelFunc, string) {
	t.Helper()
	return startHubWithCurrent(t, &models.Leaderboard{Version: 1, Entries: []models.LeaderboardEntry{}})
}

// startHubWithCurrent serves clients whose connect-time snapshot is current.
func startHubWithCurrent(t *testing.T, current *models.Leaderboard) (*Hub, context.CancelFunc, string) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = hub.Serve(r.Context(), NewClient(hub, conn), current)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, cancel, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg received
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_InitialSnapshotThenUpdates(t *testing.T) {
	hub, _, url := startHub(t)
	conn := dial(t, url)

	first := readMessage(t, conn)
	assert.Equal(t, MessageLeaderboardUpdated, first.Type)
	assert.EqualValues(t, 1, first.Payload.Version)

	board := &models.Leaderboard{
		Version: 2,
		Entries: []models.LeaderboardEntry{{Rank: 1, OwnerID: 7, Total: 1200, Medal: models.MedalGold}},
	}
	require.NoError(t, hub.Publish(context.Background(), board))

	second := readMessage(t, conn)
	assert.EqualValues(t, 2, second.Payload.Version)
	require.Len(t, second.Payload.Entries, 1)
	assert.Equal(t, models.OwnerID(7), second.Payload.Entries[0].OwnerID)
	assert.Equal(t, 1, hub.Clients())
}

func TestHub_FanOutToAllClients(t *testing.T) {
	hub, _, url := startHub(t)
	a := dial(t, url)
	b := dial(t, url)
	readMessage(t, a)
	readMessage(t, b)

	require.NoError(t, hub.Publish(context.Background(), &models.Leaderboard{Version: 5}))

	assert.EqualValues(t, 5, readMessage(t, a).Payload.Version)
	assert.EqualValues(t, 5, readMessage(t, b).Payload.Version)
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub, _, url := startHub(t)
	conn := dial(t, url)
	readMessage(t, conn)
	require.Equal(t, 1, hub.Clients())

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_StoppedHubDoesNotBlockPublishers(t *testing.T) {
	hub, cancel, url := startHub(t)
	conn := dial(t, url)
	readMessage(t, conn)

	cancel()
	<-hub.done

	done := make(chan error, 1)
	go func() { done <- hub.Publish(context.Background(), &models.Leaderboard{Version: 9}) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a stopped hub")
	}

	// клиент получает close frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_SnapshotPublishedBeforeRegistrationIsDelivered(t *testing.T) {
	hub, _, url := startHubWithCurrent(t, &models.Leaderboard{Version: 1})

	// рассылка прошла до подключения клиента, а снимок при подключении уже устарел
	require.NoError(t, hub.Publish(context.Background(), &models.Leaderboard{Version: 2}))
	conn := dial(t, url)

	assert.EqualValues(t, 2, readMessage(t, conn).Payload.Version)

	require.NoError(t, hub.Publish(context.Background(), &models.Leaderboard{Version: 3}))
	assert.EqualValues(t, 3, readMessage(t, conn).Payload.Version)
}

func TestHub_VersionAlreadySentIsNotRepeated(t *testing.T) {
	hub, _, url := startHubWithCurrent(t, &models.Leaderboard{Version: 4})
	conn := dial(t, url)
	assert.EqualValues(t, 4, readMessage(t, conn).Payload.Version)

	// рассылка того же снимка, что клиент уже получил при подключении
	require.NoError(t, hub.Publish(context.Background(), &models.Leaderboard{Version: 4}))
	require.NoError(t, hub.Publish(context.Background(), &models.Leaderboard{Version: 5}))

	assert.EqualValues(t, 5, readMessage(t, conn).Payload.Version)
}
