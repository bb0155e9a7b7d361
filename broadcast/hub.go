package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/gorilla/websocket"
)

const MessageLeaderboardUpdated = "LEADERBOARD_UPDATED"

var errHubStopped = errors.New("broadcast hub stopped")

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// Client is one websocket subscriber of the leaderboard.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	isClosed bool
	mu       sync.Mutex

	// снимок на момент подключения, отправляется при регистрации
	initial *snapshot
	// версия последнего отправленного снимка; только из Run
	sentVersion uint64
}

type snapshot struct {
	version uint64
	payload []byte
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{hub: hub, conn: conn, send: make(chan []byte, sendBuffer)}
}

// Hub fans leaderboard snapshots out to connected websocket clients.
// It implements services.Publisher.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan *snapshot
	done       chan struct{}

	// последний разосланный снимок; читается и пишется только в Run
	latest *snapshot

	mu      sync.RWMutex
	clients map[*Client]bool
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *snapshot),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			// регистрация и рассылка идут через один цикл, поэтому клиент получает
			// либо этот снимок, либо все последующие
			if first := newer(client.initial, h.latest); first != nil {
				client.trySend(first.payload)
				client.sentVersion = first.version
			}
			h.logger.Debug("websocket client registered", "clients", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				client.close()
				delete(h.clients, client)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client unregistered", "clients", n)

		case snap := <-h.broadcast:
			if h.latest != nil && snap.version < h.latest.version {
				continue
			}
			h.latest = snap
			h.mu.RLock()
			for client := range h.clients {
				if snap.version <= client.sentVersion {
					continue
				}
				if !client.trySend(snap.payload) {
					h.logger.Warn("websocket client send buffer full, skipping update")
					continue
				}
				client.sentVersion = snap.version
			}
			h.mu.RUnlock()
		}
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Publish(ctx context.Context, board *models.Leaderboard) error {
	payload, err := EncodeLeaderboard(board)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- &snapshot{version: board.Version, payload: payload}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EncodeLeaderboard wraps a snapshot in the update message clients receive.
func EncodeLeaderboard(board *models.Leaderboard) ([]byte, error) {
	return json.Marshal(Message{Type: MessageLeaderboardUpdated, Payload: board})
}

// Serve registers the client and runs the pumps. The first message is current
// or the last broadcast snapshot, whichever is newer. It returns once the
// client is registered.
func (h *Hub) Serve(ctx context.Context, client *Client, current *models.Leaderboard) error {
	if current != nil {
		payload, err := EncodeLeaderboard(current)
		if err != nil {
			h.logger.Error("failed to encode current leaderboard", "error", err)
		} else {
			client.initial = &snapshot{version: current.Version, payload: payload}
		}
	}
	select {
	case h.register <- client:
	case <-h.done:
		client.conn.Close()
		return errHubStopped
	case <-ctx.Done():
		client.conn.Close()
		return ctx.Err()
	}
	go client.writePump()
	go client.readPump()
	return nil
}

func newer(a, b *snapshot) *snapshot {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.version > a.version:
		return b
	default:
		return a
	}
}

func (c *Client) trySend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed {
		return true
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isClosed {
		close(c.send)
		c.isClosed = true
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// входящие сообщения игнорируются, читаем только ради pong/close
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// каждый снимок отдельным сообщением: клиенты парсят JSON целиком
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
