package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (m *memoryStore) Upload(_ context.Context, key, _ string, reader io.Reader) (*UploadResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = body
	return &UploadResult{Key: key, Location: m.GetPublicURL(key)}, nil
}

func (m *memoryStore) GetPublicURL(key string) string {
	return joinPublicURL("https://cdn.example.com/clog", key)
}

func TestSnapshotArchiver_WritesDatedCopyAndLatest(t *testing.T) {
	store := &memoryStore{}
	archiver := NewSnapshotArchiver(store, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	board := &models.Leaderboard{
		Version:     7,
		GeneratedAt: time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
		Entries:     []models.LeaderboardEntry{{Rank: 1, OwnerID: 42, Total: 1300, Medal: models.MedalGold}},
		TotalRanked: 1,
	}

	require.NoError(t, archiver.Publish(context.Background(), board))

	key := "leaderboards/2024/03/01/20240301T123000Z-v7.json"
	assert.Equal(t, key, archiver.SnapshotKey(board))
	require.Contains(t, store.objects, key)
	require.Contains(t, store.objects, "leaderboards/latest.json")

	var got models.Leaderboard
	require.NoError(t, json.Unmarshal(store.objects["leaderboards/latest.json"], &got))
	assert.Equal(t, board.Entries, got.Entries)
}

func TestSnapshotArchiver_UploadError(t *testing.T) {
	store := &memoryStore{err: assert.AnError}
	archiver := NewSnapshotArchiver(store, "boards", slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := archiver.Publish(context.Background(), &models.Leaderboard{Version: 1})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestJoinPublicURL(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com/clog/leaderboards/latest.json", joinPublicURL("https://cdn.example.com/clog", "/leaderboards/latest.json"))
	assert.Equal(t, "https://cdn.example.com/a.json", joinPublicURL("https://cdn.example.com/", "a.json"))
	assert.Empty(t, joinPublicURL("", "a.json"))
}

func TestCloudflareR2Config_Enabled(t *testing.T) {
	assert.False(t, CloudflareR2Config{}.Enabled())
	assert.True(t, CloudflareR2Config{AccountID: "a", AccessKeyID: "k", SecretAccessKey: "s", BucketName: "b"}.Enabled())

	_, err := NewCloudflareR2Store(context.Background(), CloudflareR2Config{AccountID: "a"})
	assert.Error(t, err)
}
