package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"github.com/cpbr-dev/Clog-Bot/models"
)

const (
	DefaultArchivePrefix = "leaderboards"
	latestKey            = "latest.json"
)

// SnapshotArchiver writes every published leaderboard to the object store:
// a dated copy plus latest.json. It implements services.Publisher.
type SnapshotArchiver struct {
	store  ObjectStore
	prefix string
	logger *slog.Logger
}

func NewSnapshotArchiver(store ObjectStore, prefix string, logger *slog.Logger) *SnapshotArchiver {
	if prefix == "" {
		prefix = DefaultArchivePrefix
	}
	return &SnapshotArchiver{store: store, prefix: prefix, logger: logger}
}

// SnapshotKey - версия сбрасывается при рестарте, поэтому в ключе есть время генерации.
func (a *SnapshotArchiver) SnapshotKey(board *models.Leaderboard) string {
	ts := board.GeneratedAt.UTC()
	return path.Join(a.prefix, ts.Format("2006/01/02"), fmt.Sprintf("%s-v%d.json", ts.Format("20060102T150405Z"), board.Version))
}

func (a *SnapshotArchiver) Publish(ctx context.Context, board *models.Leaderboard) error {
	body, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("encode leaderboard snapshot: %w", err)
	}

	key := a.SnapshotKey(board)
	res, err := a.store.Upload(ctx, key, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	if _, err := a.store.Upload(ctx, path.Join(a.prefix, latestKey), "application/json", bytes.NewReader(body)); err != nil {
		return err
	}

	a.logger.Info("leaderboard snapshot archived", "version", board.Version, "key", res.Key, "location", res.Location)
	return nil
}
