package services

import (
	"context"
	"errors"
	"time"

	"github.com/cpbr-dev/Clog-Bot/models"
)

// ScoreFetcher looks up the current collection log total of one account.
// hiscores.Client is the production implementation.
type ScoreFetcher interface {
	Fetch(ctx context.Context, accountName string) (models.ScoreRecord, error)
}

// Publisher receives every snapshot the ranking engine swaps in.
type Publisher interface {
	Publish(ctx context.Context, board *models.Leaderboard) error
}

// Reranker rebuilds the leaderboard from stored data without fetching.
type Reranker interface {
	Refresh(ctx context.Context) (*models.Leaderboard, error)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
