package services

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cpbr-dev/Clog-Bot/metrics"
	"github.com/cpbr-dev/Clog-Bot/models"
)

const (
	DefaultLeaderboardSize = 50
	publishTimeout         = 15 * time.Second
)

// RankScores orders representatives by total desc, then earliest link, then
// owner id, assigns contiguous ranks with medals for the top three and keeps
// the first limit rows. The second result is the number of owners ranked
// before truncation.
func RankScores(scores []models.RepresentativeScore, limit int) ([]models.LeaderboardEntry, int) {
	sorted := make([]models.RepresentativeScore, len(scores))
	copy(sorted, scores)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		if !a.LinkedAt.Equal(b.LinkedAt) {
			return a.LinkedAt.Before(b.LinkedAt)
		}
		return a.OwnerID < b.OwnerID
	})

	n := len(sorted)
	if limit >= 0 && n > limit {
		n = limit
	}
	entries := make([]models.LeaderboardEntry, 0, n)
	for i := 0; i < n; i++ {
		s := sorted[i]
		entries = append(entries, models.LeaderboardEntry{
			Rank:           i + 1,
			OwnerID:        s.OwnerID,
			Total:          s.Total,
			Source:         s.Source,
			Medal:          medalFor(i + 1),
			BelowThreshold: s.BelowThreshold,
			AccountName:    s.AccountName,
			AccountType:    s.AccountType,
			Emoji:          s.Emoji,
		})
	}
	return entries, len(sorted)
}

func medalFor(rank int) models.Medal {
	switch rank {
	case 1:
		return models.MedalGold
	case 2:
		return models.MedalSilver
	case 3:
		return models.MedalBronze
	default:
		return models.MedalNone
	}
}

// RankingEngine owns the published leaderboard. Rebuilds are serialized and
// each one swaps in a new snapshot with a higher version; readers always see
// a complete snapshot.
type RankingEngine struct {
	aggregator *Aggregator
	size       int
	logger     *slog.Logger

	mu         sync.Mutex
	version    uint64
	publishers []Publisher

	current atomic.Pointer[models.Leaderboard]
	now     func() time.Time
}

func NewRankingEngine(aggregator *Aggregator, size int, logger *slog.Logger) *RankingEngine {
	if size <= 0 || size > DefaultLeaderboardSize {
		size = DefaultLeaderboardSize
	}
	e := &RankingEngine{
		aggregator: aggregator,
		size:       size,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	e.current.Store(&models.Leaderboard{Entries: []models.LeaderboardEntry{}})
	return e
}

// AddPublisher registers a sink notified after every successful swap.
func (e *RankingEngine) AddPublisher(p Publisher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publishers = append(e.publishers, p)
}

// Current returns the latest snapshot. Before the first rebuild it is an
// empty board with version 0.
func (e *RankingEngine) Current() *models.Leaderboard {
	return e.current.Load()
}

// Rebuild aggregates stored scores, ranks them and swaps the snapshot in.
// On failure the previous snapshot stays published.
func (e *RankingEngine) Rebuild(ctx context.Context) (*models.Leaderboard, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	scores, err := e.aggregator.AggregateAll(ctx)
	if err != nil {
		e.logger.Error("leaderboard rebuild failed", "error", err)
		return nil, err
	}

	entries, ranked := RankScores(scores, e.size)
	e.version++
	board := &models.Leaderboard{
		Version:     e.version,
		GeneratedAt: e.now(),
		Entries:     entries,
		TotalRanked: ranked,
	}
	e.current.Store(board)

	metrics.LeaderboardVersion.Set(float64(board.Version))
	metrics.RankedOwners.Set(float64(ranked))
	e.logger.Info("leaderboard rebuilt", "version", board.Version, "entries", len(entries), "ranked", ranked)

	// публикуем под мьютексом, чтобы подписчики получали версии по порядку
	for _, p := range e.publishers {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		if err := p.Publish(pubCtx, board); err != nil {
			e.logger.Warn("leaderboard publish failed", "version", board.Version, "error", err)
		}
		cancel()
	}
	return board, nil
}

// Refresh re-ranks without fetching anything.
func (e *RankingEngine) Refresh(ctx context.Context) (*models.Leaderboard, error) {
	return e.Rebuild(ctx)
}
