package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/cpbr-dev/Clog-Bot/repositories"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFetcher returns canned totals per account and records every call.
type fakeFetcher struct {
	mu     sync.Mutex
	totals map[string]int
	errs   map[string][]error
	calls  map[string]int

	// gate, when set, blocks every fetch until it is closed.
	gate    chan struct{}
	started chan string
	delay   time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		totals: make(map[string]int),
		errs:   make(map[string][]error),
		calls:  make(map[string]int),
	}
}

func (f *fakeFetcher) setTotal(name string, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totals[models.NameKey(name)] = total
}

// failWith queues errors returned by the next fetches of name, in order.
func (f *fakeFetcher) failWith(name string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := models.NameKey(name)
	f.errs[key] = append(f.errs[key], errs...)
}

func (f *fakeFetcher) callsFor(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[models.NameKey(name)]
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeFetcher) Fetch(ctx context.Context, accountName string) (models.ScoreRecord, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	key := models.NameKey(accountName)
	f.mu.Lock()
	f.calls[key]++
	var err error
	if queued := f.errs[key]; len(queued) > 0 {
		err = queued[0]
		f.errs[key] = queued[1:]
	}
	total, ok := f.totals[key]
	gate, started, delay := f.gate, f.started, f.delay
	f.mu.Unlock()

	if started != nil {
		started <- accountName
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.ScoreRecord{}, ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	if err != nil {
		return models.ScoreRecord{}, err
	}
	if !ok {
		total = 0
	}
	now := time.Now().UTC()
	return models.ScoreRecord{
		AccountName: accountName,
		Total:       total,
		HiscoreRank: 1000,
		ObservedAt:  &now,
		Status:      models.ScoreFresh,
	}, nil
}

// recordingPublisher keeps every snapshot it was handed.
type recordingPublisher struct {
	mu     sync.Mutex
	boards []*models.Leaderboard
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, board *models.Leaderboard) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.boards = append(p.boards, board)
	return p.err
}

func (p *recordingPublisher) versions() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uint64, 0, len(p.boards))
	for _, b := range p.boards {
		out = append(out, b.Version)
	}
	return out
}

type testEnv struct {
	accounts  *repositories.MemoryAccountRepository
	overrides *repositories.MemoryOverrideRepository
	fetcher   *fakeFetcher
	locks     *AccountLocks
	syncer    *ScoreSyncer
	ranking   *RankingEngine
	registry  AccountRegistry
	base      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		accounts:  repositories.NewMemoryAccountRepository(),
		overrides: repositories.NewMemoryOverrideRepository(),
		fetcher:   newFakeFetcher(),
		locks:     NewAccountLocks(),
		base:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	logger := discardLogger()
	env.syncer = NewScoreSyncer(env.accounts, env.fetcher, env.locks, SyncOptions{
		FetchTimeout: time.Second,
		Backoff:      time.Millisecond,
		MaxRetries:   2,
	}, logger)
	env.syncer.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	env.ranking = NewRankingEngine(NewAggregator(env.accounts, env.overrides), DefaultLeaderboardSize, logger)
	env.registry = NewAccountRegistry(env.accounts, env.syncer, env.locks, env.ranking, logger)
	return env
}

// seed links an account at base+offset minutes and optionally stores a fresh total.
func (e *testEnv) seed(t *testing.T, owner models.OwnerID, name string, offsetMinutes int, total *int) {
	t.Helper()
	ctx := context.Background()
	err := e.accounts.Create(ctx, &models.Account{
		Name:     name,
		OwnerID:  owner,
		Type:     models.AccountTypeMain,
		LinkedAt: e.base.Add(time.Duration(offsetMinutes) * time.Minute),
	})
	require.NoError(t, err)
	if total != nil {
		now := e.base
		require.NoError(t, e.accounts.SaveScore(ctx, models.ScoreRecord{
			AccountName: name,
			Total:       *total,
			HiscoreRank: 1,
			ObservedAt:  &now,
			Status:      models.ScoreFresh,
		}))
	}
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }
