package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cpbr-dev/Clog-Bot/metrics"
	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/cpbr-dev/Clog-Bot/repositories"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncRunning SyncState = "running"

	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"

	DefaultSyncInterval = time.Hour
	DefaultSyncWorkers  = 5
)

type SchedulerConfig struct {
	Interval time.Duration
	Workers  int
	// RunOnStart starts a cycle as soon as Run is called.
	RunOnStart bool
}

// CycleReport summarizes one finished cycle. Skipped counts accounts that were
// unlinked or renamed after the cycle listed them.
type CycleReport struct {
	ID          string
	Trigger     string
	Accounts    int
	Fresh       int
	Failed      int
	Skipped     int
	WriteErrors int
	Duration    time.Duration
	Leaderboard *models.Leaderboard
}

// SyncScheduler runs sync cycles: refresh every linked account with bounded
// parallelism, then rebuild and publish the leaderboard. At most one cycle
// runs at a time.
type SyncScheduler struct {
	accounts repositories.AccountRepository
	syncer   *ScoreSyncer
	ranking  *RankingEngine
	cfg      SchedulerConfig
	logger   *slog.Logger

	mu    sync.Mutex
	state SyncState
	wg    sync.WaitGroup
}

func NewSyncScheduler(accounts repositories.AccountRepository, syncer *ScoreSyncer, ranking *RankingEngine, cfg SchedulerConfig, logger *slog.Logger) *SyncScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSyncInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultSyncWorkers
	}
	return &SyncScheduler{
		accounts: accounts,
		syncer:   syncer,
		ranking:  ranking,
		cfg:      cfg,
		logger:   logger,
		state:    SyncIdle,
	}
}

func (s *SyncScheduler) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// tryStart переводит Idle -> Running; false если цикл уже идёт.
func (s *SyncScheduler) tryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SyncRunning {
		return false
	}
	s.state = SyncRunning
	return true
}

func (s *SyncScheduler) finish() {
	s.mu.Lock()
	s.state = SyncIdle
	s.mu.Unlock()
}

// Resync runs a cycle now and waits for it. It returns ErrAlreadyRunning
// without doing anything if a cycle is in progress.
func (s *SyncScheduler) Resync(ctx context.Context) (*CycleReport, error) {
	if !s.tryStart() {
		metrics.SyncCycles.WithLabelValues(TriggerManual, "already_running").Inc()
		return nil, ErrAlreadyRunning
	}
	defer s.finish()
	return s.runCycle(ctx, TriggerManual)
}

// Run fires a cycle every interval until ctx is cancelled. Ticks that arrive
// while a cycle is running are dropped.
func (s *SyncScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("sync scheduler started", "interval", s.cfg.Interval, "workers", s.cfg.Workers)
	if s.cfg.RunOnStart {
		s.trigger(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

func (s *SyncScheduler) trigger(ctx context.Context) {
	if !s.tryStart() {
		metrics.SyncCycles.WithLabelValues(TriggerScheduled, "dropped").Inc()
		s.logger.Info("scheduled tick dropped, cycle already running")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finish()
		if _, err := s.runCycle(ctx, TriggerScheduled); err != nil && !isContextError(err) {
			s.logger.Error("scheduled sync cycle failed", "error", err)
		}
	}()
}

func (s *SyncScheduler) runCycle(ctx context.Context, trigger string) (*CycleReport, error) {
	report := &CycleReport{ID: uuid.NewString(), Trigger: trigger}
	logger := s.logger.With("cycle_id", report.ID, "trigger", trigger)
	start := time.Now()
	defer func() {
		report.Duration = time.Since(start)
		metrics.SyncCycleDuration.Observe(report.Duration.Seconds())
	}()

	accounts, err := s.accounts.ListAll(ctx)
	if err != nil {
		metrics.SyncCycles.WithLabelValues(trigger, "failed").Inc()
		return nil, persistenceError("list accounts", err)
	}
	report.Accounts = len(accounts)
	logger.Info("sync cycle started", "accounts", len(accounts))

	var fresh, failed, skipped, writeErrors atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Workers)
	for _, acc := range accounts {
		if ctx.Err() != nil {
			break
		}
		name := acc.Name
		g.Go(func() error {
			result, err := s.syncer.Sync(ctx, name)
			switch {
			case err == nil && result.FetchErr == nil:
				fresh.Add(1)
			case err == nil:
				failed.Add(1)
			case errors.Is(err, ErrNotFound):
				// отвязан или переименован во время цикла
				skipped.Add(1)
				logger.Debug("account gone during cycle, skipped", "account", name)
			case errors.Is(err, ErrPersistenceFailure):
				writeErrors.Add(1)
				logger.Error("score write failed", "account", name, "error", err)
			}
			// ошибки одного аккаунта не прерывают цикл
			return nil
		})
	}
	_ = g.Wait()

	report.Fresh = int(fresh.Load())
	report.Failed = int(failed.Load())
	report.Skipped = int(skipped.Load())
	report.WriteErrors = int(writeErrors.Load())

	if err := ctx.Err(); err != nil {
		metrics.SyncCycles.WithLabelValues(trigger, "abandoned").Inc()
		logger.Warn("sync cycle abandoned", "error", err)
		return nil, err
	}

	board, err := s.ranking.Rebuild(ctx)
	if err != nil {
		metrics.SyncCycles.WithLabelValues(trigger, "failed").Inc()
		return nil, err
	}
	report.Leaderboard = board

	metrics.SyncCycles.WithLabelValues(trigger, "completed").Inc()
	logger.Info("sync cycle completed",
		"accounts", report.Accounts,
		"fresh", report.Fresh,
		"stale_or_unknown", report.Failed,
		"skipped", report.Skipped,
		"write_errors", report.WriteErrors,
		"version", board.Version,
		"duration", time.Since(start))
	return report, nil
}
