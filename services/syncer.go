package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cpbr-dev/Clog-Bot/hiscores"
	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/cpbr-dev/Clog-Bot/repositories"
)

type SyncOptions struct {
	FetchTimeout time.Duration
	// Backoff is used after a 429 without a usable Retry-After.
	Backoff time.Duration
	// MaxBackoff caps a single wait while the account lock is held. A longer
	// Retry-After ends the retries and the record is marked Stale.
	MaxBackoff time.Duration
	MaxRetries int
}

const DefaultMaxBackoff = 10 * time.Second

// ScoreSyncer fetches and stores the score of a single account while holding
// that account's lock. Shared by manual updates and scheduled cycles.
type ScoreSyncer struct {
	accounts repositories.AccountRepository
	fetcher  ScoreFetcher
	locks    *AccountLocks
	opts     SyncOptions
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// SyncResult is the record that was written and the fetch error, if the fetch failed.
type SyncResult struct {
	Record   models.ScoreRecord
	FetchErr error
}

func NewScoreSyncer(accounts repositories.AccountRepository, fetcher ScoreFetcher, locks *AccountLocks, opts SyncOptions, logger *slog.Logger) *ScoreSyncer {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 3 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.Backoff > opts.MaxBackoff {
		opts.Backoff = opts.MaxBackoff
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &ScoreSyncer{
		accounts: accounts,
		fetcher:  fetcher,
		locks:    locks,
		opts:     opts,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Sync refreshes one account. A failed fetch is not an error here: the prior
// total is kept with status Stale (or Unknown) and FetchErr is set.
// Returned errors are ErrNotFound, ErrPersistenceFailure or a context error.
func (s *ScoreSyncer) Sync(ctx context.Context, accountName string) (SyncResult, error) {
	unlock := s.locks.Lock(accountName)
	defer unlock()

	prior, err := s.accounts.GetScore(ctx, accountName)
	if err != nil {
		if errors.Is(err, repositories.ErrAccountNotFound) {
			return SyncResult{}, ErrNotFound
		}
		return SyncResult{}, persistenceError("load score", err)
	}

	fetched, fetchErr := s.fetch(ctx, prior.AccountName)
	if fetchErr != nil && ctx.Err() != nil {
		// цикл отменён, ничего не пишем
		return SyncResult{}, ctx.Err()
	}

	var record models.ScoreRecord
	if fetchErr != nil {
		record = prior.MarkFailed()
		s.logger.Warn("hiscore fetch failed",
			"account", prior.AccountName,
			"reason", hiscores.Reason(fetchErr),
			"status", record.Status,
			"error", fetchErr)
	} else {
		record = fetched
		record.AccountName = prior.AccountName
	}

	if err := s.accounts.SaveScore(ctx, record); err != nil {
		if errors.Is(err, repositories.ErrAccountNotFound) {
			return SyncResult{}, ErrNotFound
		}
		return SyncResult{}, persistenceError(fmt.Sprintf("save score for %q", prior.AccountName), err)
	}
	return SyncResult{Record: record, FetchErr: fetchErr}, nil
}

func (s *ScoreSyncer) fetch(ctx context.Context, accountName string) (models.ScoreRecord, error) {
	for attempt := 0; ; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
		record, err := s.fetcher.Fetch(fetchCtx, accountName)
		cancel()
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, hiscores.ErrRateLimited) || attempt >= s.opts.MaxRetries {
			return models.ScoreRecord{}, err
		}

		wait := s.opts.Backoff
		if retryAfter, ok := hiscores.RetryAfter(err); ok && retryAfter > 0 {
			wait = retryAfter
		}
		if wait > s.opts.MaxBackoff {
			s.logger.Debug("retry-after exceeds max backoff, giving up", "account", accountName, "retry_after", wait, "max_backoff", s.opts.MaxBackoff)
			return models.ScoreRecord{}, err
		}
		s.logger.Debug("rate limited, backing off", "account", accountName, "wait", wait, "attempt", attempt+1)
		if err := s.sleep(ctx, wait); err != nil {
			return models.ScoreRecord{}, err
		}
	}
}
