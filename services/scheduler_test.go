package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cpbr-dev/Clog-Bot/hiscores"
	"github.com/cpbr-dev/Clog-Bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(env *testEnv, cfg SchedulerConfig) *SyncScheduler {
	return NewSyncScheduler(env.accounts, env.syncer, env.ranking, cfg, discardLogger())
}

func TestResync_RefreshesEveryAccountAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, alice, "Alice Main", 0, nil)
	env.seed(t, alice, "Alice Iron", 1, nil)
	env.seed(t, bob, "Bob", 2, nil)
	env.seed(t, carl, "Carl", 3, nil)
	env.fetcher.setTotal("Alice Main", 312)
	env.fetcher.setTotal("Bob", 1400)
	env.fetcher.setTotal("Carl", 200)
	env.fetcher.failWith("Alice Iron", hiscores.ErrNotFound)
	require.NoError(t, env.overrides.Upsert(context.Background(), &models.Override{OwnerID: carl, Total: 450, SetBy: 1}))

	pub := &recordingPublisher{}
	env.ranking.AddPublisher(pub)
	sched := newTestScheduler(env, SchedulerConfig{Workers: 2})

	report, err := sched.Resync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Accounts)
	assert.Equal(t, 3, report.Fresh)
	assert.Equal(t, 1, report.Failed)
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, SyncIdle, sched.State())

	board := report.Leaderboard
	require.Len(t, board.Entries, 3)
	assert.Equal(t, []models.OwnerID{bob, carl, alice}, []models.OwnerID{board.Entries[0].OwnerID, board.Entries[1].OwnerID, board.Entries[2].OwnerID})
	assert.Equal(t, 450, board.Entries[1].Total)
	assert.Equal(t, []uint64{board.Version}, pub.versions())

	rec, err := env.accounts.GetScore(context.Background(), "Alice Iron")
	require.NoError(t, err)
	assert.Equal(t, models.ScoreUnknown, rec.Status)
}

func TestResync_ConcurrentCallsRunOnce(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		env.seed(t, models.OwnerID(i+1), fmt.Sprintf("Player%d", i), i, nil)
	}
	env.fetcher.gate = make(chan struct{})
	env.fetcher.started = make(chan string, 16)
	sched := newTestScheduler(env, SchedulerConfig{Workers: 5})

	type result struct {
		report *CycleReport
		err    error
	}
	first := make(chan result, 1)
	go func() {
		r, err := sched.Resync(context.Background())
		first <- result{r, err}
	}()

	select {
	case <-env.fetcher.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle never started fetching")
	}
	assert.Equal(t, SyncRunning, sched.State())

	_, err := sched.Resync(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(env.fetcher.gate)
	r := <-first
	require.NoError(t, r.err)
	assert.Equal(t, 3, r.report.Fresh)

	for i := 0; i < 3; i++ {
		assert.Equal(t, 1, env.fetcher.callsFor(fmt.Sprintf("Player%d", i)))
	}
	assert.Equal(t, SyncIdle, sched.State())
}

func TestResync_BoundedParallelism(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 12; i++ {
		env.seed(t, models.OwnerID(i+1), fmt.Sprintf("Player%d", i), i, nil)
	}
	env.fetcher.delay = 10 * time.Millisecond
	sched := newTestScheduler(env, SchedulerConfig{Workers: 5})

	_, err := sched.Resync(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, env.fetcher.maxInFlight.Load(), int32(5))
	assert.Equal(t, 12, env.fetcher.totalCalls())
}

func TestResync_IdempotentWithoutUpstreamChanges(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, alice, "Alice", 0, nil)
	env.seed(t, bob, "Bob", 1, nil)
	env.fetcher.setTotal("Alice", 700)
	env.fetcher.setTotal("Bob", 700)
	sched := newTestScheduler(env, SchedulerConfig{})

	first, err := sched.Resync(context.Background())
	require.NoError(t, err)
	second, err := sched.Resync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.Leaderboard.Entries, second.Leaderboard.Entries)
	assert.Greater(t, second.Leaderboard.Version, first.Leaderboard.Version)
	assert.Equal(t, alice, second.Leaderboard.Entries[0].OwnerID)
}

func TestResync_FailedFetchesKeepPriorTotals(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, alice, "Alice", 0, intPtr(900))
	env.seed(t, bob, "Bob", 1, intPtr(800))
	env.fetcher.failWith("Alice", hiscores.ErrServiceUnavailable)
	env.fetcher.failWith("Bob", fmt.Errorf("%w: bad json", hiscores.ErrMalformed))
	sched := newTestScheduler(env, SchedulerConfig{})

	report, err := sched.Resync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed)

	require.Len(t, report.Leaderboard.Entries, 2)
	assert.Equal(t, 900, report.Leaderboard.Entries[0].Total)
	for _, name := range []string{"Alice", "Bob"} {
		rec, err := env.accounts.GetScore(context.Background(), name)
		require.NoError(t, err)
		assert.Equal(t, models.ScoreStale, rec.Status)
	}
}

func TestResync_WriteFailureIsIsolated(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, alice, "Alice", 0, nil)
	env.seed(t, bob, "Bob", 1, nil)
	env.fetcher.setTotal("Alice", 600)
	env.fetcher.setTotal("Bob", 650)
	env.accounts.FailScoreWrites("Bob", assert.AnError)
	sched := newTestScheduler(env, SchedulerConfig{})

	report, err := sched.Resync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.WriteErrors)
	assert.Equal(t, 1, report.Fresh)

	require.Len(t, report.Leaderboard.Entries, 1)
	assert.Equal(t, alice, report.Leaderboard.Entries[0].OwnerID)
}

func TestResync_ListFailure(t *testing.T) {
	env := newTestEnv(t)
	env.accounts.WithError(assert.AnError)
	sched := newTestScheduler(env, SchedulerConfig{})

	_, err := sched.Resync(context.Background())
	assert.ErrorIs(t, err, ErrPersistenceFailure)
	assert.Equal(t, SyncIdle, sched.State())
	assert.Zero(t, env.ranking.Current().Version)
}

func TestResync_CancelledCycleDoesNotPublish(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, alice, "Alice", 0, intPtr(900))
	env.fetcher.gate = make(chan struct{})
	env.fetcher.started = make(chan string, 4)
	sched := newTestScheduler(env, SchedulerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := sched.Resync(ctx)
		done <- err
	}()
	<-env.fetcher.started
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, env.ranking.Current().Version)

	rec, err := env.accounts.GetScore(context.Background(), "Alice")
	require.NoError(t, err)
	assert.Equal(t, models.ScoreFresh, rec.Status)
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, alice, "Alice", 0, nil)
	env.fetcher.setTotal("Alice", 510)
	sched := newTestScheduler(env, SchedulerConfig{Interval: 20 * time.Millisecond, RunOnStart: true})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		return env.ranking.Current().Version >= 2
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, SyncIdle, sched.State())
	assert.Equal(t, 510, env.ranking.Current().Entries[0].Total)
}

func TestRun_DropsTickWhileManualCycleRuns(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, alice, "Alice", 0, nil)
	env.fetcher.gate = make(chan struct{})
	env.fetcher.started = make(chan string, 64)
	sched := newTestScheduler(env, SchedulerConfig{Interval: 5 * time.Millisecond})

	manual := make(chan error, 1)
	go func() {
		_, err := sched.Resync(context.Background())
		manual <- err
	}()
	<-env.fetcher.started

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(stopped)
	}()
	time.Sleep(50 * time.Millisecond)

	// все тики пришлись на ручной цикл и были отброшены
	assert.Equal(t, 1, env.fetcher.callsFor("Alice"))

	cancel()
	<-stopped
	close(env.fetcher.gate)
	require.NoError(t, <-manual)
}

func TestResync_AccountRenamedMidCycleIsCountedAsSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, alice, "First", 0, nil)
	env.seed(t, bob, "Second", 1, nil)
	env.fetcher.gate = make(chan struct{})
	env.fetcher.started = make(chan string, 4)
	sched := newTestScheduler(env, SchedulerConfig{Workers: 1})

	done := make(chan *CycleReport, 1)
	go func() {
		report, err := sched.Resync(context.Background())
		assert.NoError(t, err)
		done <- report
	}()

	select {
	case name := <-env.fetcher.started:
		require.Equal(t, "First", name)
	case <-time.After(5 * time.Second):
		t.Fatal("cycle never started fetching")
	}
	// один воркер занят, второй аккаунт ещё не взят в работу
	renamed := &models.Account{Name: "Renamed", OwnerID: bob, Type: models.AccountTypeMain, LinkedAt: env.base}
	require.NoError(t, env.accounts.Update(context.Background(), "Second", renamed))
	close(env.fetcher.gate)

	report := <-done
	require.NotNil(t, report)
	assert.Equal(t, 2, report.Accounts)
	assert.Equal(t, 1, report.Fresh)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)
	assert.Zero(t, env.fetcher.callsFor("Second"))
}
