package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupoints/internal/cache"
	"github.com/smallbiznis/edupoints/internal/clock"
	"github.com/smallbiznis/edupoints/internal/config"
	quotadomain "github.com/smallbiznis/edupoints/internal/quota/domain"
	"github.com/smallbiznis/edupoints/internal/quota/notify"
	"github.com/smallbiznis/edupoints/internal/quota/quotatest"
	"github.com/smallbiznis/edupoints/internal/quota/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type harness struct {
	sched *Scheduler
	db    *gorm.DB
	hub   *notify.Hub
	cache cache.BalanceCache
}

func newHarness(t *testing.T, cfg Config) harness {
	t.Helper()
	db := quotatest.NewDB(t)
	hub := notify.NewHub()
	balanceCache := cache.NewMemoryBalanceCache(config.NewStaticQuotaConfigHolder(config.DefaultQuotaConfig()))

	sched, err := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    quotatest.NewNode(t),
		Clock:    clock.NewFakeClock(testNow),
		Balances: repository.ProvideBalanceStore(),
		Config:   cfg,
		Cache:    balanceCache,
		Hub:      hub,
	})
	require.NoError(t, err)
	return harness{sched: sched, db: db, hub: hub, cache: balanceCache}
}

func charge(t *testing.T, db *gorm.DB, id snowflake.ID, scope quotadomain.ScopeRef, points int64) {
	t.Helper()
	require.NoError(t, repository.ProvideLedgerStore().Append(context.Background(), db, &quotadomain.LedgerEntry{
		ID:            id,
		ScopeType:     scope.Type,
		ScopeID:       scope.ID,
		ActorID:       7,
		Kind:          quotadomain.UsageKindSpeechAssessment,
		RawAmount:     "30",
		Unit:          string(quotadomain.UnitSeconds),
		PointsCharged: points,
		CreatedAt:     testNow,
	}))
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestReconcileLedgerReportsDrift(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 1})
	periodEnd := testNow.Add(30 * 24 * time.Hour)

	clean := quotatest.SeedIndividual(t, h.db, 11, 100, 30, periodEnd)
	charge(t, h.db, 1, clean, 20)
	charge(t, h.db, 2, clean, 10)
	drifted := quotatest.SeedIndividual(t, h.db, 12, 100, 40, periodEnd)
	org := quotatest.SeedOrganization(t, h.db, 900, 1000, 5)
	charge(t, h.db, 3, org, 5)

	tallies, err := h.sched.ReconcileLedger(context.Background())
	require.NoError(t, err)
	require.Len(t, tallies, 1)
	assert.Equal(t, drifted, tallies[0].Scope)
	assert.Equal(t, int64(40), tallies[0].Drift())
}

func TestSweepExpiredDeactivatesAndNotifies(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	expired := quotatest.SeedIndividual(t, h.db, 21, 100, 60, testNow.Add(-time.Minute))
	current := quotatest.SeedIndividual(t, h.db, 22, 100, 0, testNow.Add(time.Hour))
	quotatest.SeedOrganization(t, h.db, 900, 1000, 0)

	h.cache.Set(ctx, quotadomain.BalanceView{Scope: expired, Capacity: 100, Consumed: 60, Active: true})
	sub, _, err := h.hub.Subscribe(expired.String())
	require.NoError(t, err)
	defer sub.Close()

	refs, err := h.sched.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []quotadomain.ScopeRef{expired}, refs)

	_, ok := h.cache.Get(ctx, expired)
	assert.False(t, ok)

	select {
	case n := <-sub.Notices():
		assert.Equal(t, notify.KindExpired, n.Kind)
		assert.Equal(t, int64(100), n.Capacity)
		assert.Equal(t, int64(60), n.Consumed)
	case <-time.After(time.Second):
		t.Fatal("expiry notice not delivered")
	}

	b, err := repository.ProvideBalanceStore().GetBalance(ctx, h.db, current)
	require.NoError(t, err)
	assert.True(t, b.Active)

	refs, err = h.sched.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestRunJobTimeoutIsSoft(t *testing.T) {
	h := newHarness(t, Config{})

	err := h.sched.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, err)
}

func TestRunJobWrapsFailures(t *testing.T) {
	h := newHarness(t, Config{})
	boom := errors.New("boom")

	err := h.sched.runJob(context.Background(), JobLedgerReconcile, time.Second, func(ctx context.Context) error {
		r := runFromContext(ctx)
		require.NotNil(t, r)
		assert.Equal(t, JobLedgerReconcile, r.job)
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), JobLedgerReconcile)
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	h := newHarness(t, Config{EnabledJobs: []string{"EXPIRY_SWEEP"}})
	expired := quotatest.SeedIndividual(t, h.db, 21, 100, 0, testNow.Add(-time.Minute))

	assert.True(t, h.sched.isJobEnabled(JobExpirySweep))
	assert.False(t, h.sched.isJobEnabled(JobLedgerReconcile))

	require.NoError(t, h.sched.RunOnce(context.Background()))

	b, err := repository.ProvideBalanceStore().GetBalance(context.Background(), h.db, expired)
	require.NoError(t, err)
	assert.False(t, b.Active)
}

func TestProvideConfig(t *testing.T) {
	cfg := ProvideConfig(config.Config{
		SchedulerEnabled:         true,
		SchedulerIntervalSeconds: 15,
		SchedulerJobs:            " ledger_reconcile , ,expiry_sweep",
	})
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 15*time.Second, cfg.RunInterval)
	assert.Equal(t, DefaultConfig().BatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultConfig().JobTimeout, cfg.JobTimeout)
	assert.Equal(t, []string{"ledger_reconcile", "expiry_sweep"}, cfg.EnabledJobs)
}
