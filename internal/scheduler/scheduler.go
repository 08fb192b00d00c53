// Package scheduler runs periodic maintenance over billing scopes: ledger
// reconciliation and expiry of ended periods.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupoints/internal/cache"
	"github.com/smallbiznis/edupoints/internal/clock"
	obsmetrics "github.com/smallbiznis/edupoints/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/edupoints/internal/quota/domain"
	"github.com/smallbiznis/edupoints/internal/quota/notify"
	"github.com/smallbiznis/edupoints/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobLedgerReconcile = "ledger_reconcile"
	JobExpirySweep     = "expiry_sweep"

	keyJobLease = "edupoints:scheduler:lease:%s"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Balances   quotadomain.BalanceStore
	Config     Config              `optional:"true"`
	Locker     *ratelimit.Locker   `optional:"true"`
	Cache      cache.BalanceCache  `optional:"true"`
	Hub        *notify.Hub         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	balances   quotadomain.BalanceStore
	locker     *ratelimit.Locker
	cache      cache.BalanceCache
	hub        *notify.Hub
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Balances == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		balances:   p.Balances,
		locker:     p.Locker,
		cache:      p.Cache,
		hub:        p.Hub,
		obsMetrics: p.ObsMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	release, acquired := s.acquireLease(ctx, name)
	if !acquired {
		s.obsMetrics.RecordJob(ctx, name, "skipped", time.Since(start))
		return nil
	}
	defer release()

	ctx, r, owner := s.beginRun(ctx, name)
	if owner {
		s.logRunStart(ctx)
	}

	err := fn(ctx)
	if err != nil && r.failed == 0 {
		r.fail()
	}
	if owner {
		s.logRunSummary(ctx, r)
	}

	switch {
	case err == nil:
		s.obsMetrics.RecordJob(ctx, name, "ok", time.Since(start))
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// Soft timeout: the next tick picks up where this one stopped.
		s.obsMetrics.RecordJob(ctx, name, "timeout", time.Since(start))
		s.logger(ctx).Warn("job timed out", zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	default:
		s.obsMetrics.RecordJob(ctx, name, "error", time.Since(start))
		return fmt.Errorf("%s: %w", name, err)
	}
}

// acquireLease keeps one instance per job run. Without redis every instance
// runs; both jobs are idempotent.
func (s *Scheduler) acquireLease(ctx context.Context, job string) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	lease, err := s.locker.Acquire(ctx, fmt.Sprintf(keyJobLease, job), s.cfg.LeaseTTL)
	if err != nil {
		s.log.Warn("scheduler lease unavailable, running unguarded", zap.String("job", job), zap.Error(err))
		return func() {}, true
	}
	if lease == nil {
		s.log.Debug("scheduler lease held elsewhere", zap.String("job", job))
		return func() {}, false
	}
	return func() {
		_ = lease.Release(context.WithoutCancel(ctx))
	}, true
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobLedgerReconcile, s.ReconcileLedgerJob},
		{JobExpirySweep, s.ExpirySweepJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.JobTimeout, job.Run))
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// An empty list enables every job.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
