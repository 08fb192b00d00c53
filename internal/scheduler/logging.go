package scheduler

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/edupoints/internal/observability/context"
	obslogger "github.com/smallbiznis/edupoints/internal/observability/logger"
	quotadomain "github.com/smallbiznis/edupoints/internal/quota/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// run is one execution of a job. Jobs called directly (outside runJob) get
// their own run so the counters always have somewhere to go.
type run struct {
	job     string
	id      string
	started time.Time

	scanned int // scopes examined
	flagged int // scopes drifted or expired
	failed  int
}

type runKey struct{}

func (r *run) scan(n int) { r.scanned += max(n, 0) }
func (r *run) flag(n int) { r.flagged += max(n, 0) }
func (r *run) fail()      { r.failed++ }

// beginRun returns the run already on ctx, or starts one and reports that
// the caller owns it.
func (s *Scheduler) beginRun(ctx context.Context, job string) (context.Context, *run, bool) {
	if current, ok := ctx.Value(runKey{}).(*run); ok {
		return ctx, current, false
	}
	r := &run{
		job:     job,
		id:      s.genID.Generate().String(),
		started: s.clock.Now(),
	}
	ctx = context.WithValue(ctx, runKey{}, r)
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	return ctx, r, true
}

func runFromContext(ctx context.Context) *run {
	r, _ := ctx.Value(runKey{}).(*run)
	return r
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	log := obslogger.WithContext(ctx, s.log)
	if r := runFromContext(ctx); r != nil {
		log = log.With(zap.String("job", r.job), zap.String("run_id", r.id))
	}
	return log
}

func (s *Scheduler) logRunStart(ctx context.Context) {
	s.logger(ctx).Info("scheduler.job.start", zap.Int("batch_size", s.cfg.BatchSize))
}

// logRunSummary warns when anything failed or drifted so reconciliation
// findings stand out in the job stream.
func (s *Scheduler) logRunSummary(ctx context.Context, r *run) {
	level := zapcore.InfoLevel
	if r.failed > 0 || (r.job == JobLedgerReconcile && r.flagged > 0) {
		level = zapcore.WarnLevel
	}
	s.logger(ctx).Log(level, "scheduler.job.finish",
		zap.Duration("duration", s.clock.Now().Sub(r.started)),
		zap.Int("scanned", r.scanned),
		zap.Int("flagged", r.flagged),
		zap.Int("failed", r.failed),
	)
}

func (s *Scheduler) logLedgerDrift(ctx context.Context, tally quotadomain.ScopeTally) {
	s.logger(obscontext.WithScope(ctx, tally.Scope.String())).Error("scheduler.ledger.drift",
		zap.Int64("consumed", tally.Consumed),
		zap.Int64("ledger_total", tally.LedgerTotal),
		zap.Int64("drift", tally.Drift()),
	)
}

func (s *Scheduler) logScopeExpired(ctx context.Context, scope quotadomain.ScopeRef) {
	s.logger(obscontext.WithScope(ctx, scope.String())).Info("scheduler.scope.expired")
}
