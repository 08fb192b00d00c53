package scheduler

import (
	"context"

	"github.com/bwmarrin/snowflake"
	quotadomain "github.com/smallbiznis/edupoints/internal/quota/domain"
	"github.com/smallbiznis/edupoints/internal/quota/notify"
	"go.uber.org/zap"
)

var scopeTypes = []quotadomain.ScopeType{
	quotadomain.ScopeTypeIndividual,
	quotadomain.ScopeTypeOrganization,
}

func (s *Scheduler) ReconcileLedgerJob(ctx context.Context) error {
	_, err := s.ReconcileLedger(ctx)
	return err
}

// ReconcileLedger compares every scope's consumption with the sum of its
// ledger charges and reports the scopes that disagree. It never repairs
// them: the ledger is append-only and a mismatch needs a human.
func (s *Scheduler) ReconcileLedger(ctx context.Context) ([]quotadomain.ScopeTally, error) {
	ctx, r, _ := s.beginRun(ctx, JobLedgerReconcile)

	var drifted []quotadomain.ScopeTally
	for _, scopeType := range scopeTypes {
		var after snowflake.ID
		for {
			if err := ctx.Err(); err != nil {
				return drifted, err
			}
			tallies, err := s.balances.Tally(ctx, s.db, scopeType, after, s.cfg.BatchSize)
			if err != nil {
				return drifted, err
			}
			r.scan(len(tallies))

			for _, tally := range tallies {
				if tally.Drift() == 0 {
					continue
				}
				drifted = append(drifted, tally)
				r.flag(1)
				s.obsMetrics.RecordLedgerDrift(ctx, string(scopeType))
				s.logLedgerDrift(ctx, tally)
			}

			if len(tallies) < s.cfg.BatchSize {
				break
			}
			after = tallies[len(tallies)-1].Scope.ID
		}
	}
	return drifted, nil
}

func (s *Scheduler) ExpirySweepJob(ctx context.Context) error {
	_, err := s.SweepExpired(ctx)
	return err
}

// SweepExpired deactivates scopes whose period has ended. Admission already
// rejects them by date; the sweep keeps the stored flag and cached balances
// in line and tells dashboard subscribers.
func (s *Scheduler) SweepExpired(ctx context.Context) ([]quotadomain.ScopeRef, error) {
	ctx, r, _ := s.beginRun(ctx, JobExpirySweep)
	now := s.clock.Now()

	var expired []quotadomain.ScopeRef
	for _, scopeType := range scopeTypes {
		for {
			if err := ctx.Err(); err != nil {
				return expired, err
			}
			refs, err := s.balances.DeactivateExpired(ctx, s.db, scopeType, now, s.cfg.BatchSize)
			if err != nil {
				return expired, err
			}
			r.scan(len(refs))
			r.flag(len(refs))
			s.obsMetrics.RecordScopesExpired(ctx, string(scopeType), len(refs))

			for _, scope := range refs {
				expired = append(expired, scope)
				s.afterExpiry(ctx, scope)
			}

			if len(refs) < s.cfg.BatchSize {
				break
			}
		}
	}
	return expired, nil
}

func (s *Scheduler) afterExpiry(ctx context.Context, scope quotadomain.ScopeRef) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, scope)
	}
	s.logScopeExpired(ctx, scope)

	if s.hub == nil {
		return
	}
	notice := notify.Notice{
		Kind:  notify.KindExpired,
		Scope: scope.String(),
		At:    s.clock.Now(),
	}
	if balance, err := s.balances.GetBalance(ctx, s.db, scope); err == nil {
		notice.Capacity = balance.Capacity
		notice.Consumed = balance.Consumed
	} else {
		s.logger(ctx).Debug("expired scope balance unavailable", zap.String("scope", scope.String()), zap.Error(err))
	}
	s.hub.Publish(notice)
}
