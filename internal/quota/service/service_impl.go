package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/edupoints/internal/cache"
	"github.com/smallbiznis/edupoints/internal/clock"
	"github.com/smallbiznis/edupoints/internal/config"
	obscontext "github.com/smallbiznis/edupoints/internal/observability/context"
	obslogger "github.com/smallbiznis/edupoints/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/edupoints/internal/observability/metrics"
	"github.com/smallbiznis/edupoints/internal/quota/admission"
	"github.com/smallbiznis/edupoints/internal/quota/conversion"
	"github.com/smallbiznis/edupoints/internal/quota/domain"
	"github.com/smallbiznis/edupoints/internal/quota/notify"
	"github.com/smallbiznis/edupoints/internal/ratelimit"
	pkgdb "github.com/smallbiznis/edupoints/pkg/db"
	"github.com/smallbiznis/edupoints/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const pointsUnit = "points"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     *config.QuotaConfigHolder
	Converters *conversion.Source
	Policy     *admission.Policy
	Balances   domain.BalanceStore
	Ledger     domain.LedgerStore
	Resolver   domain.ScopeResolver

	Cache      cache.BalanceCache       `optional:"true"`
	Hub        *notify.Hub              `optional:"true"`
	Lock       *ratelimit.ProvisionLock `optional:"true"`
	ObsMetrics *obsmetrics.Metrics      `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	config     *config.QuotaConfigHolder
	converters *conversion.Source
	policy     *admission.Policy
	balances   domain.BalanceStore
	ledger     domain.LedgerStore
	resolver   domain.ScopeResolver
	cache      cache.BalanceCache
	hub        *notify.Hub
	lock       *ratelimit.ProvisionLock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("quota.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		config:     p.Config,
		converters: p.Converters,
		policy:     p.Policy,
		balances:   p.Balances,
		ledger:     p.Ledger,
		resolver:   p.Resolver,
		cache:      p.Cache,
		hub:        p.Hub,
		lock:       p.Lock,
		obsMetrics: p.ObsMetrics,
	}
}

type deduction struct {
	entry    *domain.LedgerEntry
	decision domain.Decision
	balance  domain.Balance
}

// Deduct charges one usage event. Either the balance change and its ledger
// entry commit together or nothing is written.
func (s *Service) Deduct(ctx context.Context, event domain.UsageEvent) (*domain.DeductionResult, error) {
	log := obslogger.WithContext(ctx, s.log)

	charge, err := s.charge(event)
	if err != nil {
		log.Error("invalid usage event",
			zap.String("actor_id", event.ActorID.String()),
			zap.String("unit", string(event.Unit)),
			zap.String("raw_amount", event.RawAmount.String()),
			zap.Error(err),
		)
		s.obsMetrics.RecordDeduction(ctx, "", "invalid", err.Error(), 0)
		return nil, &domain.DeductionError{Err: err}
	}

	scope, err := s.resolve(ctx, event)
	if err != nil {
		s.logFailure(log.With(zap.Int64("charge", charge)), err)
		s.obsMetrics.RecordDeduction(ctx, "", string(domain.OutcomeReject), errorCode(err), 0)
		return nil, &domain.DeductionError{Err: err, Charge: charge}
	}
	ctx = obscontext.WithScope(ctx, scope.String())
	log = log.With(zap.String("scope", scope.String()), zap.Int64("charge", charge))

	done, err := retryWith(s, ctx, "deduct", func(ctx context.Context) (deduction, error) {
		return s.deductOnce(ctx, event, scope, charge)
	})
	if err != nil {
		s.logFailure(log, err)
		s.obsMetrics.RecordDeduction(ctx, string(scope.Type), string(domain.OutcomeReject), errorCode(err), 0)
		if errors.Is(err, domain.ErrHardLimitExceeded) || errors.Is(err, domain.ErrScopeInactive) {
			s.hub.Publish(notify.Notice{
				Kind:      notify.KindRejected,
				Scope:     scope.String(),
				Capacity:  done.balance.Capacity,
				Consumed:  done.balance.Consumed,
				HardLimit: done.decision.HardLimit.String(),
				Points:    charge,
				Reason:    errorCode(err),
				At:        s.clock.Now(),
			})
		}
		return nil, &domain.DeductionError{Err: err, Scope: scope, Charge: charge}
	}

	entry := done.entry
	s.invalidate(ctx, scope)
	s.obsMetrics.RecordDeduction(ctx, string(scope.Type), string(done.decision.Outcome), "", charge)
	s.obsMetrics.RecordLedgerEntry(ctx, string(entry.Kind))

	result := &domain.DeductionResult{
		LedgerEntryID: entry.ID.String(),
		Scope:         scope,
		PointsCharged: entry.PointsCharged,
		BalanceAfter:  entry.BalanceAfter,
		Remaining:     remaining(entry.CapacityAfter, entry.BalanceAfter),
		Outcome:       done.decision.Outcome,
	}

	if done.decision.Outcome == domain.OutcomeAllowWithWarning {
		result.Warning = &domain.Warning{
			Scope:     scope,
			Capacity:  entry.CapacityAfter,
			Consumed:  entry.BalanceAfter,
			Overage:   entry.BalanceAfter - entry.CapacityAfter,
			HardLimit: done.decision.HardLimit.String(),
		}
		log.Warn("deduction admitted into overage buffer",
			zap.Int64("capacity", entry.CapacityAfter),
			zap.Int64("consumed", entry.BalanceAfter),
			zap.String("hard_limit", result.Warning.HardLimit),
		)
		s.obsMetrics.RecordWarning(ctx, string(scope.Type))
		s.hub.Publish(notify.Notice{
			Kind:          notify.KindOverageWarning,
			Scope:         scope.String(),
			Capacity:      entry.CapacityAfter,
			Consumed:      entry.BalanceAfter,
			Overage:       result.Warning.Overage,
			HardLimit:     result.Warning.HardLimit,
			Points:        charge,
			LedgerEntryID: entry.ID.String(),
			At:            entry.CreatedAt,
		})
	} else {
		log.Debug("deduction committed", zap.Int64("consumed", entry.BalanceAfter))
	}

	return result, nil
}

func (s *Service) deductOnce(ctx context.Context, event domain.UsageEvent, scope domain.ScopeRef, charge int64) (deduction, error) {
	var out deduction
	err := s.transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		balance, err := s.balances.LockBalance(ctx, tx, scope)
		if err != nil {
			return err
		}
		out.balance = balance

		now := s.clock.Now()
		out.decision = s.policy.Decide(balance, charge, now)
		if !out.decision.Admitted() {
			return out.decision.Reason.Err()
		}

		consumed, err := s.balances.TryConsume(ctx, tx, scope, charge, balance.Consumed, now)
		if err != nil {
			return err
		}

		entry := &domain.LedgerEntry{
			ID:            s.genID.Generate(),
			ScopeType:     scope.Type,
			ScopeID:       scope.ID,
			ActorID:       event.ActorID,
			SubjectID:     event.SubjectID,
			AssignmentID:  event.AssignmentID,
			Kind:          event.Kind,
			RawAmount:     event.RawAmount.String(),
			Unit:          string(event.Unit),
			PointsCharged: charge,
			CapacityAfter: balance.Capacity,
			BalanceAfter:  consumed,
			Metadata:      s.entryMetadata(ctx, out.decision),
			CreatedAt:     now,
		}
		if err := s.ledger.Append(ctx, tx, entry); err != nil {
			return err
		}
		out.entry = entry
		return nil
	})
	return out, err
}

// CheckAdmission answers whether a deduction for event would be admitted
// right now. It reads without locking and writes nothing.
func (s *Service) CheckAdmission(ctx context.Context, event domain.UsageEvent) (domain.Decision, error) {
	charge, err := s.charge(event)
	if err != nil {
		return domain.Decision{}, &domain.DeductionError{Err: err}
	}

	scope, err := s.resolve(ctx, event)
	if err != nil {
		if errors.Is(err, domain.ErrScopeNotFound) {
			return rejectNotFound(charge), nil
		}
		return domain.Decision{}, &domain.DeductionError{Err: err, Charge: charge}
	}

	balance, err := s.balances.GetBalance(ctx, s.db, scope)
	if errors.Is(err, domain.ErrScopeNotFound) {
		return rejectNotFound(charge), nil
	}
	if err != nil {
		return domain.Decision{}, &domain.DeductionError{Err: err, Scope: scope, Charge: charge}
	}
	return s.policy.Decide(balance, charge, s.clock.Now()), nil
}

func rejectNotFound(charge int64) domain.Decision {
	return domain.Decision{
		Outcome: domain.OutcomeReject,
		Reason:  domain.ReasonScopeNotFound,
		Charge:  charge,
	}
}

func (s *Service) GetBalance(ctx context.Context, scope domain.ScopeRef) (domain.BalanceView, error) {
	if !scope.Valid() {
		return domain.BalanceView{}, domain.ErrInvalidScope
	}
	if s.cache != nil {
		if view, ok := s.cache.Get(ctx, scope); ok {
			return view, nil
		}
	}

	balance, err := s.balances.GetBalance(ctx, s.db, scope)
	if err != nil {
		return domain.BalanceView{}, err
	}
	view := toView(balance)
	if s.cache != nil {
		s.cache.Set(ctx, view)
	}
	return view, nil
}

func (s *Service) ListLedger(ctx context.Context, req domain.ListLedgerRequest) (domain.ListLedgerResponse, error) {
	if !req.Scope.Valid() {
		return domain.ListLedgerResponse{}, domain.ErrInvalidScope
	}
	filter := domain.LedgerFilter{Scope: req.Scope}
	if kind := strings.ToLower(strings.TrimSpace(req.Kind)); kind != "" {
		parsed, err := domain.ParseLedgerKind(kind)
		if err != nil {
			return domain.ListLedgerResponse{}, err
		}
		filter.Kind = &parsed
	}

	page := pagination.Pagination{PageToken: strings.TrimSpace(req.PageToken), PageSize: req.PageSize}
	items, err := s.ledger.List(ctx, s.db, filter, page)
	if err != nil {
		return domain.ListLedgerResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, page.Limit(), (*domain.LedgerEntry).Cursor)
	entries := make([]domain.LedgerEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, *item)
	}
	return domain.ListLedgerResponse{PageInfo: pageInfo, Entries: entries}, nil
}

// TopUp raises a scope's capacity and records the adjustment in the same
// transaction. Only increases are accepted so the hard limit never drops
// below what is already consumed.
func (s *Service) TopUp(ctx context.Context, req domain.TopUpRequest) (*domain.LedgerEntry, error) {
	if !req.Scope.Valid() {
		return nil, domain.ErrInvalidScope
	}
	actorID, err := domain.ParseID(req.ActorID)
	if err != nil {
		return nil, domain.ErrInvalidActor
	}
	if req.Points <= 0 {
		return nil, domain.ErrInvalidAdjustment
	}

	entry, err := retryWith(s, ctx, "top_up", func(ctx context.Context) (*domain.LedgerEntry, error) {
		var entry *domain.LedgerEntry
		err := s.transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
			balance, err := s.balances.LockBalance(ctx, tx, req.Scope)
			if err != nil {
				return err
			}
			now := s.clock.Now()
			capacity, err := s.balances.AdjustCapacity(ctx, tx, req.Scope, req.Points, balance.Capacity, now)
			if err != nil {
				return err
			}
			entry = &domain.LedgerEntry{
				ID:            s.genID.Generate(),
				ScopeType:     req.Scope.Type,
				ScopeID:       req.Scope.ID,
				ActorID:       actorID,
				Kind:          domain.UsageKindAdminAdjustment,
				RawAmount:     strconv.FormatInt(req.Points, 10),
				Unit:          pointsUnit,
				PointsCharged: 0,
				CapacityAfter: capacity,
				BalanceAfter:  balance.Consumed,
				Note:          strings.TrimSpace(req.Note),
				Metadata:      datatypes.JSONMap{"capacity_delta": req.Points, "capacity_before": balance.Capacity},
				CreatedAt:     now,
			}
			return s.ledger.Append(ctx, tx, entry)
		})
		return entry, err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, req.Scope)
	s.obsMetrics.RecordLedgerEntry(ctx, string(entry.Kind))
	s.hub.Publish(notify.Notice{
		Kind:          notify.KindTopUp,
		Scope:         req.Scope.String(),
		Capacity:      entry.CapacityAfter,
		Consumed:      entry.BalanceAfter,
		Points:        req.Points,
		LedgerEntryID: entry.ID.String(),
		At:            entry.CreatedAt,
	})
	obslogger.WithContext(ctx, s.log).Info("scope capacity topped up",
		zap.String("scope", req.Scope.String()),
		zap.Int64("points", req.Points),
		zap.Int64("capacity", entry.CapacityAfter),
		zap.String("actor_id", actorID.String()),
	)
	return entry, nil
}

// Reverse returns the points of one usage entry to its scope. The original
// entry stays untouched; a reversal entry references it. Each entry can be
// reversed once.
func (s *Service) Reverse(ctx context.Context, req domain.ReverseRequest) (*domain.LedgerEntry, error) {
	entryID, err := domain.ParseID(req.EntryID)
	if err != nil {
		return nil, domain.ErrEntryNotFound
	}
	actorID, err := domain.ParseID(req.ActorID)
	if err != nil {
		return nil, domain.ErrInvalidActor
	}

	reversal, err := retryWith(s, ctx, "reverse", func(ctx context.Context) (*domain.LedgerEntry, error) {
		var reversal *domain.LedgerEntry
		err := s.transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
			original, err := s.ledger.FindByID(ctx, tx, entryID)
			if err != nil {
				return err
			}
			if !original.Reversible() {
				return domain.ErrNotReversible
			}
			existing, err := s.ledger.FindReversal(ctx, tx, original.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				return domain.ErrAlreadyReversed
			}

			scope := domain.ScopeRef{Type: original.ScopeType, ID: original.ScopeID}
			balance, err := s.balances.LockBalance(ctx, tx, scope)
			if err != nil {
				return err
			}
			// Consumption may have been reset since the charge; never go below zero.
			refund := min(original.PointsCharged, balance.Consumed)
			now := s.clock.Now()
			consumed, err := s.balances.Release(ctx, tx, scope, refund, balance.Consumed, now)
			if err != nil {
				return err
			}

			reversal = &domain.LedgerEntry{
				ID:            s.genID.Generate(),
				ScopeType:     scope.Type,
				ScopeID:       scope.ID,
				ActorID:       actorID,
				SubjectID:     original.SubjectID,
				AssignmentID:  original.AssignmentID,
				Kind:          domain.UsageKindReversal,
				RawAmount:     original.RawAmount,
				Unit:          original.Unit,
				PointsCharged: -refund,
				CapacityAfter: balance.Capacity,
				BalanceAfter:  consumed,
				ReversalOf:    &original.ID,
				Note:          strings.TrimSpace(req.Note),
				Metadata:      datatypes.JSONMap{"original_kind": string(original.Kind), "original_points": original.PointsCharged},
				CreatedAt:     now,
			}
			return s.ledger.Append(ctx, tx, reversal)
		})
		return reversal, err
	})
	if err != nil {
		return nil, err
	}

	scope := domain.ScopeRef{Type: reversal.ScopeType, ID: reversal.ScopeID}
	s.invalidate(ctx, scope)
	s.obsMetrics.RecordLedgerEntry(ctx, string(reversal.Kind))
	s.hub.Publish(notify.Notice{
		Kind:          notify.KindReversal,
		Scope:         scope.String(),
		Capacity:      reversal.CapacityAfter,
		Consumed:      reversal.BalanceAfter,
		Points:        reversal.PointsCharged,
		LedgerEntryID: reversal.ID.String(),
		At:            reversal.CreatedAt,
	})
	obslogger.WithContext(ctx, s.log).Info("ledger entry reversed",
		zap.String("scope", scope.String()),
		zap.String("original_id", entryID.String()),
		zap.Int64("refund", -reversal.PointsCharged),
	)
	return reversal, nil
}

type provisioning struct {
	balance domain.Balance
	entry   *domain.LedgerEntry
}

// Provision creates a scope or replaces its allotment. Consumption carries
// over untouched. A capacity change on an existing scope is locked, checked
// against the hard limit and recorded as an admin_adjustment entry in the
// same transaction.
func (s *Service) Provision(ctx context.Context, req domain.ProvisionRequest) (domain.BalanceView, error) {
	if !req.Scope.Valid() {
		return domain.BalanceView{}, domain.ErrInvalidScope
	}
	if req.Capacity < 0 {
		return domain.BalanceView{}, domain.ErrInvalidProvision
	}
	if req.Scope.Type == domain.ScopeTypeIndividual && req.PeriodEnd == nil {
		return domain.BalanceView{}, domain.ErrInvalidProvision
	}

	release, ok, err := s.lock.Acquire(ctx, req.Scope.String())
	if err != nil {
		s.log.Warn("provision lock unavailable", zap.String("scope", req.Scope.String()), zap.Error(err))
	} else if !ok {
		return domain.BalanceView{}, domain.ErrConcurrentUpdate
	}
	defer release()

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	done, err := retryWith(s, ctx, "provision", func(ctx context.Context) (provisioning, error) {
		var out provisioning
		err := s.transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
			now := s.clock.Now()
			balance, err := s.balances.LockBalance(ctx, tx, req.Scope)
			if errors.Is(err, domain.ErrScopeNotFound) {
				out.balance = domain.Balance{
					Scope:     req.Scope,
					Capacity:  req.Capacity,
					Active:    active,
					PeriodEnd: req.PeriodEnd,
					UpdatedAt: now,
				}
				return s.balances.Insert(ctx, tx, out.balance, now)
			}
			if err != nil {
				return err
			}

			if req.Capacity != balance.Capacity {
				entry, err := s.reprovisionCapacity(ctx, tx, req, balance, now)
				if err != nil {
					return err
				}
				out.entry = entry
				balance.Capacity = entry.CapacityAfter
			}
			if err := s.balances.SetTerms(ctx, tx, req.Scope, active, req.PeriodEnd, now); err != nil {
				return err
			}
			balance.Active = active
			balance.PeriodEnd = req.PeriodEnd
			balance.UpdatedAt = now
			out.balance = balance
			return nil
		})
		return out, err
	})
	if err != nil {
		return domain.BalanceView{}, err
	}
	s.invalidate(ctx, req.Scope)

	log := obslogger.WithContext(ctx, s.log).With(zap.String("scope", req.Scope.String()))
	if done.entry != nil {
		s.obsMetrics.RecordLedgerEntry(ctx, string(done.entry.Kind))
		log = log.With(zap.String("ledger_entry_id", done.entry.ID.String()))
	}
	log.Info("scope provisioned",
		zap.Int64("capacity", done.balance.Capacity),
		zap.Int64("consumed", done.balance.Consumed),
		zap.Bool("active", done.balance.Active),
	)
	return toView(done.balance), nil
}

// reprovisionCapacity moves capacity to req.Capacity. Shrinking is allowed
// only while consumption stays within the new hard limit.
func (s *Service) reprovisionCapacity(ctx context.Context, tx *gorm.DB, req domain.ProvisionRequest, balance domain.Balance, now time.Time) (*domain.LedgerEntry, error) {
	actorID, err := domain.ParseID(req.ActorID)
	if err != nil {
		return nil, domain.ErrInvalidActor
	}
	next := balance
	next.Capacity = req.Capacity
	if decimal.NewFromInt(balance.Consumed).GreaterThan(s.policy.HardLimit(next)) {
		return nil, domain.ErrCapacityBelowConsumption
	}

	delta := req.Capacity - balance.Capacity
	capacity, err := s.balances.AdjustCapacity(ctx, tx, req.Scope, delta, balance.Capacity, now)
	if err != nil {
		return nil, err
	}
	entry := &domain.LedgerEntry{
		ID:            s.genID.Generate(),
		ScopeType:     req.Scope.Type,
		ScopeID:       req.Scope.ID,
		ActorID:       actorID,
		Kind:          domain.UsageKindAdminAdjustment,
		RawAmount:     strconv.FormatInt(delta, 10),
		Unit:          pointsUnit,
		CapacityAfter: capacity,
		BalanceAfter:  balance.Consumed,
		Note:          "provision",
		Metadata:      datatypes.JSONMap{"capacity_delta": delta, "capacity_before": balance.Capacity},
		CreatedAt:     now,
	}
	if err := s.ledger.Append(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) charge(event domain.UsageEvent) (int64, error) {
	converter, err := s.converters.Current()
	if err != nil {
		return 0, err
	}
	points, err := converter.Convert(event.RawAmount, event.Unit)
	if err != nil {
		return 0, err
	}
	return conversion.RoundPoints(points)
}

func (s *Service) resolve(ctx context.Context, event domain.UsageEvent) (domain.ScopeRef, error) {
	return retryWith(s, ctx, "resolve_scope", func(ctx context.Context) (domain.ScopeRef, error) {
		return s.resolver.Resolve(ctx, s.db, event)
	})
}

// transaction runs fn in one database transaction bounded by the configured
// timeout.
func (s *Service) transaction(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error {
	timeout := s.config.Get().TxTimeout
	txCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		return fn(txCtx, tx)
	})
	return classify("transaction", err)
}

// retryWith repeats transient failures with exponential backoff. Rejections and
// input errors return on the first attempt.
func retryWith[T any](s *Service, ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg := s.config.Get().Retry

	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}

	attempt := func() (T, error) {
		v, err := fn(ctx)
		if err != nil && !domain.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notifyRetry := func(err error, wait time.Duration) {
		s.obsMetrics.RecordRetry(ctx, errorCode(err))
		obslogger.WithContext(ctx, s.log).Warn("retrying after transient failure",
			zap.String("op", op),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	v, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.MaxAttempts),
		backoff.WithNotify(notifyRetry),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return v, classify(op, err)
}

func (s *Service) invalidate(ctx context.Context, scope domain.ScopeRef) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, scope)
	}
}

func (s *Service) entryMetadata(ctx context.Context, decision domain.Decision) datatypes.JSONMap {
	meta := datatypes.JSONMap{
		"outcome":    string(decision.Outcome),
		"hard_limit": decision.HardLimit.String(),
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		meta["request_id"] = requestID
	}
	return meta
}

func (s *Service) logFailure(log *zap.Logger, err error) {
	fields := []zap.Field{zap.String("reason", errorCode(err)), zap.Error(err)}
	switch {
	case domain.IsRejection(err):
		log.Info("deduction rejected", fields...)
	case domain.IsInputError(err), errors.Is(err, domain.ErrInvalidActor):
		log.Error("deduction input rejected", fields...)
	default:
		log.Error("deduction failed", fields...)
	}
}

// classify maps anything that is not already a domain error onto
// ErrPersistence.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var perr *domain.PersistenceError
	if errors.As(err, &perr) || isDomainError(err) {
		return err
	}
	return &domain.PersistenceError{Op: op, Err: err, Retryable: pkgdb.IsTransientErr(err)}
}

var domainErrors = []error{
	domain.ErrInvalidUsage,
	domain.ErrUnsupportedUnit,
	domain.ErrScopeNotFound,
	domain.ErrScopeInactive,
	domain.ErrHardLimitExceeded,
	domain.ErrConcurrentUpdate,
	domain.ErrInvalidScopeType,
	domain.ErrInvalidScope,
	domain.ErrInvalidActor,
	domain.ErrInvalidKind,
	domain.ErrInvalidAdjustment,
	domain.ErrEntryNotFound,
	domain.ErrNotReversible,
	domain.ErrAlreadyReversed,
	domain.ErrInvalidPageToken,
	domain.ErrInvalidProvision,
	domain.ErrCapacityBelowConsumption,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func errorCode(err error) string {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	if errors.Is(err, domain.ErrPersistence) {
		return domain.ErrPersistence.Error()
	}
	return "unknown"
}

func toView(balance domain.Balance) domain.BalanceView {
	return domain.BalanceView{
		Scope:     balance.Scope,
		Capacity:  balance.Capacity,
		Consumed:  balance.Consumed,
		Remaining: balance.Remaining(),
		Active:    balance.Active,
		PeriodEnd: balance.PeriodEnd,
	}
}

func remaining(capacity, consumed int64) int64 {
	if consumed >= capacity {
		return 0
	}
	return capacity - consumed
}
