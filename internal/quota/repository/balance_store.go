package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/edupoints/internal/quota/domain"
	pkgdb "github.com/smallbiznis/edupoints/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// scopeTable maps a scope variant onto its table. Column names come from
// this file only and are never built from input.
type scopeTable struct {
	name     string
	key      string
	capacity string
	consumed string
	touched  string
}

var (
	teacherQuotaTable = scopeTable{
		name:     "teacher_quotas",
		key:      "teacher_id",
		capacity: "capacity",
		consumed: "consumed",
		touched:  "updated_at",
	}
	organizationPointsTable = scopeTable{
		name:     "organization_points",
		key:      "organization_id",
		capacity: "total_points",
		consumed: "used_points",
		touched:  "last_update",
	}
)

func tableFor(scope domain.ScopeRef) (scopeTable, error) {
	if !scope.Valid() {
		return scopeTable{}, domain.ErrInvalidScope
	}
	return tableForType(scope.Type)
}

func tableForType(scopeType domain.ScopeType) (scopeTable, error) {
	switch scopeType {
	case domain.ScopeTypeIndividual:
		return teacherQuotaTable, nil
	case domain.ScopeTypeOrganization:
		return organizationPointsTable, nil
	default:
		return scopeTable{}, domain.ErrInvalidScopeType
	}
}

type balanceStore struct{}

func ProvideBalanceStore() domain.BalanceStore {
	return &balanceStore{}
}

func (r *balanceStore) GetBalance(ctx context.Context, db *gorm.DB, scope domain.ScopeRef) (domain.Balance, error) {
	return r.load(db.WithContext(ctx), scope, "get_balance")
}

func (r *balanceStore) LockBalance(ctx context.Context, tx *gorm.DB, scope domain.ScopeRef) (domain.Balance, error) {
	// SQLite dialects drop the locking clause; the single writer serializes instead.
	locked := tx.WithContext(ctx).Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	return r.load(locked, scope, "lock_balance")
}

func (r *balanceStore) load(db *gorm.DB, scope domain.ScopeRef, op string) (domain.Balance, error) {
	if _, err := tableFor(scope); err != nil {
		return domain.Balance{}, err
	}

	switch scope.Type {
	case domain.ScopeTypeIndividual:
		var row domain.TeacherQuota
		if err := db.Where("teacher_id = ?", scope.ID).Take(&row).Error; err != nil {
			return domain.Balance{}, wrapErr(op, err)
		}
		periodEnd := row.PeriodEnd.UTC()
		return domain.Balance{
			Scope:     scope,
			Capacity:  row.Capacity,
			Consumed:  row.Consumed,
			Active:    row.Active,
			PeriodEnd: &periodEnd,
			UpdatedAt: row.UpdatedAt,
		}, nil
	default:
		var row domain.OrganizationPoints
		if err := db.Where("organization_id = ?", scope.ID).Take(&row).Error; err != nil {
			return domain.Balance{}, wrapErr(op, err)
		}
		var periodEnd *time.Time
		if row.PeriodEnd != nil {
			end := row.PeriodEnd.UTC()
			periodEnd = &end
		}
		return domain.Balance{
			Scope:     scope,
			Capacity:  row.TotalPoints,
			Consumed:  row.UsedPoints,
			Active:    row.Active,
			PeriodEnd: periodEnd,
			UpdatedAt: row.LastUpdate,
		}, nil
	}
}

// TryConsume adds points to the consumed counter only if nobody moved it
// since expectedConsumed was read. It enforces no limit of its own.
func (r *balanceStore) TryConsume(ctx context.Context, tx *gorm.DB, scope domain.ScopeRef, points, expectedConsumed int64, now time.Time) (int64, error) {
	if points < 0 {
		return 0, domain.ErrInvalidUsage
	}
	t, err := tableFor(scope)
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf(
		`UPDATE %s SET %s = %s + ?, %s = ? WHERE %s = ? AND %s = ?`,
		t.name, t.consumed, t.consumed, t.touched, t.key, t.consumed,
	)
	return r.compareAndSwap(ctx, tx, "try_consume", sql, points, now.UTC(), scope.ID, expectedConsumed, expectedConsumed+points)
}

// Release gives points back; reversal is the only caller.
func (r *balanceStore) Release(ctx context.Context, tx *gorm.DB, scope domain.ScopeRef, points, expectedConsumed int64, now time.Time) (int64, error) {
	if points < 0 || points > expectedConsumed {
		return 0, domain.ErrInvalidAdjustment
	}
	t, err := tableFor(scope)
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf(
		`UPDATE %s SET %s = %s - ?, %s = ? WHERE %s = ? AND %s = ?`,
		t.name, t.consumed, t.consumed, t.touched, t.key, t.consumed,
	)
	return r.compareAndSwap(ctx, tx, "release", sql, points, now.UTC(), scope.ID, expectedConsumed, expectedConsumed-points)
}

func (r *balanceStore) AdjustCapacity(ctx context.Context, tx *gorm.DB, scope domain.ScopeRef, delta, expectedCapacity int64, now time.Time) (int64, error) {
	if expectedCapacity+delta < 0 {
		return 0, domain.ErrInvalidAdjustment
	}
	t, err := tableFor(scope)
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf(
		`UPDATE %s SET %s = %s + ?, %s = ? WHERE %s = ? AND %s = ?`,
		t.name, t.capacity, t.capacity, t.touched, t.key, t.capacity,
	)
	return r.compareAndSwap(ctx, tx, "adjust_capacity", sql, delta, now.UTC(), scope.ID, expectedCapacity, expectedCapacity+delta)
}

func (r *balanceStore) compareAndSwap(ctx context.Context, tx *gorm.DB, op, sql string, delta int64, now time.Time, id any, expected, next int64) (int64, error) {
	result := tx.WithContext(ctx).Exec(sql, delta, now, id, expected)
	if result.Error != nil {
		return 0, wrapErr(op, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, domain.ErrConcurrentUpdate
	}
	return next, nil
}

func (r *balanceStore) Insert(ctx context.Context, tx *gorm.DB, balance domain.Balance, now time.Time) error {
	if _, err := tableFor(balance.Scope); err != nil {
		return err
	}
	if balance.Capacity < 0 {
		return domain.ErrInvalidProvision
	}

	now = now.UTC()
	var row any
	switch balance.Scope.Type {
	case domain.ScopeTypeIndividual:
		if balance.PeriodEnd == nil {
			return domain.ErrInvalidProvision
		}
		row = &domain.TeacherQuota{
			TeacherID: balance.Scope.ID,
			Capacity:  balance.Capacity,
			Active:    balance.Active,
			PeriodEnd: balance.PeriodEnd.UTC(),
			CreatedAt: now,
			UpdatedAt: now,
		}
	default:
		row = &domain.OrganizationPoints{
			OrganizationID: balance.Scope.ID,
			TotalPoints:    balance.Capacity,
			Active:         balance.Active,
			PeriodEnd:      utcPtr(balance.PeriodEnd),
			LastUpdate:     now,
			CreatedAt:      now,
		}
	}

	err := tx.WithContext(ctx).Create(row).Error
	if pkgdb.IsDuplicateKeyErr(err) {
		return domain.ErrConcurrentUpdate
	}
	return wrapErr("insert_balance", err)
}

// SetTerms uses a column map so false and NULL are written as given.
func (r *balanceStore) SetTerms(ctx context.Context, tx *gorm.DB, scope domain.ScopeRef, active bool, periodEnd *time.Time, now time.Time) error {
	t, err := tableFor(scope)
	if err != nil {
		return err
	}
	if scope.Type == domain.ScopeTypeIndividual && periodEnd == nil {
		return domain.ErrInvalidProvision
	}

	result := tx.WithContext(ctx).
		Table(t.name).
		Where(t.key+" = ?", scope.ID).
		Updates(map[string]any{
			"active":     active,
			"period_end": utcPtr(periodEnd),
			t.touched:    now.UTC(),
		})
	if result.Error != nil {
		return wrapErr("set_terms", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrScopeNotFound
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
