package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupoints/internal/quota/domain"
	"gorm.io/gorm"
)

type tallyRow struct {
	ScopeID     int64
	Consumed    int64
	LedgerTotal int64
}

// Tally reads one page of scopes ordered by id. Reversal rows carry negative
// charges, so the sum matches consumption after refunds too.
func (r *balanceStore) Tally(ctx context.Context, db *gorm.DB, scopeType domain.ScopeType, after snowflake.ID, limit int) ([]domain.ScopeTally, error) {
	t, err := tableForType(scopeType)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	sql := fmt.Sprintf(`SELECT s.%[2]s AS scope_id, s.%[3]s AS consumed, COALESCE(l.total, 0) AS ledger_total
FROM %[1]s s
LEFT JOIN (
	SELECT scope_id, SUM(points_charged) AS total
	FROM points_ledger_entries
	WHERE scope_type = ? AND scope_id > ?
	GROUP BY scope_id
) l ON l.scope_id = s.%[2]s
WHERE s.%[2]s > ?
ORDER BY s.%[2]s
LIMIT ?`, t.name, t.key, t.consumed)

	var rows []tallyRow
	if err := db.WithContext(ctx).Raw(sql, scopeType, after, after, limit).Scan(&rows).Error; err != nil {
		return nil, wrapErr("tally", err)
	}

	tallies := make([]domain.ScopeTally, 0, len(rows))
	for _, row := range rows {
		tallies = append(tallies, domain.ScopeTally{
			Scope:       domain.ScopeRef{Type: scopeType, ID: snowflake.ID(row.ScopeID)},
			Consumed:    row.Consumed,
			LedgerTotal: row.LedgerTotal,
		})
	}
	return tallies, nil
}

// DeactivateExpired marks up to limit expired scopes inactive and returns
// the ones it selected. Scopes without a period end never expire.
func (r *balanceStore) DeactivateExpired(ctx context.Context, db *gorm.DB, scopeType domain.ScopeType, now time.Time, limit int) ([]domain.ScopeRef, error) {
	t, err := tableForType(scopeType)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	now = now.UTC()

	var ids []int64
	err = db.WithContext(ctx).
		Table(t.name).
		Where("active = ? AND period_end IS NOT NULL AND period_end < ?", true, now).
		Order(t.key).
		Limit(limit).
		Pluck(t.key, &ids).Error
	if err != nil {
		return nil, wrapErr("find_expired", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	// Re-check expiry so a concurrent re-provision wins.
	err = db.WithContext(ctx).
		Table(t.name).
		Where(fmt.Sprintf("%s IN ?", t.key), ids).
		Where("active = ? AND period_end < ?", true, now).
		Updates(map[string]any{"active": false, t.touched: now}).Error
	if err != nil {
		return nil, wrapErr("deactivate_expired", err)
	}

	refs := make([]domain.ScopeRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, domain.ScopeRef{Type: scopeType, ID: snowflake.ID(id)})
	}
	return refs, nil
}
