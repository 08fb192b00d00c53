package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupoints/pkg/db/pagination"
	"gorm.io/gorm"
)

// BalanceStore is the authoritative record of scope capacity and consumption.
// TryConsume is the only method that increases consumption; it performs the
// arithmetic and nothing else. Writers stamp the row with the now they are
// given so it matches the ledger entry of the same transaction.
type BalanceStore interface {
	GetBalance(ctx context.Context, db *gorm.DB, scope ScopeRef) (Balance, error)
	LockBalance(ctx context.Context, tx *gorm.DB, scope ScopeRef) (Balance, error)
	TryConsume(ctx context.Context, tx *gorm.DB, scope ScopeRef, points, expectedConsumed int64, now time.Time) (int64, error)
	Release(ctx context.Context, tx *gorm.DB, scope ScopeRef, points, expectedConsumed int64, now time.Time) (int64, error)
	AdjustCapacity(ctx context.Context, tx *gorm.DB, scope ScopeRef, delta, expectedCapacity int64, now time.Time) (int64, error)
	// Insert creates a scope row with zero consumption. A row that already
	// exists fails with ErrConcurrentUpdate.
	Insert(ctx context.Context, tx *gorm.DB, balance Balance, now time.Time) error
	// SetTerms writes the active flag and period end of an existing scope.
	SetTerms(ctx context.Context, tx *gorm.DB, scope ScopeRef, active bool, periodEnd *time.Time, now time.Time) error

	// Tally pages through one scope variant by id and pairs each stored
	// consumption with the sum of the scope's ledger charges.
	Tally(ctx context.Context, db *gorm.DB, scopeType ScopeType, after snowflake.ID, limit int) ([]ScopeTally, error)
	// DeactivateExpired flips active scopes whose period ended before now.
	DeactivateExpired(ctx context.Context, db *gorm.DB, scopeType ScopeType, now time.Time, limit int) ([]ScopeRef, error)
}

// ScopeTally compares a scope's consumed counter with its ledger.
type ScopeTally struct {
	Scope       ScopeRef
	Consumed    int64
	LedgerTotal int64
}

// Drift is zero when every committed charge is on the ledger.
func (t ScopeTally) Drift() int64 {
	return t.Consumed - t.LedgerTotal
}

// LedgerFilter selects ledger entries for one scope.
type LedgerFilter struct {
	Scope ScopeRef
	Kind  *UsageKind
}

// LedgerStore appends and reads ledger entries. It has no update or delete.
type LedgerStore interface {
	Append(ctx context.Context, tx *gorm.DB, entry *LedgerEntry) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*LedgerEntry, error)
	FindReversal(ctx context.Context, db *gorm.DB, originalID snowflake.ID) (*LedgerEntry, error)
	List(ctx context.Context, db *gorm.DB, filter LedgerFilter, page pagination.Pagination) ([]*LedgerEntry, error)
}

// ScopeResolver derives the billing scope of a usage event from the
// organizational context the event happened in.
type ScopeResolver interface {
	Resolve(ctx context.Context, db *gorm.DB, event UsageEvent) (ScopeRef, error)
}
