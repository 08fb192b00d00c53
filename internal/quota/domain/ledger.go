package domain

import (
	"time"

	"github.com/smallbiznis/edupoints/pkg/db/pagination"
)

// Cursor encodes the listing position right after e.
func (e *LedgerEntry) Cursor() string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        e.ID.String(),
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return ""
	}
	return token
}

// ParseLedgerKind accepts every kind that may appear in the ledger.
func ParseLedgerKind(raw string) (UsageKind, error) {
	kind := UsageKind(raw)
	if kind.Billable() || kind == UsageKindAdminAdjustment || kind == UsageKindReversal {
		return kind, nil
	}
	return "", ErrInvalidKind
}

// Reversible reports whether the entry is a usage charge that can be undone.
func (e *LedgerEntry) Reversible() bool {
	return e.Kind.Billable() && e.ReversalOf == nil && e.PointsCharged > 0
}
