// Package admission decides whether a proposed charge may be committed
// against a scope's balance.
package admission

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	quotadomain "github.com/smallbiznis/edupoints/internal/quota/domain"
)

// DefaultBufferFraction is the tolerance above base capacity.
var DefaultBufferFraction = decimal.New(2, -1)

// BufferFractions holds the buffer per scope class.
type BufferFractions struct {
	Individual   decimal.Decimal
	Organization decimal.Decimal
}

// DefaultBufferFractions applies DefaultBufferFraction to both classes.
func DefaultBufferFractions() BufferFractions {
	return BufferFractions{
		Individual:   DefaultBufferFraction,
		Organization: DefaultBufferFraction,
	}
}

// Validate rejects negative buffers.
func (b BufferFractions) Validate() error {
	if b.Individual.IsNegative() {
		return fmt.Errorf("admission: negative individual buffer %s", b.Individual)
	}
	if b.Organization.IsNegative() {
		return fmt.Errorf("admission: negative organization buffer %s", b.Organization)
	}
	return nil
}

// For returns the buffer applying to the scope class.
func (b BufferFractions) For(scopeType quotadomain.ScopeType) decimal.Decimal {
	if scopeType == quotadomain.ScopeTypeOrganization {
		return b.Organization
	}
	return b.Individual
}

// Policy is pure decision logic over a balance snapshot.
type Policy struct {
	buffers func() BufferFractions
}

// NewPolicy builds a policy over a fixed buffer set.
func NewPolicy(buffers BufferFractions) *Policy {
	return &Policy{buffers: func() BufferFractions { return buffers }}
}

// NewDynamicPolicy reads buffers on each decision, for hot-reloaded config.
func NewDynamicPolicy(source func() BufferFractions) *Policy {
	return &Policy{buffers: source}
}

// HardLimit returns capacity × (1 + buffer) for the scope class.
func (p *Policy) HardLimit(balance quotadomain.Balance) decimal.Decimal {
	buffer := p.buffers().For(balance.Scope.Type)
	return decimal.NewFromInt(balance.Capacity).Mul(decimal.NewFromInt(1).Add(buffer))
}

// Decide returns Allow when consumed+charge ≤ capacity, AllowWithWarning when
// it lands inside the buffer band, and Reject otherwise or when the scope is
// inactive at now.
func (p *Policy) Decide(balance quotadomain.Balance, charge int64, now time.Time) quotadomain.Decision {
	hardLimit := p.HardLimit(balance)
	// Projected consumption is compared in decimal so a sum past int64 can
	// only ever reject.
	projected := decimal.NewFromInt(balance.Consumed).Add(decimal.NewFromInt(charge))
	decision := quotadomain.Decision{
		Charge:    charge,
		Projected: saturate(projected),
		Capacity:  balance.Capacity,
		HardLimit: hardLimit,
	}

	if !balance.Active || balance.Expired(now) {
		decision.Outcome = quotadomain.OutcomeReject
		decision.Reason = quotadomain.ReasonScopeInactive
		return decision
	}

	switch {
	case charge < 0:
		decision.Outcome = quotadomain.OutcomeReject
		decision.Reason = quotadomain.ReasonHardLimitExceeded
	case projected.LessThanOrEqual(decimal.NewFromInt(balance.Capacity)):
		decision.Outcome = quotadomain.OutcomeAllow
	case projected.LessThanOrEqual(hardLimit):
		decision.Outcome = quotadomain.OutcomeAllowWithWarning
	default:
		decision.Outcome = quotadomain.OutcomeReject
		decision.Reason = quotadomain.ReasonHardLimitExceeded
	}
	return decision
}

var maxInt64 = decimal.NewFromInt(math.MaxInt64)

func saturate(d decimal.Decimal) int64 {
	if d.GreaterThan(maxInt64) {
		return math.MaxInt64
	}
	return d.IntPart()
}
