// Package conversion maps raw usage amounts onto points.
package conversion

import (
	"fmt"

	"github.com/shopspring/decimal"
	quotadomain "github.com/smallbiznis/edupoints/internal/quota/domain"
)

// DefaultFactors is the stable conversion table. Factors are exact decimals
// so 0.1 points per character does not drift.
var DefaultFactors = map[quotadomain.Unit]decimal.Decimal{
	quotadomain.UnitSeconds:    decimal.NewFromInt(1),
	quotadomain.UnitCharacters: decimal.New(1, -1),
	quotadomain.UnitImages:     decimal.NewFromInt(10),
	quotadomain.UnitMinutes:    decimal.NewFromInt(60),
}

// Converter is pure: same input, same output, no I/O.
type Converter struct {
	factors map[quotadomain.Unit]decimal.Decimal
}

// NewConverter returns a converter over the default table plus overrides.
// Overrides may add units; a negative factor is rejected.
func NewConverter(overrides map[quotadomain.Unit]decimal.Decimal) (*Converter, error) {
	factors := make(map[quotadomain.Unit]decimal.Decimal, len(DefaultFactors)+len(overrides))
	for unit, factor := range DefaultFactors {
		factors[unit] = factor
	}
	for unit, factor := range overrides {
		if unit == "" {
			return nil, fmt.Errorf("conversion: empty unit name")
		}
		if factor.IsNegative() {
			return nil, fmt.Errorf("conversion: negative factor for unit %q", string(unit))
		}
		factors[unit] = factor
	}
	return &Converter{factors: factors}, nil
}

// Convert returns rawAmount × factor(unit). The result is not rounded.
func (c *Converter) Convert(rawAmount decimal.Decimal, unit quotadomain.Unit) (decimal.Decimal, error) {
	if rawAmount.IsNegative() {
		return decimal.Zero, quotadomain.ErrInvalidUsage
	}
	factor, ok := c.factors[unit]
	if !ok {
		return decimal.Zero, quotadomain.ErrUnsupportedUnit
	}
	return rawAmount.Mul(factor), nil
}

// Factor returns the configured factor for unit.
func (c *Converter) Factor(unit quotadomain.Unit) (decimal.Decimal, bool) {
	factor, ok := c.factors[unit]
	return factor, ok
}

// MaxCharge is the largest charge a single event may carry. It leaves room
// below int64 for consumed + charge.
const MaxCharge int64 = 1 << 53

var maxChargeDecimal = decimal.NewFromInt(MaxCharge)

// RoundPoints rounds a non-negative charge half up to whole points. Charges
// above MaxCharge fail with ErrInvalidUsage instead of wrapping.
func RoundPoints(points decimal.Decimal) (int64, error) {
	rounded := points.Round(0)
	if rounded.IsNegative() || rounded.GreaterThan(maxChargeDecimal) {
		return 0, quotadomain.ErrInvalidUsage
	}
	return rounded.IntPart(), nil
}
