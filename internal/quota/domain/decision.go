package domain

import "github.com/shopspring/decimal"

// Outcome is the admission verdict for a proposed charge.
type Outcome string

const (
	OutcomeAllow            Outcome = "allow"
	OutcomeAllowWithWarning Outcome = "allow_with_warning"
	OutcomeReject           Outcome = "reject"
)

// Decision is produced by the admission policy. Reason is set only when
// Outcome is OutcomeReject.
type Decision struct {
	Outcome   Outcome         `json:"outcome"`
	Reason    RejectReason    `json:"reason,omitempty"`
	Charge    int64           `json:"charge"`
	Projected int64           `json:"projected"`
	Capacity  int64           `json:"capacity"`
	HardLimit decimal.Decimal `json:"hard_limit"`
}

// Admitted reports whether the charge may be committed.
func (d Decision) Admitted() bool {
	return d.Outcome == OutcomeAllow || d.Outcome == OutcomeAllowWithWarning
}
