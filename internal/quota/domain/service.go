package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/edupoints/pkg/db/pagination"
)

// DeductRequest is the wire form of a UsageEvent.
type DeductRequest struct {
	ActorID      string          `json:"actor_id"`
	SubjectID    *string         `json:"subject_id"`
	AssignmentID *string         `json:"assignment_id"`
	Kind         string          `json:"kind"`
	RawAmount    decimal.Decimal `json:"raw_amount"`
	Unit         string          `json:"unit"`
}

// Warning flags a deduction admitted inside the buffer band.
type Warning struct {
	Scope     ScopeRef `json:"scope"`
	Capacity  int64    `json:"capacity"`
	Consumed  int64    `json:"consumed"`
	Overage   int64    `json:"overage"`
	HardLimit string   `json:"hard_limit"`
}

// DeductionResult is returned for a committed deduction.
type DeductionResult struct {
	LedgerEntryID string   `json:"ledger_entry_id"`
	Scope         ScopeRef `json:"scope"`
	PointsCharged int64    `json:"points_charged"`
	BalanceAfter  int64    `json:"balance_after"`
	Remaining     int64    `json:"remaining"`
	Outcome       Outcome  `json:"outcome"`
	Warning       *Warning `json:"warning,omitempty"`
}

// BalanceView is the dashboard read model of a scope.
type BalanceView struct {
	Scope     ScopeRef   `json:"scope"`
	Capacity  int64      `json:"capacity"`
	Consumed  int64      `json:"consumed"`
	Remaining int64      `json:"remaining"`
	Active    bool       `json:"active"`
	PeriodEnd *time.Time `json:"period_end,omitempty"`
}

type ListLedgerRequest struct {
	Scope     ScopeRef
	Kind      string
	PageToken string
	PageSize  int
}

type ListLedgerResponse struct {
	pagination.PageInfo
	Entries []LedgerEntry `json:"entries"`
}

type TopUpRequest struct {
	Scope   ScopeRef
	ActorID string `json:"actor_id"`
	Points  int64  `json:"points"`
	Note    string `json:"note"`
}

type ReverseRequest struct {
	EntryID string `json:"-"`
	ActorID string `json:"actor_id"`
	Note    string `json:"note"`
}

type ProvisionRequest struct {
	Scope     ScopeRef
	Capacity  int64      `json:"capacity"`
	Active    *bool      `json:"active"`
	PeriodEnd *time.Time `json:"period_end"`
	// ActorID is recorded on the admin_adjustment entry written when an
	// existing scope's capacity changes.
	ActorID string `json:"actor_id"`
}

// Service is the entry point of the points accounting engine.
type Service interface {
	Deduct(ctx context.Context, event UsageEvent) (*DeductionResult, error)
	CheckAdmission(ctx context.Context, event UsageEvent) (Decision, error)
	GetBalance(ctx context.Context, scope ScopeRef) (BalanceView, error)
	ListLedger(ctx context.Context, req ListLedgerRequest) (ListLedgerResponse, error)
	TopUp(ctx context.Context, req TopUpRequest) (*LedgerEntry, error)
	Reverse(ctx context.Context, req ReverseRequest) (*LedgerEntry, error)
	Provision(ctx context.Context, req ProvisionRequest) (BalanceView, error)
}
