package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidUsage      = errors.New("invalid_usage")
	ErrUnsupportedUnit   = errors.New("unsupported_unit")
	ErrScopeNotFound     = errors.New("scope_not_found")
	ErrScopeInactive     = errors.New("scope_inactive")
	ErrHardLimitExceeded = errors.New("hard_limit_exceeded")
	ErrPersistence       = errors.New("persistence_error")

	ErrConcurrentUpdate  = errors.New("concurrent_update")
	ErrInvalidScopeType  = errors.New("invalid_scope_type")
	ErrInvalidScope      = errors.New("invalid_scope")
	ErrInvalidActor      = errors.New("invalid_actor")
	ErrInvalidKind       = errors.New("invalid_kind")
	ErrInvalidAdjustment = errors.New("invalid_adjustment")
	ErrEntryNotFound     = errors.New("ledger_entry_not_found")
	ErrNotReversible     = errors.New("ledger_entry_not_reversible")
	ErrAlreadyReversed   = errors.New("ledger_entry_already_reversed")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
	ErrInvalidProvision  = errors.New("invalid_provision")

	// ErrCapacityBelowConsumption rejects a capacity change that would leave
	// consumption above the new hard limit.
	ErrCapacityBelowConsumption = errors.New("capacity_below_consumption")
)

// RejectReason names why a charge was not admitted.
type RejectReason string

const (
	ReasonScopeInactive     RejectReason = "scope_inactive"
	ReasonScopeNotFound     RejectReason = "scope_not_found"
	ReasonHardLimitExceeded RejectReason = "hard_limit_exceeded"
)

// Err returns the sentinel matching the reason.
func (r RejectReason) Err() error {
	switch r {
	case ReasonScopeInactive:
		return ErrScopeInactive
	case ReasonScopeNotFound:
		return ErrScopeNotFound
	case ReasonHardLimitExceeded:
		return ErrHardLimitExceeded
	default:
		return fmt.Errorf("unknown reject reason %q", string(r))
	}
}

// DeductionError carries the scope and cause of a failed deduction. The cause
// is always one of the sentinels above, so callers branch with errors.Is.
type DeductionError struct {
	Err    error
	Scope  ScopeRef
	Charge int64
}

func (e *DeductionError) Error() string {
	if e.Scope.Valid() {
		return fmt.Sprintf("deduction failed: scope=%s charge=%d: %v", e.Scope, e.Charge, e.Err)
	}
	return fmt.Sprintf("deduction failed: %v", e.Err)
}

func (e *DeductionError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a storage failure. It matches ErrPersistence with
// errors.Is; Retryable marks failures worth another attempt.
type PersistenceError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence.Error(), e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// IsRejection reports whether err is a business-rule rejection.
func IsRejection(err error) bool {
	return errors.Is(err, ErrScopeInactive) ||
		errors.Is(err, ErrScopeNotFound) ||
		errors.Is(err, ErrHardLimitExceeded)
}

// IsInputError reports whether err stems from a malformed usage event.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidUsage) || errors.Is(err, ErrUnsupportedUnit)
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	if errors.Is(err, ErrConcurrentUpdate) {
		return true
	}
	var perr *PersistenceError
	return errors.As(err, &perr) && perr.Retryable
}
