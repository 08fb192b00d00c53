package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeductionErrorMatchesSentinel(t *testing.T) {
	err := error(&DeductionError{Err: ErrHardLimitExceeded, Scope: Organization(9), Charge: 100})
	assert.ErrorIs(t, err, ErrHardLimitExceeded)
	assert.True(t, IsRejection(err))
	assert.False(t, IsInputError(err))
	assert.Contains(t, err.Error(), "organization:9")
}

func TestPersistenceErrorClassification(t *testing.T) {
	retryable := &PersistenceError{Op: "try_consume", Err: errors.New("deadlock"), Retryable: true}
	permanent := &PersistenceError{Op: "append_ledger", Err: errors.New("syntax error")}

	assert.ErrorIs(t, retryable, ErrPersistence)
	assert.ErrorIs(t, permanent, ErrPersistence)
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", retryable)))
	assert.False(t, IsTransient(permanent))
	assert.True(t, IsTransient(ErrConcurrentUpdate))
	assert.False(t, IsTransient(ErrScopeNotFound))
}

func TestRejectReasonErr(t *testing.T) {
	assert.Equal(t, ErrScopeInactive, ReasonScopeInactive.Err())
	assert.Equal(t, ErrScopeNotFound, ReasonScopeNotFound.Err())
	assert.Equal(t, ErrHardLimitExceeded, ReasonHardLimitExceeded.Err())
}

func TestParseUsageEvent(t *testing.T) {
	assignment := "77"
	event, err := ParseUsageEvent(DeductRequest{ActorID: "5", AssignmentID: &assignment, Unit: " Seconds "})
	assert.NoError(t, err)
	assert.Equal(t, UsageKindOther, event.Kind)
	assert.Equal(t, UnitSeconds, event.Unit)
	if assert.NotNil(t, event.AssignmentID) {
		assert.Equal(t, "77", event.AssignmentID.String())
	}

	_, err = ParseUsageEvent(DeductRequest{ActorID: "", Unit: "seconds"})
	assert.ErrorIs(t, err, ErrInvalidActor)

	_, err = ParseUsageEvent(DeductRequest{ActorID: "5", Kind: "reversal"})
	assert.ErrorIs(t, err, ErrInvalidKind)

	bad := "abc"
	_, err = ParseUsageEvent(DeductRequest{ActorID: "5", SubjectID: &bad})
	assert.ErrorIs(t, err, ErrInvalidUsage)
}

func TestScopeRef(t *testing.T) {
	assert.Equal(t, "individual:3", Individual(3).String())
	assert.True(t, Organization(4).Valid())
	assert.False(t, ScopeRef{Type: "team", ID: 1}.Valid())
	assert.False(t, Individual(0).Valid())

	st, err := ParseScopeType(" Organization ")
	assert.NoError(t, err)
	assert.Equal(t, ScopeTypeOrganization, st)
	_, err = ParseScopeType("school")
	assert.ErrorIs(t, err, ErrInvalidScopeType)
}
