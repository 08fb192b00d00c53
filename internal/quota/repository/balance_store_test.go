package repository

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/edupoints/internal/quota/domain"
	"github.com/smallbiznis/edupoints/internal/quota/quotatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestBalanceStoreGetBalance(t *testing.T) {
	db := quotatest.NewDB(t)
	store := ProvideBalanceStore()
	ctx := context.Background()
	periodEnd := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	individual := quotatest.SeedIndividual(t, db, 11, 1000, 250, periodEnd)
	org := quotatest.SeedOrganization(t, db, 22, 5000, 4000)

	b, err := store.GetBalance(ctx, db, individual)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), b.Capacity)
	assert.Equal(t, int64(250), b.Consumed)
	assert.Equal(t, int64(750), b.Remaining())
	require.NotNil(t, b.PeriodEnd)
	assert.True(t, periodEnd.Equal(*b.PeriodEnd))

	b, err = store.GetBalance(ctx, db, org)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), b.Capacity)
	assert.Equal(t, int64(4000), b.Consumed)
	assert.Nil(t, b.PeriodEnd)
	assert.True(t, b.Active)

	_, err = store.GetBalance(ctx, db, domain.Organization(999))
	assert.ErrorIs(t, err, domain.ErrScopeNotFound)

	_, err = store.GetBalance(ctx, db, domain.ScopeRef{Type: "team", ID: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidScope)
}

func TestBalanceStoreTryConsumeCompareAndSwap(t *testing.T) {
	db := quotatest.NewDB(t)
	store := ProvideBalanceStore()
	ctx := context.Background()
	scope := quotatest.SeedOrganization(t, db, 22, 1000, 950)
	stamp := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	err := db.Transaction(func(tx *gorm.DB) error {
		b, err := store.LockBalance(ctx, tx, scope)
		require.NoError(t, err)

		next, err := store.TryConsume(ctx, tx, scope, 100, b.Consumed, stamp)
		require.NoError(t, err)
		assert.Equal(t, int64(1050), next)

		// A stale expectation must not apply.
		_, err = store.TryConsume(ctx, tx, scope, 100, b.Consumed, stamp)
		assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
		return nil
	})
	require.NoError(t, err)

	b, err := store.GetBalance(ctx, db, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(1050), b.Consumed)
	assert.True(t, stamp.Equal(b.UpdatedAt), "last_update follows the caller's clock")
}

func TestBalanceStoreReleaseAndAdjust(t *testing.T) {
	db := quotatest.NewDB(t)
	store := ProvideBalanceStore()
	ctx := context.Background()
	scope := quotatest.SeedIndividual(t, db, 11, 1000, 300, time.Now().Add(24*time.Hour))
	stamp := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

	next, err := store.Release(ctx, db, scope, 100, 300, stamp)
	require.NoError(t, err)
	assert.Equal(t, int64(200), next)

	_, err = store.Release(ctx, db, scope, 500, 200, stamp)
	assert.ErrorIs(t, err, domain.ErrInvalidAdjustment)

	capacity, err := store.AdjustCapacity(ctx, db, scope, 500, 1000, stamp)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), capacity)

	_, err = store.AdjustCapacity(ctx, db, scope, 10, 1000, stamp)
	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)

	b, err := store.GetBalance(ctx, db, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), b.Capacity)
	assert.Equal(t, int64(200), b.Consumed)
	assert.True(t, stamp.Equal(b.UpdatedAt))
}

func TestBalanceStoreInsertAndSetTerms(t *testing.T) {
	db := quotatest.NewDB(t)
	store := ProvideBalanceStore()
	ctx := context.Background()
	stamp := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	periodEnd := stamp.Add(30 * 24 * time.Hour)

	scope := domain.Individual(31)
	require.NoError(t, store.Insert(ctx, db, domain.Balance{Scope: scope, Capacity: 600, Active: true, PeriodEnd: &periodEnd}, stamp))
	err := store.Insert(ctx, db, domain.Balance{Scope: scope, Capacity: 900, Active: true, PeriodEnd: &periodEnd}, stamp)
	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)

	_, err = store.TryConsume(ctx, db, scope, 100, 0, stamp)
	require.NoError(t, err)

	later := stamp.Add(time.Hour)
	require.NoError(t, store.SetTerms(ctx, db, scope, false, &periodEnd, later))

	b, err := store.GetBalance(ctx, db, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(600), b.Capacity)
	assert.Equal(t, int64(100), b.Consumed)
	assert.False(t, b.Active)
	assert.True(t, later.Equal(b.UpdatedAt))

	require.NoError(t, store.SetTerms(ctx, db, scope, true, &periodEnd, later))
	b, err = store.GetBalance(ctx, db, scope)
	require.NoError(t, err)
	assert.True(t, b.Active)

	err = store.Insert(ctx, db, domain.Balance{Scope: domain.Individual(32), Capacity: 10, Active: true}, stamp)
	assert.ErrorIs(t, err, domain.ErrInvalidProvision)
	err = store.SetTerms(ctx, db, domain.Individual(33), true, &periodEnd, stamp)
	assert.ErrorIs(t, err, domain.ErrScopeNotFound)
}

func TestBalanceStoreOrganizationTerms(t *testing.T) {
	db := quotatest.NewDB(t)
	store := ProvideBalanceStore()
	ctx := context.Background()
	stamp := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	org := domain.Organization(40)
	require.NoError(t, store.Insert(ctx, db, domain.Balance{Scope: org, Capacity: 9000, Active: false}, stamp))

	b, err := store.GetBalance(ctx, db, org)
	require.NoError(t, err)
	assert.Equal(t, int64(9000), b.Capacity)
	assert.False(t, b.Active, "an explicit false is stored, not the column default")
	assert.Nil(t, b.PeriodEnd)

	periodEnd := stamp.Add(24 * time.Hour)
	require.NoError(t, store.SetTerms(ctx, db, org, true, &periodEnd, stamp))
	b, err = store.GetBalance(ctx, db, org)
	require.NoError(t, err)
	assert.True(t, b.Active)
	require.NotNil(t, b.PeriodEnd)
	assert.True(t, periodEnd.Equal(*b.PeriodEnd))

	require.NoError(t, store.SetTerms(ctx, db, org, true, nil, stamp))
	b, err = store.GetBalance(ctx, db, org)
	require.NoError(t, err)
	assert.Nil(t, b.PeriodEnd)
}
