package repository

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupoints/internal/quota/domain"
	"github.com/smallbiznis/edupoints/internal/quota/quotatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeResolver(t *testing.T) {
	db := quotatest.NewDB(t)
	resolver := ProvideScopeResolver()
	ctx := context.Background()

	quotatest.SeedAssignment(t, db, 100, 10, 500)
	quotatest.SeedAssignment(t, db, 101, 11, 0)
	quotatest.SeedTeacher(t, db, 7, 600)
	quotatest.SeedTeacher(t, db, 8, 0)

	ptr := func(id snowflake.ID) *snowflake.ID { return &id }

	tests := []struct {
		name  string
		event domain.UsageEvent
		want  domain.ScopeRef
		err   error
	}{
		{"assignment in organization classroom", domain.UsageEvent{ActorID: 8, AssignmentID: ptr(100)}, domain.Organization(500), nil},
		{"assignment in independent classroom", domain.UsageEvent{ActorID: 7, AssignmentID: ptr(101)}, domain.Individual(7), nil},
		{"teacher in organization", domain.UsageEvent{ActorID: 7}, domain.Organization(600), nil},
		{"independent teacher", domain.UsageEvent{ActorID: 8}, domain.Individual(8), nil},
		{"unknown teacher bills individually", domain.UsageEvent{ActorID: 9}, domain.Individual(9), nil},
		{"unknown assignment", domain.UsageEvent{ActorID: 7, AssignmentID: ptr(999)}, domain.ScopeRef{}, domain.ErrScopeNotFound},
		{"missing actor", domain.UsageEvent{}, domain.ScopeRef{}, domain.ErrInvalidActor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(ctx, db, tt.event)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
