package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupoints/internal/quota/domain"
	"gorm.io/gorm"
)

type scopeResolver struct{}

func ProvideScopeResolver() domain.ScopeResolver {
	return &scopeResolver{}
}

// Resolve routes an event to a billing scope. An assignment's classroom
// decides on its own; without an assignment the teacher's organization
// membership does. Everything else bills the acting teacher.
func (r *scopeResolver) Resolve(ctx context.Context, db *gorm.DB, event domain.UsageEvent) (domain.ScopeRef, error) {
	if event.ActorID == 0 {
		return domain.ScopeRef{}, domain.ErrInvalidActor
	}

	if event.AssignmentID != nil {
		var row struct {
			OrganizationID sql.NullInt64
		}
		err := db.WithContext(ctx).
			Table("assignments").
			Select("classrooms.organization_id AS organization_id").
			Joins("JOIN classrooms ON classrooms.id = assignments.classroom_id").
			Where("assignments.id = ?", *event.AssignmentID).
			Take(&row).Error
		if err != nil {
			return domain.ScopeRef{}, wrapErr("resolve_assignment", err)
		}
		if row.OrganizationID.Valid && row.OrganizationID.Int64 > 0 {
			return domain.Organization(snowflake.ID(row.OrganizationID.Int64)), nil
		}
		return domain.Individual(event.ActorID), nil
	}

	var teacher domain.Teacher
	err := db.WithContext(ctx).Where("id = ?", event.ActorID).Take(&teacher).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.Individual(event.ActorID), nil
	case err != nil:
		return domain.ScopeRef{}, wrapErr("resolve_teacher", err)
	}
	if teacher.OrganizationID != nil && *teacher.OrganizationID != 0 {
		return domain.Organization(*teacher.OrganizationID), nil
	}
	return domain.Individual(event.ActorID), nil
}
