// Package seed bootstraps a small demo hierarchy for local development:
// one organization with a shared pool, a classroom and assignment inside it,
// and an independent teacher with a personal quota.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupoints/internal/quota/domain"
	"gorm.io/gorm"
)

const (
	DemoOrganizationID       snowflake.ID = 1000
	DemoClassroomID          snowflake.ID = 2000
	DemoAssignmentID         snowflake.ID = 3000
	DemoOrgTeacherID         snowflake.ID = 4000
	DemoIndependentTeacherID snowflake.ID = 4001

	defaultOrgPoints     int64 = 1000
	defaultTeacherPoints int64 = 500
	defaultQuotaPeriod         = 30 * 24 * time.Hour
)

// EnsureDemoScopes seeds the demo hierarchy. Existing rows are left alone so
// restarts never reset consumption.
func EnsureDemoScopes(db *gorm.DB, now time.Time) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}
	now = now.UTC()

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orgID := DemoOrganizationID

		if err := ensureRow(tx, &domain.Classroom{ID: DemoClassroomID, OrganizationID: &orgID}, "id = ?", DemoClassroomID); err != nil {
			return err
		}
		if err := ensureRow(tx, &domain.Assignment{ID: DemoAssignmentID, ClassroomID: DemoClassroomID}, "id = ?", DemoAssignmentID); err != nil {
			return err
		}
		if err := ensureRow(tx, &domain.Teacher{ID: DemoOrgTeacherID, OrganizationID: &orgID}, "id = ?", DemoOrgTeacherID); err != nil {
			return err
		}
		if err := ensureRow(tx, &domain.Teacher{ID: DemoIndependentTeacherID}, "id = ?", DemoIndependentTeacherID); err != nil {
			return err
		}

		pool := &domain.OrganizationPoints{
			OrganizationID: orgID,
			TotalPoints:    defaultOrgPoints,
			Active:         true,
			LastUpdate:     now,
			CreatedAt:      now,
		}
		if err := ensureRow(tx, pool, "organization_id = ?", orgID); err != nil {
			return err
		}

		quota := &domain.TeacherQuota{
			TeacherID: DemoIndependentTeacherID,
			Capacity:  defaultTeacherPoints,
			Active:    true,
			PeriodEnd: now.Add(defaultQuotaPeriod),
			CreatedAt: now,
			UpdatedAt: now,
		}
		return ensureRow(tx, quota, "teacher_id = ?", DemoIndependentTeacherID)
	})
}

func ensureRow(tx *gorm.DB, row any, query string, args ...any) error {
	return tx.Where(query, args...).FirstOrCreate(row).Error
}
