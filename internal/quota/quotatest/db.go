// Package quotatest holds fixtures shared by the quota package tests.
package quotatest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/edupoints/internal/migration"
	"github.com/smallbiznis/edupoints/internal/quota/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var nameReplacer = strings.NewReplacer("/", "_", " ", "_", "#", "_")

// NewDB opens a private in-memory database with the engine schema. A single
// connection makes SQLite behave like one serialized writer.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", nameReplacer.Replace(t.Name()))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(conn))
	return conn
}

func NewNode(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// SeedIndividual provisions a teacher quota.
func SeedIndividual(t testing.TB, db *gorm.DB, teacherID snowflake.ID, capacity, consumed int64, periodEnd time.Time) domain.ScopeRef {
	t.Helper()
	row := domain.TeacherQuota{
		TeacherID: teacherID,
		Capacity:  capacity,
		Consumed:  consumed,
		Active:    true,
		PeriodEnd: periodEnd.UTC(),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.WithContext(context.Background()).Create(&row).Error)
	return domain.Individual(teacherID)
}

// SeedOrganization provisions an organization pool without a period end.
func SeedOrganization(t testing.TB, db *gorm.DB, orgID snowflake.ID, total, used int64) domain.ScopeRef {
	t.Helper()
	row := domain.OrganizationPoints{
		OrganizationID: orgID,
		TotalPoints:    total,
		UsedPoints:     used,
		Active:         true,
		LastUpdate:     time.Now().UTC(),
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, db.Create(&row).Error)
	return domain.Organization(orgID)
}

// SeedAssignment creates an assignment inside a classroom. A zero orgID
// leaves the classroom unaffiliated.
func SeedAssignment(t testing.TB, db *gorm.DB, assignmentID, classroomID, orgID snowflake.ID) {
	t.Helper()
	classroom := domain.Classroom{ID: classroomID}
	if orgID != 0 {
		classroom.OrganizationID = &orgID
	}
	require.NoError(t, db.Create(&classroom).Error)
	require.NoError(t, db.Create(&domain.Assignment{ID: assignmentID, ClassroomID: classroomID}).Error)
}

func SeedTeacher(t testing.TB, db *gorm.DB, teacherID, orgID snowflake.ID) {
	t.Helper()
	teacher := domain.Teacher{ID: teacherID}
	if orgID != 0 {
		teacher.OrganizationID = &orgID
	}
	require.NoError(t, db.Create(&teacher).Error)
}
