package migration

import (
	"io/fs"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/edupoints/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = true
	}
	assert.True(t, names["000001_points_engine.up.sql"])
	assert.True(t, names["000001_points_engine.down.sql"])
	assert.True(t, names["000002_audit_logs.up.sql"])
	assert.True(t, names["000002_audit_logs.down.sql"])
}

func TestAutoMigrateCreatesTables(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(conn))

	for _, table := range []string{"teacher_quotas", "organization_points", "points_ledger_entries", "teachers", "classrooms", "assignments", "audit_logs"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestApplySchemaHonorsAutoMigrateFlag(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, applySchema(conn, config.Config{DBAutoMigrate: false}, zap.NewNop()))
	assert.False(t, conn.Migrator().HasTable("teacher_quotas"))

	require.NoError(t, applySchema(conn, config.Config{DBAutoMigrate: true}, zap.NewNop()))
	assert.True(t, conn.Migrator().HasTable("teacher_quotas"))
	assert.True(t, conn.Migrator().HasTable("points_ledger_entries"))
}
