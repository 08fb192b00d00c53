// Package domain contains the points accounting models shared by the quota
// engine's converter, admission policy, balance store and orchestrator.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TeacherQuota is the billing scope of an independent teacher.
type TeacherQuota struct {
	TeacherID snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	Capacity  int64        `gorm:"not null"`
	Consumed  int64        `gorm:"not null;default:0"`
	Active    bool         `gorm:"not null"`
	PeriodEnd time.Time    `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TeacherQuota) TableName() string { return "teacher_quotas" }

// OrganizationPoints is the shared point pool of an organization.
type OrganizationPoints struct {
	OrganizationID snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	TotalPoints    int64        `gorm:"not null"`
	UsedPoints     int64        `gorm:"not null;default:0"`
	Active         bool         `gorm:"not null"`
	PeriodEnd      *time.Time
	LastUpdate     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrganizationPoints) TableName() string { return "organization_points" }

// Balance is a point-in-time snapshot of a scope, independent of its variant.
type Balance struct {
	Scope     ScopeRef
	Capacity  int64
	Consumed  int64
	Active    bool
	PeriodEnd *time.Time
	UpdatedAt time.Time
}

// Remaining returns the unconsumed base capacity, floored at zero.
func (b Balance) Remaining() int64 {
	if b.Consumed >= b.Capacity {
		return 0
	}
	return b.Capacity - b.Consumed
}

// Expired reports whether the scope's period has ended at now.
func (b Balance) Expired(now time.Time) bool {
	return b.PeriodEnd != nil && now.After(*b.PeriodEnd)
}

// UsageKind classifies the billable action behind a usage event.
type UsageKind string

const (
	UsageKindSpeechAssessment UsageKind = "speech_assessment"
	UsageKindTextCorrection   UsageKind = "text_correction"
	UsageKindImageCorrection  UsageKind = "image_correction"
	UsageKindOther            UsageKind = "other"

	// Ledger-only kinds; never accepted on a UsageEvent.
	UsageKindAdminAdjustment UsageKind = "admin_adjustment"
	UsageKindReversal        UsageKind = "reversal"
)

// Billable reports whether the kind may be carried by a UsageEvent.
func (k UsageKind) Billable() bool {
	switch k {
	case UsageKindSpeechAssessment, UsageKindTextCorrection, UsageKindImageCorrection, UsageKindOther:
		return true
	default:
		return false
	}
}

// Unit is the measure a raw usage amount is expressed in.
type Unit string

const (
	UnitSeconds    Unit = "seconds"
	UnitCharacters Unit = "characters"
	UnitImages     Unit = "images"
	UnitMinutes    Unit = "minutes"
)

// UsageEvent describes one billable action. It is built by the caller and is
// never persisted; only the derived LedgerEntry is.
type UsageEvent struct {
	ActorID      snowflake.ID
	SubjectID    *snowflake.ID
	AssignmentID *snowflake.ID
	Kind         UsageKind
	RawAmount    decimal.Decimal
	Unit         Unit
}

// LedgerEntry is the append-only audit record of a committed balance change.
type LedgerEntry struct {
	ID            snowflake.ID      `gorm:"primaryKey;autoIncrement:false"`
	ScopeType     ScopeType         `gorm:"type:text;not null;index:ix_points_ledger_scope,priority:1"`
	ScopeID       snowflake.ID      `gorm:"not null;index:ix_points_ledger_scope,priority:2"`
	ActorID       snowflake.ID      `gorm:"not null"`
	SubjectID     *snowflake.ID     ``
	AssignmentID  *snowflake.ID     ``
	Kind          UsageKind         `gorm:"type:text;not null"`
	RawAmount     string            `gorm:"type:text;not null"`
	Unit          string            `gorm:"type:text;not null"`
	PointsCharged int64             `gorm:"not null"`
	CapacityAfter int64             `gorm:"not null"`
	BalanceAfter  int64             `gorm:"not null"`
	ReversalOf    *snowflake.ID     `gorm:"uniqueIndex:ux_points_ledger_reversal_of"`
	Note          string            `gorm:"type:text"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt     time.Time         `gorm:"not null;index:ix_points_ledger_scope,priority:3"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "points_ledger_entries" }

// Teacher, Classroom and Assignment are the slices of the host application's
// hierarchy that scope resolution reads. The engine never writes them.
type Teacher struct {
	ID             snowflake.ID  `gorm:"primaryKey;autoIncrement:false"`
	OrganizationID *snowflake.ID `gorm:"index"`
}

// TableName sets the database table name.
func (Teacher) TableName() string { return "teachers" }

type Classroom struct {
	ID             snowflake.ID  `gorm:"primaryKey;autoIncrement:false"`
	OrganizationID *snowflake.ID `gorm:"index"`
}

// TableName sets the database table name.
func (Classroom) TableName() string { return "classrooms" }

type Assignment struct {
	ID          snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	ClassroomID snowflake.ID `gorm:"not null;index"`
}

// TableName sets the database table name.
func (Assignment) TableName() string { return "assignments" }
