package domain

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// ScopeType tags which billing scope variant a ScopeRef points at.
type ScopeType string

const (
	ScopeTypeIndividual   ScopeType = "individual"
	ScopeTypeOrganization ScopeType = "organization"
)

// ParseScopeType normalizes a scope type from user input.
func ParseScopeType(raw string) (ScopeType, error) {
	switch ScopeType(strings.ToLower(strings.TrimSpace(raw))) {
	case ScopeTypeIndividual:
		return ScopeTypeIndividual, nil
	case ScopeTypeOrganization:
		return ScopeTypeOrganization, nil
	default:
		return "", ErrInvalidScopeType
	}
}

// ScopeRef is resolved once per usage event and passed through the pipeline
// unchanged. Only the balance store looks at Type.
type ScopeRef struct {
	Type ScopeType    `json:"type"`
	ID   snowflake.ID `json:"id"`
}

// Individual returns the scope of an independent teacher.
func Individual(teacherID snowflake.ID) ScopeRef {
	return ScopeRef{Type: ScopeTypeIndividual, ID: teacherID}
}

// Organization returns the shared scope of an organization.
func Organization(orgID snowflake.ID) ScopeRef {
	return ScopeRef{Type: ScopeTypeOrganization, ID: orgID}
}

// Valid reports whether the reference names a known variant and a non-zero id.
func (s ScopeRef) Valid() bool {
	return (s.Type == ScopeTypeIndividual || s.Type == ScopeTypeOrganization) && s.ID != 0
}

func (s ScopeRef) String() string {
	return fmt.Sprintf("%s:%s", s.Type, s.ID.String())
}
