package domain

import (
	"strings"

	"github.com/bwmarrin/snowflake"
)

// ParseUsageEvent validates the identifiers of a DeductRequest. Amount and
// unit are left to the converter so unit errors stay distinguishable.
func ParseUsageEvent(req DeductRequest) (UsageEvent, error) {
	actorID, err := parseID(req.ActorID)
	if err != nil || actorID == 0 {
		return UsageEvent{}, ErrInvalidActor
	}

	kind := UsageKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if kind == "" {
		kind = UsageKindOther
	}
	if !kind.Billable() {
		return UsageEvent{}, ErrInvalidKind
	}

	event := UsageEvent{
		ActorID:   actorID,
		Kind:      kind,
		RawAmount: req.RawAmount,
		Unit:      Unit(strings.ToLower(strings.TrimSpace(req.Unit))),
	}

	if req.SubjectID != nil && strings.TrimSpace(*req.SubjectID) != "" {
		id, err := parseID(*req.SubjectID)
		if err != nil {
			return UsageEvent{}, ErrInvalidUsage
		}
		event.SubjectID = &id
	}
	if req.AssignmentID != nil && strings.TrimSpace(*req.AssignmentID) != "" {
		id, err := parseID(*req.AssignmentID)
		if err != nil {
			return UsageEvent{}, ErrInvalidUsage
		}
		event.AssignmentID = &id
	}
	return event, nil
}

// ParseID parses a snowflake id from user input.
func ParseID(raw string) (snowflake.ID, error) {
	return parseID(raw)
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, ErrInvalidUsage
	}
	return id, nil
}
