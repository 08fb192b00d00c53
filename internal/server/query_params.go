package server

import (
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	quotadomain "github.com/smallbiznis/edupoints/internal/quota/domain"
)

const dateOnlyLayout = "2006-01-02"

func parseScopeParam(rawType, rawID string) (quotadomain.ScopeRef, error) {
	scopeType, err := quotadomain.ParseScopeType(rawType)
	if err != nil {
		return quotadomain.ScopeRef{}, err
	}
	id, err := snowflake.ParseString(strings.TrimSpace(rawID))
	if err != nil || id <= 0 {
		return quotadomain.ScopeRef{}, quotadomain.ErrInvalidScope
	}
	return quotadomain.ScopeRef{Type: scopeType, ID: id}, nil
}

func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		parsed = parsed.UTC()
		return &parsed, nil
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		if endOfDay {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
		} else {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
		}
		return &parsed, nil
	}
	return nil, errors.New("invalid_time")
}
