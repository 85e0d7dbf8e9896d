package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/messaging"
)

// params is the loosely-typed argument bag every tool receives; voice
// platforms send JSON objects whose values are strings or nulls.
type params map[string]any

func (p params) str(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprintf("%v", v)
}

func (p params) has(key string) bool {
	v, ok := p[key]
	return ok && v != nil && v != ""
}

// date parses a "YYYY-MM-DD" field into a date-only time.Time.
func (p params) date(key string) (time.Time, error) {
	raw := p.str(key)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s is required", key)
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be YYYY-MM-DD: %w", key, err)
	}
	return t, nil
}

// optionalDate is like date but returns the zero value when absent.
func (p params) optionalDate(key string) (*time.Time, error) {
	if !p.has(key) {
		return nil, nil
	}
	t, err := p.date(key)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// clockTime parses and validates an "HH:MM" field.
func (p params) clockTime(key string) (string, error) {
	raw := p.str(key)
	if raw == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) == 0 {
		return "", fmt.Errorf("%s must be HH:MM", key)
	}
	return raw, nil
}

// uuid parses a required UUID field.
func (p params) uuid(key string) (uuid.UUID, error) {
	raw := p.str(key)
	if raw == "" {
		return uuid.UUID{}, fmt.Errorf("%s is required", key)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%s must be a UUID: %w", key, err)
	}
	return id, nil
}

// optionalUUID is like uuid but returns nil when absent.
func (p params) optionalUUID(key string) (*uuid.UUID, error) {
	if !p.has(key) {
		return nil, nil
	}
	id, err := p.uuid(key)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// phone normalizes a phone-number field to E.164, using fallback if key is
// blank (tools that accept either an explicit phone param or the caller's
// known number fall back this way).
func (p params) phone(key, fallback string) string {
	raw := p.str(key)
	if raw == "" {
		raw = fallback
	}
	return messaging.NormalizeE164(raw)
}
