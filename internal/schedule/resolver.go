// Package schedule resolves (practice, date) into a working/open/close
// triple, merging holidays, per-date overrides, and the weekly template —
// spec.md §4.B. Grounded on the teacher's internal/clinic.Config.IsOpenAt
// resolution order, generalized from a single in-memory BusinessHours
// struct to three separate repositories queried in priority order.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Day is the resolved schedule for one (practice, date).
type Day struct {
	Working bool
	Open    string // "HH:MM", practice-local wall clock
	Close   string
}

// HolidayChecker reports whether date is a global holiday.
type HolidayChecker interface {
	IsHoliday(ctx context.Context, date time.Time) (bool, error)
}

// OverrideLookup returns the schedule override for (practice, date), if any.
type OverrideLookup interface {
	GetScheduleOverride(ctx context.Context, practiceID uuid.UUID, date time.Time) (*Override, error)
}

// TemplateLookup returns the weekly template row for (practice, weekday), if any.
type TemplateLookup interface {
	GetWeeklyTemplate(ctx context.Context, practiceID uuid.UUID, dayOfWeek int) (*Template, error)
}

// Override mirrors practice.ScheduleOverride without importing that package,
// keeping this resolver trivially testable against fakes.
type Override struct {
	IsWorking bool
	Open      string
	Close     string
}

// Template mirrors practice.WeeklyScheduleTemplate.
type Template struct {
	IsEnabled bool
	Open      string
	Close     string
}

// Resolver implements spec §4.B's three-tier resolution.
type Resolver struct {
	Holidays  HolidayChecker
	Overrides OverrideLookup
	Templates TemplateLookup
}

// NewResolver wires the three lookup dependencies.
func NewResolver(holidays HolidayChecker, overrides OverrideLookup, templates TemplateLookup) *Resolver {
	return &Resolver{Holidays: holidays, Overrides: overrides, Templates: templates}
}

// Resolve implements the algorithm from spec §4.B:
//  1. global holiday -> closed
//  2. schedule override -> its own (is_working, open, close)
//  3. weekly template by weekday -> its (is_enabled, open, close), or
//     closed if missing/disabled
//
// A working day missing open or close is treated defensively as
// non-working.
func (r *Resolver) Resolve(ctx context.Context, practiceID uuid.UUID, date time.Time) (Day, error) {
	isHoliday, err := r.Holidays.IsHoliday(ctx, date)
	if err != nil {
		return Day{}, fmt.Errorf("schedule: check holiday: %w", err)
	}
	if isHoliday {
		return Day{Working: false}, nil
	}

	override, err := r.Overrides.GetScheduleOverride(ctx, practiceID, date)
	if err != nil {
		return Day{}, fmt.Errorf("schedule: get override: %w", err)
	}
	if override != nil {
		return sanitize(Day{Working: override.IsWorking, Open: override.Open, Close: override.Close}), nil
	}

	weekday := int(date.Weekday())
	tmpl, err := r.Templates.GetWeeklyTemplate(ctx, practiceID, weekday)
	if err != nil {
		return Day{}, fmt.Errorf("schedule: get weekly template: %w", err)
	}
	if tmpl == nil || !tmpl.IsEnabled {
		return Day{Working: false}, nil
	}
	return sanitize(Day{Working: true, Open: tmpl.Open, Close: tmpl.Close}), nil
}

// sanitize applies the defensive edge case: is_working=true with a missing
// open or close is treated as non-working.
func sanitize(d Day) Day {
	if d.Working && (d.Open == "" || d.Close == "") {
		return Day{Working: false}
	}
	return d
}
