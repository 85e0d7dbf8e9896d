// Package slots generates the ordered list of bookable times for a
// (practice, date, appointment_type) triple — spec.md §4.C. Grounded on the
// teacher's internal/clinic business-hours wall-clock arithmetic, extended
// with the overbooking-cap aggregation the teacher's single-tenant flow
// never needed.
package slots

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/clock"
	"github.com/voxcare/concierge/internal/schedule"
)

// Slot is one generated bookable time.
type Slot struct {
	Time      string // "HH:MM"
	Available bool
	Count     int
}

// BookingCounter returns the count of non-cancelled appointments grouped by
// time for (practice, date).
type BookingCounter interface {
	CountByTime(ctx context.Context, practiceID uuid.UUID, date time.Time) (map[string]int, error)
}

// Policy carries the practice-level knobs the generator needs: the default
// slot duration and the overbooking cap.
type Policy struct {
	SlotDurationMinutes   int
	AllowOverbooking      bool
	MaxOverbookingPerSlot int
}

// AppointmentTypeDuration optionally overrides the default slot duration.
type AppointmentTypeDuration struct {
	DurationMinutes int
	Found           bool
}

// Generator produces the ordered slot list.
type Generator struct {
	Resolver *schedule.Resolver
	Counter  BookingCounter
}

// NewGenerator wires the schedule resolver and booking counter.
func NewGenerator(resolver *schedule.Resolver, counter BookingCounter) *Generator {
	return &Generator{Resolver: resolver, Counter: counter}
}

// Slots implements spec §4.C's five-step algorithm.
func (g *Generator) Slots(ctx context.Context, practiceID uuid.UUID, tz string, date time.Time, policy Policy, typeDuration AppointmentTypeDuration) ([]Slot, error) {
	day, err := g.Resolver.Resolve(ctx, practiceID, date)
	if err != nil {
		return nil, fmt.Errorf("slots: resolve schedule: %w", err)
	}
	if !day.Working {
		return nil, nil
	}

	duration := policy.SlotDurationMinutes
	if typeDuration.Found && typeDuration.DurationMinutes > 0 {
		duration = typeDuration.DurationMinutes
	}
	if duration <= 0 {
		return nil, fmt.Errorf("slots: non-positive slot duration")
	}

	openAt, ok := clock.AtWallClock(date, tz, day.Open)
	if !ok {
		return nil, fmt.Errorf("slots: invalid open time %q", day.Open)
	}
	closeAt, ok := clock.AtWallClock(date, tz, day.Close)
	if !ok {
		return nil, fmt.Errorf("slots: invalid close time %q", day.Close)
	}

	counts, err := g.Counter.CountByTime(ctx, practiceID, date)
	if err != nil {
		return nil, fmt.Errorf("slots: count bookings: %w", err)
	}

	capLimit := 1
	if policy.AllowOverbooking {
		capLimit = policy.MaxOverbookingPerSlot
		if capLimit < 1 {
			capLimit = 1
		}
	}

	step := time.Duration(duration) * time.Minute
	var result []Slot
	for t := openAt; !t.Add(step).After(closeAt); t = t.Add(step) {
		key := t.Format("15:04")
		count := counts[key]
		result = append(result, Slot{
			Time:      key,
			Count:     count,
			Available: count < capLimit,
		})
	}
	return result, nil
}
