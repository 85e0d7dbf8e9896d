package slots

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcare/concierge/internal/schedule"
)

type fakeHolidays struct{}

func (fakeHolidays) IsHoliday(ctx context.Context, date time.Time) (bool, error) { return false, nil }

type fakeOverrides struct{ override *schedule.Override }

func (f fakeOverrides) GetScheduleOverride(ctx context.Context, practiceID uuid.UUID, date time.Time) (*schedule.Override, error) {
	return f.override, nil
}

type fakeTemplates struct{ tmpl *schedule.Template }

func (f fakeTemplates) GetWeeklyTemplate(ctx context.Context, practiceID uuid.UUID, dayOfWeek int) (*schedule.Template, error) {
	return f.tmpl, nil
}

type fakeCounter struct{ counts map[string]int }

func (f fakeCounter) CountByTime(ctx context.Context, practiceID uuid.UUID, date time.Time) (map[string]int, error) {
	return f.counts, nil
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func newGenerator(open, close string, counts map[string]int) *Generator {
	resolver := &schedule.Resolver{
		Holidays:  fakeHolidays{},
		Overrides: fakeOverrides{},
		Templates: fakeTemplates{tmpl: &schedule.Template{IsEnabled: true, Open: open, Close: close}},
	}
	return NewGenerator(resolver, fakeCounter{counts: counts})
}

func TestSlots_GeneratesAscendingStepped(t *testing.T) {
	g := newGenerator("09:00", "10:00", nil)
	policy := Policy{SlotDurationMinutes: 30, AllowOverbooking: false}
	out, err := g.Slots(context.Background(), uuid.New(), "UTC", mustDate(t, "2025-03-17"), policy, AppointmentTypeDuration{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "09:00", out[0].Time)
	assert.Equal(t, "09:30", out[1].Time)
	assert.True(t, out[0].Available)
	assert.True(t, out[1].Available)
}

func TestSlots_NonWorkingDayIsEmpty(t *testing.T) {
	resolver := &schedule.Resolver{
		Holidays:  fakeHolidays{},
		Overrides: fakeOverrides{},
		Templates: fakeTemplates{tmpl: nil},
	}
	g := NewGenerator(resolver, fakeCounter{})
	out, err := g.Slots(context.Background(), uuid.New(), "UTC", mustDate(t, "2025-03-16"), Policy{SlotDurationMinutes: 30}, AppointmentTypeDuration{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSlots_OverbookingCapAndAvailability(t *testing.T) {
	g := newGenerator("09:00", "10:00", map[string]int{"09:00": 2})

	// overbooking disabled: cap is always 1
	out, err := g.Slots(context.Background(), uuid.New(), "UTC", mustDate(t, "2025-03-17"),
		Policy{SlotDurationMinutes: 30, AllowOverbooking: false}, AppointmentTypeDuration{})
	require.NoError(t, err)
	assert.False(t, out[0].Available)

	// overbooking enabled with cap 3: 2 < 3 still available
	out, err = g.Slots(context.Background(), uuid.New(), "UTC", mustDate(t, "2025-03-17"),
		Policy{SlotDurationMinutes: 30, AllowOverbooking: true, MaxOverbookingPerSlot: 3}, AppointmentTypeDuration{})
	require.NoError(t, err)
	assert.True(t, out[0].Available)
	assert.Equal(t, 2, out[0].Count)
}

func TestSlots_AppointmentTypeDurationOverridesDefault(t *testing.T) {
	g := newGenerator("09:00", "10:00", nil)
	out, err := g.Slots(context.Background(), uuid.New(), "UTC", mustDate(t, "2025-03-17"),
		Policy{SlotDurationMinutes: 30}, AppointmentTypeDuration{DurationMinutes: 60, Found: true})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "09:00", out[0].Time)
}
