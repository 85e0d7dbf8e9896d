package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHolidays struct{ dates map[string]bool }

func (f fakeHolidays) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	return f.dates[date.Format("2006-01-02")], nil
}

type fakeOverrides struct{ byDate map[string]*Override }

func (f fakeOverrides) GetScheduleOverride(ctx context.Context, practiceID uuid.UUID, date time.Time) (*Override, error) {
	return f.byDate[date.Format("2006-01-02")], nil
}

type fakeTemplates struct{ byWeekday map[int]*Template }

func (f fakeTemplates) GetWeeklyTemplate(ctx context.Context, practiceID uuid.UUID, dayOfWeek int) (*Template, error) {
	return f.byWeekday[dayOfWeek], nil
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func TestResolve_Holiday(t *testing.T) {
	r := &Resolver{
		Holidays:  fakeHolidays{dates: map[string]bool{"2025-12-25": true}},
		Overrides: fakeOverrides{byDate: map[string]*Override{}},
		Templates: fakeTemplates{byWeekday: map[int]*Template{4: {IsEnabled: true, Open: "09:00", Close: "17:00"}}},
	}
	day, err := r.Resolve(context.Background(), uuid.New(), mustDate(t, "2025-12-25"))
	require.NoError(t, err)
	assert.False(t, day.Working)
}

func TestResolve_OverridePrecedesTemplate(t *testing.T) {
	date := mustDate(t, "2025-03-17") // Monday
	r := &Resolver{
		Holidays: fakeHolidays{dates: map[string]bool{}},
		Overrides: fakeOverrides{byDate: map[string]*Override{
			"2025-03-17": {IsWorking: true, Open: "10:00", Close: "14:00"},
		}},
		Templates: fakeTemplates{byWeekday: map[int]*Template{1: {IsEnabled: true, Open: "09:00", Close: "17:00"}}},
	}
	day, err := r.Resolve(context.Background(), uuid.New(), date)
	require.NoError(t, err)
	assert.True(t, day.Working)
	assert.Equal(t, "10:00", day.Open)
	assert.Equal(t, "14:00", day.Close)
}

func TestResolve_TemplateMissingOrDisabled(t *testing.T) {
	date := mustDate(t, "2025-03-16") // Sunday
	r := &Resolver{
		Holidays:  fakeHolidays{dates: map[string]bool{}},
		Overrides: fakeOverrides{byDate: map[string]*Override{}},
		Templates: fakeTemplates{byWeekday: map[int]*Template{}},
	}
	day, err := r.Resolve(context.Background(), uuid.New(), date)
	require.NoError(t, err)
	assert.False(t, day.Working)

	r.Templates = fakeTemplates{byWeekday: map[int]*Template{0: {IsEnabled: false, Open: "09:00", Close: "17:00"}}}
	day, err = r.Resolve(context.Background(), uuid.New(), date)
	require.NoError(t, err)
	assert.False(t, day.Working)
}

func TestResolve_WorkingWithMissingHoursIsDefensivelyClosed(t *testing.T) {
	date := mustDate(t, "2025-03-17")
	r := &Resolver{
		Holidays:  fakeHolidays{dates: map[string]bool{}},
		Overrides: fakeOverrides{byDate: map[string]*Override{}},
		Templates: fakeTemplates{byWeekday: map[int]*Template{1: {IsEnabled: true, Open: "", Close: "17:00"}}},
	}
	day, err := r.Resolve(context.Background(), uuid.New(), date)
	require.NoError(t, err)
	assert.False(t, day.Working)
}
