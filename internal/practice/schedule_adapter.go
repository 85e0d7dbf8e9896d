package practice

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/schedule"
)

// ScheduleAdapter satisfies schedule.HolidayChecker/OverrideLookup/
// TemplateLookup on top of Store, keeping internal/schedule free of any
// dependency on this package's richer entity types.
type ScheduleAdapter struct {
	Store *Store
}

// NewScheduleAdapter wraps a Store for use as a schedule.Resolver dependency.
func NewScheduleAdapter(store *Store) *ScheduleAdapter {
	return &ScheduleAdapter{Store: store}
}

func (a *ScheduleAdapter) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	return a.Store.IsHoliday(ctx, date)
}

func (a *ScheduleAdapter) GetScheduleOverride(ctx context.Context, practiceID uuid.UUID, date time.Time) (*schedule.Override, error) {
	o, err := a.Store.GetScheduleOverride(ctx, practiceID, date)
	if err != nil || o == nil {
		return nil, err
	}
	return &schedule.Override{IsWorking: o.IsWorking, Open: o.Open, Close: o.Close}, nil
}

func (a *ScheduleAdapter) GetWeeklyTemplate(ctx context.Context, practiceID uuid.UUID, dayOfWeek int) (*schedule.Template, error) {
	t, err := a.Store.GetWeeklyTemplate(ctx, practiceID, dayOfWeek)
	if err != nil || t == nil {
		return nil, err
	}
	return &schedule.Template{IsEnabled: t.IsEnabled, Open: t.Open, Close: t.Close}, nil
}
