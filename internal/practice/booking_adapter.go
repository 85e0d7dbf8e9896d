package practice

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/booking"
	"github.com/voxcare/concierge/internal/slots"
)

// BookingAdapter satisfies booking.AppointmentTypes and booking.PolicyProvider
// on top of Store + ConfigCache, keeping internal/booking free of any direct
// dependency on this package's entity types.
type BookingAdapter struct {
	Store  *Store
	Config *ConfigCache
}

// NewBookingAdapter wires the dependencies the booking engine needs from the
// practice domain.
func NewBookingAdapter(store *Store, config *ConfigCache) *BookingAdapter {
	return &BookingAdapter{Store: store, Config: config}
}

func (a *BookingAdapter) GetAppointmentTypeByID(ctx context.Context, practiceID, typeID uuid.UUID) (*booking.AppointmentTypeInfo, error) {
	t, err := a.Store.GetAppointmentTypeByID(ctx, practiceID, typeID)
	if err != nil {
		return nil, err
	}
	return &booking.AppointmentTypeInfo{
		ID:              t.ID,
		PracticeID:      t.PracticeID,
		IsActive:        t.IsActive,
		DurationMinutes: t.DurationMinutes,
	}, nil
}

func (a *BookingAdapter) Policy(ctx context.Context, practiceID uuid.UUID) (slots.Policy, string, int, error) {
	cfg, err := a.Config.Get(ctx, practiceID)
	if err != nil {
		return slots.Policy{}, "", 0, fmt.Errorf("practice: policy: %w", err)
	}
	p, err := a.Store.GetPractice(ctx, practiceID)
	if err != nil {
		return slots.Policy{}, "", 0, fmt.Errorf("practice: policy: %w", err)
	}
	policy := slots.Policy{
		SlotDurationMinutes:   cfg.SlotDurationMinutes,
		AllowOverbooking:      cfg.AllowOverbooking,
		MaxOverbookingPerSlot: cfg.MaxOverbookingPerSlot,
	}
	return policy, p.Timezone, cfg.BookingHorizonDays, nil
}
