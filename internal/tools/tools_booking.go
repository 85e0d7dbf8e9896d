package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/booking"
	"github.com/voxcare/concierge/internal/clock"
	"github.com/voxcare/concierge/internal/errs"
	"github.com/voxcare/concierge/internal/slots"
)

// practicePolicy fetches the policy/timezone/horizon triple the booking and
// slots packages need, mirroring practice.BookingAdapter.Policy so tools
// don't have to depend on internal/booking's narrow adapter interfaces.
func practicePolicy(ctx context.Context, deps *Deps, practiceID uuid.UUID) (slots.Policy, string, int, error) {
	cfg, err := deps.Config.Get(ctx, practiceID)
	if err != nil {
		return slots.Policy{}, "", 0, fmt.Errorf("tools: policy: %w", err)
	}
	p, err := deps.Practice.GetPractice(ctx, practiceID)
	if err != nil {
		return slots.Policy{}, "", 0, fmt.Errorf("tools: policy: %w", err)
	}
	policy := slots.Policy{
		SlotDurationMinutes:   cfg.SlotDurationMinutes,
		AllowOverbooking:      cfg.AllowOverbooking,
		MaxOverbookingPerSlot: cfg.MaxOverbookingPerSlot,
	}
	return policy, p.Timezone, cfg.BookingHorizonDays, nil
}

// humanTime renders "HH:MM" 24h wall clock as "9:00 AM" for spoken replay.
func humanTime(clockValue string) string {
	t, err := time.Parse("15:04", clockValue)
	if err != nil {
		return clockValue
	}
	return t.Format("3:04 PM")
}

// dateDisplay renders a date relative to today in the practice timezone, per
// §4.I's "Today"/"Tomorrow"/weekday-plus-date rule.
func dateDisplay(date time.Time, tz string) string {
	today := clock.Today(tz)
	diff := int(date.Sub(today).Hours() / 24)
	switch diff {
	case 0:
		return "Today"
	case 1:
		return "Tomorrow"
	default:
		return date.Format("Monday, January 2")
	}
}

// checkAvailability implements tool 4: wrap the slot generator, refusing
// dates in the past or beyond the booking horizon.
func checkAvailability(ctx context.Context, deps *Deps, practiceID uuid.UUID, callExternalID string, args map[string]any) (any, error) {
	p := params(args)
	date, err := p.date("date")
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}

	policy, tz, horizonDays, err := practicePolicy(ctx, deps, practiceID)
	if err != nil {
		return nil, err
	}
	today := clock.Today(tz)
	if date.Before(today) {
		return map[string]string{"error": "that date is in the past"}, nil
	}
	if date.After(today.AddDate(0, 0, horizonDays)) {
		return map[string]string{"error": "that date is too far in the future"}, nil
	}

	var typeDuration slots.AppointmentTypeDuration
	if p.has("appointment_type_id") {
		typeID, err := p.uuid("appointment_type_id")
		if err != nil {
			return map[string]string{"error": err.Error()}, nil
		}
		typ, err := deps.Practice.GetAppointmentTypeByID(ctx, practiceID, typeID)
		if err != nil {
			return nil, err
		}
		typeDuration = slots.AppointmentTypeDuration{DurationMinutes: typ.DurationMinutes, Found: true}
	} else if name := p.str("appointment_type_name"); name != "" {
		typ, err := deps.Practice.GetAppointmentType(ctx, practiceID, name)
		if err != nil {
			return nil, err
		}
		typeDuration = slots.AppointmentTypeDuration{DurationMinutes: typ.DurationMinutes, Found: true}
	}

	generated, err := deps.Slots.Slots(ctx, practiceID, tz, date, policy, typeDuration)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(generated))
	slotsOut := make([]map[string]any, 0, len(generated))
	for _, s := range generated {
		if !s.Available || seen[s.Time] {
			continue
		}
		seen[s.Time] = true
		slotsOut = append(slotsOut, map[string]any{
			"time":       s.Time,
			"time_label": humanTime(s.Time),
		})
	}

	return map[string]any{
		"date":         date.Format("2006-01-02"),
		"date_display": dateDisplay(date, tz),
		"today":        today.Format("2006-01-02"),
		"slots":        slotsOut,
	}, nil
}

// bookAppointment implements tool 5: find-or-create patient, resolve
// appointment type by fuzzy name or first-active fallback, book, link call.
// Confirmation SMS and reminder scheduling happen automatically as booking
// engine side effects (§4.D/§4.E).
func bookAppointment(ctx context.Context, deps *Deps, practiceID uuid.UUID, callExternalID string, args map[string]any) (any, error) {
	p := params(args)
	firstName := p.str("first_name")
	lastName := p.str("last_name")
	dob, err := p.date("dob")
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}
	date, err := p.date("date")
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}
	at, err := p.clockTime("time")
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}
	phone := p.phone("phone", "")
	language := p.str("language_preference")

	patient, err := findOrCreatePatient(ctx, deps, practiceID, firstName, lastName, dob, phone, language)
	if err != nil {
		return nil, err
	}

	typeID, err := resolveAppointmentTypeID(ctx, deps, practiceID, p)
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}

	var callID *uuid.UUID
	if callExternalID != "" {
		existing, err := deps.Calls.GetByExternalID(ctx, practiceID, callExternalID)
		if err == nil && existing != nil {
			callID = &existing.ID
		}
	}

	appt, err := deps.Booking.Book(ctx, booking.BookInput{
		PracticeID:        practiceID,
		PatientID:         patient.ID,
		AppointmentTypeID: typeID,
		Date:              date,
		Time:              at,
		BookedBy:          booking.BookedByAI,
		CallID:            callID,
		IdempotencyKey:    callExternalID,
	})
	if err != nil {
		if errs.KindOf(err) == errs.KindConflictFull {
			return map[string]string{"error": "that time is fully booked, would you like another time?"}, nil
		}
		return map[string]string{"error": conversationalError(err)}, nil
	}

	if callExternalID != "" && callID != nil {
		_ = deps.Calls.LinkToAppointment(ctx, practiceID, callExternalID, appt.ID)
	}

	return map[string]any{
		"booked":         true,
		"appointment_id": appt.ID.String(),
		"date":           appt.Date.Format("2006-01-02"),
		"time":           appt.Time,
		"time_label":     humanTime(appt.Time),
	}, nil
}

func resolveAppointmentTypeID(ctx context.Context, deps *Deps, practiceID uuid.UUID, p params) (uuid.UUID, error) {
	if p.has("appointment_type_id") {
		return p.uuid("appointment_type_id")
	}
	typ, err := deps.Practice.GetAppointmentType(ctx, practiceID, p.str("appointment_type_name"))
	if err != nil {
		return uuid.UUID{}, err
	}
	return typ.ID, nil
}

// cancelAppointment implements tool 6: find the next non-cancelled
// appointment (optionally scoped to a date), cancel it, and report the
// waitlist fan-out count.
func cancelAppointment(ctx context.Context, deps *Deps, practiceID uuid.UUID, callExternalID string, args map[string]any) (any, error) {
	p := params(args)
	patientID, err := p.uuid("patient_id")
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}
	onDate, err := p.optionalDate("date")
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}

	existing, err := deps.Booking.Store.FindNextNonCancelledForPatient(ctx, practiceID, patientID, onDate)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return map[string]any{"cancelled": false, "message": "I couldn't find an upcoming appointment to cancel."}, nil
	}

	reason := p.str("reason")
	// Engine.Cancel already cascades to Reminders.CancelForAppointment and
	// Waitlist.OnCancel internally; calling OnCancel again here would double
	// the waitlist fan-out.
	_, notified, err := deps.Booking.Cancel(ctx, practiceID, existing.ID, reason)
	if err != nil {
		return map[string]string{"error": conversationalError(err)}, nil
	}

	return map[string]any{
		"cancelled":         true,
		"appointment_id":    existing.ID.String(),
		"waitlist_notified": notified,
	}, nil
}

// rescheduleAppointment implements tool 7: cancel the old + book the new.
func rescheduleAppointment(ctx context.Context, deps *Deps, practiceID uuid.UUID, callExternalID string, args map[string]any) (any, error) {
	p := params(args)
	patientID, err := p.uuid("patient_id")
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}
	newDate, err := p.date("new_date")
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}
	newTime, err := p.clockTime("new_time")
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}

	existing, err := deps.Booking.Store.FindNextNonCancelledForPatient(ctx, practiceID, patientID, nil)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return map[string]any{"rescheduled": false, "message": "I couldn't find an upcoming appointment to reschedule."}, nil
	}

	newAppt, err := deps.Booking.Reschedule(ctx, booking.RescheduleInput{
		PracticeID:    practiceID,
		AppointmentID: existing.ID,
		NewDate:       newDate,
		NewTime:       newTime,
	})
	if err != nil {
		return map[string]string{"error": conversationalError(err)}, nil
	}

	return map[string]any{
		"rescheduled":    true,
		"appointment_id": newAppt.ID.String(),
		"date":           newAppt.Date.Format("2006-01-02"),
		"time":           newAppt.Time,
		"time_label":     humanTime(newAppt.Time),
	}, nil
}

// conversationalError renders a domain error as something the voice
// assistant can safely speak, never the raw Go error text (spec §7).
func conversationalError(err error) string {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return "that doesn't look like a valid date or time, could you repeat it?"
	case errs.KindNotFound:
		return "I couldn't find that."
	case errs.KindConflictFull:
		return "that time is fully booked, would you like another time?"
	case errs.KindBadTransition:
		return "that appointment can't be changed from its current state."
	default:
		return "I ran into a problem handling that, let me try again."
	}
}
