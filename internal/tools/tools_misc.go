package tools

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/clock"
	"github.com/voxcare/concierge/internal/waitlist"
)

var weekdayNames = [...]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// verifyInsurance implements tool 8. When the tenant has eligibility checks
// enabled an external 270/271 lookup runs; otherwise callers get a generic
// acknowledgement. Raw upstream errors never reach the assistant.
func verifyInsurance(ctx context.Context, deps *Deps, practiceID uuid.UUID, callExternalID string, args map[string]any) (any, error) {
	p := params(args)
	cfg, err := deps.Config.Get(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	if !cfg.EligibilityEnabled || deps.Eligibility == nil {
		return map[string]any{
			"verified": false,
			"message":  "Got it, we'll verify your insurance before your appointment.",
		}, nil
	}
	eligible, err := deps.Eligibility.CheckEligibility(ctx, practiceID, p.str("insurance_carrier"), p.str("member_id"))
	if err != nil {
		deps.Logger.Error("tools: verify_insurance eligibility check failed", "error", err)
		return map[string]any{
			"verified": false,
			"message":  "Got it, we'll verify your insurance before your appointment.",
		}, nil
	}
	return map[string]any{"verified": true, "eligible": eligible}, nil
}

// requestRefill implements tool 9.
func requestRefill(ctx context.Context, deps *Deps, practiceID uuid.UUID, callExternalID string, args map[string]any) (any, error) {
	p := params(args)
	patientID, err := p.optionalUUID("patient_id")
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}
	var callID *uuid.UUID
	if callExternalID != "" {
		if existing, err := deps.Calls.GetByExternalID(ctx, practiceID, callExternalID); err == nil && existing != nil {
			callID = &existing.ID
		}
	}
	req := &RefillRequest{
		PracticeID: practiceID,
		PatientID:  patientID,
		Medication: p.str("medication"),
		Dosage:     p.str("dosage"),
		Pharmacy:   p.str("pharmacy"),
		Urgency:    UrgencyNormal,
		CallID:     callID,
	}
	if err := deps.Store.CreateRefillRequest(ctx, req); err != nil {
		return nil, err
	}
	return map[string]any{"recorded": true, "request_id": req.ID.String()}, nil
}

// transferToStaff implements tool 10.
func transferToStaff(ctx context.Context, deps *Deps, practiceID uuid.UUID, callExternalID string, args map[string]any) (any, error) {
	p := params(args)
	cfg, err := deps.Config.Get(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	if cfg.TransferNumber == "" {
		return map[string]any{"transfer": false, "message": "I'm not able to transfer you right now, but I can take a message."}, nil
	}
	return map[string]any{"transfer": true, "number": cfg.TransferNumber, "reason": p.str("reason")}, nil
}

// checkOfficeHours implements tool 11: resolve today's hours (override
// first via the schedule resolver), compute the next open time by walking
// forward up to 7 days, and list the enabled weekly hours.
func checkOfficeHours(ctx context.Context, deps *Deps, practiceID uuid.UUID, callExternalID string, args map[string]any) (any, error) {
	practiceInfo, err := deps.Practice.GetPractice(ctx, practiceID)
	if err != nil {
		return nil, err
	}
	tz := practiceInfo.Timezone
	today := clock.Today(tz)

	todaySchedule, err := deps.Schedule.Resolve(ctx, practiceID, today)
	if err != nil {
		return nil, err
	}

	openNow := false
	if todaySchedule.Working {
		now := clock.Now(tz)
		openAt, okOpen := clock.AtWallClock(today, tz, todaySchedule.Open)
		closeAt, okClose := clock.AtWallClock(today, tz, todaySchedule.Close)
		if okOpen && okClose {
			openNow = !now.Before(openAt) && now.Before(closeAt)
		}
	}

	var nextOpenDate string
	var nextOpenTime string
	for i := 0; i <= 7; i++ {
		date := today.AddDate(0, 0, i)
		day, err := deps.Schedule.Resolve(ctx, practiceID, date)
		if err != nil {
			continue
		}
		if !day.Working {
			continue
		}
		if i == 0 {
			closeAt, ok := clock.AtWallClock(date, tz, day.Close)
			if ok && !clock.Now(tz).Before(closeAt) {
				continue // today's hours already ended
			}
		}
		nextOpenDate = date.Format("2006-01-02")
		nextOpenTime = day.Open
		break
	}

	weekly := make([]map[string]any, 0, 7)
	for dow := 0; dow < 7; dow++ {
		tmpl, err := deps.Practice.GetWeeklyTemplate(ctx, practiceID, dow)
		if err != nil || tmpl == nil || !tmpl.IsEnabled {
			continue
		}
		weekly = append(weekly, map[string]any{
			"day":   weekdayNames[dow],
			"open":  tmpl.Open,
			"close": tmpl.Close,
		})
	}

	return map[string]any{
		"open_now":       openNow,
		"today_working":  todaySchedule.Working,
		"next_open_date": nextOpenDate,
		"next_open_time": nextOpenTime,
		"weekly_hours":   weekly,
	}, nil
}

// leaveVoicemail implements tool 12.
func leaveVoicemail(ctx context.Context, deps *Deps, practiceID uuid.UUID, callExternalID string, args map[string]any) (any, error) {
	p := params(args)
	message := p.str("message")
	if len(message) > maxVoicemailLen {
		message = message[:maxVoicemailLen]
	}
	urgency := Urgency(p.str("urgency"))
	switch urgency {
	case UrgencyNormal, UrgencyUrgent, UrgencyEmergency:
	default:
		urgency = UrgencyNormal
	}

	var callID *uuid.UUID
	if callExternalID != "" {
		if existing, err := deps.Calls.GetByExternalID(ctx, practiceID, callExternalID); err == nil && existing != nil {
			callID = &existing.ID
		}
	}

	vm := &Voicemail{
		PracticeID:  practiceID,
		CallerPhone: p.phone("phone", ""),
		CallerName:  p.str("caller_name"),
		Message:     message,
		Urgency:     urgency,
		CallID:      callID,
	}
	if err := deps.Store.CreateVoicemail(ctx, vm); err != nil {
		return nil, err
	}
	return map[string]any{"recorded": true, "voicemail_id": vm.ID.String()}, nil
}

// addToWaitlist implements tool 13, delegating to §4.F add().
func addToWaitlist(ctx context.Context, deps *Deps, practiceID uuid.UUID, callExternalID string, args map[string]any) (any, error) {
	p := params(args)
	typeID, err := p.optionalUUID("appointment_type_id")
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}
	dateStart, err := p.optionalDate("preferred_date_start")
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}
	dateEnd, err := p.optionalDate("preferred_date_end")
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}

	priority := 3
	if raw := p.str("priority"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &priority); err != nil {
			priority = 3
		}
	}

	entry, err := deps.Waitlist.Add(ctx, waitlist.AddInput{
		PracticeID:         practiceID,
		PatientName:        p.str("patient_name"),
		PatientPhone:       p.phone("phone", ""),
		AppointmentTypeID:  typeID,
		PreferredDateStart: dateStart,
		PreferredDateEnd:   dateEnd,
		PreferredTimeStart: p.str("preferred_time_start"),
		PreferredTimeEnd:   p.str("preferred_time_end"),
		Priority:           priority,
	})
	if err != nil {
		return map[string]string{"error": conversationalError(err)}, nil
	}
	return map[string]any{"added": true, "waitlist_id": entry.ID.String()}, nil
}
