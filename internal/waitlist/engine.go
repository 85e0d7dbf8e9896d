package waitlist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/errs"
	"github.com/voxcare/concierge/internal/messaging"
	"github.com/voxcare/concierge/pkg/logging"
)

// Practices resolves the tenant data the waitlist engine needs without
// importing internal/practice directly (practice.WaitlistAdapter implements
// this), matching the boundary already used by internal/reminders.
type Practices interface {
	PracticeName(ctx context.Context, practiceID uuid.UUID) (string, error)
	Credentials(ctx context.Context, practiceID uuid.UUID) (messaging.Credentials, error)
}

const notifyTopN = 3
const offerWindow = 2 * time.Hour

// Engine implements add/on_cancel/on_reply (spec §4.F).
type Engine struct {
	Store     *Store
	Practices Practices
	Sender    messaging.Sender
	Logger    *logging.Logger
}

// NewEngine wires the engine.
func NewEngine(store *Store, practices Practices, sender messaging.Sender, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{Store: store, Practices: practices, Sender: sender, Logger: logger}
}

// AddInput is the add() request.
type AddInput struct {
	PracticeID          uuid.UUID
	PatientName         string
	PatientPhone        string
	AppointmentTypeID   *uuid.UUID
	PreferredDateStart  *time.Time
	PreferredDateEnd    *time.Time
	PreferredTimeStart  string
	PreferredTimeEnd    string
	Priority            int
}

// Add creates a waiting entry.
func (e *Engine) Add(ctx context.Context, in AddInput) (*Entry, error) {
	if in.PatientPhone == "" {
		return nil, errs.New(errs.KindValidation, "waitlist.Add", fmt.Errorf("patient_phone required"))
	}
	entry := &Entry{
		PracticeID:         in.PracticeID,
		PatientName:        in.PatientName,
		PatientPhone:       messaging.NormalizeE164(in.PatientPhone),
		AppointmentTypeID:  in.AppointmentTypeID,
		PreferredDateStart: in.PreferredDateStart,
		PreferredDateEnd:   in.PreferredDateEnd,
		PreferredTimeStart: in.PreferredTimeStart,
		PreferredTimeEnd:   in.PreferredTimeEnd,
		Priority:           in.Priority,
		Status:             StatusWaiting,
	}
	if err := e.Store.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// OnCancel implements booking.WaitlistNotifier: matches the cancelled slot
// against waiting candidates, notifies the top 3 by (priority asc,
// created_at asc), and returns how many were notified.
func (e *Engine) OnCancel(ctx context.Context, practiceID, appointmentTypeID uuid.UUID, date time.Time, at string) (int, error) {
	candidates, err := e.Store.ListWaiting(ctx, practiceID)
	if err != nil {
		return 0, err
	}

	var matched []Entry
	for _, c := range candidates {
		if c.matchesType(appointmentTypeID) && c.matchesDate(date) && c.matchesTime(at) {
			matched = append(matched, c)
		}
		if len(matched) == notifyTopN {
			break
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}

	practiceName, err := e.Practices.PracticeName(ctx, practiceID)
	if err != nil {
		return 0, fmt.Errorf("waitlist: on_cancel: practice lookup: %w", err)
	}
	creds, err := e.Practices.Credentials(ctx, practiceID)
	if err != nil || creds.FromNumber == "" {
		return 0, fmt.Errorf("waitlist: on_cancel: sms credentials missing")
	}

	now := time.Now().UTC()
	expiresAt := now.Add(offerWindow)
	notified := 0
	for _, c := range matched {
		body := fmt.Sprintf("Hi %s! A %s %s slot just opened up at %s. Reply YES to claim it (offer expires in 2 hours) or NO to pass.",
			firstNameOf(c.PatientName), date.Format("Jan 2"), at, practiceName)
		if _, err := e.Sender.Send(ctx, creds, c.PatientPhone, body); err != nil {
			e.Logger.Error("waitlist: notify failed", "entry_id", c.ID, "error", err)
			continue
		}
		if err := e.Store.MarkNotified(ctx, c.ID, now, expiresAt); err != nil {
			e.Logger.Error("waitlist: mark notified failed", "entry_id", c.ID, "error", err)
			continue
		}
		notified++
	}
	return notified, nil
}

// OnReply implements spec §4.F's on_reply: locates the most recent notified,
// unexpired entry for phone and applies YES/NO as booked/cancelled.
func (e *Engine) OnReply(ctx context.Context, practiceID uuid.UUID, phone, action string) (*Entry, error) {
	now := time.Now().UTC()
	entry, err := e.Store.FindActiveNotifiedByPhone(ctx, practiceID, phone, now)
	if err != nil || entry == nil {
		return entry, err
	}
	var to Status
	switch action {
	case "yes":
		to = StatusBooked
	case "no":
		to = StatusCancelled
	default:
		return entry, nil
	}
	if _, err := e.Store.UpdateStatus(ctx, entry.ID, []Status{StatusNotified}, to); err != nil {
		return nil, err
	}
	entry.Status = to
	return entry, nil
}

func firstNameOf(full string) string {
	if full == "" {
		return "there"
	}
	for i, r := range full {
		if r == ' ' {
			return full[:i]
		}
	}
	return full
}
