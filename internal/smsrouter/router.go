// Package smsrouter implements the inbound SMS router (spec §4.G): it parses
// a keyword out of an inbound reply and routes it to the reminder-reply
// handler, then the waitlist-reply handler, then a generic fallback.
// Grounded on the teacher's telnyx_webhooks.go handleInbound (signature
// verification -> parse -> dispatch composed with compliance.Detector-style
// keyword matching) and rebooking.Worker.HandleReply's priority-ordered
// handler chain.
package smsrouter

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/booking"
	"github.com/voxcare/concierge/internal/messaging/compliance"
	"github.com/voxcare/concierge/internal/practice"
	"github.com/voxcare/concierge/internal/reminders"
	"github.com/voxcare/concierge/internal/waitlist"
	"github.com/voxcare/concierge/pkg/logging"
)

// Action tags the outcome of routing one reply, useful for metrics/logging
// without parsing the reply text.
type Action string

const (
	ActionConfirmed        Action = "confirmed"
	ActionCancelled         Action = "cancelled"
	ActionRescheduleNoted   Action = "reschedule_noted"
	ActionUnknownReminder   Action = "unknown_reminder_reply"
	ActionWaitlistAccepted  Action = "waitlist_accepted"
	ActionWaitlistDeclined  Action = "waitlist_declined"
	ActionNoMatch           Action = "no_match"
	ActionOptedOut          Action = "opted_out"
	ActionOptedIn           Action = "opted_in"
	ActionHelp              Action = "help"
)

var confirmWords = map[string]bool{"confirm": true, "confirmar": true, "yes": true, "si": true, "y": true}
var cancelWords = map[string]bool{"cancel": true, "cancelar": true, "no": true}
var rescheduleWords = map[string]bool{"reschedule": true, "reprogramar": true}

// Router implements route(phone, body).
type Router struct {
	Reminders  *reminders.Worker
	Booking    *booking.Engine
	Waitlist   *waitlist.Engine
	Patients   *practice.Store
	Compliance *compliance.Detector
	Logger     *logging.Logger
}

// NewRouter wires the router's collaborators. patients may be nil, in which
// case STOP/START replies are acknowledged but no opt-out flag is recorded.
func NewRouter(remindersWorker *reminders.Worker, bookingEngine *booking.Engine, waitlistEngine *waitlist.Engine,
	patients *practice.Store, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{
		Reminders: remindersWorker, Booking: bookingEngine, Waitlist: waitlistEngine,
		Patients: patients, Compliance: compliance.NewDetector(), Logger: logger,
	}
}

// Result is the route() response: reply text plus the action tag. The reply
// text is unescaped plain text, and an HTTP adapter
// (out of scope) is responsible for XML-escaping it into the TwiML-style
// envelope described in §6.
type Result struct {
	ReplyText string
	Action    Action
}

// Route implements §4.G's priority chain: reminder reply, then waitlist
// reply, then a generic fallback. Matching is case-insensitive and trimmed;
// the raw reply is stored on a matched reminder. A waitlist match records
// only the resulting entry status, not the raw reply, and STOP/START/HELP
// replies are not stored.
func (r *Router) Route(ctx context.Context, practiceID uuid.UUID, phone, body string) (Result, error) {
	keyword := normalizeKeyword(body)

	if result, handled := r.handleCompliance(ctx, practiceID, phone, body); handled {
		return result, nil
	}

	reminder, err := r.Reminders.HandleReply(ctx, practiceID, phone, body)
	if err != nil {
		r.Logger.Error("smsrouter: reminder reply lookup failed", "error", err, "phone", phone)
	}
	if reminder != nil {
		return r.handleReminderReply(ctx, practiceID, reminder, keyword)
	}

	entry, err := r.Waitlist.OnReply(ctx, practiceID, phone, keyword)
	if err != nil {
		r.Logger.Error("smsrouter: waitlist reply failed", "error", err, "phone", phone)
	}
	if entry != nil {
		switch entry.Status {
		case waitlist.StatusBooked:
			return Result{ReplyText: "Great, we'll get you booked in. We'll follow up shortly.", Action: ActionWaitlistAccepted}, nil
		case waitlist.StatusCancelled:
			return Result{ReplyText: "No problem, we'll keep looking for other options.", Action: ActionWaitlistDeclined}, nil
		default:
			return Result{ReplyText: "Please reply YES to take the opening or NO to pass.", Action: ActionNoMatch}, nil
		}
	}

	return Result{ReplyText: "Thanks for your message. Please call our office for assistance.", Action: ActionNoMatch}, nil
}

// handleCompliance intercepts STOP/START/HELP keywords ahead of the
// reminder/waitlist reply chain, so an opt-out is honoured even mid-offer.
// Flagging opted_out_recall is best-effort against the patient lookup: a
// phone number the system doesn't recognise still gets an acknowledgement.
func (r *Router) handleCompliance(ctx context.Context, practiceID uuid.UUID, phone, body string) (Result, bool) {
	if r.Compliance == nil {
		return Result{}, false
	}
	switch {
	case r.Compliance.IsStop(body):
		r.setOptedOut(ctx, practiceID, phone, true)
		return Result{ReplyText: "You have been unsubscribed from appointment text reminders. Reply START to resubscribe.", Action: ActionOptedOut}, true
	case r.Compliance.IsStart(body):
		r.setOptedOut(ctx, practiceID, phone, false)
		return Result{ReplyText: "You have been resubscribed to appointment text reminders.", Action: ActionOptedIn}, true
	case r.Compliance.IsHelp(body):
		return Result{ReplyText: "This number sends appointment reminders. Reply STOP to opt out or call our office for help.", Action: ActionHelp}, true
	}
	return Result{}, false
}

func (r *Router) setOptedOut(ctx context.Context, practiceID uuid.UUID, phone string, optedOut bool) {
	if r.Patients == nil {
		return
	}
	patient, err := r.Patients.FindPatientByPhone(ctx, practiceID, phone)
	if err != nil {
		r.Logger.Error("smsrouter: opt-out patient lookup failed", "error", err, "phone", phone)
		return
	}
	if patient == nil {
		return
	}
	if err := r.Patients.SetOptedOutRecall(ctx, patient.ID, optedOut); err != nil {
		r.Logger.Error("smsrouter: opt-out update failed", "error", err, "patient_id", patient.ID)
	}
}

func (r *Router) handleReminderReply(ctx context.Context, practiceID uuid.UUID, reminder *reminders.Reminder, keyword string) (Result, error) {
	switch {
	case confirmWords[keyword]:
		_, err := r.Booking.Confirm(ctx, practiceID, reminder.AppointmentID)
		if err != nil {
			r.Logger.Error("smsrouter: confirm failed", "error", err, "appointment_id", reminder.AppointmentID)
			return Result{ReplyText: "Thanks for confirming.", Action: ActionConfirmed}, nil
		}
		return Result{ReplyText: "Thanks, your appointment is confirmed.", Action: ActionConfirmed}, nil

	case cancelWords[keyword]:
		_, _, err := r.Booking.Cancel(ctx, practiceID, reminder.AppointmentID, "cancelled via SMS reply")
		if err != nil {
			r.Logger.Error("smsrouter: cancel failed", "error", err, "appointment_id", reminder.AppointmentID)
			return Result{ReplyText: "Your appointment has been cancelled.", Action: ActionCancelled}, nil
		}
		return Result{ReplyText: "Your appointment has been cancelled. Let us know if you'd like to rebook.", Action: ActionCancelled}, nil

	case rescheduleWords[keyword]:
		if err := r.Booking.Store.AppendNote(ctx, reminder.AppointmentID, "patient requested reschedule via SMS"); err != nil {
			r.Logger.Error("smsrouter: reschedule annotation failed", "error", err, "appointment_id", reminder.AppointmentID)
		}
		return Result{ReplyText: "We've noted your reschedule request. Our office will follow up shortly.", Action: ActionRescheduleNoted}, nil

	default:
		return Result{ReplyText: "Please reply CONFIRM, CANCEL, or RESCHEDULE.", Action: ActionUnknownReminder}, nil
	}
}

// normalizeKeyword trims and lowercases the reply body so "yes"/"YeS"/"  YES "
// all match the same keyword (spec B5).
func normalizeKeyword(body string) string {
	return strings.ToLower(strings.TrimSpace(body))
}
