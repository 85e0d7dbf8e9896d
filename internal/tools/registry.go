package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/booking"
	"github.com/voxcare/concierge/internal/calls"
	"github.com/voxcare/concierge/internal/practice"
	"github.com/voxcare/concierge/internal/schedule"
	"github.com/voxcare/concierge/internal/slots"
	"github.com/voxcare/concierge/internal/tenancy"
	"github.com/voxcare/concierge/internal/waitlist"
	"github.com/voxcare/concierge/pkg/logging"
)

// EligibilityChecker runs an external 270/271 eligibility lookup. Its wire
// format is out of scope (spec §1); callers inject a concrete implementation.
type EligibilityChecker interface {
	CheckEligibility(ctx context.Context, practiceID uuid.UUID, insuranceCarrier, memberID string) (bool, error)
}

// Deps bundles the collaborators every tool handler may need. Individual
// tools use only the subset they require.
type Deps struct {
	Practice    *practice.Store
	Config      *practice.ConfigCache
	Booking     *booking.Engine
	Slots       *slots.Generator
	Schedule    *schedule.Resolver
	Waitlist    *waitlist.Engine
	Calls       *calls.Store
	Store       *Store
	Eligibility EligibilityChecker
	Logger      *logging.Logger
}

// Handler is one tool function: it receives the practice scope, the
// originating call's external id (if known), and the raw argument bag, and
// returns a JSON-serialisable result.
type Handler func(ctx context.Context, deps *Deps, practiceID uuid.UUID, callExternalID string, args map[string]any) (any, error)

const invokeTimeout = 15 * time.Second

// Registry is the name -> handler dispatch table for the 13 tool functions.
type Registry struct {
	deps     *Deps
	handlers map[string]Handler
}

// NewRegistry builds the registry with all 13 tools wired.
func NewRegistry(deps *Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	r := &Registry{deps: deps, handlers: make(map[string]Handler, 13)}
	r.handlers["save_caller_info"] = saveCallerInfo
	r.handlers["check_patient_exists"] = checkPatientExists
	r.handlers["get_patient_details"] = getPatientDetails
	r.handlers["check_availability"] = checkAvailability
	r.handlers["book_appointment"] = bookAppointment
	r.handlers["cancel_appointment"] = cancelAppointment
	r.handlers["reschedule_appointment"] = rescheduleAppointment
	r.handlers["verify_insurance"] = verifyInsurance
	r.handlers["request_refill"] = requestRefill
	r.handlers["transfer_to_staff"] = transferToStaff
	r.handlers["check_office_hours"] = checkOfficeHours
	r.handlers["leave_voicemail"] = leaveVoicemail
	r.handlers["add_to_waitlist"] = addToWaitlist
	return r
}

// Invoke dispatches name, bounding it to a 15s timeout and recovering any
// panic. Both paths collapse to the spec's generic {error} shape (§4.I, §7)
// so internal failure detail never reaches the voice assistant, which may
// replay it verbatim to the caller.
func (r *Registry) Invoke(ctx context.Context, name string, practiceID uuid.UUID, callExternalID string, args map[string]any) (result any, err error) {
	handler, ok := r.handlers[name]
	if !ok {
		return map[string]string{"error": fmt.Sprintf("unknown tool %q", name)}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, invokeTimeout)
	defer cancel()

	practiceLogID, _ := tenancy.PracticeIDFromContext(ctx)
	if practiceLogID == "" {
		ctx = tenancy.WithPracticeID(ctx, practiceID.String())
		practiceLogID = practiceID.String()
	}

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.deps.Logger.Error("tools: handler panicked", "tool", name, "practice_id", practiceLogID, "recover", rec)
				done <- outcome{result: genericFailure(name), err: nil}
			}
		}()
		res, handlerErr := handler(ctx, r.deps, practiceID, callExternalID, args)
		if handlerErr != nil {
			r.deps.Logger.Error("tools: handler failed", "tool", name, "practice_id", practiceLogID, "error", handlerErr)
			done <- outcome{result: genericFailure(name), err: nil}
			return
		}
		done <- outcome{result: res, err: nil}
	}()

	select {
	case <-ctx.Done():
		r.deps.Logger.Error("tools: handler timed out", "tool", name, "practice_id", practiceLogID)
		return genericFailure(name), nil
	case o := <-done:
		return o.result, o.err
	}
}

func genericFailure(tool string) map[string]string {
	return map[string]string{"error": fmt.Sprintf("%s failed, please try again", tool)}
}
