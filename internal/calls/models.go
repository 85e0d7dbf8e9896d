// Package calls records the lifecycle of voice-platform calls: identity,
// linkage to a patient/appointment, and the end-of-call artefacts (transcript,
// recording, cost, structured analysis) persisted once the call ends.
package calls

import (
	"time"

	"github.com/google/uuid"
)

// Direction is the call direction.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Status mirrors the voice platform's lifecycle states for a call.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRinging   Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusEnded     Status = "ended"
	StatusFailed    Status = "failed"
)

// Call is a single voice-platform call, keyed externally by ExternalCallID.
type Call struct {
	ID              uuid.UUID
	PracticeID      uuid.UUID
	ExternalCallID  string
	Direction       Direction
	CallerPhone     string
	CallerName      string
	PatientID       *uuid.UUID
	AppointmentID   *uuid.UUID
	Status          Status
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds *int
	Transcript      string
	Summary         string
	RecordingURL    string
	Cost            *float64
	Outcome         string
	StructuredData  map[string]any
	CallerIntent    string
	CallerSentiment string
	SuccessEvaluation string
	Language        string
	CallbackNeeded    bool
	CallbackCompleted bool
	CallbackNotes     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// endedReasonsRequiringCallback triggers the auto callback_needed flag from
// §4.H when the call ends for one of these reasons.
var endedReasonsRequiringCallback = map[string]bool{
	"customer-did-not-answer":               true,
	"customer-busy":                         true,
	"assistant-error":                       true,
	"phone-call-provider-closed-websocket":  true,
	"assistant-forwarded-call":              true,
	"voicemail":                             true,
}

// ShouldFlagCallback implements the §4.H auto-flag rule: ended_reason in the
// known retry-worthy set, or a very short call, provided the caller's
// identity is known (a callback to an unknown number is useless).
func ShouldFlagCallback(endedReason string, durationSeconds int, callerName, callerPhone string) bool {
	if callerName == "" && callerPhone == "" {
		return false
	}
	return endedReasonsRequiringCallback[endedReason] || durationSeconds < 15
}
