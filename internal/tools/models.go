// Package tools implements the thirteen synchronous tool functions the voice
// assistant invokes mid-call (spec §4.I): a bounded-latency dispatch table
// sitting on top of the booking, schedule, waitlist, and practice packages.
package tools

import (
	"time"

	"github.com/google/uuid"
)

// Urgency is the triage level attached to refill requests and voicemails.
type Urgency string

const (
	UrgencyNormal    Urgency = "normal"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

// RefillRequest is created by the request_refill tool.
type RefillRequest struct {
	ID          uuid.UUID
	PracticeID  uuid.UUID
	PatientID   *uuid.UUID
	Medication  string
	Dosage      string
	Pharmacy    string
	Urgency     Urgency
	CallID      *uuid.UUID
	CreatedAt   time.Time
}

// Voicemail is created by the leave_voicemail tool.
type Voicemail struct {
	ID          uuid.UUID
	PracticeID  uuid.UUID
	CallerPhone string
	CallerName  string
	Message     string
	Urgency     Urgency
	CallID      *uuid.UUID
	CreatedAt   time.Time
}

const (
	maxVoicemailLen = 10000
)
