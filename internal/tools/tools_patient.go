package tools

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/voxcare/concierge/internal/practice"
)

// saveCallerInfo implements tool 1: persist first/last/phone on the call as
// soon as the AI learns them, optionally linking an existing patient when
// first+last+dob match.
func saveCallerInfo(ctx context.Context, deps *Deps, practiceID uuid.UUID, callExternalID string, args map[string]any) (any, error) {
	p := params(args)
	firstName := p.str("first_name")
	lastName := p.str("last_name")
	callerName := firstName
	if lastName != "" {
		if callerName != "" {
			callerName += " "
		}
		callerName += lastName
	}
	callerPhone := p.phone("phone", "")

	var patientID *uuid.UUID
	if firstName != "" && lastName != "" && p.has("dob") {
		if dob, err := p.date("dob"); err == nil {
			if patient, err := deps.Practice.FindPatient(ctx, practiceID, firstName, lastName, dob); err == nil && patient != nil {
				patientID = &patient.ID
			}
		}
	}

	if callExternalID != "" && deps.Calls != nil {
		if err := deps.Calls.SaveCallerInfo(ctx, practiceID, callExternalID, callerName, callerPhone, patientID); err != nil {
			return nil, err
		}
	}
	return map[string]any{"saved": true, "linked_patient": patientID != nil}, nil
}

// checkPatientExists implements tool 2: look up (first, last, dob)
// case-insensitively within the practice, and link the call to any match.
func checkPatientExists(ctx context.Context, deps *Deps, practiceID uuid.UUID, callExternalID string, args map[string]any) (any, error) {
	p := params(args)
	firstName := p.str("first_name")
	lastName := p.str("last_name")
	dob, err := p.date("dob")
	if err != nil {
		return map[string]any{"exists": false, "message": "I'll need your date of birth to look that up."}, nil
	}

	patient, err := deps.Practice.FindPatient(ctx, practiceID, firstName, lastName, dob)
	if err != nil {
		return nil, err
	}
	if patient == nil {
		return map[string]any{"exists": false}, nil
	}
	if callExternalID != "" && deps.Calls != nil {
		if err := deps.Calls.LinkToPatient(ctx, practiceID, callExternalID, patient.ID); err != nil {
			return nil, err
		}
	}
	return map[string]any{
		"exists":     true,
		"patient_id": patient.ID.String(),
		"is_new":     patient.IsNew,
	}, nil
}

// getPatientDetails implements tool 3: fetch the full patient record by id.
func getPatientDetails(ctx context.Context, deps *Deps, practiceID uuid.UUID, callExternalID string, args map[string]any) (any, error) {
	p := params(args)
	patientID, err := p.uuid("patient_id")
	if err != nil {
		return map[string]string{"error": err.Error()}, nil
	}
	patient, err := deps.Practice.GetPatient(ctx, practiceID, patientID)
	if err != nil {
		return nil, err
	}
	if patient == nil {
		return map[string]any{"found": false}, nil
	}
	return map[string]any{
		"found":               true,
		"first_name":          patient.FirstName,
		"last_name":           patient.LastName,
		"dob":                 patient.DOB.Format("2006-01-02"),
		"phone":               patient.Phone,
		"language_preference": patient.LanguagePreference,
		"insurance_carrier":   patient.InsuranceCarrier,
		"member_id":           patient.MemberID,
		"is_new":              patient.IsNew,
	}, nil
}

// findOrCreatePatient resolves the patient booking tools operate on: an
// existing match by (first, last, dob), or a freshly created record.
func findOrCreatePatient(ctx context.Context, deps *Deps, practiceID uuid.UUID, firstName, lastName string, dob time.Time, phone, language string) (*practice.Patient, error) {
	existing, err := deps.Practice.FindPatient(ctx, practiceID, firstName, lastName, dob)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if language == "" {
		language = "en"
	}
	newPatient := &practice.Patient{
		PracticeID:         practiceID,
		FirstName:          firstName,
		LastName:           lastName,
		DOB:                dob,
		Phone:              phone,
		LanguagePreference: language,
		IsNew:              true,
	}
	if err := deps.Practice.CreatePatient(ctx, newPatient); err != nil {
		return nil, err
	}
	return newPatient, nil
}
