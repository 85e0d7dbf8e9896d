package reminders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/voxcare/concierge/internal/booking"
)

func TestRenderMessage_PhonePlaceholderUsesPracticeNumber(t *testing.T) {
	practices := fakePractices{
		patient:       &PatientInfo{FirstName: "Jane", Phone: "+15559990000"},
		practicePhone: "+15551230000",
	}
	templates := map[string]Templates{
		"en": {NoShow: "Hi {patient_name}, you missed your visit. Call us at {phone} to reschedule."},
	}
	practices2 := templatedFakePractices{fakePractices: practices, templates: templates}

	s := NewScheduler(nil, practices2, nil)
	appt := &booking.Appointment{
		ID:         uuid.New(),
		PracticeID: uuid.New(),
		PatientID:  uuid.New(),
		Date:       time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Time:       "09:00",
	}

	content, err := s.RenderMessage(context.Background(), appt, StageNoShow)
	require.NoError(t, err)
	require.Contains(t, content, "+15551230000")
	require.NotContains(t, content, "+15559990000")
}

// templatedFakePractices overrides fakePractices.Templates so the no-show
// template above (rather than worker_test.go's fixed confirmation-only map)
// is resolved.
type templatedFakePractices struct {
	fakePractices
	templates map[string]Templates
}

func (f templatedFakePractices) Templates(ctx context.Context, practiceID uuid.UUID) (map[string]Templates, error) {
	return f.templates, nil
}
