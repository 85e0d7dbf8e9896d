package waitlist

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcare/concierge/internal/messaging"
)

type fakePractices struct {
	name  string
	creds messaging.Credentials
}

func (f fakePractices) PracticeName(ctx context.Context, practiceID uuid.UUID) (string, error) {
	return f.name, nil
}

func (f fakePractices) Credentials(ctx context.Context, practiceID uuid.UUID) (messaging.Credentials, error) {
	return f.creds, nil
}

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(ctx context.Context, creds messaging.Credentials, to, body string) (string, error) {
	f.sent = append(f.sent, to)
	return "msg_" + to, nil
}

var waitlistSelectCols = []string{
	"id", "practice_id", "patient_name", "patient_phone", "appointment_type_id",
	"preferred_date_start", "preferred_date_end", "preferred_time_start",
	"preferred_time_end", "priority", "status", "notified_at", "expires_at",
	"created_at", "updated_at",
}

func TestOnCancel_NotifiesMatchingCandidate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	practiceID := uuid.New()
	entryID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM waitlist_entries").
		WillReturnRows(pgxmock.NewRows(waitlistSelectCols).
			AddRow(entryID, practiceID, "Jane Doe", "+15551234567", nil, nil, nil, "", "",
				2, "waiting", nil, nil, now, now))
	mock.ExpectExec("UPDATE waitlist_entries SET status = 'notified'").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	sender := &fakeSender{}
	engine := NewEngine(NewStore(mock), fakePractices{name: "Test Practice", creds: messaging.Credentials{FromNumber: "+15559999999"}}, sender, nil)

	notified, err := engine.OnCancel(context.Background(), practiceID, uuid.New(), time.Now(), "10:00")
	require.NoError(t, err)
	assert.Equal(t, 1, notified)
	assert.Equal(t, []string{"+15551234567"}, sender.sent)
}

func TestOnCancel_NoMatchingCandidates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	practiceID := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM waitlist_entries").
		WillReturnRows(pgxmock.NewRows(waitlistSelectCols))

	sender := &fakeSender{}
	engine := NewEngine(NewStore(mock), fakePractices{}, sender, nil)

	notified, err := engine.OnCancel(context.Background(), practiceID, uuid.New(), time.Now(), "10:00")
	require.NoError(t, err)
	assert.Equal(t, 0, notified)
	assert.Empty(t, sender.sent)
}

func TestOnReply_YesBooksOffer(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	practiceID := uuid.New()
	entryID := uuid.New()
	now := time.Now()
	expires := now.Add(time.Hour)

	mock.ExpectQuery("SELECT (.+) FROM waitlist_entries").
		WillReturnRows(pgxmock.NewRows(waitlistSelectCols).
			AddRow(entryID, practiceID, "Jane Doe", "+15551234567", nil, nil, nil, "", "",
				2, "notified", &now, &expires, now, now))
	mock.ExpectExec("UPDATE waitlist_entries SET status").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	engine := NewEngine(NewStore(mock), fakePractices{}, &fakeSender{}, nil)
	entry, err := engine.OnReply(context.Background(), practiceID, "+15551234567", "yes")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, StatusBooked, entry.Status)
}

func TestOnReply_NoEntryFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM waitlist_entries").
		WillReturnRows(pgxmock.NewRows(waitlistSelectCols))

	engine := NewEngine(NewStore(mock), fakePractices{}, &fakeSender{}, nil)
	entry, err := engine.OnReply(context.Background(), uuid.New(), "+15551234567", "yes")
	require.NoError(t, err)
	assert.Nil(t, entry)
}
