package waitlist

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestEntry_MatchesType(t *testing.T) {
	typeID := uuid.New()
	other := uuid.New()

	e := &Entry{}
	assert.True(t, e.matchesType(typeID), "no preference matches anything")

	e.AppointmentTypeID = &typeID
	assert.True(t, e.matchesType(typeID))
	assert.False(t, e.matchesType(other))
}

func TestEntry_MatchesDate(t *testing.T) {
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	e := &Entry{PreferredDateStart: &start, PreferredDateEnd: &end}

	assert.True(t, e.matchesDate(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)))
	assert.False(t, e.matchesDate(time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)))
	assert.False(t, e.matchesDate(time.Date(2025, 3, 25, 0, 0, 0, 0, time.UTC)))

	noPref := &Entry{}
	assert.True(t, noPref.matchesDate(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestEntry_MatchesTime(t *testing.T) {
	e := &Entry{PreferredTimeStart: "09:00", PreferredTimeEnd: "12:00"}
	assert.True(t, e.matchesTime("10:00"))
	assert.False(t, e.matchesTime("08:00"))
	assert.False(t, e.matchesTime("13:00"))

	noPref := &Entry{}
	assert.True(t, noPref.matchesTime("23:59"))
}
