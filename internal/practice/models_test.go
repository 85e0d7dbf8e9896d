package practice

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig(uuid.New())
	assert.NoError(t, cfg.Validate())

	bad := DefaultConfig(uuid.New())
	bad.SlotDurationMinutes = 3
	assert.Error(t, bad.Validate())

	bad2 := DefaultConfig(uuid.New())
	bad2.MaxOverbookingPerSlot = 0
	assert.Error(t, bad2.Validate())

	bad3 := DefaultConfig(uuid.New())
	bad3.BookingHorizonDays = 400
	assert.Error(t, bad3.Validate())
}

func TestDefaultConfig_HasEnglishAndSpanishTemplates(t *testing.T) {
	cfg := DefaultConfig(uuid.New())
	assert.Contains(t, cfg.SMSTemplates, "en")
	assert.Contains(t, cfg.SMSTemplates, "es")
	assert.NotEmpty(t, cfg.SMSTemplates["en"].Confirmation)
}
