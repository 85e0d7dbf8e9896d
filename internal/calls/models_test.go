package calls

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldFlagCallback_KnownEndedReason(t *testing.T) {
	assert.True(t, ShouldFlagCallback("customer-did-not-answer", 120, "Jane", ""))
	assert.True(t, ShouldFlagCallback("voicemail", 120, "", "+15551234567"))
}

func TestShouldFlagCallback_ShortDuration(t *testing.T) {
	assert.True(t, ShouldFlagCallback("customer-ended-call", 8, "Jane", ""))
	assert.False(t, ShouldFlagCallback("customer-ended-call", 20, "Jane", ""))
}

func TestShouldFlagCallback_UnknownCallerNeverFlagged(t *testing.T) {
	assert.False(t, ShouldFlagCallback("customer-did-not-answer", 5, "", ""))
}
