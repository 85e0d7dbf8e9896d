package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, clampScore(-1.5))
	assert.Equal(t, 1.0, clampScore(1.5))
	assert.Equal(t, 0.42, clampScore(0.42))
	assert.Equal(t, 0.0, clampScore(0))
	assert.Equal(t, 1.0, clampScore(1))
}

func TestTruncateBytes(t *testing.T) {
	assert.Equal(t, "hello", truncateBytes("hello", 10))
	assert.Equal(t, "hel", truncateBytes("hello", 3))
	assert.Equal(t, "", truncateBytes("", 3))
}
