package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowRespectsBurstThenBlocks(t *testing.T) {
	l := New(3)
	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("1.2.3.4"))
	assert.False(t, l.Allow("1.2.3.4"), "fourth request within the same instant must be rejected")
}

func TestAllowTracksKeysIndependently(t *testing.T) {
	l := New(1)
	assert.True(t, l.Allow("1.2.3.4"))
	assert.True(t, l.Allow("5.6.7.8"), "a different client IP must have its own budget")
}
