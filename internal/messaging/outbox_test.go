package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelayBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, retryDelay(1))
	assert.Equal(t, 4*time.Second, retryDelay(2))
	assert.Equal(t, 32*time.Second, retryDelay(5))

	// Capped for pathological attempt counts.
	assert.Equal(t, 32*time.Second, retryDelay(100))
	assert.Equal(t, time.Second, retryDelay(-3))
}
