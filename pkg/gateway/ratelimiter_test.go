package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientRateLimiter_Allow(t *testing.T) {
	t.Run("should allow requests under limit", func(t *testing.T) {
		limiter := NewClientRateLimiter(5)

		for i := 0; i < 5; i++ {
			assert.True(t, limiter.Allow())
		}
		assert.Equal(t, 5, limiter.GetStats())
	})

	t.Run("should reject when rate limit exceeded", func(t *testing.T) {
		limiter := NewClientRateLimiter(2)

		assert.True(t, limiter.Allow())
		assert.True(t, limiter.Allow())
		assert.False(t, limiter.Allow())
		assert.Equal(t, 2, limiter.GetStats())
	})

	t.Run("should allow requests after window expires", func(t *testing.T) {
		now := time.Now()
		limiter := NewClientRateLimiter(2)
		limiter.now = func() time.Time { return now }

		assert.True(t, limiter.Allow())
		assert.True(t, limiter.Allow())
		assert.False(t, limiter.Allow())

		now = now.Add(61 * time.Second)
		assert.True(t, limiter.Allow())
		assert.Equal(t, 1, limiter.GetStats())
	})

	t.Run("should allow everything when disabled", func(t *testing.T) {
		limiter := NewClientRateLimiter(0)

		for i := 0; i < 1000; i++ {
			assert.True(t, limiter.Allow())
		}
	})

	t.Run("should apply updated limit", func(t *testing.T) {
		limiter := NewClientRateLimiter(1)
		assert.True(t, limiter.Allow())
		assert.False(t, limiter.Allow())

		limiter.UpdateLimit(3)
		assert.True(t, limiter.Allow())
	})
}
