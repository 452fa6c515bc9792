package outbound

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(limit int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := NewLimiter(LimiterConfig{Limit: limit, Window: window})
	l.now = clock.Now
	return l, clock
}

func TestLimiter_AllowUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "fourth send within the window must be rejected")
	assert.False(t, l.CanSend())
	assert.Equal(t, 0, l.Remaining())
}

func TestLimiter_SlidingWindow(t *testing.T) {
	l, clock := newTestLimiter(2, time.Minute)

	assert.True(t, l.Allow())
	clock.Advance(30 * time.Second)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	// First send leaves the window; one slot frees up.
	clock.Advance(31 * time.Second)
	assert.True(t, l.CanSend())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	// Second send leaves the window.
	clock.Advance(30 * time.Second)
	assert.Equal(t, 1, l.Remaining())
}

func TestLimiter_RejectionDoesNotConsume(t *testing.T) {
	l, clock := newTestLimiter(1, time.Second)

	assert.True(t, l.Allow())
	for i := 0; i < 5; i++ {
		assert.False(t, l.Allow())
	}

	clock.Advance(time.Second + time.Millisecond)
	assert.True(t, l.Allow())
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(LimiterConfig{})
	for i := 0; i < 1000; i++ {
		assert.True(t, l.Allow())
	}
	assert.Equal(t, -1, l.Remaining())
}

func TestDefaultLimiterConfig(t *testing.T) {
	cfg := DefaultLimiterConfig()
	assert.Equal(t, 100, cfg.Limit)
	assert.Equal(t, time.Minute, cfg.Window)
}
