package outbound

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimitExceeded is returned when the trailing window is full.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// LimiterConfig configures a Limiter.
type LimiterConfig struct {
	Limit  int           // Max requests within Window (<= 0 disables limiting)
	Window time.Duration // Trailing window length
}

// DefaultLimiterConfig returns 100 requests per minute.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Limit:  100,
		Window: time.Minute,
	}
}

// Limiter is a sliding-window log rate limiter.
type Limiter struct {
	cfg LimiterConfig
	now func() time.Time

	mu     sync.Mutex
	events []time.Time // ascending send times within the window
}

// NewLimiter creates a Limiter.
func NewLimiter(cfg LimiterConfig) *Limiter {
	return &Limiter{
		cfg: cfg,
		now: time.Now,
	}
}

// Allow records a send and returns true if the window has room.
func (l *Limiter) Allow() bool {
	if l.cfg.Limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	if len(l.events) >= l.cfg.Limit {
		return false
	}
	l.events = append(l.events, now)
	return true
}

// CanSend reports whether a send would be allowed, without recording one.
func (l *Limiter) CanSend() bool {
	if l.cfg.Limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(l.now())
	return len(l.events) < l.cfg.Limit
}

// Remaining returns how many sends the current window still allows.
func (l *Limiter) Remaining() int {
	if l.cfg.Limit <= 0 {
		return -1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(l.now())
	return l.cfg.Limit - len(l.events)
}

// pruneLocked drops events older than the window. Must hold l.mu.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(l.events) && !l.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.events = append(l.events[:0], l.events[i:]...)
	}
}
