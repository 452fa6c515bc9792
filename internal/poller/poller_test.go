package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_Poll(t *testing.T) {
	var calls atomic.Int32
	target := RefresherFunc(func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok, "cycle has a deadline")
		if calls.Add(1) == 2 {
			return errors.New("hub unavailable")
		}
		return nil
	})

	p := New(Config{Interval: time.Hour, Timeout: time.Second}, target, nil)
	p.ctx = context.Background()

	p.poll()
	p.poll()
	p.poll()

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, Stats{Cycles: 3, Failures: 1}, p.Stats())
}

func TestPoller_StartStop(t *testing.T) {
	var calls atomic.Int32
	target := RefresherFunc(func(context.Context) error {
		calls.Add(1)
		return nil
	})

	p := New(Config{Interval: 10 * time.Millisecond}, target, nil)
	require.NoError(t, p.Start(context.Background()))

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no cycles after Stop")
}

func TestPoller_NoImmediatePoll(t *testing.T) {
	var calls atomic.Int32
	p := New(Config{Interval: time.Hour}, RefresherFunc(func(context.Context) error {
		calls.Add(1)
		return nil
	}), nil)

	require.NoError(t, p.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Stop(context.Background()))

	assert.Zero(t, calls.Load())
}

func TestNew_Defaults(t *testing.T) {
	p := New(Config{}, RefresherFunc(func(context.Context) error { return nil }), nil)
	assert.Equal(t, DefaultConfig(), p.cfg)
}
