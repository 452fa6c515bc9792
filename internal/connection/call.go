package connection

import (
	"context"
	"time"
)

// Call is an in-flight request awaiting its result. Done receives the call
// itself once Result or Error is set.
type Call struct {
	ID       int64
	Request  Request
	IssuedAt time.Time
	Timeout  time.Duration

	Result Result
	Error  error
	Done   chan *Call

	timer    *time.Timer
	finished chan struct{}
}

func newCall(id int64, req Request, timeout time.Duration) *Call {
	return &Call{
		ID:       id,
		Request:  req,
		IssuedAt: time.Now(),
		Timeout:  timeout,
		Done:     make(chan *Call, 1),
		finished: make(chan struct{}),
	}
}

// finish completes the call. Callers must have removed it from the pending
// map first, which guarantees a single completion.
func (call *Call) finish(res Result, err error) {
	if call.timer != nil {
		call.timer.Stop()
	}
	call.Result = res
	call.Error = err
	close(call.finished)
	call.Done <- call
}

// Wait blocks until the call completes or ctx is done. It does not cancel
// the call; use Client.Send for that.
func (call *Call) Wait(ctx context.Context) (Result, error) {
	select {
	case <-call.finished:
		return call.Result, call.Error
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
