package connection

import (
	"log/slog"
	"sync"
)

// StateObserver is called after the connection enters a state.
type StateObserver func(ConnectionState)

// observers holds state callbacks keyed by the state they watch.
type observers struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID int64
	byID   map[int64]ConnectionState
	fns    map[ConnectionState][]observerEntry
}

type observerEntry struct {
	id int64
	fn StateObserver
}

func newObservers(logger *slog.Logger) *observers {
	return &observers{
		logger: logger,
		byID:   make(map[int64]ConnectionState),
		fns:    make(map[ConnectionState][]observerEntry),
	}
}

func (o *observers) add(state ConnectionState, fn StateObserver) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextID++
	id := o.nextID
	o.byID[id] = state
	o.fns[state] = append(o.fns[state], observerEntry{id: id, fn: fn})
	return id
}

func (o *observers) remove(id int64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state, ok := o.byID[id]
	if !ok {
		return
	}
	delete(o.byID, id)

	entries := o.fns[state]
	for i, e := range entries {
		if e.id == id {
			o.fns[state] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
}

// notify calls the observers of state in registration order.
func (o *observers) notify(state ConnectionState) {
	o.mu.RLock()
	entries := o.fns[state]
	o.mu.RUnlock()

	for _, e := range entries {
		o.call(e.fn, state)
	}
}

func (o *observers) call(fn StateObserver, state ConnectionState) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("state observer panicked", "state", state, "panic", r)
		}
	}()
	fn(state)
}
