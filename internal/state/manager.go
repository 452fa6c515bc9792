package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hassdash/dashboard/internal/connection"
	"github.com/hassdash/dashboard/internal/metrics"
	"github.com/hassdash/dashboard/internal/model"
	"github.com/hassdash/dashboard/internal/subscription"
)

const (
	// TopicStateChanged is the hub event type carrying entity updates.
	TopicStateChanged = "state_changed"

	fetchKey = "get_states"
)

// Sender issues hub requests. *connection.Client implements it.
type Sender interface {
	Send(ctx context.Context, req connection.Request, timeout time.Duration) (connection.Result, error)
}

// Subscriber registers event listeners. *subscription.Registry implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, listener subscription.Listener, persistent bool) (*subscription.Subscription, error)
	Unsubscribe(ctx context.Context, id int64) error
}

// Callback receives the state of one entity. Callbacks run on the hub read
// goroutine and must not wait on hub requests.
type Callback func(model.EntityState)

// Config configures the state manager.
type Config struct {
	FreshnessWindow  time.Duration // Max age of a served cache entry
	FetchTimeout     time.Duration // Latency budget of one get_states fetch
	UpdateAttempts   int           // call_service attempts per Set
	UpdateBackoff    time.Duration // Delay before the second attempt; doubles
	UpdateBackoffMax time.Duration // Ceiling for the attempt delay
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FreshnessWindow:  5 * time.Second,
		FetchTimeout:     2 * time.Second,
		UpdateAttempts:   3,
		UpdateBackoff:    200 * time.Millisecond,
		UpdateBackoffMax: 2 * time.Second,
	}
}

// Entry is one cached entity state.
type Entry struct {
	State    model.EntityState
	CachedAt time.Time

	gen uint64 // cache generation the entry was written in
}

type callbackEntry struct {
	handle   int64
	entityID string
	fn       Callback

	mu        sync.Mutex // serializes deliveries to fn
	delivered int
}

// Manager is the state cache and fan-out point.
type Manager struct {
	cfg     Config
	sender  Sender
	subs    Subscriber
	metrics *metrics.Metrics
	logger  *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	group singleflight.Group

	mu         sync.RWMutex
	cache      map[string]*Entry
	gen        uint64
	snapshotAt time.Time // when the last complete fetch landed
	snapshotOK bool      // snapshotAt belongs to the current generation

	// subMu guards the state_changed subscription held between Start and Stop.
	subMu sync.Mutex
	sub   *subscription.Subscription

	cbMu       sync.RWMutex
	nextHandle int64
	callbacks  map[string][]*callbackEntry
	handles    map[int64]*callbackEntry
}

// NewManager creates a state manager. m may be nil.
func NewManager(cfg Config, sender Sender, subs Subscriber, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	def := DefaultConfig()
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = def.FreshnessWindow
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.UpdateAttempts < 1 {
		cfg.UpdateAttempts = def.UpdateAttempts
	}

	return &Manager{
		cfg:       cfg,
		sender:    sender,
		subs:      subs,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
		cache:     make(map[string]*Entry),
		callbacks: make(map[string][]*callbackEntry),
		handles:   make(map[int64]*callbackEntry),
	}
}

// Start subscribes the cache to state_changed events. The subscription is
// persistent, so the registry replays it after every reconnect, and it
// lives until Stop. Calling Start again is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if m.sub != nil {
		return nil
	}
	sub, err := m.subs.Subscribe(ctx, TopicStateChanged, m.handleEvent, true)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicStateChanged, err)
	}
	m.sub = sub

	m.logger.Debug("state events subscribed", "subscription", sub.ID)
	return nil
}

// Stop releases the event subscription. Entity callbacks stay registered
// but receive no further events until Start.
func (m *Manager) Stop(ctx context.Context) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if m.sub == nil {
		return nil
	}
	sub := m.sub
	m.sub = nil
	if err := m.subs.Unsubscribe(ctx, sub.ID); err != nil {
		return fmt.Errorf("release state subscription: %w", err)
	}
	return nil
}

// Get returns the state of one entity, from the cache when fresh.
func (m *Manager) Get(ctx context.Context, entityID string) (model.EntityState, error) {
	if err := ValidateEntityID(entityID); err != nil {
		return model.EntityState{}, err
	}

	if st, ok := m.lookup(entityID); ok {
		m.metrics.CacheHit()
		return st, nil
	}
	m.metrics.CacheMiss()

	if err := m.fetch(ctx); err != nil {
		return model.EntityState{}, err
	}

	m.mu.RLock()
	e, ok := m.cache[entityID]
	m.mu.RUnlock()
	if !ok {
		return model.EntityState{}, fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	return e.State, nil
}

// GetAll returns every entity sorted by id. A fresh complete snapshot is
// served from the cache.
func (m *Manager) GetAll(ctx context.Context) ([]model.EntityState, error) {
	m.mu.RLock()
	fresh := m.snapshotOK && m.now().Sub(m.snapshotAt) < m.cfg.FreshnessWindow
	m.mu.RUnlock()

	if fresh {
		m.metrics.CacheHit()
	} else {
		m.metrics.CacheMiss()
		if err := m.fetch(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	states := make([]model.EntityState, 0, len(m.cache))
	for _, e := range m.cache {
		states = append(states, e.State)
	}
	m.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool { return states[i].EntityID < states[j].EntityID })
	return states, nil
}

// Refresh fetches every state now, bypassing the cache.
func (m *Manager) Refresh(ctx context.Context) error {
	m.group.Forget(fetchKey)
	return m.fetch(ctx)
}

// Invalidate marks every cached entry stale.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.gen++
	m.snapshotOK = false
	m.mu.Unlock()

	m.logger.Debug("state cache invalidated")
}

// Len returns the number of cached entities, fresh or not.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

// lookup returns a fresh entry. Stale entries are evicted.
func (m *Manager) lookup(entityID string) (model.EntityState, bool) {
	now := m.now()

	m.mu.RLock()
	e, ok := m.cache[entityID]
	fresh := ok && e.gen == m.gen && now.Sub(e.CachedAt) < m.cfg.FreshnessWindow
	m.mu.RUnlock()

	if fresh {
		return e.State, true
	}
	if ok {
		m.mu.Lock()
		if cur, still := m.cache[entityID]; still && cur == e {
			delete(m.cache, entityID)
		}
		m.mu.Unlock()
	}
	return model.EntityState{}, false
}

// fetch loads every state from the hub. Concurrent callers share one
// request, which runs under FetchTimeout regardless of the caller's ctx.
func (m *Manager) fetch(ctx context.Context) error {
	ch := m.group.DoChan(fetchKey, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.FetchTimeout)
		defer cancel()

		started := m.now()
		res, err := m.sender.Send(fctx, connection.Request{Type: "get_states"}, m.cfg.FetchTimeout)
		if err != nil {
			if errors.Is(err, connection.ErrMessageTimeout) || errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("fetch states: %w: %w", ErrUpdateTimeout, err)
			}
			return nil, fmt.Errorf("fetch states: %w", err)
		}

		var states []model.EntityState
		if err := res.Decode(&states); err != nil {
			return nil, fmt.Errorf("fetch states: %w", err)
		}

		m.metrics.StateFetched()
		m.populate(states, started)
		return nil, nil
	})

	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// populate stores a complete snapshot. Entries updated by events since the
// fetch started are kept; entities missing from the snapshot are dropped.
func (m *Manager) populate(states []model.EntityState, started time.Time) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(states))
	for _, st := range states {
		seen[st.EntityID] = struct{}{}
		if e, ok := m.cache[st.EntityID]; ok && e.State.LastUpdated.After(st.LastUpdated) {
			continue
		}
		m.putLocked(st, now)
	}
	for id, e := range m.cache {
		if _, ok := seen[id]; !ok && e.CachedAt.Before(started) {
			delete(m.cache, id)
		}
	}

	m.snapshotAt = now
	m.snapshotOK = true
}

// putLocked writes an entry keeping CachedAt monotonic. Must hold m.mu.
func (m *Manager) putLocked(st model.EntityState, now time.Time) {
	cachedAt := now
	if prev, ok := m.cache[st.EntityID]; ok && prev.CachedAt.After(now) {
		cachedAt = prev.CachedAt
	}
	m.cache[st.EntityID] = &Entry{State: st, CachedAt: cachedAt, gen: m.gen}
}

func (m *Manager) evict(entityID string) {
	m.mu.Lock()
	delete(m.cache, entityID)
	m.mu.Unlock()
}

// Set applies a change through call_service. Transient failures are
// retried with backoff up to UpdateAttempts; on success the entity is
// re-read, re-cached and its callbacks notified.
func (m *Manager) Set(ctx context.Context, entityID string, change PartialState) error {
	if err := ValidateEntityID(entityID); err != nil {
		return err
	}
	if err := change.Validate(); err != nil {
		return err
	}
	domain, service, err := serviceFor(entityID, change)
	if err != nil {
		return err
	}

	data := make(map[string]any, len(change.Attributes)+1)
	for k, v := range change.Attributes {
		data[k] = v
	}
	data["entity_id"] = entityID

	req := connection.Request{
		Type: "call_service",
		Fields: map[string]any{
			"domain":       domain,
			"service":      service,
			"service_data": data,
		},
	}

	var lastErr error
	for attempt := 0; attempt < m.cfg.UpdateAttempts; attempt++ {
		if attempt > 0 {
			delay := connection.Backoff(attempt-1, m.cfg.UpdateBackoff, m.cfg.UpdateBackoffMax)
			if err := m.sleep(ctx, delay); err != nil {
				return err
			}
		}

		_, err := m.sender.Send(ctx, req, 0)
		if err == nil {
			lastErr = nil
			break
		}
		if !connection.IsTransient(err) {
			return fmt.Errorf("set %s: %w", entityID, err)
		}

		lastErr = err
		m.logger.Warn("state update attempt failed",
			"entity_id", entityID,
			"service", domain+"."+service,
			"attempt", attempt+1,
			"error", err,
		)
	}
	if lastErr != nil {
		return fmt.Errorf("set %s after %d attempts: %w: %w", entityID, m.cfg.UpdateAttempts, ErrUpdateTimeout, lastErr)
	}

	// Drop the entry and any shared fetch started before the change.
	m.evict(entityID)
	m.group.Forget(fetchKey)

	st, err := m.Get(ctx, entityID)
	if err != nil {
		return fmt.Errorf("re-read %s: %w", entityID, err)
	}
	m.notify(st)
	return nil
}

// SubscribeToEntity registers cb for changes to one entity and delivers
// the current state once, starting the event subscription if needed. The
// returned handle is passed to UnsubscribeFromEntity.
func (m *Manager) SubscribeToEntity(ctx context.Context, entityID string, cb Callback) (int64, error) {
	if err := ValidateEntityID(entityID); err != nil {
		return 0, err
	}
	if cb == nil {
		return 0, ErrNilCallback
	}

	if err := m.Start(ctx); err != nil {
		return 0, err
	}

	m.cbMu.Lock()
	m.nextHandle++
	entry := &callbackEntry{handle: m.nextHandle, entityID: entityID, fn: cb}
	m.callbacks[entityID] = append(m.callbacks[entityID], entry)
	m.handles[entry.handle] = entry
	m.cbMu.Unlock()

	st, err := m.Get(ctx, entityID)
	if err != nil {
		_ = m.UnsubscribeFromEntity(context.WithoutCancel(ctx), entry.handle)
		return 0, err
	}

	m.deliverInitial(entry, st)
	return entry.handle, nil
}

// UnsubscribeFromEntity removes a callback. Unknown handles are a no-op.
func (m *Manager) UnsubscribeFromEntity(ctx context.Context, handle int64) error {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()

	entry, ok := m.handles[handle]
	if !ok {
		return nil
	}
	delete(m.handles, handle)

	list := m.callbacks[entry.entityID]
	for i, e := range list {
		if e == entry {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.callbacks, entry.entityID)
	} else {
		m.callbacks[entry.entityID] = list
	}
	return nil
}

// Subscribers returns the number of registered entity callbacks.
func (m *Manager) Subscribers() int {
	m.cbMu.RLock()
	defer m.cbMu.RUnlock()
	return len(m.handles)
}

// handleEvent applies a state_changed event.
func (m *Manager) handleEvent(ev connection.Event) {
	var change model.StateChange
	if err := json.Unmarshal(ev.Data, &change); err != nil {
		m.logger.Warn("failed to decode state change", "error", err)
		return
	}

	if change.NewState == nil {
		if change.EntityID != "" {
			m.evict(change.EntityID)
			m.logger.Debug("entity removed", "entity_id", change.EntityID)
		}
		return
	}

	st := *change.NewState
	if st.EntityID == "" {
		st.EntityID = change.EntityID
	}
	if st.EntityID == "" {
		return
	}

	m.mu.Lock()
	m.putLocked(st, m.now())
	m.mu.Unlock()

	m.notify(st)
}

// notify runs the entity's callbacks in registration order.
func (m *Manager) notify(st model.EntityState) {
	m.cbMu.RLock()
	list := m.callbacks[st.EntityID]
	m.cbMu.RUnlock()

	for _, entry := range list {
		entry.mu.Lock()
		entry.delivered++
		m.invoke(entry, st)
		entry.mu.Unlock()
	}
}

// deliverInitial hands the current state to a new callback unless an event
// already delivered a newer one.
func (m *Manager) deliverInitial(entry *callbackEntry, st model.EntityState) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.delivered > 0 {
		return
	}
	entry.delivered++
	m.invoke(entry, st)
}

func (m *Manager) invoke(entry *callbackEntry, st model.EntityState) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("state callback panicked",
				"entity_id", entry.entityID,
				"handle", entry.handle,
				"panic", r,
			)
		}
	}()
	entry.fn(st)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
