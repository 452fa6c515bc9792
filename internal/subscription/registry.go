package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hassdash/dashboard/internal/connection"
)

// AllEvents subscribes to every event type.
const AllEvents = "*"

// Errors
var (
	ErrInvalidTopic = errors.New("invalid topic")
	ErrNilListener  = errors.New("nil listener")
)

// Sender issues hub requests. *connection.Client implements it.
type Sender interface {
	Send(ctx context.Context, req connection.Request, timeout time.Duration) (connection.Result, error)
}

// Listener receives events for its topic.
type Listener func(connection.Event)

// Subscription is one listener registered for a topic.
type Subscription struct {
	ID         int64 // Registry issued, stable across reconnects
	Topic      string
	Persistent bool

	listener Listener
	entry    *topicEntry
}

// HubID returns the hub subscription id currently backing the topic. It
// changes after every reconnect and is 0 while a replay is outstanding.
func (s *Subscription) HubID() int64 {
	return s.entry.hubID.Load()
}

type topicEntry struct {
	topic     string
	hubID     atomic.Int64
	listeners []*Subscription // registration order
}

// Registry maps topics to listeners and hub subscription ids to topics.
type Registry struct {
	sender  Sender
	timeout time.Duration
	logger  *slog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	nextID  int64
	topics  map[string]*topicEntry
	byHubID map[int64]*topicEntry
	byID    map[int64]*Subscription
}

// NewRegistry creates a Registry that talks to the hub through sender.
// A zero timeout uses the sender's default.
func NewRegistry(sender Sender, timeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		sender:  sender,
		timeout: timeout,
		logger:  logger,
		topics:  make(map[string]*topicEntry),
		byHubID: make(map[int64]*topicEntry),
		byID:    make(map[int64]*Subscription),
	}
}

// Subscribe adds listener to topic. The first listener of a topic
// subscribes on the hub and the entry exists only once the hub confirmed;
// concurrent first listeners share that request.
func (r *Registry) Subscribe(ctx context.Context, topic string, listener Listener, persistent bool) (*Subscription, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if listener == nil {
		return nil, ErrNilListener
	}

	for {
		r.mu.Lock()
		if entry, ok := r.topics[topic]; ok {
			sub := r.attachLocked(entry, listener, persistent)
			r.mu.Unlock()
			return sub, nil
		}
		r.mu.Unlock()

		ch := r.group.DoChan(topic, func() (any, error) {
			return nil, r.subscribeTopic(context.WithoutCancel(ctx), topic)
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
		case <-ctx.Done():
			go r.abandon(topic, ch)
			return nil, ctx.Err()
		}
	}
}

// abandon waits for a first subscribe whose caller gave up. If nobody
// attached to the topic meanwhile, the entry is dropped and the hub
// subscription released.
func (r *Registry) abandon(topic string, ch <-chan singleflight.Result) {
	if res := <-ch; res.Err != nil {
		return
	}

	r.mu.Lock()
	entry, ok := r.topics[topic]
	if !ok || len(entry.listeners) > 0 {
		r.mu.Unlock()
		return
	}
	hubID := entry.hubID.Load()
	delete(r.topics, topic)
	delete(r.byHubID, hubID)
	r.mu.Unlock()

	if err := r.release(context.Background(), topic, hubID); err != nil {
		r.logger.Warn("failed to release abandoned subscription", "topic", topic, "error", err)
	}
}

// subscribeTopic asks the hub for topic and records the entry on success.
func (r *Registry) subscribeTopic(ctx context.Context, topic string) error {
	res, err := r.sender.Send(ctx, subscribeRequest(topic), r.timeout)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	entry := &topicEntry{topic: topic}
	entry.hubID.Store(res.ID)

	r.mu.Lock()
	r.topics[topic] = entry
	r.byHubID[res.ID] = entry
	r.mu.Unlock()

	r.logger.Debug("subscribed", "topic", topic, "hub_id", res.ID)
	return nil
}

func (r *Registry) attachLocked(entry *topicEntry, listener Listener, persistent bool) *Subscription {
	r.nextID++
	sub := &Subscription{
		ID:         r.nextID,
		Topic:      entry.topic,
		Persistent: persistent,
		listener:   listener,
		entry:      entry,
	}
	entry.listeners = append(entry.listeners, sub)
	r.byID[sub.ID] = sub
	return sub
}

// Unsubscribe removes a listener. Removing the last listener of a topic
// sends one unsubscribe request. Unknown ids are a no-op.
func (r *Registry) Unsubscribe(ctx context.Context, id int64) error {
	r.mu.Lock()
	sub, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.byID, id)

	entry := sub.entry
	for i, s := range entry.listeners {
		if s == sub {
			entry.listeners = append(entry.listeners[:i:i], entry.listeners[i+1:]...)
			break
		}
	}
	if len(entry.listeners) > 0 {
		r.mu.Unlock()
		return nil
	}

	hubID := entry.hubID.Load()
	delete(r.topics, entry.topic)
	delete(r.byHubID, hubID)
	r.mu.Unlock()

	return r.release(ctx, entry.topic, hubID)
}

// release ends the hub subscription backing topic.
func (r *Registry) release(ctx context.Context, topic string, hubID int64) error {
	if hubID == 0 {
		// Never confirmed on the current connection.
		return nil
	}

	req := connection.Request{
		Type:   "unsubscribe_events",
		Fields: map[string]any{"subscription": hubID},
	}
	if _, err := r.sender.Send(ctx, req, r.timeout); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}

	r.logger.Debug("unsubscribed", "topic", topic, "hub_id", hubID)
	return nil
}

// HandleEvent delivers ev to the listeners of its subscription, falling
// back to its event type. Listeners run synchronously in registration
// order; a panicking listener does not stop the others.
func (r *Registry) HandleEvent(ev connection.Event) {
	r.mu.RLock()
	entry := r.byHubID[ev.SubscriptionID]
	if entry == nil || ev.SubscriptionID == 0 {
		if e, ok := r.topics[ev.EventType]; ok {
			entry = e
		} else {
			entry = r.topics[AllEvents]
		}
	}
	var listeners []*Subscription
	if entry != nil {
		listeners = append(listeners, entry.listeners...)
	}
	r.mu.RUnlock()

	if len(listeners) == 0 {
		r.logger.Debug("event without listeners", "event_type", ev.EventType, "hub_id", ev.SubscriptionID)
		return
	}

	for _, sub := range listeners {
		r.deliver(sub, ev)
	}
}

func (r *Registry) deliver(sub *Subscription, ev connection.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("listener panicked",
				"topic", sub.Topic,
				"subscription", sub.ID,
				"panic", rec,
			)
		}
	}()
	sub.listener(ev)
}

// Resubscribe replays topics on a new connection. Non-persistent listeners
// are dropped first. Topics are replayed in the order their oldest
// remaining listener registered; a failed topic is logged and skipped.
func (r *Registry) Resubscribe(ctx context.Context) error {
	r.mu.Lock()
	r.byHubID = make(map[int64]*topicEntry)
	for topic, entry := range r.topics {
		kept := entry.listeners[:0:0]
		for _, sub := range entry.listeners {
			if sub.Persistent {
				kept = append(kept, sub)
			} else {
				delete(r.byID, sub.ID)
			}
		}
		entry.listeners = kept
		entry.hubID.Store(0)

		if len(kept) == 0 {
			delete(r.topics, topic)
		}
	}
	entries := r.orderedLocked()
	r.mu.Unlock()

	var errs []error
	for _, entry := range entries {
		res, err := r.sender.Send(ctx, subscribeRequest(entry.topic), r.timeout)
		if err != nil {
			r.logger.Warn("resubscribe failed", "topic", entry.topic, "error", err)
			errs = append(errs, fmt.Errorf("resubscribe %s: %w", entry.topic, err))
			continue
		}

		r.mu.Lock()
		if r.topics[entry.topic] == entry {
			entry.hubID.Store(res.ID)
			r.byHubID[res.ID] = entry
		}
		r.mu.Unlock()
	}

	if len(entries) > 0 {
		r.logger.Info("subscriptions replayed", "topics", len(entries), "failed", len(errs))
	}
	return errors.Join(errs...)
}

// orderedLocked returns topics with listeners, ordered by their oldest
// listener. Must hold r.mu.
func (r *Registry) orderedLocked() []*topicEntry {
	type ordered struct {
		entry *topicEntry
		first int64
	}
	list := make([]ordered, 0, len(r.topics))
	for _, e := range r.topics {
		if len(e.listeners) > 0 {
			list = append(list, ordered{entry: e, first: e.listeners[0].ID})
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].first < list[j].first })

	entries := make([]*topicEntry, len(list))
	for i, o := range list {
		entries[i] = o.entry
	}
	return entries
}

// Topics returns the subscribed topics in replay order.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	entries := r.orderedLocked()
	r.mu.RUnlock()

	topics := make([]string, len(entries))
	for i, e := range entries {
		topics[i] = e.topic
	}
	return topics
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func subscribeRequest(topic string) connection.Request {
	fields := map[string]any{}
	if topic != AllEvents {
		fields["event_type"] = topic
	}
	return connection.Request{Type: "subscribe_events", Fields: fields}
}
