package outbound

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBatcherClosed is returned by Enqueue after Close or Discard.
var ErrBatcherClosed = errors.New("batcher closed")

// BatchConfig configures a Batcher.
type BatchConfig struct {
	MaxBatchSize  int           // Flush as soon as this many items are queued
	FlushInterval time.Duration // Max time the first queued item waits
}

// DefaultBatchConfig returns a 10 item / 100ms batcher.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxBatchSize:  10,
		FlushInterval: 100 * time.Millisecond,
	}
}

// BatchStats contains batcher statistics.
type BatchStats struct {
	Queued      int
	Flushes     int64
	Flushed     int64
	SizeFlushes int64 // flushes triggered by a full batch
	TimeFlushes int64 // flushes triggered by the timer
}

// Batcher queues items and hands them to a flush function in batches.
// Flushes are serialized, so items reach the flush function in enqueue order.
type Batcher[T any] struct {
	cfg    BatchConfig
	flush  func([]T)
	logger *slog.Logger

	mu     sync.Mutex
	queue  []T
	timer  *time.Timer
	gen    uint64 // invalidates timers armed for an already flushed batch
	closed bool
	stats  BatchStats

	// Held across flush calls. Acquired while holding mu so a later batch
	// cannot overtake an earlier one.
	flushMu sync.Mutex
}

// NewBatcher creates a Batcher that delivers batches to flush.
func NewBatcher[T any](cfg BatchConfig, flush func([]T), logger *slog.Logger) *Batcher[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBatchSize < 1 {
		cfg.MaxBatchSize = 1
	}
	return &Batcher[T]{
		cfg:    cfg,
		flush:  flush,
		logger: logger,
		queue:  make([]T, 0, cfg.MaxBatchSize),
	}
}

// Enqueue adds an item. A full batch is flushed synchronously on the
// caller's goroutine; otherwise the flush timer is armed for the first item.
func (b *Batcher[T]) Enqueue(item T) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBatcherClosed
	}

	b.queue = append(b.queue, item)

	if len(b.queue) >= b.cfg.MaxBatchSize {
		b.stats.SizeFlushes++
		b.flushLocked()
		return nil
	}

	if len(b.queue) == 1 && b.cfg.FlushInterval > 0 {
		gen := b.gen
		b.timer = time.AfterFunc(b.cfg.FlushInterval, func() { b.timerFired(gen) })
	}
	b.mu.Unlock()

	if b.cfg.FlushInterval <= 0 {
		b.Flush()
	}
	return nil
}

// Flush delivers whatever is queued now.
func (b *Batcher[T]) Flush() {
	b.mu.Lock()
	if len(b.queue) == 0 {
		b.mu.Unlock()
		return
	}
	b.flushLocked()
}

// Close flushes the remaining items and rejects further Enqueue calls.
func (b *Batcher[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if len(b.queue) == 0 {
		b.stopTimerLocked()
		b.mu.Unlock()
		return
	}
	b.flushLocked()
}

// Discard drops queued items without flushing and returns them.
func (b *Batcher[T]) Discard() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopTimerLocked()
	dropped := b.queue
	b.queue = make([]T, 0, b.cfg.MaxBatchSize)
	b.gen++
	return dropped
}

// Reopen allows Enqueue again after Close.
func (b *Batcher[T]) Reopen() {
	b.mu.Lock()
	b.closed = false
	b.mu.Unlock()
}

// Len returns the number of queued items.
func (b *Batcher[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Stats returns batcher statistics.
func (b *Batcher[T]) Stats() BatchStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Queued = len(b.queue)
	return s
}

func (b *Batcher[T]) timerFired(gen uint64) {
	b.mu.Lock()
	if gen != b.gen || len(b.queue) == 0 {
		b.mu.Unlock()
		return
	}
	b.stats.TimeFlushes++
	b.flushLocked()
}

// flushLocked takes the queue and flushes it. Must be called with mu held;
// returns with mu released.
func (b *Batcher[T]) flushLocked() {
	batch := b.queue
	b.queue = make([]T, 0, b.cfg.MaxBatchSize)
	b.stopTimerLocked()
	b.gen++
	b.stats.Flushes++
	b.stats.Flushed += int64(len(batch))

	b.flushMu.Lock()
	b.mu.Unlock()
	defer b.flushMu.Unlock()

	b.flush(batch)
}

func (b *Batcher[T]) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
