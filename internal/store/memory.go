package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memKey struct {
	kind string
	id   uuid.UUID
}

type memRecord struct {
	Record
	deletedAt time.Time
}

// MemoryBackend keeps documents in process memory.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[memKey]*memRecord
	now  func() time.Time
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		docs: make(map[memKey]*memRecord),
		now:  time.Now,
	}
}

func (b *MemoryBackend) Get(_ context.Context, kind string, id uuid.UUID) (Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.docs[memKey{kind, id}]
	if !ok || !r.deletedAt.IsZero() {
		return Record{}, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return r.copy(), nil
}

func (b *MemoryBackend) List(_ context.Context, kind string) ([]Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Record
	for k, r := range b.docs {
		if k.kind == kind && r.deletedAt.IsZero() {
			out = append(out, r.copy())
		}
	}
	slices.SortFunc(out, func(a, b Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

func (b *MemoryBackend) Insert(_ context.Context, rec Record) (Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := memKey{rec.Kind, rec.ID}
	if _, ok := b.docs[key]; ok {
		return Record{}, fmt.Errorf("%s %s already exists: %w", rec.Kind, rec.ID, ErrVersionConflict)
	}

	now := b.now()
	rec.Version = 1
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Data = append([]byte(nil), rec.Data...)

	b.docs[key] = &memRecord{Record: rec}
	return rec, nil
}

func (b *MemoryBackend) Update(_ context.Context, rec Record) (Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.docs[memKey{rec.Kind, rec.ID}]
	if !ok || !r.deletedAt.IsZero() {
		return Record{}, fmt.Errorf("%s %s: %w", rec.Kind, rec.ID, ErrNotFound)
	}
	if r.Version != rec.Version {
		return Record{}, fmt.Errorf("%s %s at version %d, got %d: %w",
			rec.Kind, rec.ID, r.Version, rec.Version, ErrVersionConflict)
	}

	r.Data = append([]byte(nil), rec.Data...)
	r.Version++
	r.UpdatedAt = b.now()
	return r.copy(), nil
}

func (b *MemoryBackend) Delete(_ context.Context, kind string, id uuid.UUID, version int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.docs[memKey{kind, id}]
	if !ok || !r.deletedAt.IsZero() {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if version != 0 && r.Version != version {
		return fmt.Errorf("%s %s at version %d, got %d: %w", kind, id, r.Version, version, ErrVersionConflict)
	}

	r.deletedAt = b.now()
	return nil
}

func (b *MemoryBackend) Ping(context.Context) error { return nil }

func (b *MemoryBackend) Close() {}

func (r *memRecord) copy() Record {
	out := r.Record
	out.Data = append([]byte(nil), r.Data...)
	return out
}
