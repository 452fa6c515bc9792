package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hassdash/dashboard/internal/model"
)

// Collection gives typed access to one document kind. Reads go through an
// in-process cache that every write invalidates.
type Collection[T model.Document] struct {
	kind      string
	backend   Backend
	newDoc    func() T
	validator *Validator
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[uuid.UUID]Record
	gen   uint64 // bumped on every write so in-flight reads do not cache stale records
}

// NewCollection creates a Collection. newDoc returns an empty document
// for decoding. validator may be nil.
func NewCollection[T model.Document](kind string, backend Backend, newDoc func() T, validator *Validator, logger *slog.Logger) *Collection[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collection[T]{
		kind:      kind,
		backend:   backend,
		newDoc:    newDoc,
		validator: validator,
		logger:    logger.With("kind", kind),
		cache:     make(map[uuid.UUID]Record),
	}
}

// Get returns a document by id.
func (c *Collection[T]) Get(ctx context.Context, id uuid.UUID) (T, error) {
	c.mu.Lock()
	rec, ok := c.cache[id]
	gen := c.gen
	c.mu.Unlock()

	if !ok {
		var err error
		rec, err = c.backend.Get(ctx, c.kind, id)
		if err != nil {
			var zero T
			return zero, err
		}
		c.remember(gen, rec)
	}
	return c.decode(rec)
}

// List returns all live documents.
func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	recs, err := c.backend.List(ctx, c.kind)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		doc, err := c.decode(rec)
		if err != nil {
			return nil, err
		}
		c.remember(gen, rec)
		out = append(out, doc)
	}
	return out, nil
}

// Create validates and stores a new document. A nil id is replaced with a
// random one. The returned document carries the stored version and
// timestamps.
func (c *Collection[T]) Create(ctx context.Context, doc T) (T, error) {
	var zero T
	if err := c.validate(doc); err != nil {
		return zero, err
	}
	if doc.DocumentID() == uuid.Nil {
		doc.SetDocumentID(uuid.New())
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return zero, fmt.Errorf("marshal %s: %w", c.kind, err)
	}

	c.invalidate(doc.DocumentID())
	rec, err := c.backend.Insert(ctx, Record{Kind: c.kind, ID: doc.DocumentID(), Data: data})
	if err != nil {
		return zero, err
	}

	c.logger.Debug("document created", "id", rec.ID)
	return c.decode(rec)
}

// Update replaces a document. doc's version must match the stored version
// or ErrVersionConflict is returned.
func (c *Collection[T]) Update(ctx context.Context, doc T) (T, error) {
	var zero T
	if doc.DocumentID() == uuid.Nil {
		return zero, ErrMissingID
	}
	if err := c.validate(doc); err != nil {
		return zero, err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return zero, fmt.Errorf("marshal %s: %w", c.kind, err)
	}

	c.invalidate(doc.DocumentID())
	rec, err := c.backend.Update(ctx, Record{
		Kind:    c.kind,
		ID:      doc.DocumentID(),
		Data:    data,
		Version: doc.DocumentVersion(),
	})
	if err != nil {
		return zero, err
	}

	c.logger.Debug("document updated", "id", rec.ID, "version", rec.Version)
	return c.decode(rec)
}

// Delete soft-deletes a document. A zero version deletes unconditionally.
func (c *Collection[T]) Delete(ctx context.Context, id uuid.UUID, version int64) error {
	c.invalidate(id)
	if err := c.backend.Delete(ctx, c.kind, id, version); err != nil {
		return err
	}
	c.logger.Debug("document deleted", "id", id)
	return nil
}

// Cached returns the number of cached documents.
func (c *Collection[T]) Cached() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

func (c *Collection[T]) validate(doc T) error {
	if c.validator == nil {
		return nil
	}
	return c.validator.Validate(doc)
}

func (c *Collection[T]) decode(rec Record) (T, error) {
	doc := c.newDoc()
	if err := json.Unmarshal(rec.Data, doc); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s %s: %w", c.kind, rec.ID, err)
	}
	doc.SetDocumentID(rec.ID)
	doc.SetDocumentVersion(rec.Version)
	doc.SetTimestamps(rec.CreatedAt, rec.UpdatedAt)
	return doc, nil
}

// remember caches rec unless a write happened since gen was read.
func (c *Collection[T]) remember(gen uint64, rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.cache[rec.ID] = rec
	}
}

func (c *Collection[T]) invalidate(id uuid.UUID) {
	c.mu.Lock()
	c.gen++
	delete(c.cache, id)
	c.mu.Unlock()
}
