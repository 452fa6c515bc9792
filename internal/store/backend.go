package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Document kinds.
const (
	KindFloorPlan = "floorplan"
	KindPlugin    = "plugin"
)

// Record is a stored document.
type Record struct {
	Kind      string
	ID        uuid.UUID
	Data      json.RawMessage
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Backend is the persistence layer behind a Collection.
type Backend interface {
	// Get returns a live document or ErrNotFound.
	Get(ctx context.Context, kind string, id uuid.UUID) (Record, error)

	// List returns live documents of kind ordered by creation time.
	List(ctx context.Context, kind string) ([]Record, error)

	// Insert stores a new document at version 1.
	Insert(ctx context.Context, rec Record) (Record, error)

	// Update replaces the data of a document whose current version equals
	// rec.Version and increments the version. It returns
	// ErrVersionConflict when the versions differ.
	Update(ctx context.Context, rec Record) (Record, error)

	// Delete soft-deletes a document. A zero version deletes
	// unconditionally.
	Delete(ctx context.Context, kind string, id uuid.UUID, version int64) error

	Ping(ctx context.Context) error
	Close()
}
