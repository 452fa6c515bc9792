package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Hub Types
// -----------------------------------------------------------------------------

// EntityState is the hub's view of one entity.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Domain returns the part of the entity id before the dot.
func (s EntityState) Domain() string {
	return EntityDomain(s.EntityID)
}

// EntityDomain returns the domain of an entity id ("light" for "light.kitchen").
func EntityDomain(entityID string) string {
	domain, _, _ := strings.Cut(entityID, ".")
	return domain
}

// StateChange is the payload of a state_changed event. NewState is nil when
// the entity was removed.
type StateChange struct {
	EntityID string       `json:"entity_id"`
	OldState *EntityState `json:"old_state"`
	NewState *EntityState `json:"new_state"`
}

// -----------------------------------------------------------------------------
// Document Types
// -----------------------------------------------------------------------------

// Placement positions an entity on a floor plan.
type Placement struct {
	EntityID string  `json:"entity_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation,omitempty"` // degrees
}

// FloorPlan is a dashboard floor plan. Image is stored as opaque markup.
type FloorPlan struct {
	ID         uuid.UUID   `json:"id"`
	Name       string      `json:"name"`
	Image      string      `json:"image,omitempty"`
	Placements []Placement `json:"placements"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Version    int64       `json:"version"` // optimistic concurrency token
}

// Plugin is a registered dashboard plugin.
type Plugin struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Version   string         `json:"version"` // plugin's semantic version
	Entry     string         `json:"entry"`   // module entry point URL or path
	Enabled   bool           `json:"enabled"`
	Config    map[string]any `json:"config,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Revision  int64          `json:"revision"` // optimistic concurrency token
}

// Document is implemented by every stored document type.
type Document interface {
	DocumentID() uuid.UUID
	DocumentVersion() int64
	SetDocumentID(uuid.UUID)
	SetDocumentVersion(int64)
	SetTimestamps(created, updated time.Time)
}

func (f *FloorPlan) DocumentID() uuid.UUID        { return f.ID }
func (f *FloorPlan) DocumentVersion() int64       { return f.Version }
func (f *FloorPlan) SetDocumentID(id uuid.UUID)   { f.ID = id }
func (f *FloorPlan) SetDocumentVersion(v int64)   { f.Version = v }
func (f *FloorPlan) SetTimestamps(c, u time.Time) { f.CreatedAt, f.UpdatedAt = c, u }

func (p *Plugin) DocumentID() uuid.UUID        { return p.ID }
func (p *Plugin) DocumentVersion() int64       { return p.Revision }
func (p *Plugin) SetDocumentID(id uuid.UUID)   { p.ID = id }
func (p *Plugin) SetDocumentVersion(v int64)   { p.Revision = v }
func (p *Plugin) SetTimestamps(c, u time.Time) { p.CreatedAt, p.UpdatedAt = c, u }
