package store

import (
	"context"
	"log/slog"

	"github.com/hassdash/dashboard/internal/model"
)

// Store groups the dashboard's document collections.
type Store struct {
	FloorPlans *Collection[*model.FloorPlan]
	Plugins    *Collection[*model.Plugin]

	backend Backend
}

// New creates a Store on backend.
func New(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		FloorPlans: NewCollection(KindFloorPlan, backend,
			func() *model.FloorPlan { return &model.FloorPlan{} },
			FloorPlanValidator(), logger),
		Plugins: NewCollection(KindPlugin, backend,
			func() *model.Plugin { return &model.Plugin{} },
			PluginValidator(), logger),
		backend: backend,
	}
}

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close releases the backend.
func (s *Store) Close() {
	s.backend.Close()
}
