package store

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPostgresBackend runs against a real database when
// DASHBOARD_TEST_DATABASE_URL is set.
func TestPostgresBackend(t *testing.T) {
	url := os.Getenv("DASHBOARD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DASHBOARD_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)

	b := NewPostgresBackend(pool)
	t.Cleanup(b.Close)
	require.NoError(t, b.EnsureSchema(ctx))

	s := New(b, nil)
	created, err := s.FloorPlans.Create(ctx, kitchenPlan())
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM documents WHERE id = $1`, created.ID)
	})

	created.Name = "Renamed"
	updated, err := s.FloorPlans.Update(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	created.Version = 1
	_, err = s.FloorPlans.Update(ctx, created)
	assert.ErrorIs(t, err, ErrVersionConflict)

	require.NoError(t, s.FloorPlans.Delete(ctx, created.ID, 2))
	_, err = s.FloorPlans.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Plugins.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
