package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the documents table. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	kind       TEXT        NOT NULL,
	id         UUID        NOT NULL,
	data       JSONB       NOT NULL,
	version    BIGINT      NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	deleted_at TIMESTAMPTZ,
	PRIMARY KEY (kind, id)
);

CREATE INDEX IF NOT EXISTS documents_live_idx
	ON documents (kind, created_at)
	WHERE deleted_at IS NULL;
`

// PostgresBackend stores documents in a JSONB table.
type PostgresBackend struct {
	db *pgxpool.Pool
}

// NewPostgresBackend wraps an open pool. The pool is closed by Close.
func NewPostgresBackend(db *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// EnsureSchema creates the documents table if it does not exist.
func (b *PostgresBackend) EnsureSchema(ctx context.Context) error {
	if _, err := b.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

func (b *PostgresBackend) Get(ctx context.Context, kind string, id uuid.UUID) (Record, error) {
	rec := Record{Kind: kind, ID: id}
	err := b.db.QueryRow(ctx, `
		SELECT data, version, created_at, updated_at
		FROM documents
		WHERE kind = $1 AND id = $2 AND deleted_at IS NULL
	`, kind, id).Scan(&rec.Data, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("query %s %s: %w", kind, id, err)
	}
	return rec, nil
}

func (b *PostgresBackend) List(ctx context.Context, kind string) ([]Record, error) {
	rows, err := b.db.Query(ctx, `
		SELECT id, data, version, created_at, updated_at
		FROM documents
		WHERE kind = $1 AND deleted_at IS NULL
		ORDER BY created_at, id
	`, kind)
	if err != nil {
		return nil, fmt.Errorf("query %s documents: %w", kind, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec := Record{Kind: kind}
		if err := rows.Scan(&rec.ID, &rec.Data, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s document: %w", kind, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s documents: %w", kind, err)
	}
	return out, nil
}

func (b *PostgresBackend) Insert(ctx context.Context, rec Record) (Record, error) {
	// A soft-deleted row with the same key is replaced.
	err := b.db.QueryRow(ctx, `
		INSERT INTO documents (kind, id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (kind, id) DO UPDATE
			SET data = EXCLUDED.data, version = 1, created_at = now(),
			    updated_at = now(), deleted_at = NULL
			WHERE documents.deleted_at IS NOT NULL
		RETURNING version, created_at, updated_at
	`, rec.Kind, rec.ID, rec.Data).Scan(&rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%s %s already exists: %w", rec.Kind, rec.ID, ErrVersionConflict)
	}
	if err != nil {
		return Record{}, fmt.Errorf("insert %s %s: %w", rec.Kind, rec.ID, err)
	}
	return rec, nil
}

func (b *PostgresBackend) Update(ctx context.Context, rec Record) (Record, error) {
	expected := rec.Version
	err := b.db.QueryRow(ctx, `
		UPDATE documents
		SET data = $3, version = version + 1, updated_at = now()
		WHERE kind = $1 AND id = $2 AND deleted_at IS NULL AND version = $4
		RETURNING version, created_at, updated_at
	`, rec.Kind, rec.ID, rec.Data, expected).Scan(&rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, b.missOrConflict(ctx, rec.Kind, rec.ID, expected)
	}
	if err != nil {
		return Record{}, fmt.Errorf("update %s %s: %w", rec.Kind, rec.ID, err)
	}
	return rec, nil
}

func (b *PostgresBackend) Delete(ctx context.Context, kind string, id uuid.UUID, version int64) error {
	ct, err := b.db.Exec(ctx, `
		UPDATE documents
		SET deleted_at = now()
		WHERE kind = $1 AND id = $2 AND deleted_at IS NULL AND ($3::bigint = 0 OR version = $3::bigint)
	`, kind, id, version)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	if ct.RowsAffected() == 0 {
		return b.missOrConflict(ctx, kind, id, version)
	}
	return nil
}

// missOrConflict explains why a conditional write matched no row.
func (b *PostgresBackend) missOrConflict(ctx context.Context, kind string, id uuid.UUID, expected int64) error {
	current, err := b.Get(ctx, kind, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s at version %d, got %d: %w", kind, id, current.Version, expected, ErrVersionConflict)
}

func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.db.Ping(ctx)
}

func (b *PostgresBackend) Close() {
	b.db.Close()
}
