// Package store persists dashboard documents (floor plans and plugins).
//
// Documents are stored as JSON under a (kind, id) key with a version
// counter for optimistic concurrency. Deletes are soft: a deleted
// document disappears from reads but its row is kept.
//
// Two backends exist:
//   - PostgresBackend: one JSONB table through a pgx pool
//   - MemoryBackend: process local, used when no database is configured
//
// Collection adds typed access, schema validation and a read-through
// cache on top of a Backend.
package store
