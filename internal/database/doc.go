// Package database provides PostgreSQL connection pool management.
//
// The dashboard keeps floor plans and plugin manifests as JSONB documents.
// A pool is only created when a database host is configured; otherwise
// the document store runs in memory.
package database
