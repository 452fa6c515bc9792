// Package model defines shared data types used across the dashboard backend.
//
// Conventions:
//   - Entity ids: "<domain>.<object_id>" as issued by the hub (e.g. "light.kitchen")
//   - Timestamps: time.Time, UTC, JSON encoded as RFC 3339
//   - Document ids: uuid.UUID
package model
