// Package state is the read-through cache of hub entity states.
//
// Reads are served from the cache while an entry is younger than the
// freshness window; misses fetch the full state list from the hub, with
// concurrent misses sharing one request. state_changed events overwrite
// entries and fan out to per-entity callbacks.
package state
