// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Hub connection state, reconnects and message rates
//   - Request round-trip latency
//   - Outbound batch flushes and rate-limit rejections
//   - State cache hits, misses and fetches
//
// Every counter is mirrored in-process so a Snapshot can be read without
// scraping the registry.
package metrics
