// Package poller implements the full-state resync poller.
//
// Events keep the state cache current while the hub connection is up, but
// a missed event leaves an entity stale until its freshness window runs
// out. The poller refetches every state on a fixed interval as a backstop.
// A failed cycle is logged and retried on the next tick.
package poller
