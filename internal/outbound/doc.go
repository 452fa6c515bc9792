// Package outbound bounds and amortizes traffic sent to the hub.
//
//   - Limiter: sliding-window request cap. Callers fail fast with
//     ErrRateLimitExceeded instead of queueing.
//   - Batcher: coalesces queued frames and flushes when the batch is full or
//     the flush interval elapses after the first queued item, whichever
//     comes first.
package outbound
