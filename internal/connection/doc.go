// Package connection implements the hub-facing side of the dashboard.
//
// The package provides:
//   - Socket: a single gorilla/websocket connection with keepalive
//   - Client: auth handshake, request/result correlation by id, event
//     dispatch, outbound batching and rate limiting
//   - Manager: reconnection with bounded exponential backoff and
//     replay of persistent subscriptions after each reconnect
//
// Message flow:
//
//	caller -> Client.Send -> Limiter -> Batcher -> Socket -> hub
//	hub -> Socket -> Client.readLoop -> pending call (result) | EventHandler (event)
package connection
