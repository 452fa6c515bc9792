// Package subscription tracks hub event subscriptions and their listeners.
//
// One hub subscription is held per topic (event type) no matter how many
// listeners share it. The Registry survives reconnects: Resubscribe replays
// persistent topics on the new connection in registration order.
package subscription
