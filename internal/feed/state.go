// Package feed coordinates article delivery into the reconciler: a real-time
// push channel backed by an unconditional poll ticker. Polling is a cheap
// no-op while push is healthy and becomes the load-bearing path the moment
// it is not.
package feed

import (
	"context"

	"marketfeed/internal/domain/entity"
)

// SubscriptionState describes the push channel connection lifecycle.
type SubscriptionState int32

const (
	// StateDisconnected is the initial state and the state after Close.
	StateDisconnected SubscriptionState = iota
	// StateConnecting means a connection attempt is in flight.
	StateConnecting
	// StateSubscribed means push events are being delivered.
	StateSubscribed
	// StateError means the last connection attempt failed. The channel
	// retries; polling carries the feed in the meantime.
	StateError
)

// String returns the state name used in logs and metrics.
func (s SubscriptionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// AllStateNames lists every state name, in declaration order. Used to zero
// out the subscription state metric vector.
func AllStateNames() []string {
	return []string{
		StateDisconnected.String(),
		StateConnecting.String(),
		StateSubscribed.String(),
		StateError.String(),
	}
}

// EventType is the change type carried by a push event.
type EventType string

const (
	// EventInsert signals a newly published article.
	EventInsert EventType = "INSERT"
	// EventUpdate signals a correction to an existing article.
	EventUpdate EventType = "UPDATE"
)

// Event is one push notification from the change feed.
type Event struct {
	Type    EventType
	Article entity.RawArticle
}

// PushChannel delivers server-push change events for a named stream.
// Implementations own their reconnection policy and report lifecycle
// transitions through onState.
type PushChannel interface {
	// Open connects and begins delivering events until Close is called or
	// ctx is cancelled. It returns once the delivery loop has started.
	Open(ctx context.Context, onEvent func(Event), onState func(SubscriptionState, error)) error

	// Close tears the channel down. Safe to call multiple times.
	Close() error
}

// BulkFetcher retrieves the full current article set. The poll path uses it
// both for the initial load and as the fallback while push is unhealthy.
type BulkFetcher interface {
	FetchArticles(ctx context.Context, fresh bool) ([]entity.RawArticle, error)
}

// Sink receives article batches. Satisfied by *reconcile.Reconciler.
type Sink interface {
	IngestBatch(raw []entity.RawArticle, origin entity.Origin) bool
}
