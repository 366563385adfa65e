// Package streampipe implements a sharded, deduplicating event-dispatch
// pipeline: a deduplication filter, an ordered per-key worker dispatcher,
// and an optional concurrency-violation detector, composed in front of a
// caller-supplied terminal consumer.
package streampipe

import (
	"context"
	"time"
)

// Event is the unit of work flowing through the pipeline. It is immutable
// once it leaves the producer; no stage mutates it.
type Event struct {
	// CreatedAt is the production-time timestamp, used for latency
	// measurement. Dedup expiry is computed against arrival time at the
	// DeduplicationFilter, never against CreatedAt.
	CreatedAt time.Time

	// ClientID is the routing/ordering key. Events sharing a ClientID are
	// processed sequentially and in creation order.
	ClientID int64

	// UUID globally identifies this event occurrence. Two events with the
	// same UUID are, by definition, duplicates of one another.
	UUID string
}

// Stage is the single-method contract shared by every stage in the chain:
// accept an event, perform a local responsibility, and (usually) forward
// it downstream.
type Stage interface {
	Accept(ctx context.Context, event Event) error
}
