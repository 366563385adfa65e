// Package eventgen generates synthetic Event values for examples, demos and
// load tests. It is explicitly not a production producer - spec.md scopes
// the real event source out of the core entirely - but a complete module
// benefits from something concrete to feed streampipe.Pipeline.Accept in
// its own tests and examples, in the same spirit as catrate's
// testutil_counteventsperrate_test.go helper (_examples teacher,
// catrate/testutil_counteventsperrate_test.go) generating synthetic load
// for its own rate-limiter tests.
package eventgen

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/streampipe"
)

// Generator produces Event values with monotonically non-decreasing
// CreatedAt timestamps per ClientID, matching the producer-monotonicity
// invariant spec.md §3 requires the dispatcher's ordering guarantee on.
// The zero value is usable.
type Generator struct {
	mu      sync.Mutex
	lastFor map[int64]time.Time
}

// NewDuplicate returns an Event that is a duplicate occurrence of original:
// same ClientID and UUID, with CreatedAt advanced to now. Used by dedup
// scenario tests/examples (spec.md §8, S2/S3) to construct the second half
// of a duplicate pair without reusing the exact same CreatedAt.
func NewDuplicate(original streampipe.Event) streampipe.Event {
	return streampipe.Event{
		CreatedAt: time.Now(),
		ClientID:  original.ClientID,
		UUID:      original.UUID,
	}
}

// Next returns a fresh Event for clientID: a new uuid and a CreatedAt no
// earlier than any previously generated Event for the same clientID.
func (g *Generator) Next(clientID int64) streampipe.Event {
	now := time.Now()

	g.mu.Lock()
	if g.lastFor == nil {
		g.lastFor = make(map[int64]time.Time)
	}
	if last, ok := g.lastFor[clientID]; ok && last.After(now) {
		now = last
	}
	g.lastFor[clientID] = now
	g.mu.Unlock()

	return streampipe.Event{
		CreatedAt: now,
		ClientID:  clientID,
		UUID:      uuid.NewString(),
	}
}

// Burst returns n fresh Events for clientID, in submission order.
func (g *Generator) Burst(clientID int64, n int) []streampipe.Event {
	events := make([]streampipe.Event, n)
	for i := range events {
		events[i] = g.Next(clientID)
	}
	return events
}
