// Package guard implements ConcurrencyGuard: a detector for overlapping
// processing of the same routing key, intended as a belt-and-braces check
// behind dispatcher.Dispatcher, whose per-shard single-consumer queues are
// already supposed to make such overlap impossible. A violation therefore
// indicates a bug upstream (e.g. a misconfigured shard count, or a caller
// bypassing the dispatcher).
//
// The lazy per-key lock, allocated on first use and looked up via
// sync.Map, is adapted from catrate.Limiter's per-category state
// (_examples teacher, catrate/limiter.go): that type pools categoryData
// structs keyed by an arbitrary category; this one pools capacity-1 token
// channels (standing in for a non-reentrant mutex) keyed by routing key,
// since all that's needed here is mutual exclusion, not per-category rate
// state.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrViolation is the sentinel matched by errors.Is against Violation.
var ErrViolation = errors.New("guard: concurrency violation")

// Violation reports a detected overlap for Key. Waited is true if the
// bounded-wait policy was used and still timed out.
type Violation struct {
	Key    int64
	Waited bool
}

func (v *Violation) Error() string {
	if v.Waited {
		return fmt.Sprintf("guard: key %d still locked after bounded wait", v.Key)
	}
	return fmt.Sprintf("guard: concurrent access detected for key %d", v.Key)
}

func (v *Violation) Is(target error) bool { return target == ErrViolation }

// Next is the downstream consumer a Guard protects. See dispatcher.Next
// for why this is a locally-defined interface rather than an imported
// type: it lets Guard avoid any dependency on the root package.
type Next[E any] interface {
	Accept(ctx context.Context, event E) error
}

// Policy selects what happens when a key's lock is already held.
type Policy int

const (
	// ReportAndSkip is the default: the event is dropped, OnViolation
	// fires, and Accept returns a *Violation error.
	ReportAndSkip Policy = iota
	// BoundedWait blocks for up to WaitTimeout (at most 1s) for the lock
	// to free before falling back to ReportAndSkip's behavior.
	BoundedWait
)

// Hooks are observability callbacks. A nil field is simply not called.
type Hooks struct {
	OnViolation func(key int64, waited bool)
}

// Config configures a Guard. KeyFunc and Next are required.
type Config[E any] struct {
	KeyFunc     func(E) int64
	Next        Next[E]
	Policy      Policy
	WaitTimeout time.Duration // default and maximum 1s, only consulted under BoundedWait
	Hooks       Hooks
}

// Guard serializes Accept calls per routing key, detecting (rather than
// preventing, beyond its own lock) overlapping calls for the same key.
type Guard[E any] struct {
	cfg   Config[E]
	locks sync.Map // int64 -> chan struct{} (capacity 1, token-holding)
}

// tokenPool hands out fresh capacity-1 channels, pre-loaded with a single
// token, so lockFor's allocate-on-first-use path doesn't pay for a
// make+send every time under contention.
var tokenPool = sync.Pool{New: func() any {
	ch := make(chan struct{}, 1)
	ch <- struct{}{}
	return ch
}}

// New validates cfg and returns a ready Guard.
func New[E any](cfg Config[E]) (*Guard[E], error) {
	if cfg.KeyFunc == nil {
		return nil, errors.New("guard: KeyFunc is required")
	}
	if cfg.Next == nil {
		return nil, errors.New("guard: Next is required")
	}
	if cfg.WaitTimeout <= 0 || cfg.WaitTimeout > time.Second {
		cfg.WaitTimeout = time.Second
	}
	return &Guard[E]{cfg: cfg}, nil
}

// Accept acquires the lock for event's routing key (per cfg.Policy),
// calls Next.Accept while held, and releases it - unlocking only if
// acquisition actually succeeded, never unconditionally, which is the
// one behavior spec.md §9 calls out by name as a defect in the source
// this guard is modeled on.
func (g *Guard[E]) Accept(ctx context.Context, event E) error {
	key := g.cfg.KeyFunc(event)
	lock := g.lockFor(key)

	acquired, waited := g.tryAcquire(lock)
	if !acquired {
		if g.cfg.Hooks.OnViolation != nil {
			g.cfg.Hooks.OnViolation(key, waited)
		}
		return &Violation{Key: key, Waited: waited}
	}
	// unlock only on the path where acquisition actually succeeded - the
	// REDESIGN FLAG fix for the source's unconditional finally-unlock.
	defer func() { lock <- struct{}{} }()

	return g.cfg.Next.Accept(ctx, event)
}

func (g *Guard[E]) lockFor(key int64) chan struct{} {
	if v, ok := g.locks.Load(key); ok {
		return v.(chan struct{})
	}
	candidate := tokenPool.Get().(chan struct{})
	actual, loaded := g.locks.LoadOrStore(key, candidate)
	if loaded {
		tokenPool.Put(candidate)
	}
	return actual.(chan struct{})
}

// tryAcquire takes the key's token. A channel receive (rather than a
// sync.Mutex) is used so the bounded-wait path can select on a timer
// without spawning a helper goroutine that might outlive the wait.
func (g *Guard[E]) tryAcquire(lock chan struct{}) (acquired, waited bool) {
	select {
	case <-lock:
		return true, false
	default:
	}
	if g.cfg.Policy != BoundedWait {
		return false, false
	}

	timer := time.NewTimer(g.cfg.WaitTimeout)
	defer timer.Stop()
	select {
	case <-lock:
		return true, true
	case <-timer.C:
		return false, true
	}
}
