// Package dispatcher implements the pipeline's sharded worker pool: events
// are routed to one of N per-shard FIFO queues by routing key, and each
// shard is drained by exactly one goroutine, giving per-key ordering with
// cross-key parallelism.
//
// The queue/worker pairing and its graceful-drain Close are adapted from
// microbatch.Batcher (_examples teacher, microbatch/microbatch.go): a
// context.CancelFunc for hard-stop, a stopped channel closed exactly once
// via sync.Once for graceful stop, and a run loop selecting over
// submission and stop signals. Unlike Batcher, a shard has no batch window
// to flush - every event is dispatched to Next as soon as it reaches the
// head of the queue - so there is no analogue to Batcher's flushCh/timer.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
)

// ErrShutdown is returned by Accept once Close has been called.
var ErrShutdown = errors.New("dispatcher: shutdown")

// Next is the downstream consumer a Dispatcher hands dequeued events to.
// It is satisfied structurally by streampipe.Stage (and by
// guard.Guard[E]), with no import relationship required in either
// direction - Dispatcher is generic precisely so it can sit in the
// pipeline without importing the root package's Event type.
type Next[E any] interface {
	Accept(ctx context.Context, event E) error
}

// OverflowPolicy selects what Accept does when a bounded shard queue is
// full.
type OverflowPolicy int

const (
	// OverflowBlock makes Accept block until space frees or ctx is done.
	// This is the default (zero value) and preserves submission order.
	OverflowBlock OverflowPolicy = iota
	// OverflowDropNewest discards the event being submitted, leaving the
	// queue's existing contents and order untouched.
	OverflowDropNewest
)

// Hooks are observability callbacks, called synchronously on the
// reporting goroutine. A nil field is simply not called.
type Hooks struct {
	// OnEnqueue is called after an event is added to a shard's queue,
	// with the queue depth immediately after the add.
	OnEnqueue func(shard int, depth int)
	// OnDequeue is called after an event is removed from a shard's
	// queue, with the queue depth immediately after the removal.
	OnDequeue func(shard int, depth int)
	// OnDropped is called when OverflowDropNewest discards an event.
	OnDropped func(shard int)
	// OnCompleted is called after Next.Accept returns for a dequeued
	// event, with that call's error (nil on success).
	OnCompleted func(shard int, err error)
	// OnInternalError is called when Next.Accept panics. The panic is
	// recovered, wrapped into err, and the shard that hit it is
	// terminated immediately (its remaining backlog is abandoned) - the
	// spec's "Internal" error kind, fatal at worker granularity, with
	// every other shard remaining up.
	OnInternalError func(shard int, err error)
}

// Config configures a Dispatcher. Workers, KeyFunc and Next are required;
// all other fields have a documented zero-value default.
type Config[E any] struct {
	// Workers is the number of shards (and shard worker goroutines).
	// Must be positive.
	Workers int

	// KeyFunc extracts an event's routing key (the pipeline uses
	// ClientID). Must be non-nil.
	KeyFunc func(E) int64

	// HashRouting selects FNV-1a(key) mod Workers instead of the default
	// key mod Workers, for sparse or adversarial keys (see
	// streampipe.Config.HashRouting).
	HashRouting bool

	// QueueBound caps each shard's queue depth; 0 (the default) means
	// unbounded. OverflowPolicy governs behavior once a bounded queue
	// is full.
	QueueBound     int
	OverflowPolicy OverflowPolicy

	Hooks Hooks
	Next  Next[E]
}

// Dispatcher routes events to shard queues by routing key and dispatches
// each shard's queue, in order, to a single Next.Accept caller per shard.
type Dispatcher[E any] struct {
	cfg    Config[E]
	ctx    context.Context
	cancel context.CancelFunc
	shards []*shard[E]
}

// New validates cfg and starts one worker goroutine per shard. Callers
// must eventually call Close.
func New[E any](cfg Config[E]) (*Dispatcher[E], error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("dispatcher: Workers must be positive, got %d", cfg.Workers)
	}
	if cfg.KeyFunc == nil {
		return nil, errors.New("dispatcher: KeyFunc is required")
	}
	if cfg.Next == nil {
		return nil, errors.New("dispatcher: Next is required")
	}
	if cfg.QueueBound < 0 {
		return nil, fmt.Errorf("dispatcher: QueueBound must be >= 0, got %d", cfg.QueueBound)
	}

	d := &Dispatcher[E]{cfg: cfg, shards: make([]*shard[E], cfg.Workers)}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	for i := range d.shards {
		s := newShard[E](i, cfg)
		d.shards[i] = s
		go s.run(d.ctx, cfg.Next)
	}
	return d, nil
}

// Accept routes event to its shard by KeyFunc and enqueues it, blocking
// per OverflowPolicy if that shard's bounded queue is full. It satisfies
// streampipe.Stage structurally, letting a Dispatcher sit directly in a
// pipeline's stage chain.
func (d *Dispatcher[E]) Accept(ctx context.Context, event E) error {
	return d.shards[d.shardFor(event)].submit(ctx, event)
}

func (d *Dispatcher[E]) shardFor(event E) int {
	key := d.cfg.KeyFunc(event)
	n := uint64(len(d.shards))
	if !d.cfg.HashRouting {
		return int(uint64(key) % n)
	}
	h := fnv.New64a()
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(key >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return int(h.Sum64() % n)
}

// Close stops accepting new events and waits for every shard to drain its
// queue. If ctx is done first, Close cancels the context passed to
// in-flight and remaining Next.Accept calls, still waits for every shard
// to finish its backlog, and then returns ctx's error; queued events are
// not abandoned.
func (d *Dispatcher[E]) Close(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(len(d.shards))
	for _, s := range d.shards {
		s := s
		go func() {
			defer wg.Done()
			s.beginDrain()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// QueueDepths returns each shard's current queue depth, for observability
// snapshots (dispatcher.queue_depth[i] / .mean).
func (d *Dispatcher[E]) QueueDepths() []int {
	depths := make([]int, len(d.shards))
	for i, s := range d.shards {
		depths[i] = s.depth()
	}
	return depths
}
