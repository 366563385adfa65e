package dispatcher

import (
	"context"
	"fmt"
	"sync"
)

// shard owns one FIFO queue and runs exactly one worker goroutine, giving
// per-shard ordering. Queue state is a plain mutex-guarded slice rather
// than a channel: a channel-backed queue can't be both unbounded (the
// default) and support the bounded/overflow-policy variant with the same
// code path, and draining needs to inspect (not just receive) the
// remaining backlog.
type shard[E any] struct {
	id    int
	cfg   Config[E]
	state *fastState

	mu  sync.Mutex
	buf []E

	workAvail  chan struct{} // capacity 1: signals buf became non-empty
	spaceAvail chan struct{} // capacity 1: signals buf has room (bounded only)
	stopCh     chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
}

func newShard[E any](id int, cfg Config[E]) *shard[E] {
	return &shard[E]{
		id:         id,
		cfg:        cfg,
		state:      newFastState(),
		workAvail:  make(chan struct{}, 1),
		spaceAvail: make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// submit enqueues event, applying the bounded-queue overflow policy if
// configured. It returns ErrShutdown once the shard has begun draining.
//
// There is a narrow window around Close: a submit that observes
// CanAcceptWork() == true can still lose the race with run's drain loop
// observing an empty buffer and transitioning to Stopped, appending an
// event that is never dequeued. Close callers are expected to stop
// submitting before (or synchronized with) calling Close - the dispatcher
// does not itself serialize submit against the shutdown transition.
func (s *shard[E]) submit(ctx context.Context, event E) error {
	for {
		if !s.state.CanAcceptWork() {
			return ErrShutdown
		}

		s.mu.Lock()
		if s.cfg.QueueBound <= 0 || len(s.buf) < s.cfg.QueueBound {
			s.buf = append(s.buf, event)
			depth := len(s.buf)
			s.mu.Unlock()
			signal(s.workAvail)
			if s.cfg.Hooks.OnEnqueue != nil {
				s.cfg.Hooks.OnEnqueue(s.id, depth)
			}
			return nil
		}
		s.mu.Unlock()

		if s.cfg.OverflowPolicy == OverflowDropNewest {
			if s.cfg.Hooks.OnDropped != nil {
				s.cfg.Hooks.OnDropped(s.id)
			}
			return nil
		}

		select {
		case <-s.spaceAvail:
			continue
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return ErrShutdown
		}
	}
}

func (s *shard[E]) depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// run dequeues events in FIFO order and hands each to next, until stopCh
// is closed, at which point it drains the remaining backlog and exits. A
// panic from next.Accept terminates the shard immediately, abandoning any
// remaining backlog - every other shard is unaffected.
func (s *shard[E]) run(ctx context.Context, next Next[E]) {
	defer close(s.done)

	for {
		event, ok := s.tryDequeue()
		if ok {
			if fatal := s.process(ctx, next, event); fatal {
				s.terminate()
				return
			}
			continue
		}

		select {
		case <-s.workAvail:
		case <-s.stopCh:
			s.state.TryTransition(shardRunning, shardDraining)
			s.drain(ctx, next)
			s.state.TryTransition(shardDraining, shardStopped)
			return
		}
	}
}

// terminate forces the shard straight to shardStopped from whatever state
// it was in, skipping Draining - a panic is a bug, not a graceful close,
// so there is no attempt to flush the remaining backlog.
func (s *shard[E]) terminate() {
	for {
		cur := s.state.Load()
		if cur == shardStopped || s.state.TryTransition(cur, shardStopped) {
			return
		}
	}
}

func (s *shard[E]) tryDequeue() (event E, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return event, false
	}
	event = s.buf[0]
	s.buf = s.buf[1:]
	if s.cfg.Hooks.OnDequeue != nil {
		s.cfg.Hooks.OnDequeue(s.id, len(s.buf))
	}
	return event, true
}

func (s *shard[E]) drain(ctx context.Context, next Next[E]) {
	for {
		event, ok := s.tryDequeue()
		if !ok {
			return
		}
		if fatal := s.process(ctx, next, event); fatal {
			return
		}
	}
}

// process invokes next.Accept for event, recovering any panic into a
// reported internal error. It returns fatal=true if the shard must
// terminate immediately rather than continue its loop.
func (s *shard[E]) process(ctx context.Context, next Next[E], event E) (fatal bool) {
	signal(s.spaceAvail)
	err, fatal := s.invoke(ctx, next, event)
	if s.cfg.Hooks.OnCompleted != nil {
		s.cfg.Hooks.OnCompleted(s.id, err)
	}
	return fatal
}

func (s *shard[E]) invoke(ctx context.Context, next Next[E], event E) (err error, fatal bool) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatcher: shard %d: panic: %v", s.id, r)
			fatal = true
			if s.cfg.Hooks.OnInternalError != nil {
				s.cfg.Hooks.OnInternalError(s.id, err)
			}
		}
	}()
	err = next.Accept(ctx, event)
	return err, false
}

// beginDrain requests shutdown and blocks until the worker has fully
// drained its backlog and exited. The shard stops accepting submissions
// as soon as this is called, even while its backlog is still being
// processed.
func (s *shard[E]) beginDrain() {
	s.state.TryTransition(shardRunning, shardDraining)
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
}
