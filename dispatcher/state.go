package dispatcher

import "sync/atomic"

// shardState is a lock-free three-state machine for a single shard worker,
// adapted from eventloop.FastState (_examples teacher, eventloop/state.go):
// an atomic.Uint64-backed value with CompareAndSwap-driven transitions.
// That type models a 5-state event loop (Awake/Sleeping/Running/
// Terminating/Terminated); a dispatcher shard only ever needs three.
type shardState uint32

const (
	// shardRunning accepts and processes new events.
	shardRunning shardState = iota
	// shardDraining no longer accepts submissions but is still flushing
	// its queue.
	shardDraining
	// shardStopped has exited its worker loop: after draining, or
	// immediately (abandoning its backlog) after a panic in Next.Accept.
	shardStopped
)

func (s shardState) String() string {
	switch s {
	case shardRunning:
		return "running"
	case shardDraining:
		return "draining"
	case shardStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type fastState struct {
	v atomic.Uint32
}

func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint32(shardRunning))
	return s
}

func (s *fastState) Load() shardState {
	return shardState(s.v.Load())
}

func (s *fastState) TryTransition(from, to shardState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

func (s *fastState) CanAcceptWork() bool {
	return s.Load() == shardRunning
}
