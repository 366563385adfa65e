package streampipe

import (
	"errors"
	"fmt"
)

// Sentinel errors, matched with errors.Is against the kind-tagged error
// values below.
var (
	// ErrShutdown is returned by Accept once the pipeline (or the stage
	// being called) has been closed.
	ErrShutdown = errors.New("streampipe: shutdown")

	// ErrConcurrencyViolation is reported by ConcurrencyGuard when a
	// clientId's per-key mutex is already held by another goroutine -
	// a design-invariant violation, since ShardedDispatcher is supposed
	// to make that impossible.
	ErrConcurrencyViolation = errors.New("streampipe: concurrency violation")

	// ErrInternal marks a bug (e.g. queue corruption) fatal at shard
	// granularity; the worker that hit it logs and terminates, other
	// shards remain up.
	ErrInternal = errors.New("streampipe: internal error")
)

// DuplicateError is not a failure: it documents that an event was dropped
// because its UUID was seen within the dedup window. DeduplicationFilter.
// Accept does not return this - duplicates are silently dropped, per
// spec - but it is exposed so callers instrumenting Accept manually (e.g.
// tests) have a concrete type to assert against.
type DuplicateError struct {
	UUID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("streampipe: duplicate uuid %q within dedup window", e.UUID)
}

// DownstreamError wraps a failure raised by the terminal consumer (or any
// stage downstream of the dispatcher). It is caught by the owning shard
// worker, reported via an observability hook, and never propagated to the
// producer - the event submission already succeeded by the time this
// fires.
type DownstreamError struct {
	ClientID int64
	UUID     string
	Cause    error
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("streampipe: downstream error for client %d (uuid %s): %v", e.ClientID, e.UUID, e.Cause)
}

func (e *DownstreamError) Unwrap() error { return e.Cause }

// ConcurrencyError reports a detected overlap in processing for the same
// ClientID, raised by ConcurrencyGuard. It satisfies errors.Is against
// ErrConcurrencyViolation.
type ConcurrencyError struct {
	ClientID int64
	Waited   bool // true if the bounded-wait policy was used before giving up
}

func (e *ConcurrencyError) Error() string {
	if e.Waited {
		return fmt.Sprintf("streampipe: client %d still locked after bounded wait", e.ClientID)
	}
	return fmt.Sprintf("streampipe: concurrent access detected for client %d", e.ClientID)
}

func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyViolation
}

// ShutdownError is returned by Accept when called after Close. It
// satisfies errors.Is against ErrShutdown.
type ShutdownError struct {
	Stage string
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("streampipe: %s: %v", e.Stage, ErrShutdown)
}

func (e *ShutdownError) Unwrap() error { return ErrShutdown }

// InternalError marks a bug fatal at shard granularity. It satisfies
// errors.Is against ErrInternal.
type InternalError struct {
	Shard int
	Cause error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("streampipe: internal error on shard %d: %v", e.Shard, e.Cause)
}

func (e *InternalError) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	return ErrInternal
}

func (e *InternalError) Is(target error) bool {
	return target == ErrInternal
}
