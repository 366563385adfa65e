package streampipe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/streampipe/dedup"
	"github.com/joeycumines/streampipe/dispatcher"
	"github.com/joeycumines/streampipe/guard"
	"github.com/joeycumines/streampipe/logging"
)

// Terminal is the user-supplied business-logic consumer at the end of the
// chain: synchronous, may block for the full service time, may fail. It
// must be safe to call concurrently for distinct ClientIDs, but need not be
// safe for overlapping calls sharing a ClientID - the dispatcher guarantees
// that overlap cannot happen.
type Terminal interface {
	Process(ctx context.Context, event Event) (Event, error)
}

// TerminalFunc adapts a plain function to Terminal.
type TerminalFunc func(ctx context.Context, event Event) (Event, error)

// Process implements Terminal.
func (f TerminalFunc) Process(ctx context.Context, event Event) (Event, error) { return f(ctx, event) }

// Hooks are the pipeline-level observability callbacks (latency), layered
// on top of the per-stage Hooks each sub-package already exposes via
// Config's embedded fields. A nil field is simply not called.
type Hooks struct {
	// OnLatency is called once per event, immediately before Terminal.Process
	// runs, with the elapsed time since Event.CreatedAt.
	OnLatency func(d time.Duration)
}

// Config configures Build. Workers and Terminal are required; every other
// field has a documented zero-value default, in the pointer-config-plus-
// defaults idiom of microbatch.BatcherConfig (_examples teacher,
// microbatch/microbatch.go): NewBatcher's config may be nil and unset
// numeric fields silently fall back to a built-in default, except that
// here Workers has no such default, since the spec requires the operator
// size it explicitly (spec.md §6).
type Config struct {
	// Workers is the number of dispatcher shards. Required, must be >= 1.
	Workers int

	// DedupWindow is the sliding dedup window. Defaults to 10s (the
	// product requirement in spec.md §1) if zero.
	DedupWindow time.Duration

	// Terminal is the user-supplied business logic. Required.
	Terminal Terminal

	// GuardEnabled wires a ConcurrencyGuard in front of Terminal. Defaults
	// to false, matching spec.md §6's "default false in production wiring".
	GuardEnabled bool
	// GuardPolicy selects the ConcurrencyGuard's behavior on contention.
	// Only consulted if GuardEnabled.
	GuardPolicy guard.Policy
	// GuardWaitTimeout bounds guard.BoundedWait. Defaults to 1s; values
	// above 1s are capped at 1s.
	GuardWaitTimeout time.Duration

	// HashRouting routes by FNV-1a(ClientID) mod Workers instead of
	// ClientID mod Workers, for sparse/adversarial ClientID spaces
	// (REDESIGN FLAG, spec.md §9).
	HashRouting bool

	// QueueBound caps each shard's queue depth; 0 (default) is unbounded.
	QueueBound int
	// OverflowPolicy governs behavior once a bounded queue is full.
	OverflowPolicy dispatcher.OverflowPolicy

	// Logger receives stage-lifecycle log events. Defaults to a no-op
	// logger (logging.NewNop) if unset, matching microbatch's "everything
	// optional, sane zero value" style.
	Logger logging.Logger

	// DedupHooks, DispatcherHooks, GuardHooks and Hooks wire observability
	// callbacks (e.g. streampipe/metrics.Metrics' methods) into each
	// stage. All are optional.
	DedupHooks      dedup.Hooks
	DispatcherHooks dispatcher.Hooks
	GuardHooks      guard.Hooks
	Hooks           Hooks
}

// Pipeline is the assembled chain: Dedup is the registered entry point for
// the producer, wrapping Dispatcher, which wraps the optional Guard, which
// wraps the caller's Terminal.
type Pipeline struct {
	cfg    Config
	dedup  *dedup.Filter
	disp   *dispatcher.Dispatcher[Event]
	logger logging.Logger
}

// terminalAdapter adapts a Terminal plus the pipeline's latency hook into
// the dispatcher.Next[Event] / guard.Next[Event] structural contract.
type terminalAdapter struct {
	terminal Terminal
	onLat    func(time.Duration)
}

func (t *terminalAdapter) Accept(ctx context.Context, event Event) error {
	if t.onLat != nil {
		t.onLat(time.Since(event.CreatedAt))
	}
	if _, err := t.terminal.Process(ctx, event); err != nil {
		return &DownstreamError{ClientID: event.ClientID, UUID: event.UUID, Cause: err}
	}
	return nil
}

// guardAdapter wraps a guard.Guard[Event], translating the package-local
// *guard.Violation it returns into the root package's *ConcurrencyError so
// callers inspecting Pipeline/Dispatcher hook errors see one consistent
// error taxonomy regardless of which stages are wired in.
type guardAdapter struct {
	guard *guard.Guard[Event]
}

func (g *guardAdapter) Accept(ctx context.Context, event Event) error {
	err := g.guard.Accept(ctx, event)
	if err == nil {
		return nil
	}
	var violation *guard.Violation
	if errors.As(err, &violation) {
		return &ConcurrencyError{ClientID: violation.Key, Waited: violation.Waited}
	}
	return err
}

func clientIDOf(e Event) int64 { return e.ClientID }

// Build assembles the pipeline outside-in (terminal → optional
// ConcurrencyGuard → ShardedDispatcher → DeduplicationFilter), per spec.md
// §4.5, and registers the DeduplicationFilter as the single entry point.
// Callers must eventually call Pipeline.Close.
func Build(cfg Config) (*Pipeline, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("streampipe: Workers must be positive, got %d", cfg.Workers)
	}
	if cfg.Terminal == nil {
		return nil, errors.New("streampipe: Terminal is required")
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}

	var next dispatcher.Next[Event] = &terminalAdapter{
		terminal: cfg.Terminal,
		onLat:    cfg.Hooks.OnLatency,
	}

	guardHooks := cfg.GuardHooks
	userOnViolation := guardHooks.OnViolation
	guardHooks.OnViolation = func(key int64, waited bool) {
		cfg.Logger.Err().Err(&ConcurrencyError{ClientID: key, Waited: waited}).Log("streampipe: concurrency violation detected")
		if userOnViolation != nil {
			userOnViolation(key, waited)
		}
	}

	if cfg.GuardEnabled {
		g, err := guard.New(guard.Config[Event]{
			KeyFunc:     clientIDOf,
			Next:        next,
			Policy:      cfg.GuardPolicy,
			WaitTimeout: cfg.GuardWaitTimeout,
			Hooks:       guardHooks,
		})
		if err != nil {
			return nil, fmt.Errorf("streampipe: building guard: %w", err)
		}
		next = &guardAdapter{guard: g}
	}

	dispatcherHooks := cfg.DispatcherHooks
	userOnInternal := dispatcherHooks.OnInternalError
	dispatcherHooks.OnInternalError = func(shard int, err error) {
		cfg.Logger.Err().Err(&InternalError{Shard: shard, Cause: err}).Log("streampipe: shard terminated by internal error")
		if userOnInternal != nil {
			userOnInternal(shard, err)
		}
	}
	userOnCompleted := dispatcherHooks.OnCompleted
	dispatcherHooks.OnCompleted = func(shard int, err error) {
		if err != nil {
			cfg.Logger.Warning().Err(err).Log("streampipe: downstream error")
		}
		if userOnCompleted != nil {
			userOnCompleted(shard, err)
		}
	}

	disp, err := dispatcher.New[Event](dispatcher.Config[Event]{
		Workers:        cfg.Workers,
		KeyFunc:        clientIDOf,
		HashRouting:    cfg.HashRouting,
		QueueBound:     cfg.QueueBound,
		OverflowPolicy: cfg.OverflowPolicy,
		Hooks:          dispatcherHooks,
		Next:           next,
	})
	if err != nil {
		return nil, fmt.Errorf("streampipe: building dispatcher: %w", err)
	}

	f := dedup.New(cfg.DedupWindow, cfg.DedupHooks)

	cfg.Logger.Info().Log("streampipe: pipeline started")

	return &Pipeline{cfg: cfg, dedup: f, disp: disp, logger: cfg.Logger}, nil
}

// Accept is the producer-facing entry point: the DeduplicationFilter's
// Accept, followed (for non-duplicates) by a non-blocking enqueue onto the
// ShardedDispatcher. Returns ErrShutdown (wrapped as *ShutdownError) once
// Close has been called.
func (p *Pipeline) Accept(ctx context.Context, event Event) error {
	if !p.dedup.Accept(event.UUID) {
		return nil
	}
	if err := p.disp.Accept(ctx, event); err != nil {
		if errors.Is(err, dispatcher.ErrShutdown) {
			return &ShutdownError{Stage: "dispatcher"}
		}
		return err
	}
	return nil
}

// QueueDepths returns each shard's current queue depth, for
// dispatcher.queue_depth[i] / .mean observability.
func (p *Pipeline) QueueDepths() []int { return p.disp.QueueDepths() }

// DedupSize returns the current (approximate) number of tracked uuids, for
// dedup.cache_size observability.
func (p *Pipeline) DedupSize() int { return p.dedup.Size() }

// Close stops accepting new events, drains every shard's backlog, joins
// all worker goroutines, and stops the dedup filter's background reaper.
// If ctx is done before drain completes, the context passed to
// Terminal.Process is canceled for in-flight and remaining events, Close
// still waits for every shard's backlog to be processed, and then returns
// ctx's error.
func (p *Pipeline) Close(ctx context.Context) error {
	err := p.disp.Close(ctx)
	_ = p.dedup.Close()
	p.logger.Info().Log("streampipe: pipeline closed")
	return err
}
