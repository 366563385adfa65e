package streampipe

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/streampipe/dispatcher"
)

// TestPipeline_PanicTerminatesOnlyOneShard exercises the spec's "Internal"
// error kind (spec.md §7): a panic inside Terminal.Process is recovered,
// reported via DispatcherHooks.OnInternalError, and terminates only the
// shard that hit it - every other shard keeps processing.
func TestPipeline_PanicTerminatesOnlyOneShard(t *testing.T) {
	terminal := newRecordingTerminal()

	panicky := TerminalFunc(func(ctx context.Context, event Event) (Event, error) {
		if event.ClientID == 0 {
			panic("simulated corruption")
		}
		return terminal.Process(ctx, event)
	})

	var internalErrs int32
	p, err := Build(Config{
		Workers:  4,
		Terminal: panicky,
		DispatcherHooks: dispatcher.Hooks{
			OnInternalError: func(shard int, err error) { atomic.AddInt32(&internalErrs, 1) },
		},
	})
	require.NoError(t, err)
	defer p.Close(context.Background())

	require.NoError(t, p.Accept(context.Background(), Event{CreatedAt: time.Now(), ClientID: 0, UUID: "boom"}))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&internalErrs) == 1 }, time.Second, time.Millisecond)

	for c := int64(1); c < 4; c++ {
		require.NoError(t, p.Accept(context.Background(), Event{
			CreatedAt: time.Now(),
			ClientID:  c,
			UUID:      eventUUID(c, 0),
		}))
	}
	require.Eventually(t, func() bool { return terminal.total() == 3 }, time.Second, time.Millisecond)

	err = p.Accept(context.Background(), Event{CreatedAt: time.Now(), ClientID: 0, UUID: "after-crash"})
	var shutdownErr *ShutdownError
	assert.ErrorAs(t, err, &shutdownErr, "the shard that panicked stays terminated; submitting to it again fails fast")
}
