package dedup

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_AcceptNew(t *testing.T) {
	f := New(10*time.Second, Hooks{})
	defer f.Close()

	assert.True(t, f.Accept("a"))
	assert.Equal(t, 1, f.Size())
}

func TestFilter_AcceptDuplicateWithinWindow(t *testing.T) {
	var duplicates int64
	f := New(10*time.Second, Hooks{
		OnDuplicate: func() { atomic.AddInt64(&duplicates, 1) },
	})
	defer f.Close()

	require.True(t, f.Accept("x"))
	assert.False(t, f.Accept("x"))
	assert.Equal(t, int64(1), atomic.LoadInt64(&duplicates))
	assert.Equal(t, 1, f.Size())
}

func TestFilter_AcceptAfterExpiryTreatedAsNew(t *testing.T) {
	f := New(30*time.Millisecond, Hooks{})
	defer f.Close()

	require.True(t, f.Accept("x"))
	time.Sleep(60 * time.Millisecond)
	assert.True(t, f.Accept("x"), "entry should be treated as new once expired")
}

func TestFilter_ReaperEvictsExpiredEntries(t *testing.T) {
	f := New(20*time.Millisecond, Hooks{})
	defer f.Close()

	require.True(t, f.Accept("a"))
	require.True(t, f.Accept("b"))
	assert.Equal(t, 2, f.Size())

	require.Eventually(t, func() bool {
		return f.Size() == 0
	}, time.Second, 5*time.Millisecond, "reaper should evict expired entries without further Accept calls")
}

func TestFilter_ConcurrentAccept(t *testing.T) {
	f := New(time.Second, Hooks{})
	defer f.Close()

	const goroutines = 50
	var wg sync.WaitGroup
	var accepted int64
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			if f.Accept("shared-uuid") {
				atomic.AddInt64(&accepted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&accepted), "exactly one caller should win the race for a shared uuid")
}

func TestFilter_PanicsOnNonPositiveWindow(t *testing.T) {
	assert.Panics(t, func() { New(0, Hooks{}) })
	assert.Panics(t, func() { New(-time.Second, Hooks{}) })
}
