package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetrics_HooksUpdateCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OnDuplicate()
	m.OnDuplicate()
	require.Equal(t, float64(2), counterValue(t, m.dedupDuplicates))

	m.OnDedupSize(42)
	require.Equal(t, float64(42), gaugeValue(t, m.dedupCacheSize))

	m.OnEnqueue(0, 3)
	require.Equal(t, float64(3), gaugeValue(t, m.queueDepth.WithLabelValues("0")))
	m.OnDequeue(0, 2)
	require.Equal(t, float64(2), gaugeValue(t, m.queueDepth.WithLabelValues("0")))

	m.SetQueueDepthMean(1.5)
	require.Equal(t, 1.5, gaugeValue(t, m.queueDepthMean))

	m.OnDropped(0)
	require.Equal(t, float64(1), counterValue(t, m.droppedTotal))

	m.OnCompleted(0, nil)
	m.OnCompleted(0, errors.New("boom"))
	require.Equal(t, float64(1), counterValue(t, m.dispatchedTotal.WithLabelValues("success")))

	m.OnViolation(7, false)
	require.Equal(t, float64(1), counterValue(t, m.guardViolations))

	m.ObserveLatency(5 * time.Millisecond)
}
