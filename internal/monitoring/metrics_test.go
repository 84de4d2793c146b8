package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordProbe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordProbe(true, 10*time.Millisecond)
	m.RecordProbe(false, 2*time.Second)
	m.RecordProbe(true, 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProbesTotal.WithLabelValues("alive")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbesTotal.WithLabelValues("dead")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ServerUp))
}

func TestMetricsServerState(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetServerState("running")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ServerState.WithLabelValues("running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ServerState.WithLabelValues("stopped")))

	m.SetServerState("unreachable")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ServerState.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ServerState.WithLabelValues("unreachable")))
}

func TestMetricsObserveTransform(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveTransform("resize", 20*time.Millisecond, nil)
	m.ObserveTransform("resize", 30*time.Millisecond, errors.New("boom"))
	m.RecordTransition(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransformsTotal.WithLabelValues("resize", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransformsTotal.WithLabelValues("resize", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LivenessTransitions.WithLabelValues("dead")))
}

func TestMetricsReuseRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewMetrics(reg)
	second := NewMetrics(reg)

	second.RecordProbe(true, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(first.ProbesTotal.WithLabelValues("alive")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordProbe(true, time.Millisecond)
		m.RecordTransition(true)
		m.SetServerState("running")
		m.ObserveTransform("blur", time.Millisecond, nil)
	})
}

func TestMetricsWithoutRegistry(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordProbe(false, time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ServerUp))
}
