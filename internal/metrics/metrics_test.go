package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyTracker(t *testing.T) {
	tr := NewLatencyTracker(0.5)
	at := time.Date(2025, 8, 28, 15, 30, 0, 0, time.UTC)
	tr.Now = func() time.Time { return at }
	_, ok := tr.Get("xgb")
	assert.False(t, ok)

	tr.Observe("xgb", 10*time.Millisecond, nil)
	tr.Observe("xgb", 20*time.Millisecond, nil)
	tr.Observe("xgb", 2*time.Second, errors.New("deadline exceeded"))

	got, ok := tr.Get("xgb")
	require.True(t, ok)
	assert.InDelta(t, 15.0, got.EWMAms, 1e-9, "failures do not move the average")
	assert.Equal(t, uint64(2), got.OK)
	assert.Equal(t, uint64(1), got.Error)
	assert.InDelta(t, 1.0/3, got.ErrorRate(), 1e-9)
	assert.Equal(t, 2*time.Second, got.Max)
	assert.Equal(t, at, got.LastAt)
	assert.Equal(t, at, got.LastErrorAt)

	tr.Observe("lr", -time.Millisecond, nil)
	lr, ok := tr.Get("lr")
	require.True(t, ok)
	assert.Zero(t, lr.EWMAms)
	assert.True(t, lr.LastErrorAt.IsZero())

	assert.Len(t, tr.Snapshot(), 2)
	assert.Zero(t, FamilyLatency{}.ErrorRate())
}

func TestNewLatencyTrackerClampsAlpha(t *testing.T) {
	assert.Equal(t, DefaultAlpha, NewLatencyTracker(0).alpha)
	assert.Equal(t, DefaultAlpha, NewLatencyTracker(1.5).alpha)
}

func TestNilLatencyTracker(t *testing.T) {
	var tr *LatencyTracker
	tr.Observe("xgb", time.Millisecond, nil)
	_, ok := tr.Get("xgb")
	assert.False(t, ok)
	assert.Nil(t, tr.Snapshot())
}

func TestCollectors(t *testing.T) {
	c := NewCollectors()
	reg := prometheus.NewRegistry()
	require.NoError(t, c.Register(reg))

	c.ObservePrediction("xgb", "v1", 3*time.Millisecond)
	c.ObservePrediction("xgb", "v1", 4*time.Millisecond)
	c.ObserveError("lr", "model_unavailable")
	c.ObserveFallback("rf")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Predictions.WithLabelValues("xgb", "v1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Errors.WithLabelValues("lr", "model_unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Fallbacks.WithLabelValues("rf")))

	var nilCollectors *Collectors
	nilCollectors.ObserveError("lr", "x")
}
