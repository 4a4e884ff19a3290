package status

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcules/model-registry/internal/features"
	"github.com/mcules/model-registry/internal/logging"
	"github.com/mcules/model-registry/internal/metrics"
	"github.com/mcules/model-registry/internal/model"
	"github.com/mcules/model-registry/internal/registry"
)

func TestStatusIsolatesFamilies(t *testing.T) {
	store, err := registry.Open(t.TempDir(), 0)
	require.NoError(t, err)
	ctx := logging.NewTestLoggerIntoContext(context.Background())
	m := &model.LogisticRegression{Coef: []float64{1, 1, 1, 1}}

	_, err = store.Save(ctx, registry.SaveRequest{
		Family:      "xgb",
		Model:       m,
		Version:     "v20250101_000000",
		Features:    []string{"amount", "hour", "dayofweek", "location"},
		Constraints: features.Constraints{"amount": {Min: features.Float(5.01)}},
	})
	require.NoError(t, err)
	_, err = store.Save(ctx, registry.SaveRequest{Family: "lr", Model: &model.LogisticRegression{Coef: []float64{1, 1, 1, 1, 1}}, Version: "v20250101_000000"})
	require.NoError(t, err)
	_, err = store.Save(ctx, registry.SaveRequest{Family: "rf", Model: m, Version: "v20250101_000000"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "rf", "v20250101_000000", "metadata.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(store.Root(), "svm"), 0o755))

	r := NewReporter(store, features.DefaultConstraints)
	r.Latency = metrics.NewLatencyTracker(0.2)
	r.Latency.Observe("xgb", 4*time.Millisecond, nil)

	got, err := r.Status(ctx)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Nil(t, got["rf"], "corrupt metadata")
	assert.Nil(t, got["svm"], "no pointer")

	xgb := got["xgb"]
	require.NotNil(t, xgb)
	assert.Equal(t, "v20250101_000000", xgb.Version)
	assert.Equal(t, []string{"amount", "hour", "dayofweek", "location"}, xgb.Features)
	assert.False(t, xgb.DefaultFeatures)
	assert.Equal(t, 5.01, *xgb.Constraints["amount"].Min)
	assert.Equal(t, 23.0, *xgb.Constraints["hour"].Max, "defaults fill undeclared features")
	require.NotNil(t, xgb.LatencyEWMAms)
	assert.InDelta(t, 4.0, *xgb.LatencyEWMAms, 1e-9)
	assert.Equal(t, 0.0, *xgb.ErrorRate)

	lr := got["lr"]
	require.NotNil(t, lr)
	assert.True(t, lr.DefaultFeatures)
	assert.Equal(t, features.DefaultOrder, lr.Features)
	assert.Equal(t, []string{"v20250101_000000"}, lr.Versions)
	assert.Nil(t, lr.LatencyEWMAms)
	assert.False(t, lr.Cached)

	_, err = store.Load(ctx, "lr", "v20250101_000000")
	require.NoError(t, err)
	got, err = r.Status(ctx)
	require.NoError(t, err)
	assert.True(t, got["lr"].Cached)
	assert.Equal(t, []string{"v20250101_000000"}, got["lr"].CachedVersions)
}

func TestSnapshotEmptyRegistry(t *testing.T) {
	store, err := registry.Open(t.TempDir(), 0)
	require.NoError(t, err)

	snap, err := NewReporter(store, nil).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Families)
	assert.False(t, snap.At.IsZero())
}
