package warmer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcules/model-registry/internal/activity"
	"github.com/mcules/model-registry/internal/logging"
	"github.com/mcules/model-registry/internal/model"
	"github.com/mcules/model-registry/internal/registry"
)

func save(t *testing.T, store *registry.Store, family, version string) {
	t.Helper()
	_, err := store.Save(context.Background(), registry.SaveRequest{
		Family:  family,
		Model:   &model.LogisticRegression{Coef: []float64{1, 2}},
		Version: version,
	})
	require.NoError(t, err)
}

func newWarmer(t *testing.T) (*Warmer, *registry.Store) {
	t.Helper()
	store, err := registry.Open(t.TempDir(), 0)
	require.NoError(t, err)
	w := New(store)
	w.Log = logging.NewTestLogger()
	w.Activity = activity.New(16)
	w.Debounce = 10 * time.Millisecond
	return w, store
}

func countWarms(l *activity.Log) int {
	n := 0
	for _, e := range l.List() {
		if e.Type == activity.EventWarm {
			n++
		}
	}
	return n
}

func TestWarmOnce(t *testing.T) {
	w, store := newWarmer(t)
	save(t, store, "xgb", "v1")
	save(t, store, "rf", "v1")
	require.Equal(t, 0, store.Cache().Len())

	require.NoError(t, w.WarmOnce(context.Background()))
	assert.True(t, store.Cached("xgb", "v1"))
	assert.True(t, store.Cached("rf", "v1"))

	require.NoError(t, w.WarmOnce(context.Background()))
	assert.Equal(t, 2, countWarms(w.Activity), "an unchanged pointer is not re-announced")
}

func TestWarmOnceReportsBrokenFamilies(t *testing.T) {
	w, store := newWarmer(t)
	save(t, store, "xgb", "v1")
	require.NoError(t, os.MkdirAll(filepath.Join(store.Root(), "lr"), 0o755))

	err := w.WarmOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrPointerNotFound)
	assert.Contains(t, err.Error(), "lr")
	assert.True(t, store.Cached("xgb", "v1"), "other families are still warmed")
}

func TestRunFollowsPromotions(t *testing.T) {
	w, store := newWarmer(t)
	save(t, store, "xgb", "v1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool { return store.Cached("xgb", "v1") }, 2*time.Second, 10*time.Millisecond)

	// Give the watcher time to register before changing the pointer.
	time.Sleep(50 * time.Millisecond)
	save(t, store, "xgb", "v2")
	require.Eventually(t, func() bool { return store.Cached("xgb", "v2") }, 5*time.Second, 10*time.Millisecond)

	save(t, store, "rf", "v1")
	require.Eventually(t, func() bool { return store.Cached("rf", "v1") }, 5*time.Second, 10*time.Millisecond)
}
