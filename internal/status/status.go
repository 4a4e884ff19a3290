// Package status reports, per family, what the current pointer resolves to
// and which feature contract that version expects.
package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/mcules/model-registry/internal/features"
	"github.com/mcules/model-registry/internal/logging"
	"github.com/mcules/model-registry/internal/metrics"
	"github.com/mcules/model-registry/internal/registry"
)

// maxParallel bounds how many families are inspected concurrently.
const maxParallel = 8

type FamilyStatus struct {
	Version         string               `json:"version"`
	Features        []string             `json:"features"`
	DefaultFeatures bool                 `json:"default_features"`
	Constraints     features.Constraints `json:"constraints"`
	Metrics         registry.Metrics     `json:"metrics,omitempty"`
	CreatedAt       string               `json:"created_at,omitempty"`
	Versions        []string             `json:"versions,omitempty"`
	Cached          bool                 `json:"cached"`
	CachedVersions  []string             `json:"cached_versions,omitempty"`
	LatencyEWMAms   *float64             `json:"latency_ewma_ms,omitempty"`
	ErrorRate       *float64             `json:"error_rate,omitempty"`
}

type Reporter struct {
	Store              *registry.Store
	DefaultConstraints features.Constraints
	// Latency is optional.
	Latency *metrics.LatencyTracker
}

func NewReporter(store *registry.Store, defaults features.Constraints) *Reporter {
	return &Reporter{Store: store, DefaultConstraints: defaults}
}

// Status reports every known family. A family that cannot be resolved or
// whose metadata cannot be read maps to nil; it never affects the others.
func (r *Reporter) Status(ctx context.Context) (map[string]*FamilyStatus, error) {
	families, err := r.Store.ListFamilies()
	if err != nil {
		return nil, err
	}
	logger := logr.FromContextOrDiscard(ctx)

	var mu sync.Mutex
	out := make(map[string]*FamilyStatus, len(families))

	g := errgroup.Group{}
	g.SetLimit(maxParallel)
	for _, family := range families {
		g.Go(func() error {
			st, err := r.family(family)
			if err != nil {
				logger.V(logging.VERBOSE).Info("Family unavailable in status", "family", family, "error", err.Error())
				st = nil
			}
			mu.Lock()
			out[family] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (r *Reporter) family(family string) (st *FamilyStatus, err error) {
	defer func() {
		if p := recover(); p != nil {
			st, err = nil, fmt.Errorf("panic inspecting family %q: %v", family, p)
		}
	}()

	version, err := r.Store.ResolvePointer(family, registry.Current)
	if err != nil {
		return nil, err
	}
	meta, err := r.Store.LoadMetadata(family, version)
	if err != nil {
		return nil, err
	}
	versions, err := r.Store.ListVersions(family)
	if err != nil {
		return nil, err
	}

	order, isDefault := features.Order(meta.Features)
	st = &FamilyStatus{
		Version:         version,
		Features:        order,
		DefaultFeatures: isDefault,
		Constraints:     features.Effective(meta.Constraints, r.DefaultConstraints),
		Metrics:         meta.Metrics,
		CreatedAt:       meta.CreatedAt,
		Versions:        versions,
		Cached:          r.Store.Cached(family, version),
		CachedVersions:  r.Store.Cache().Versions(family),
	}
	if r.Latency != nil {
		if l, ok := r.Latency.Get(family); ok {
			ms, rate := l.EWMAms, l.ErrorRate()
			st.LatencyEWMAms = &ms
			st.ErrorRate = &rate
		}
	}
	return st, nil
}

// Snapshot is a point-in-time copy of Status with a timestamp, for surfaces
// that serve it as a document.
type Snapshot struct {
	At       time.Time                `json:"at"`
	Families map[string]*FamilyStatus `json:"families"`
}

func (r *Reporter) Snapshot(ctx context.Context) (Snapshot, error) {
	fams, err := r.Status(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{At: time.Now().UTC(), Families: fams}, nil
}
