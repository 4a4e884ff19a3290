// Package legacy reads the unversioned model files that predate the
// registry layout and migrates them into it.
//
// The fallback only exists so deployments that have not run the migration
// keep serving. Remove this package, and the scoring Service's Legacy field,
// once every family has a versioned artifact.
package legacy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"github.com/mcules/model-registry/internal/activity"
	"github.com/mcules/model-registry/internal/model"
	"github.com/mcules/model-registry/internal/registry"
)

// Version is reported for artifact sets served from the legacy layout.
const Version = "legacy"

// DefaultFiles maps each family to its pre-registry model file.
var DefaultFiles = map[string]string{
	"lr":  "logistic_model.json",
	"rf":  "rf_model.json",
	"xgb": "xgb_model.json",
}

// DefaultTransformFiles are the places the shared scaler was kept, in the
// order they are tried. Paths are relative to the resolver root.
var DefaultTransformFiles = []string{
	"scaler.json",
	filepath.Join("preprocess", "scaler.json"),
}

type Resolver struct {
	Root  string
	Files map[string]string
	// TransformFiles are tried in order; the first present one is used.
	TransformFiles []string
}

func NewResolver(root string) *Resolver {
	return &Resolver{Root: root, Files: DefaultFiles, TransformFiles: DefaultTransformFiles}
}

// Families lists the families that have a well-known legacy path, sorted.
func (r *Resolver) Families() []string {
	out := make([]string, 0, len(r.Files))
	for f := range r.Files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Load reads the family's legacy model and the shared transform, if any.
// Missing files yield registry.ErrArtifactNotFound.
func (r *Resolver) Load(family string) (*registry.ArtifactSet, error) {
	raw, tr, err := r.read(family)
	if err != nil {
		return nil, err
	}
	m, err := model.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: legacy %s model: %v", registry.ErrCorruptArtifact, family, err)
	}
	var transform model.Transform
	if tr != nil {
		if transform, err = model.DecodeTransform(tr); err != nil {
			return nil, fmt.Errorf("%w: legacy transform: %v", registry.ErrCorruptArtifact, err)
		}
	}
	return &registry.ArtifactSet{
		Family:    family,
		Version:   Version,
		Model:     m,
		Transform: transform,
		Digest:    registry.Digest(raw),
		LoadedAt:  time.Now(),
		Legacy:    true,
	}, nil
}

func (r *Resolver) read(family string) (modelBytes, transformBytes []byte, err error) {
	name, ok := r.Files[family]
	if !ok || r.Root == "" {
		return nil, nil, fmt.Errorf("%w: no legacy path for family %q", registry.ErrArtifactNotFound, family)
	}
	modelBytes, err = os.ReadFile(filepath.Join(r.Root, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: legacy %s model", registry.ErrArtifactNotFound, family)
		}
		return nil, nil, err
	}
	for _, candidate := range r.TransformFiles {
		transformBytes, err = os.ReadFile(filepath.Join(r.Root, candidate))
		switch {
		case err == nil:
			return modelBytes, transformBytes, nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, nil, err
		}
	}
	return modelBytes, nil, nil
}

// Migrated describes one family moved into the versioned layout.
type Migrated struct {
	Family  string
	Version string
}

// Migrate saves every present legacy model as a new promoted version.
// Families without a legacy file are skipped.
func Migrate(ctx context.Context, store *registry.Store, r *Resolver, log *activity.Log) ([]Migrated, error) {
	logger := logr.FromContextOrDiscard(ctx)
	var out []Migrated
	for _, family := range r.Families() {
		set, err := r.Load(family)
		if errors.Is(err, registry.ErrArtifactNotFound) {
			logger.Info("Skipping family without legacy model", "family", family)
			continue
		}
		if err != nil {
			return out, fmt.Errorf("migrate %s: %w", family, err)
		}
		version, err := store.Save(ctx, registry.SaveRequest{
			Family:    family,
			Model:     set.Model,
			Transform: set.Transform,
			Note:      "migrated from legacy model file; metrics unknown",
		})
		if err != nil {
			return out, fmt.Errorf("migrate %s: %w", family, err)
		}
		log.Add(activity.Event{Type: activity.EventMigrate, Family: family, Version: version})
		logger.Info("Migrated legacy model", "family", family, "version", version)
		out = append(out, Migrated{Family: family, Version: version})
	}
	return out, nil
}
