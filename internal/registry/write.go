package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/mcules/model-registry/internal/activity"
	"github.com/mcules/model-registry/internal/features"
	"github.com/mcules/model-registry/internal/model"
)

// SaveRequest describes a new version. Version is optional; by default it
// is derived from the current time.
type SaveRequest struct {
	Family      string
	Model       model.Model
	Transform   model.Transform
	Metrics     Metrics
	Version     string
	Features    []string
	Constraints features.Constraints
	Note        string
}

// Promote points the family's current.txt at version. Readers observe either
// the previous or the new pointer, never a partial write.
func (s *Store) Promote(ctx context.Context, family, version string) error {
	if err := checkName("family", family); err != nil {
		return err
	}
	if err := checkName("version", version); err != nil {
		return err
	}
	mu := s.familyLock(family)
	mu.Lock()
	defer mu.Unlock()

	return s.promoteLocked(ctx, family, version)
}

func (s *Store) promoteLocked(ctx context.Context, family, version string) error {
	fi, err := os.Stat(s.versionDir(family, version))
	if err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: cannot promote %s@%s", ErrArtifactNotFound, family, version)
	}

	prev, err := s.readPointer(family)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.pointerPath(family), []byte(version), 0o644); err != nil {
		return fmt.Errorf("write pointer for %q: %w", family, err)
	}

	now := s.Now()
	s.logger(ctx).Info("Promoted version", "family", family, "version", version, "previous", prev)
	s.Activity.Add(activity.Event{At: now, Type: activity.EventPromote, Family: family, Version: version, Note: prev})
	if s.Recorder != nil {
		if err := s.Recorder.RecordPromotion(ctx, family, prev, version, now); err != nil {
			// The pointer is already switched; the audit trail is best-effort.
			s.logger(ctx).Error(err, "Failed to record promotion", "family", family, "version", version)
		}
	}
	return nil
}

// Save writes a new version directory and promotes it. Existing version
// directories are never touched.
func (s *Store) Save(ctx context.Context, req SaveRequest) (string, error) {
	if err := checkName("family", req.Family); err != nil {
		return "", err
	}
	if req.Model == nil {
		return "", errors.New("save: model is required")
	}
	if req.Version != "" {
		if err := checkName("version", req.Version); err != nil {
			return "", err
		}
	}

	modelBytes, err := model.Encode(req.Model)
	if err != nil {
		return "", err
	}
	var transformBytes []byte
	if req.Transform != nil {
		if transformBytes, err = model.EncodeTransform(req.Transform); err != nil {
			return "", err
		}
	}

	mu := s.familyLock(req.Family)
	mu.Lock()
	defer mu.Unlock()

	now := s.Now()
	version, err := s.allocateVersion(req.Family, req.Version, now)
	if err != nil {
		return "", err
	}

	meta := Metadata{
		Version:     version,
		Family:      req.Family,
		CreatedAt:   now.Format(time.RFC3339Nano),
		Metrics:     req.Metrics,
		Features:    req.Features,
		Constraints: req.Constraints,
		Note:        req.Note,
		ModelDigest: Digest(modelBytes),
	}
	if meta.Metrics == nil {
		meta.Metrics = Metrics{}
	}
	if err := s.writeVersion(req.Family, version, modelBytes, transformBytes, meta); err != nil {
		return "", err
	}

	s.logger(ctx).Info("Saved version", "family", req.Family, "version", version, "kind", req.Model.Kind())
	s.Activity.Add(activity.Event{At: now, Type: activity.EventSave, Family: req.Family, Version: version})

	if err := s.promoteLocked(ctx, req.Family, version); err != nil {
		return version, err
	}
	return version, nil
}

// maxVersionSuffix bounds the _N suffixes tried for one timestamp.
const maxVersionSuffix = 1000

func (s *Store) allocateVersion(family, requested string, now time.Time) (string, error) {
	if requested != "" {
		switch _, err := os.Stat(s.versionDir(family, requested)); {
		case err == nil:
			return "", fmt.Errorf("%w: %s@%s", ErrVersionExists, family, requested)
		case !errors.Is(err, fs.ErrNotExist):
			return "", fmt.Errorf("allocate version: %w", err)
		}
		return requested, nil
	}
	base := "v" + now.Format(versionTime)
	version := base
	for i := 1; i <= maxVersionSuffix; i++ {
		_, err := os.Stat(s.versionDir(family, version))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return version, nil
		case err != nil:
			return "", fmt.Errorf("allocate version: %w", err)
		}
		version = base + "_" + strconv.Itoa(i)
	}
	return "", fmt.Errorf("allocate version: %w: %s has %d versions at %s", ErrVersionExists, family, maxVersionSuffix, base)
}

// writeVersion stages all files in a temp directory next to the final one
// and renames it into place.
func (s *Store) writeVersion(family, version string, modelBytes, transformBytes []byte, meta Metadata) error {
	famDir := s.familyDir(family)
	if err := os.MkdirAll(famDir, 0o755); err != nil {
		return fmt.Errorf("create family dir: %w", err)
	}
	tmpDir, err := os.MkdirTemp(famDir, ".tmp-"+version+"-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(tmpDir, modelFile), modelBytes, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	if transformBytes != nil {
		if err := writeFileAtomic(filepath.Join(tmpDir, transformFile), transformBytes, 0o644); err != nil {
			return fmt.Errorf("write transform: %w", err)
		}
	}
	if err := writeFileAtomic(filepath.Join(tmpDir, metadataFile), metaBytes, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Rename(tmpDir, s.versionDir(family, version)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s@%s", ErrVersionExists, family, version)
		}
		return fmt.Errorf("commit version: %w", err)
	}
	committed = true
	return nil
}

// FeatureChange describes the outcome of SetFeatures.
type FeatureChange struct {
	Source   string
	Version  string // new version id; empty on dry run
	Previous []string
	Features []string
}

// SetFeatures republishes the selected version with a new feature order.
// The artifacts are copied into a fresh version directory so the source
// stays immutable; the copy is promoted only if the source was current.
func (s *Store) SetFeatures(ctx context.Context, family, selector string, cols []string, dryRun bool) (FeatureChange, error) {
	if len(cols) == 0 {
		return FeatureChange{}, errors.New("set features: empty feature list")
	}
	source, err := s.ResolvePointer(family, selector)
	if err != nil {
		return FeatureChange{}, err
	}
	if err := checkName("version", source); err != nil {
		return FeatureChange{}, err
	}

	dir := s.versionDir(family, source)
	modelBytes, err := os.ReadFile(filepath.Join(dir, modelFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FeatureChange{}, fmt.Errorf("%w: %s@%s", ErrArtifactNotFound, family, source)
		}
		return FeatureChange{}, err
	}
	transformBytes, err := os.ReadFile(filepath.Join(dir, transformFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return FeatureChange{}, err
	}
	meta, _, err := s.readMetadata(family, source)
	if err != nil {
		return FeatureChange{}, err
	}

	change := FeatureChange{Source: source, Previous: meta.Features, Features: slices.Clone(cols)}
	if dryRun {
		return change, nil
	}

	mu := s.familyLock(family)
	mu.Lock()
	defer mu.Unlock()

	now := s.Now()
	version, err := s.allocateVersion(family, "", now)
	if err != nil {
		return FeatureChange{}, err
	}
	meta.Version = version
	meta.Family = family
	meta.CreatedAt = now.Format(time.RFC3339Nano)
	meta.Features = change.Features
	meta.ModelDigest = Digest(modelBytes)
	meta.Note = "features updated from " + source
	if meta.Metrics == nil {
		meta.Metrics = Metrics{}
	}
	if err := s.writeVersion(family, version, modelBytes, transformBytes, meta); err != nil {
		return FeatureChange{}, err
	}
	change.Version = version
	s.Activity.Add(activity.Event{At: now, Type: activity.EventSave, Family: family, Version: version, Note: meta.Note})

	current, err := s.readPointer(family)
	if err != nil {
		return change, err
	}
	if current == source {
		if err := s.promoteLocked(ctx, family, version); err != nil {
			return change, err
		}
	}
	return change, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, "."+base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
