// Package registry is the on-disk versioned artifact store:
//
//	<root>/<family>/<version>/model.json
//	<root>/<family>/<version>/preprocess.json   (optional)
//	<root>/<family>/<version>/metadata.json
//	<root>/<family>/current.txt                 (version id)
//
// Version directories are append-only. The only mutable file is a family's
// current.txt, which is replaced by atomic rename.
package registry

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/crypto/blake2b"

	"github.com/mcules/model-registry/internal/activity"
	"github.com/mcules/model-registry/internal/logging"
	"github.com/mcules/model-registry/internal/model"
)

// ArtifactSet is a loaded, immutable bundle for one concrete version.
type ArtifactSet struct {
	Family    string
	Version   string
	Model     model.Model
	Transform model.Transform // nil when the version has no preprocessing step
	Metadata  Metadata
	// Digest is the BLAKE2b-256 hex digest of the model artifact bytes.
	Digest   string
	LoadedAt time.Time
	// Legacy marks sets read from the unversioned pre-registry layout.
	Legacy bool
}

// PromotionRecorder is notified after a pointer has been switched.
type PromotionRecorder interface {
	RecordPromotion(ctx context.Context, family, from, to string, at time.Time) error
}

type Store struct {
	root  string
	cache *Cache

	Log      logr.Logger
	Activity *activity.Log
	Recorder PromotionRecorder
	Now      func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Open creates root if needed and returns a store with its own artifact cache.
func Open(root string, cacheSize int) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create model root: %w", err)
	}
	cache, err := NewCache(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{
		root:  root,
		cache: cache,
		Log:   logr.Discard(),
		Now:   time.Now,
		locks: map[string]*sync.Mutex{},
	}, nil
}

func (s *Store) Root() string  { return s.root }
func (s *Store) Cache() *Cache { return s.cache }

func (s *Store) logger(ctx context.Context) logr.Logger {
	if l, err := logr.FromContext(ctx); err == nil {
		return l
	}
	return s.Log
}

func (s *Store) familyLock(family string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	mu := s.locks[family]
	if mu == nil {
		mu = &sync.Mutex{}
		s.locks[family] = mu
	}
	return mu
}

// ResolvePointer turns a selector into a concrete version. Current reads the
// family's pointer file; any other selector is returned unchanged and is
// checked when loaded.
func (s *Store) ResolvePointer(family, selector string) (string, error) {
	if err := checkName("family", family); err != nil {
		return "", err
	}
	if selector != Current {
		return selector, nil
	}

	version, err := s.readPointer(family)
	if err != nil {
		return "", err
	}
	if version == "" {
		return "", fmt.Errorf("%w: family %q", ErrPointerNotFound, family)
	}
	if err := checkName("version", version); err != nil {
		return "", fmt.Errorf("%w: family %q points to %q", ErrDanglingPointer, family, version)
	}
	if _, err := os.Stat(s.versionDir(family, version)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: family %q points to %q", ErrDanglingPointer, family, version)
		}
		return "", err
	}
	return version, nil
}

func (s *Store) readPointer(family string) (string, error) {
	b, err := os.ReadFile(s.pointerPath(family))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read pointer for %q: %w", family, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// Load returns the artifact set for a concrete version, reading it from disk
// at most once per cache lifetime.
func (s *Store) Load(ctx context.Context, family, version string) (*ArtifactSet, error) {
	if err := checkName("family", family); err != nil {
		return nil, err
	}
	if err := checkName("version", version); err != nil {
		return nil, err
	}
	return s.cache.GetOrLoad(family, version, func() (*ArtifactSet, error) {
		set, err := s.read(ctx, family, version)
		if err != nil {
			s.Activity.Add(activity.Event{Type: activity.EventLoadFailed, Family: family, Version: version, Note: err.Error()})
			return nil, err
		}
		return set, nil
	})
}

// Cached reports whether the version is held in memory.
func (s *Store) Cached(family, version string) bool {
	_, ok := s.cache.Get(family, version)
	return ok
}

func (s *Store) read(ctx context.Context, family, version string) (*ArtifactSet, error) {
	logger := s.logger(ctx).WithValues("family", family, "version", version)
	dir := s.versionDir(family, version)

	raw, err := os.ReadFile(filepath.Join(dir, modelFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s@%s", ErrArtifactNotFound, family, version)
		}
		return nil, fmt.Errorf("read model %s@%s: %w", family, version, err)
	}
	m, err := model.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s@%s model: %v", ErrCorruptArtifact, family, version, err)
	}
	digest := Digest(raw)

	var tr model.Transform
	if traw, err := os.ReadFile(filepath.Join(dir, transformFile)); err == nil {
		if tr, err = model.DecodeTransform(traw); err != nil {
			return nil, fmt.Errorf("%w: %s@%s transform: %v", ErrCorruptArtifact, family, version, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read transform %s@%s: %w", family, version, err)
	}

	meta, found, err := s.readMetadata(family, version)
	if err != nil {
		return nil, err
	}
	if !found {
		logger.Info("Metadata missing, default feature order and constraints apply")
	}
	if meta.ModelDigest != "" && meta.ModelDigest != digest {
		return nil, fmt.Errorf("%w: %s@%s model digest mismatch", ErrCorruptArtifact, family, version)
	}

	logger.V(logging.VERBOSE).Info("Loaded artifact set", "kind", m.Kind(), "transform", tr != nil, "digest", digest)
	return &ArtifactSet{
		Family:    family,
		Version:   version,
		Model:     m,
		Transform: tr,
		Metadata:  meta,
		Digest:    digest,
		LoadedAt:  s.Now(),
	}, nil
}

// LoadMetadata reads only metadata.json. A missing file yields empty metadata.
func (s *Store) LoadMetadata(family, version string) (Metadata, error) {
	if err := checkName("family", family); err != nil {
		return Metadata{}, err
	}
	if err := checkName("version", version); err != nil {
		return Metadata{}, err
	}
	if set, ok := s.cache.Get(family, version); ok {
		return set.Metadata, nil
	}
	if _, err := os.Stat(s.versionDir(family, version)); errors.Is(err, fs.ErrNotExist) {
		return Metadata{}, fmt.Errorf("%w: %s@%s", ErrArtifactNotFound, family, version)
	}
	meta, _, err := s.readMetadata(family, version)
	return meta, err
}

func (s *Store) readMetadata(family, version string) (Metadata, bool, error) {
	b, err := os.ReadFile(filepath.Join(s.versionDir(family, version), metadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, false, nil
		}
		return Metadata{}, false, fmt.Errorf("read metadata %s@%s: %w", family, version, err)
	}
	var meta Metadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return Metadata{}, true, fmt.Errorf("%w: %s@%s metadata: %v", ErrCorruptArtifact, family, version, err)
	}
	return meta, true, nil
}

// FamilyExists reports whether the family directory is present.
func (s *Store) FamilyExists(family string) bool {
	if checkName("family", family) != nil {
		return false
	}
	fi, err := os.Stat(s.familyDir(family))
	return err == nil && fi.IsDir()
}

// ListFamilies returns the family directory names, sorted.
func (s *Store) ListFamilies() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list families: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// ListVersions returns the family's version directories, newest first.
// Only names starting with "v" are versions; an unknown family has none.
func (s *Store) ListVersions(family string) ([]string, error) {
	if err := checkName("family", family); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.familyDir(family))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list versions of %q: %w", family, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "v") {
			out = append(out, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// Digest returns the BLAKE2b-256 hex digest of an artifact.
func Digest(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}
