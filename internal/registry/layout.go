package registry

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mcules/model-registry/internal/model"
)

// Current is the selector that resolves through a family's pointer file.
const Current = "current"

const (
	pointerFile  = "current.txt"
	metadataFile = "metadata.json"
	versionTime  = "20060102_150405"
)

var (
	modelFile     = "model." + model.FileExt
	transformFile = "preprocess." + model.FileExt
)

func (s *Store) familyDir(family string) string {
	return filepath.Join(s.root, family)
}

func (s *Store) versionDir(family, version string) string {
	return filepath.Join(s.root, family, version)
}

func (s *Store) pointerPath(family string) string {
	return filepath.Join(s.root, family, pointerFile)
}

// checkName rejects names that would escape the registry root or collide
// with layout files.
func checkName(kind, name string) error {
	switch {
	case name == "", name == ".", name == "..":
	case strings.ContainsAny(name, `/\`), strings.HasPrefix(name, "."):
	case name == pointerFile:
	default:
		return nil
	}
	return fmt.Errorf("%w: %s %q", ErrInvalidName, kind, name)
}
