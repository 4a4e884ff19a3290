package registry

import "errors"

var (
	// ErrPointerNotFound means the family has no current version set.
	ErrPointerNotFound = errors.New("no current version set")
	// ErrDanglingPointer means current.txt names a version directory that does not exist.
	ErrDanglingPointer = errors.New("current version pointer references a missing version")
	// ErrArtifactNotFound means the version directory or its model artifact is missing.
	ErrArtifactNotFound = errors.New("model artifact not found")
	// ErrCorruptArtifact means an artifact or metadata file exists but cannot be used.
	ErrCorruptArtifact = errors.New("corrupt model artifact")
	ErrInvalidName     = errors.New("invalid family or version name")
	ErrVersionExists   = errors.New("version already exists")
)
