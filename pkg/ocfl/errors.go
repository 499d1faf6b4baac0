package ocfl

import (
	"fmt"

	"emperror.dev/errors"
	"github.com/ocfl-archive/ocflkit/pkg/checksum"
)

// Kind classifies every error surfaced by this package.
type Kind string

const (
	// KindNotFound - object, version or logical path does not exist.
	KindNotFound Kind = "NotFound"
	// KindSchemaViolation - malformed inventory or declaration.
	KindSchemaViolation Kind = "SchemaViolation"
	// KindCorruption - stored bytes do not match their claimed digest.
	KindCorruption Kind = "Corruption"
	// KindMissingContent - a manifest digest has no stored bytes behind it.
	// Distinct from KindCorruption, where the bytes exist but hash wrong.
	KindMissingContent Kind = "MissingContent"
	// KindConflict - optimistic concurrency loss or broken version sequence.
	KindConflict Kind = "Conflict"
	// KindUnsupported - unknown digest algorithm or layout extension.
	KindUnsupported Kind = "Unsupported"
	// KindBackendIO - storage backend failure after retries are exhausted.
	KindBackendIO Kind = "BackendIO"
	// KindInconsistent - frozen version inventory disagrees with the head inventory.
	KindInconsistent Kind = "Inconsistent"
	// KindIncomplete - interrupted commit left a detectable trailing version.
	// Prior versions are intact; this is deliberately not KindCorruption.
	KindIncomplete Kind = "Incomplete"
)

// Error is the single tagged error type of the core. The context fields are
// filled as far as they are known at the point of failure.
type Error struct {
	Kind     Kind
	ObjectID string
	Path     string
	Digest   string
	Version  int
	err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s", e.Kind)
	if e.ObjectID != "" {
		msg += fmt.Sprintf(" object '%s'", e.ObjectID)
	}
	if e.Version > 0 {
		msg += fmt.Sprintf(" v%d", e.Version)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" path '%s'", e.Path)
	}
	if e.Digest != "" {
		msg += fmt.Sprintf(" [%s]", e.Digest)
	}
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.err }

// GetKind extracts the classification of err, or "" if err carries none.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, checksum.ErrUnknownAlgorithm) {
		return KindUnsupported
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return GetKind(err) == kind
}

func newError(kind Kind, err error, format string, a ...any) *Error {
	if format != "" {
		if err == nil {
			err = errors.Errorf(format, a...)
		} else {
			err = errors.Wrapf(err, format, a...)
		}
	}
	return &Error{Kind: kind, err: err}
}

func (e *Error) withObject(id string) *Error {
	e.ObjectID = id
	return e
}

func (e *Error) withPath(path string) *Error {
	e.Path = path
	return e
}

func (e *Error) withDigest(digest string) *Error {
	e.Digest = digest
	return e
}

func (e *Error) withVersion(v int) *Error {
	e.Version = v
	return e
}
