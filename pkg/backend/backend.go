package backend

import (
	"context"
	"fmt"
	"io"

	"emperror.dev/errors"
)

// OCFL content is write-once: a backend must refuse to overwrite. These two
// sentinels are the only backend conditions the engines branch on; everything
// else is an opaque I/O failure.
var (
	ErrNotExist      = errors.New("path does not exist")
	ErrAlreadyExists = errors.New("path already exists")
)

// Entry is one name directly below a listed prefix.
type Entry struct {
	Name string
	Dir  bool
	Size int64
}

// Backend is a place to read and write named byte blobs. Paths are
// slash-separated and relative to the backend root.
//
// All write paths go through WriteNew, which fails with ErrAlreadyExists
// instead of overwriting. Delete exists for rollback and purge only.
type Backend interface {
	fmt.Stringer
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	WriteNew(ctx context.Context, path string, src io.Reader) (int64, error)
	Exists(ctx context.Context, path string) (bool, error)
	// List returns the entries directly below prefix in lexical order.
	// A missing prefix yields an empty list, not an error.
	List(ctx context.Context, prefix string) ([]Entry, error)
	// Walk calls fn for every blob below prefix, in lexical path order.
	Walk(ctx context.Context, prefix string, fn func(path string, size int64) error) error
	Delete(ctx context.Context, path string) error
	// DeleteAll removes everything below prefix. Reserved for purge.
	DeleteAll(ctx context.Context, prefix string) error
	// WriteReplace overwrites path atomically as far as the backend can.
	// Reserved for the head pointer flip (root inventory and its sidecar);
	// all content goes through WriteNew.
	WriteReplace(ctx context.Context, path string, src io.Reader) error
}

// Renamer is the extra capability of backends with an atomic rename
// primitive. The commit engine stages into a temporary directory and flips
// it into place when the backend supports this; object stores do not.
type Renamer interface {
	Rename(ctx context.Context, oldPath, newPath string) error
}

// ReadAll is a convenience for small blobs (inventories, declarations).
func ReadAll(ctx context.Context, b Backend, path string) ([]byte, error) {
	fp, err := b.Open(ctx, path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer fp.Close()
	data, err := io.ReadAll(fp)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read '%s'", path)
	}
	return data, nil
}
