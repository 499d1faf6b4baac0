package local

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"emperror.dev/errors"
	"github.com/google/uuid"
	"github.com/ocfl-archive/ocflkit/pkg/backend"
	"github.com/rs/zerolog"
)

// Backend stores blobs below a root directory using synchronous os-level
// I/O. It is the only backend implementing backend.Renamer: os.Rename within
// one filesystem is atomic, which the commit engine relies on.
type Backend struct {
	root   string
	logger zerolog.Logger
}

func NewBackend(root string, logger zerolog.Logger) (*Backend, error) {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(err, "cannot create root folder '%s'", root)
	}
	return &Backend{
		root:   root,
		logger: logger.With().Str("backend", "local").Str("root", root).Logger(),
	}, nil
}

func (b *Backend) String() string {
	return "file://" + filepath.ToSlash(b.root)
}

func (b *Backend) abs(path string) string {
	return filepath.Join(b.root, filepath.FromSlash(path))
}

func (b *Backend) Open(_ context.Context, path string) (io.ReadCloser, error) {
	fp, err := os.Open(b.abs(path))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(backend.ErrNotExist, "'%s'", path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open '%s'", path)
	}
	return fp, nil
}

func (b *Backend) WriteNew(_ context.Context, path string, src io.Reader) (int64, error) {
	b.logger.Debug().Str("path", path).Msg("write new")
	fullpath := b.abs(path)
	if err := os.MkdirAll(filepath.Dir(fullpath), 0755); err != nil {
		return 0, errors.Wrapf(err, "cannot create folder for '%s'", path)
	}
	fp, err := os.OpenFile(fullpath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if os.IsExist(err) {
		return 0, errors.Wrapf(backend.ErrAlreadyExists, "'%s'", path)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "cannot create '%s'", path)
	}
	written, err := io.Copy(fp, src)
	if err != nil {
		fp.Close()
		os.Remove(fullpath)
		return 0, errors.Wrapf(err, "cannot write '%s'", path)
	}
	if err := fp.Close(); err != nil {
		return 0, errors.Wrapf(err, "cannot close '%s'", path)
	}
	return written, nil
}

func (b *Backend) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(b.abs(path))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "cannot stat '%s'", path)
	}
	return true, nil
}

func (b *Backend) List(_ context.Context, prefix string) ([]backend.Entry, error) {
	dentries, err := os.ReadDir(b.abs(prefix))
	if os.IsNotExist(err) {
		return []backend.Entry{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read folder '%s'", prefix)
	}
	// os.ReadDir sorts by filename
	result := []backend.Entry{}
	for _, dentry := range dentries {
		entry := backend.Entry{Name: dentry.Name(), Dir: dentry.IsDir()}
		if !entry.Dir {
			if info, err := dentry.Info(); err == nil {
				entry.Size = info.Size()
			}
		}
		result = append(result, entry)
	}
	return result, nil
}

func (b *Backend) Walk(ctx context.Context, prefix string, fn func(path string, size int64) error) error {
	base := b.abs(prefix)
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), info.Size())
	})
	if err != nil {
		return errors.Wrapf(err, "cannot walk '%s'", prefix)
	}
	return nil
}

func (b *Backend) Delete(_ context.Context, path string) error {
	b.logger.Debug().Str("path", path).Msg("delete")
	if err := os.Remove(b.abs(path)); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(backend.ErrNotExist, "'%s'", path)
		}
		return errors.Wrapf(err, "cannot delete '%s'", path)
	}
	return nil
}

func (b *Backend) DeleteAll(_ context.Context, prefix string) error {
	if prefix == "" || prefix == "." || strings.HasPrefix(prefix, "..") {
		return errors.Errorf("refusing to delete '%s'", prefix)
	}
	b.logger.Debug().Str("prefix", prefix).Msg("delete all")
	if err := os.RemoveAll(b.abs(prefix)); err != nil {
		return errors.Wrapf(err, "cannot delete '%s'", prefix)
	}
	return nil
}

// Rename moves a file or directory. For files an existing target is
// replaced atomically; for directories a populated target makes os.Rename
// fail, which is exactly the collision guarantee the commit engine wants.
func (b *Backend) Rename(_ context.Context, oldPath, newPath string) error {
	b.logger.Debug().Str("old", oldPath).Str("new", newPath).Msg("rename")
	newFull := b.abs(newPath)
	if err := os.MkdirAll(filepath.Dir(newFull), 0755); err != nil {
		return errors.Wrapf(err, "cannot create folder for '%s'", newPath)
	}
	if err := os.Rename(b.abs(oldPath), newFull); err != nil {
		return errors.Wrapf(err, "cannot rename '%s' -> '%s'", oldPath, newPath)
	}
	return nil
}

// WriteReplace writes to a temporary sibling and renames it over path, so a
// reader never observes a half-written file.
func (b *Backend) WriteReplace(ctx context.Context, path string, src io.Reader) error {
	tmp := path + ".tmp-" + uuid.NewString()
	if _, err := b.WriteNew(ctx, tmp, src); err != nil {
		return errors.WithStack(err)
	}
	if err := os.Rename(b.abs(tmp), b.abs(path)); err != nil {
		os.Remove(b.abs(tmp))
		return errors.Wrapf(err, "cannot rename '%s' -> '%s'", tmp, path)
	}
	return nil
}

var (
	_ backend.Backend = (*Backend)(nil)
	_ backend.Renamer = (*Backend)(nil)
)
