package ocfl

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"emperror.dev/errors"
	"github.com/ocfl-archive/ocflkit/pkg/backend"
	"github.com/rs/zerolog"
)

// Object is a read view of one stored object. Mutation goes through the
// commit engine only.
type Object struct {
	fsys      backend.Backend
	root      string
	inventory *Inventory
	logger    zerolog.Logger
}

// readDeclaration checks the NAMASTE file at dir. The file name is the tag,
// the content the value part plus newline.
func readDeclaration(ctx context.Context, fsys backend.Backend, dir, name string) error {
	data, err := backend.ReadAll(ctx, fsys, path.Join(dir, name))
	if err != nil {
		if errors.Is(err, backend.ErrNotExist) {
			return newError(KindNotFound, err, "declaration '%s' missing in '%s'", name, dir)
		}
		return newError(KindBackendIO, err, "cannot read declaration '%s' in '%s'", name, dir)
	}
	want := strings.TrimPrefix(name, "0=") + "\n"
	if string(data) != want {
		return newError(KindSchemaViolation, nil, "declaration '%s' in '%s' has content '%s', want '%s'",
			name, dir, strings.TrimSpace(string(data)), strings.TrimSpace(want))
	}
	return nil
}

func writeDeclaration(ctx context.Context, fsys backend.Backend, dir, name string) error {
	content := strings.TrimPrefix(name, "0=") + "\n"
	if _, err := fsys.WriteNew(ctx, path.Join(dir, name), strings.NewReader(content)); err != nil {
		return newError(KindBackendIO, err, "cannot write declaration '%s' in '%s'", name, dir)
	}
	return nil
}

// readInventory loads dir/inventory.json, verifies it against its digest
// sidecar and parses it. A missing inventory is KindNotFound, a sidecar
// mismatch KindCorruption.
func readInventory(ctx context.Context, fsys backend.Backend, dir string) (*Inventory, []byte, error) {
	data, err := backend.ReadAll(ctx, fsys, path.Join(dir, InventoryFile))
	if err != nil {
		if errors.Is(err, backend.ErrNotExist) {
			return nil, nil, newError(KindNotFound, err, "no inventory in '%s'", dir)
		}
		return nil, nil, newError(KindBackendIO, err, "cannot read inventory in '%s'", dir)
	}
	inv, err := ParseInventory(data)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	sidecarPath := path.Join(dir, inv.SidecarName())
	sidecarData, err := backend.ReadAll(ctx, fsys, sidecarPath)
	if err != nil {
		if errors.Is(err, backend.ErrNotExist) {
			return nil, nil, newError(KindSchemaViolation, err, "inventory sidecar '%s' missing", sidecarPath).withObject(inv.Id)
		}
		return nil, nil, newError(KindBackendIO, err, "cannot read inventory sidecar '%s'", sidecarPath)
	}
	want, err := inv.Sidecar(data)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	if string(sidecarData) != want {
		return nil, nil, newError(KindCorruption, nil, "inventory in '%s' does not match its sidecar", dir).
			withObject(inv.Id)
	}
	return inv, data, nil
}

func writeInventory(ctx context.Context, fsys backend.Backend, dir string, inv *Inventory, data []byte, replace bool) error {
	sidecar, err := inv.Sidecar(data)
	if err != nil {
		return errors.WithStack(err)
	}
	write := func(p string, content []byte) error {
		if replace {
			return fsys.WriteReplace(ctx, p, bytes.NewReader(content))
		}
		_, err := fsys.WriteNew(ctx, p, bytes.NewReader(content))
		return err
	}
	if err := write(path.Join(dir, InventoryFile), data); err != nil {
		return newError(KindBackendIO, err, "cannot write inventory in '%s'", dir).withObject(inv.Id)
	}
	if err := write(path.Join(dir, inv.SidecarName()), []byte(sidecar)); err != nil {
		return newError(KindBackendIO, err, "cannot write inventory sidecar in '%s'", dir).withObject(inv.Id)
	}
	return nil
}

// loadObject opens the object rooted at root: declaration check, root
// inventory load, sidecar verification.
func loadObject(ctx context.Context, fsys backend.Backend, root string, logger zerolog.Logger) (*Object, error) {
	if err := readDeclaration(ctx, fsys, root, ObjectDeclaration); err != nil {
		return nil, errors.WithStack(err)
	}
	inv, _, err := readInventory(ctx, fsys, root)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Object{fsys: fsys, root: root, inventory: inv, logger: logger}, nil
}

func (o *Object) ID() string            { return o.inventory.Id }
func (o *Object) Head() int             { return o.inventory.HeadNum() }
func (o *Object) Inventory() *Inventory { return o.inventory }

// VersionState returns the logical state of version n; n == 0 means head.
func (o *Object) VersionState(n int) (map[string]string, error) {
	if n == 0 {
		n = o.inventory.HeadNum()
	}
	state, err := o.inventory.LogicalState(n)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return state, nil
}

// Open streams the content of a logical path in version n (0 for head).
func (o *Object) Open(ctx context.Context, n int, logical string) (io.ReadCloser, error) {
	state, err := o.VersionState(n)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	digest, ok := state[logical]
	if !ok {
		return nil, newError(KindNotFound, nil, "no such logical path").
			withObject(o.ID()).withVersion(n).withPath(logical)
	}
	return o.OpenDigest(ctx, digest)
}

// OpenDigest streams content by manifest digest.
func (o *Object) OpenDigest(ctx context.Context, digest string) (io.ReadCloser, error) {
	contentPath, err := o.inventory.ResolveDigest(digest)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rc, err := o.fsys.Open(ctx, path.Join(o.root, contentPath))
	if err != nil {
		if errors.Is(err, backend.ErrNotExist) {
			return nil, newError(KindMissingContent, err, "manifest path '%s' has no stored content", contentPath).
				withObject(o.ID()).withDigest(digest)
		}
		return nil, newError(KindBackendIO, err, "cannot open '%s'", contentPath).withObject(o.ID())
	}
	return rc, nil
}

// Diff compares the logical states of versions a and b (0 for head).
func (o *Object) Diff(a, b int) ([]Change, error) {
	from, err := o.VersionState(a)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	to, err := o.VersionState(b)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return Diff(from, to), nil
}

// RenameHints reports advisory content moves between versions a and b.
func (o *Object) RenameHints(a, b int) ([]RenameHint, error) {
	from, err := o.VersionState(a)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	to, err := o.VersionState(b)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return RenameHints(from, to), nil
}
