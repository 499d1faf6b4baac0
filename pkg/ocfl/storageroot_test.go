package ocfl

import (
	"context"
	"testing"

	"github.com/ocfl-archive/ocflkit/pkg/backend/local"
	"github.com/ocfl-archive/ocflkit/pkg/storagelayout"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitAndLoadStorageRoot(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	fsys, err := local.NewBackend(dir, zerolog.Nop())
	require.NoError(t, err)

	store, err := InitStorageRoot(ctx, fsys, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, storagelayout.HashedNTupleName, store.Layout().Name())

	// a second init on the same prefix must refuse
	_, err = InitStorageRoot(ctx, fsys, nil, zerolog.Nop())
	assert.True(t, IsKind(err, KindConflict))

	loaded, err := LoadStorageRoot(ctx, fsys, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, storagelayout.HashedNTupleName, loaded.Layout().Name())

	// both instances map ids identically
	p1, err := store.ObjectPath("urn:example:1")
	require.NoError(t, err)
	p2, err := loaded.ObjectPath("urn:example:1")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestLoadStorageRootWithoutLayoutDescriptor(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	fsys, err := local.NewBackend(dir, zerolog.Nop())
	require.NoError(t, err)
	_, err = InitStorageRoot(ctx, fsys, nil, zerolog.Nop())
	require.NoError(t, err)

	// roots written before layout extensions carry no descriptor and fall
	// back to the default layout
	require.NoError(t, fsys.Delete(ctx, layoutFile))

	loaded, err := LoadStorageRoot(ctx, fsys, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, storagelayout.HashedNTupleName, loaded.Layout().Name())

	objectPath, err := loaded.ObjectPath("urn:example:1")
	require.NoError(t, err)
	assert.Contains(t, objectPath, "/")
}

func TestLoadStorageRootMissingDeclaration(t *testing.T) {
	dir := t.TempDir()
	fsys, err := local.NewBackend(dir, zerolog.Nop())
	require.NoError(t, err)

	_, err = LoadStorageRoot(context.Background(), fsys, zerolog.Nop())
	assert.True(t, IsKind(err, KindNotFound))
}

func TestStorageRootHashedLayoutCommit(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	fsys, err := local.NewBackend(dir, zerolog.Nop())
	require.NoError(t, err)
	store, err := InitStorageRoot(ctx, fsys, nil, zerolog.Nop())
	require.NoError(t, err)

	commitFiles(t, store, "urn:example:1", map[string]string{"a.txt": "alpha"})

	// objects land under the tuple tree, not at the root
	objectPath, err := store.ObjectPath("urn:example:1")
	require.NoError(t, err)
	assert.Contains(t, objectPath, "/")

	object, err := store.OpenObject(ctx, "urn:example:1")
	require.NoError(t, err)
	assert.Equal(t, "alpha", readLogical(t, object, 0, "a.txt"))
}

func TestListObjects(t *testing.T) {
	store, _, _ := newTestRoot(t)
	ctx := context.Background()

	ids, err := store.ListObjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	commitFiles(t, store, "obj-b", map[string]string{"a.txt": "alpha"})
	commitFiles(t, store, "obj-a", map[string]string{"b.txt": "beta"})

	ids, err = store.ListObjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"obj-a", "obj-b"}, ids)
}

func TestObjectExists(t *testing.T) {
	store, _, _ := newTestRoot(t)
	ctx := context.Background()

	exists, err := store.ObjectExists(ctx, "obj-1")
	require.NoError(t, err)
	assert.False(t, exists)

	commitFiles(t, store, "obj-1", map[string]string{"a.txt": "alpha"})

	exists, err = store.ObjectExists(ctx, "obj-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestOpenObjectIDMismatch(t *testing.T) {
	store, _, _ := newTestRoot(t)
	ctx := context.Background()

	// flat layout: an object stored under a directory that does not match
	// its inventory id must be rejected
	commitFiles(t, store, "obj-1", map[string]string{"a.txt": "alpha"})

	object, err := loadObject(ctx, store.fsys, "obj-1", store.logger)
	require.NoError(t, err)
	assert.Equal(t, "obj-1", object.ID())

	_, err = store.OpenObject(ctx, "obj-2")
	assert.True(t, IsKind(err, KindNotFound))
}
