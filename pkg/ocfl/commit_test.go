package ocfl

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/ocfl-archive/ocflkit/pkg/backend"
	"github.com/ocfl-archive/ocflkit/pkg/backend/local"
	"github.com/ocfl-archive/ocflkit/pkg/checksum"
	"github.com/ocfl-archive/ocflkit/pkg/storagelayout"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoot(t *testing.T) (*StorageRoot, backend.Backend, string) {
	t.Helper()
	dir := t.TempDir()
	fsys, err := local.NewBackend(dir, zerolog.Nop())
	require.NoError(t, err)
	layout, err := storagelayout.NewFlatDirect(&storagelayout.Config{ExtensionName: storagelayout.FlatDirectName})
	require.NoError(t, err)
	store, err := InitStorageRoot(context.Background(), fsys, layout, zerolog.Nop())
	require.NoError(t, err)
	return store, fsys, dir
}

func commitFiles(t *testing.T, store *StorageRoot, id string, files map[string]string, opts ...CommitOption) int {
	t.Helper()
	ctx := context.Background()
	commit, err := store.NewCommit(ctx, id, checksum.DigestSHA512, opts...)
	require.NoError(t, err)
	for logical, content := range files {
		require.NoError(t, commit.AddFile(logical, BytesSource([]byte(content))))
	}
	n, err := commit.Commit(ctx)
	require.NoError(t, err)
	require.Equal(t, CommitCommitted, commit.State())
	return n
}

func readLogical(t *testing.T, object *Object, n int, logical string) string {
	t.Helper()
	rc, err := object.Open(context.Background(), n, logical)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestCommitNewObject(t *testing.T) {
	store, fsys, _ := newTestRoot(t)
	ctx := context.Background()

	n := commitFiles(t, store, "obj-1", map[string]string{
		"a.txt":     "alpha",
		"dir/b.txt": "beta",
	}, WithMessage("initial import"), WithUser("alice", "mailto:alice@example.org"))
	assert.Equal(t, 1, n)

	object, err := store.OpenObject(ctx, "obj-1")
	require.NoError(t, err)
	assert.Equal(t, "obj-1", object.ID())
	assert.Equal(t, 1, object.Head())
	assert.Equal(t, "alpha", readLogical(t, object, 0, "a.txt"))
	assert.Equal(t, "beta", readLogical(t, object, 1, "dir/b.txt"))

	version, err := object.Inventory().GetVersion(1)
	require.NoError(t, err)
	assert.Equal(t, "initial import", version.Message)
	require.NotNil(t, version.User)
	assert.Equal(t, "alice", version.User.Name)

	report, err := store.ValidateObject(ctx, "obj-1", nil)
	require.NoError(t, err)
	assert.True(t, report.Valid(), "issues: %v", report.Issues())

	// no staging leftovers in the object root
	entries, err := fsys.List(ctx, "obj-1")
	require.NoError(t, err)
	names := []string{}
	for _, entry := range entries {
		names = append(names, entry.Name)
	}
	assert.ElementsMatch(t, []string{ObjectDeclaration, InventoryFile, "inventory.json.sha512", "v1"}, names)
}

func TestCommitSecondVersion(t *testing.T) {
	store, _, _ := newTestRoot(t)
	ctx := context.Background()

	commitFiles(t, store, "obj-1", map[string]string{"a.txt": "alpha", "b.txt": "beta"})

	commit, err := store.NewCommit(ctx, "obj-1", "", WithMessage("update"))
	require.NoError(t, err)
	require.NoError(t, commit.RetainHead())
	require.NoError(t, commit.AddFile("b.txt", BytesSource([]byte("beta2"))))
	require.NoError(t, commit.AddFile("c.txt", BytesSource([]byte("gamma"))))
	require.NoError(t, commit.Remove("a.txt"))
	n, err := commit.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	object, err := store.OpenObject(ctx, "obj-1")
	require.NoError(t, err)
	assert.Equal(t, "beta2", readLogical(t, object, 0, "b.txt"))
	assert.Equal(t, "gamma", readLogical(t, object, 2, "c.txt"))
	assert.Equal(t, "alpha", readLogical(t, object, 1, "a.txt"))

	changes, err := object.Diff(1, 2)
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, ChangeRemoved, changes[0].Kind)
	assert.Equal(t, "a.txt", changes[0].Path)
	assert.Equal(t, ChangeModified, changes[1].Kind)
	assert.Equal(t, ChangeAdded, changes[2].Kind)

	report, err := store.ValidateObject(ctx, "obj-1", nil)
	require.NoError(t, err)
	assert.True(t, report.Valid(), "issues: %v", report.Issues())
}

func TestCommitDeduplicates(t *testing.T) {
	store, _, _ := newTestRoot(t)
	ctx := context.Background()

	commitFiles(t, store, "obj-1", map[string]string{
		"one.txt": "same content",
		"two.txt": "same content",
	})

	object, err := store.OpenObject(ctx, "obj-1")
	require.NoError(t, err)
	inv := object.Inventory()
	require.Len(t, inv.Manifest, 1)
	for _, paths := range inv.Manifest {
		assert.Len(t, paths, 1, "identical content must be stored once")
	}
	state, err := object.VersionState(0)
	require.NoError(t, err)
	assert.Len(t, state, 2)

	// next version re-staging identical content must not store a new copy
	commit, err := store.NewCommit(ctx, "obj-1", "")
	require.NoError(t, err)
	require.NoError(t, commit.RetainHead())
	require.NoError(t, commit.AddFile("three.txt", BytesSource([]byte("same content"))))
	_, err = commit.Commit(ctx)
	require.NoError(t, err)

	object, err = store.OpenObject(ctx, "obj-1")
	require.NoError(t, err)
	require.Len(t, object.Inventory().Manifest, 1)
}

func TestCommitConflict(t *testing.T) {
	store, _, _ := newTestRoot(t)
	ctx := context.Background()

	commitFiles(t, store, "obj-1", map[string]string{"a.txt": "alpha"})

	first, err := store.NewCommit(ctx, "obj-1", "")
	require.NoError(t, err)
	second, err := store.NewCommit(ctx, "obj-1", "")
	require.NoError(t, err)

	require.NoError(t, first.AddFile("b.txt", BytesSource([]byte("from first"))))
	_, err = first.Commit(ctx)
	require.NoError(t, err)

	require.NoError(t, second.AddFile("b.txt", BytesSource([]byte("from second"))))
	_, err = second.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConflict), "kind = %s", GetKind(err))
	assert.Equal(t, CommitAborted, second.State())

	// the loser left nothing behind
	report, err := store.ValidateObject(ctx, "obj-1", nil)
	require.NoError(t, err)
	assert.True(t, report.Valid(), "issues: %v", report.Issues())

	object, err := store.OpenObject(ctx, "obj-1")
	require.NoError(t, err)
	assert.Equal(t, 2, object.Head())
	assert.Equal(t, "from first", readLogical(t, object, 0, "b.txt"))
}

func TestCommitAbort(t *testing.T) {
	store, _, _ := newTestRoot(t)
	ctx := context.Background()

	commit, err := store.NewCommit(ctx, "obj-1", "")
	require.NoError(t, err)
	require.NoError(t, commit.AddFile("a.txt", BytesSource([]byte("alpha"))))
	require.NoError(t, commit.Abort(ctx))
	assert.Equal(t, CommitAborted, commit.State())

	err = commit.AddFile("b.txt", BytesSource([]byte("beta")))
	assert.True(t, IsKind(err, KindConflict))
	_, err = commit.Commit(ctx)
	assert.True(t, IsKind(err, KindConflict))

	_, err = store.OpenObject(ctx, "obj-1")
	assert.True(t, IsKind(err, KindNotFound))
}

func TestCommitPathTreeConflict(t *testing.T) {
	store, _, _ := newTestRoot(t)
	ctx := context.Background()

	commit, err := store.NewCommit(ctx, "obj-1", "")
	require.NoError(t, err)
	require.NoError(t, commit.AddFile("a", BytesSource([]byte("file"))))
	require.NoError(t, commit.AddFile("a/b", BytesSource([]byte("below a file"))))
	_, err = commit.Commit(ctx)
	assert.True(t, IsKind(err, KindSchemaViolation), "kind = %s", GetKind(err))
}

func TestCommitInvalidLogicalPath(t *testing.T) {
	store, _, _ := newTestRoot(t)
	ctx := context.Background()

	commit, err := store.NewCommit(ctx, "obj-1", "")
	require.NoError(t, err)
	for _, logical := range []string{"", "/abs", "trailing/", "a//b", "a/../b", "."} {
		err := commit.AddFile(logical, BytesSource([]byte("x")))
		assert.True(t, IsKind(err, KindSchemaViolation), "path %q", logical)
	}
}

func TestCommitWrongAlgorithm(t *testing.T) {
	store, _, _ := newTestRoot(t)
	ctx := context.Background()

	commitFiles(t, store, "obj-1", map[string]string{"a.txt": "alpha"})

	_, err := store.NewCommit(ctx, "obj-1", checksum.DigestSHA256)
	assert.True(t, IsKind(err, KindUnsupported))
}

func TestCommitFixity(t *testing.T) {
	store, _, _ := newTestRoot(t)
	ctx := context.Background()

	commitFiles(t, store, "obj-1", map[string]string{"a.txt": "alpha"},
		WithFixity(checksum.DigestBlake2b256))

	object, err := store.OpenObject(ctx, "obj-1")
	require.NoError(t, err)
	inv := object.Inventory()
	require.Contains(t, inv.Fixity, checksum.DigestBlake2b256)

	report, err := store.ValidateObject(ctx, "obj-1", nil)
	require.NoError(t, err)
	assert.True(t, report.Valid(), "issues: %v", report.Issues())
}

func TestCommitFrozenInventoryMatchesRoot(t *testing.T) {
	store, fsys, _ := newTestRoot(t)
	ctx := context.Background()

	commitFiles(t, store, "obj-1", map[string]string{"a.txt": "alpha"})

	root, err := backend.ReadAll(ctx, fsys, "obj-1/inventory.json")
	require.NoError(t, err)
	frozen, err := backend.ReadAll(ctx, fsys, "obj-1/v1/inventory.json")
	require.NoError(t, err)
	assert.Equal(t, string(root), string(frozen))
}

func TestPurgeObject(t *testing.T) {
	store, _, dir := newTestRoot(t)
	ctx := context.Background()

	commitFiles(t, store, "obj-1", map[string]string{"a.txt": "alpha"})
	require.NoError(t, store.PurgeObject(ctx, "obj-1"))

	_, err := store.OpenObject(ctx, "obj-1")
	assert.True(t, IsKind(err, KindNotFound))
	_, err = os.Stat(filepath.Join(dir, "obj-1"))
	assert.True(t, os.IsNotExist(err))

	err = store.PurgeObject(ctx, "obj-1")
	assert.True(t, IsKind(err, KindNotFound))
}
