package local

import (
	"context"
	"io"
	"strings"
	"testing"

	"emperror.dev/errors"
	"github.com/ocfl-archive/ocflkit/pkg/backend"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := NewBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return b
}

func TestWriteNewRefusesOverwrite(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	n, err := b.WriteNew(ctx, "a/b.txt", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	_, err = b.WriteNew(ctx, "a/b.txt", strings.NewReader("other"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrAlreadyExists))

	fp, err := b.Open(ctx, "a/b.txt")
	require.NoError(t, err)
	defer fp.Close()
	data, err := io.ReadAll(fp)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestOpenMissing(t *testing.T) {
	b := newTestBackend(t)
	_, err := b.Open(context.Background(), "nope.txt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrNotExist))
}

func TestListAndWalk(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	for _, path := range []string{"v1/content/z.txt", "v1/content/a.txt", "v1/inventory.json", "0=marker"} {
		_, err := b.WriteNew(ctx, path, strings.NewReader(path))
		require.NoError(t, err)
	}

	entries, err := b.List(ctx, "")
	require.NoError(t, err)
	names := []string{}
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"0=marker", "v1"}, names)

	entries, err = b.List(ctx, "does/not/exist")
	require.NoError(t, err)
	assert.Empty(t, entries)

	var walked []string
	require.NoError(t, b.Walk(ctx, "v1", func(path string, size int64) error {
		walked = append(walked, path)
		assert.Equal(t, int64(len(path)), size)
		return nil
	}))
	assert.Equal(t, []string{"v1/content/a.txt", "v1/content/z.txt", "v1/inventory.json"}, walked)
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	_, err := b.WriteNew(ctx, "stage/v1/content/a.txt", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, b.Rename(ctx, "stage/v1", "obj/v1"))
	exists, err := b.Exists(ctx, "obj/v1/content/a.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	// a populated directory target must not be clobbered
	_, err = b.WriteNew(ctx, "stage2/v1/content/a.txt", strings.NewReader("y"))
	require.NoError(t, err)
	err = b.Rename(ctx, "stage2/v1", "obj/v1")
	require.Error(t, err)
}

func TestWriteReplace(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	_, err := b.WriteNew(ctx, "inventory.json", strings.NewReader("one"))
	require.NoError(t, err)

	require.NoError(t, b.WriteReplace(ctx, "inventory.json", strings.NewReader("two")))
	data, err := backend.ReadAll(ctx, b, "inventory.json")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	// no temp leftovers
	entries, err := b.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "inventory.json", entries[0].Name)
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	_, err := b.WriteNew(ctx, "obj/v1/content/a.txt", strings.NewReader("x"))
	require.NoError(t, err)

	require.Error(t, b.DeleteAll(ctx, ""))
	require.NoError(t, b.DeleteAll(ctx, "obj"))
	exists, err := b.Exists(ctx, "obj")
	require.NoError(t, err)
	assert.False(t, exists)
}
