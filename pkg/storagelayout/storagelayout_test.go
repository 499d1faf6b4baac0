package storagelayout

import (
	"bytes"
	"strings"
	"testing"

	"emperror.dev/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatDirect(t *testing.T) {
	sl, err := NewFlatDirect(&Config{ExtensionName: FlatDirectName})
	require.NoError(t, err)

	path, err := sl.ID2Path("object-01")
	require.NoError(t, err)
	assert.Equal(t, "object-01", path)

	_, err = sl.ID2Path("a/b")
	assert.Error(t, err)
	_, err = sl.ID2Path("..")
	assert.Error(t, err)
}

func TestHashedNTuple(t *testing.T) {
	sl, err := NewHashedNTuple(&HashedNTupleConfig{
		Config:          &Config{ExtensionName: HashedNTupleName},
		DigestAlgorithm: "sha256",
		TupleSize:       3,
		NumberOfTuples:  3,
	})
	require.NoError(t, err)

	// sha256("object-01") = 4cce...; layout fixture from the OCFL extension spec shape
	path, err := sl.ID2Path("object-01")
	require.NoError(t, err)
	parts := strings.Split(path, "/")
	require.Len(t, parts, 4)
	for i := 0; i < 3; i++ {
		assert.Len(t, parts[i], 3)
	}
	assert.Len(t, parts[3], 64)
	assert.Equal(t, parts[0], parts[3][0:3])
	assert.Equal(t, parts[1], parts[3][3:6])
	assert.Equal(t, parts[2], parts[3][6:9])

	// deterministic
	path2, err := sl.ID2Path("object-01")
	require.NoError(t, err)
	assert.Equal(t, path, path2)
}

func TestLayoutConfigRoundTrip(t *testing.T) {
	sl, err := NewDefaultStorageLayout()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, sl.WriteConfig(&buf))

	sl2, err := NewStorageLayout(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, sl.Name(), sl2.Name())

	p1, err := sl.ID2Path("urn:example:42")
	require.NoError(t, err)
	p2, err := sl2.ID2Path("urn:example:42")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestUnknownLayout(t *testing.T) {
	_, err := NewStorageLayout([]byte(`{"extensionName":"9999-bogus-layout"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotSupported))
}
