package checksum

import (
	"bytes"
	"strings"
	"testing"

	"emperror.dev/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	// sha256 of "hello"
	digest, err := Checksum(strings.NewReader("hello"), DigestSHA256)
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", digest)
}

func TestChecksumUnknownAlgorithm(t *testing.T) {
	_, err := Checksum(strings.NewReader("hello"), DigestAlgorithm("crc32"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownAlgorithm))
}

func TestChecksumWriterCopy(t *testing.T) {
	var buf bytes.Buffer
	css, err := Copy(&buf, strings.NewReader("Hello World!"), []DigestAlgorithm{DigestSHA512, DigestSHA256, DigestBlake2b512})
	require.NoError(t, err)
	assert.Equal(t, "Hello World!", buf.String())
	assert.Len(t, css, 3)
	assert.Equal(t, "7f83b1657ff1fc53b92dc18148a1d65dfc2d4b1fa3d677284addd200126d9069", string(css[DigestSHA256]))
	for alg, cs := range css {
		single, err := Checksum(strings.NewReader("Hello World!"), alg)
		require.NoError(t, err)
		assert.Equal(t, single, cs)
	}
}

func TestChecksumWriterUnknownAlgorithm(t *testing.T) {
	_, err := NewChecksumWriter([]DigestAlgorithm{DigestSHA512, "md4"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownAlgorithm))
}

func TestContentAlgorithm(t *testing.T) {
	assert.True(t, ContentAlgorithm(DigestSHA512))
	assert.True(t, ContentAlgorithm(DigestSHA256))
	assert.False(t, ContentAlgorithm(DigestBlake2b512))
	assert.False(t, ContentAlgorithm(DigestMD5))
	assert.False(t, ContentAlgorithm(DigestSHA1))
}
