package ocfl

import (
	"crypto/sha512"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/ocfl-archive/ocflkit/pkg/checksum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hexDigest(content string) string {
	sum := sha512.Sum512([]byte(content))
	return fmt.Sprintf("%x", sum)
}

func testInventory(t *testing.T) *Inventory {
	t.Helper()
	inv, err := NewInventory("urn:example:obj-1", checksum.DigestSHA512)
	require.NoError(t, err)
	d1 := hexDigest("alpha")
	d2 := hexDigest("beta")
	inv.AddManifestEntry(d1, "v1/content/a.txt")
	inv.AddManifestEntry(d2, "v1/content/dir/b.txt")
	_, err = inv.AddVersion(
		time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		"initial import",
		&User{Name: "alice", Address: "mailto:alice@example.org"},
		map[string]string{"a.txt": d1, "dir/b.txt": d2},
	)
	require.NoError(t, err)
	return inv
}

func TestInventoryRoundTrip(t *testing.T) {
	inv := testInventory(t)
	data, err := inv.Marshal()
	require.NoError(t, err)

	parsed, err := ParseInventory(data)
	require.NoError(t, err)
	if diff := deep.Equal(inv, parsed); diff != nil {
		t.Error(diff)
	}

	// canonical form is a fixed point
	data2, err := parsed.Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(data), string(data2))
}

func TestInventoryAddVersion(t *testing.T) {
	inv := testInventory(t)
	d3 := hexDigest("gamma")
	inv.AddManifestEntry(d3, "v2/content/c.txt")
	n, err := inv.AddVersion(
		time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC),
		"add c",
		nil,
		map[string]string{"a.txt": hexDigest("alpha"), "c.txt": d3},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "v2", inv.Head)
	assert.Equal(t, []int{1, 2}, inv.VersionNums())

	state, err := inv.LogicalState(2)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.txt": hexDigest("alpha"), "c.txt": d3}, state)

	// v1 state is untouched
	state1, err := inv.LogicalState(1)
	require.NoError(t, err)
	assert.Contains(t, state1, "dir/b.txt")
}

func TestInventoryAddVersionUnknownDigest(t *testing.T) {
	inv := testInventory(t)
	_, err := inv.AddVersion(time.Now(), "bad", nil, map[string]string{"x": hexDigest("never stored")})
	assert.True(t, IsKind(err, KindSchemaViolation))
}

func TestParseInventoryRejects(t *testing.T) {
	inv := testInventory(t)
	canonical, err := inv.Marshal()
	require.NoError(t, err)

	for name, mutate := range map[string]func(string) string{
		"not json": func(s string) string {
			return s[:len(s)-2]
		},
		"missing head": func(s string) string {
			return strings.Replace(s, `"head": "v1",`, "", 1)
		},
		"head mismatch": func(s string) string {
			return strings.Replace(s, `"head": "v1"`, `"head": "v2"`, 1)
		},
		"padded version name": func(s string) string {
			return strings.ReplaceAll(s, `"v1`, `"v01`)
		},
		"bad type": func(s string) string {
			return strings.Replace(s, "https://ocfl.io/1.1/spec/#inventory", "https://example.org/nope", 1)
		},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseInventory([]byte(mutate(string(canonical))))
			require.Error(t, err)
			assert.True(t, IsKind(err, KindSchemaViolation), "kind = %s", GetKind(err))
		})
	}
}

func TestParseInventoryUnsupportedAlgorithm(t *testing.T) {
	inv := testInventory(t)
	canonical, err := inv.Marshal()
	require.NoError(t, err)
	mutated := strings.Replace(string(canonical), `"digestAlgorithm": "sha512"`, `"digestAlgorithm": "md5"`, 1)
	_, err = ParseInventory([]byte(mutated))
	assert.True(t, IsKind(err, KindUnsupported))
}

func TestParseInventoryGap(t *testing.T) {
	inv := testInventory(t)
	d3 := hexDigest("gamma")
	inv.AddManifestEntry(d3, "v2/content/c.txt")
	_, err := inv.AddVersion(time.Now().UTC(), "v2", nil, map[string]string{"c.txt": d3})
	require.NoError(t, err)
	// drop v1 to break contiguity
	delete(inv.Versions, "v1")
	data, err := inv.Marshal()
	require.NoError(t, err)
	_, err = ParseInventory(data)
	assert.True(t, IsKind(err, KindSchemaViolation))
}

func TestParseInventoryStateNotInManifest(t *testing.T) {
	inv := testInventory(t)
	delete(inv.Manifest, hexDigest("beta"))
	data, err := inv.Marshal()
	require.NoError(t, err)
	_, err = ParseInventory(data)
	assert.True(t, IsKind(err, KindSchemaViolation))
}

func TestInventorySidecar(t *testing.T) {
	inv := testInventory(t)
	data, err := inv.Marshal()
	require.NoError(t, err)
	sidecar, err := inv.Sidecar(data)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(sidecar, " inventory.json\n"))
	assert.Len(t, strings.SplitN(strings.TrimSpace(sidecar), " ", 2)[0], 128)
	assert.Equal(t, "inventory.json.sha512", inv.SidecarName())
}

func TestInventoryClone(t *testing.T) {
	inv := testInventory(t)
	clone := inv.Clone()
	d3 := hexDigest("gamma")
	clone.AddManifestEntry(d3, "v2/content/c.txt")
	_, err := clone.AddVersion(time.Now().UTC(), "on clone", nil, map[string]string{"c.txt": d3})
	require.NoError(t, err)

	assert.Equal(t, "v1", inv.Head)
	assert.Equal(t, "v2", clone.Head)
	assert.False(t, inv.HasDigest(d3))
}

func TestInventoryConsistentWith(t *testing.T) {
	inv := testInventory(t)
	frozen := inv.Clone()

	d3 := hexDigest("gamma")
	inv.AddManifestEntry(d3, "v2/content/c.txt")
	_, err := inv.AddVersion(time.Now().UTC(), "v2", nil, map[string]string{"c.txt": d3})
	require.NoError(t, err)

	assert.NoError(t, inv.ConsistentWith(frozen, 1))

	// tampered frozen state must be detected
	tampered := frozen.Clone()
	for digest := range tampered.Versions["v1"].State {
		tampered.Versions["v1"].State[digest] = []string{"renamed.txt"}
		break
	}
	err = inv.ConsistentWith(tampered, 1)
	assert.True(t, IsKind(err, KindInconsistent))
}

func TestInventoryResolveDigest(t *testing.T) {
	inv := testInventory(t)
	path, err := inv.ResolveDigest(hexDigest("alpha"))
	require.NoError(t, err)
	assert.Equal(t, "v1/content/a.txt", path)

	_, err = inv.ResolveDigest(hexDigest("missing"))
	assert.True(t, IsKind(err, KindMissingContent))
}
