package ocfl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiff(t *testing.T) {
	from := map[string]string{
		"a.txt":     "d-alpha",
		"dir/b.txt": "d-beta",
		"c.txt":     "d-gamma",
	}
	to := map[string]string{
		"a.txt":     "d-alpha",
		"dir/b.txt": "d-beta2",
		"d.txt":     "d-delta",
	}
	changes := Diff(from, to)
	assert.Equal(t, []Change{
		{Kind: ChangeRemoved, Path: "c.txt", FromDigest: "d-gamma"},
		{Kind: ChangeAdded, Path: "d.txt", ToDigest: "d-delta"},
		{Kind: ChangeModified, Path: "dir/b.txt", FromDigest: "d-beta", ToDigest: "d-beta2"},
	}, changes)
}

func TestDiffEmpty(t *testing.T) {
	assert.Empty(t, Diff(nil, nil))
	assert.Empty(t, Diff(
		map[string]string{"a": "d1"},
		map[string]string{"a": "d1"},
	))
}

func TestDiffInverse(t *testing.T) {
	from := map[string]string{"a": "d1", "b": "d2", "c": "d3"}
	to := map[string]string{"b": "d2x", "c": "d3", "d": "d4"}

	forward := Diff(from, to)
	backward := Diff(to, from)
	assert.Len(t, backward, len(forward))

	inverted := map[string]Change{}
	for _, change := range backward {
		inverted[change.Path] = change
	}
	for _, change := range forward {
		back := inverted[change.Path]
		switch change.Kind {
		case ChangeAdded:
			assert.Equal(t, ChangeRemoved, back.Kind)
			assert.Equal(t, change.ToDigest, back.FromDigest)
		case ChangeRemoved:
			assert.Equal(t, ChangeAdded, back.Kind)
			assert.Equal(t, change.FromDigest, back.ToDigest)
		case ChangeModified:
			assert.Equal(t, ChangeModified, back.Kind)
			assert.Equal(t, change.FromDigest, back.ToDigest)
			assert.Equal(t, change.ToDigest, back.FromDigest)
		}
	}
}

func TestRenameHints(t *testing.T) {
	from := map[string]string{
		"old/name.txt": "d-moved",
		"stays.txt":    "d-stays",
		"gone.txt":     "d-gone",
	}
	to := map[string]string{
		"new/name.txt": "d-moved",
		"stays.txt":    "d-stays",
		"fresh.txt":    "d-fresh",
	}
	hints := RenameHints(from, to)
	assert.Equal(t, []RenameHint{
		{Digest: "d-moved", From: []string{"old/name.txt"}, To: []string{"new/name.txt"}},
	}, hints)
}

func TestRenameHintsNoHintForCopy(t *testing.T) {
	// digest kept at the old path and additionally linked at a new one
	from := map[string]string{"a.txt": "d1"}
	to := map[string]string{"a.txt": "d1", "b.txt": "d1"}
	assert.Empty(t, RenameHints(from, to))
}
