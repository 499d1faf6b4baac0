package ocfl

import (
	"golang.org/x/exp/slices"
)

// ChangeKind tags a single entry of a logical diff.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

// Change describes what happened to one logical path between two states.
// FromDigest is empty for additions, ToDigest for removals.
type Change struct {
	Kind       ChangeKind
	Path       string
	FromDigest string
	ToDigest   string
}

// RenameHint is advisory: content with this digest disappeared from one set
// of paths and reappeared at another between two states. The object store
// has no rename primitive, so this is a heuristic over digests only.
type RenameHint struct {
	Digest string
	From   []string
	To     []string
}

// Diff compares two logical states (path -> digest) and returns the changes
// sorted by path. Diff(a, b) is the exact inverse of Diff(b, a) with the
// kinds and digest directions flipped.
func Diff(from, to map[string]string) []Change {
	changes := []Change{}
	for path, fromDigest := range from {
		toDigest, ok := to[path]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: ChangeRemoved, Path: path, FromDigest: fromDigest})
		case toDigest != fromDigest:
			changes = append(changes, Change{Kind: ChangeModified, Path: path, FromDigest: fromDigest, ToDigest: toDigest})
		}
	}
	for path, toDigest := range to {
		if _, ok := from[path]; !ok {
			changes = append(changes, Change{Kind: ChangeAdded, Path: path, ToDigest: toDigest})
		}
	}
	slices.SortFunc(changes, func(a, b Change) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		default:
			return 0
		}
	})
	return changes
}

// RenameHints inspects a diff for digests that were only moved: every path
// of the digest in from is gone and at least one new path in to carries the
// same digest. Digests still present at an unchanged path yield no hint.
func RenameHints(from, to map[string]string) []RenameHint {
	removed := map[string][]string{}
	added := map[string][]string{}
	for _, change := range Diff(from, to) {
		switch change.Kind {
		case ChangeRemoved:
			removed[change.FromDigest] = append(removed[change.FromDigest], change.Path)
		case ChangeAdded:
			added[change.ToDigest] = append(added[change.ToDigest], change.Path)
		case ChangeModified:
			removed[change.FromDigest] = append(removed[change.FromDigest], change.Path)
			added[change.ToDigest] = append(added[change.ToDigest], change.Path)
		}
	}
	hints := []RenameHint{}
	for digest, fromPaths := range removed {
		toPaths, ok := added[digest]
		if !ok {
			continue
		}
		slices.Sort(fromPaths)
		slices.Sort(toPaths)
		hints = append(hints, RenameHint{Digest: digest, From: fromPaths, To: toPaths})
	}
	slices.SortFunc(hints, func(a, b RenameHint) int {
		switch {
		case a.Digest < b.Digest:
			return -1
		case a.Digest > b.Digest:
			return 1
		default:
			return 0
		}
	})
	return hints
}
