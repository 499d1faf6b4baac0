package ocfl

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/ocfl-archive/ocflkit/data/schemas"
	"github.com/ocfl-archive/ocflkit/pkg/checksum"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/exp/slices"
)

const (
	InventoryType           = "https://ocfl.io/1.1/spec/#inventory"
	InventoryFile           = "inventory.json"
	DefaultContentDirectory = "content"

	// NAMASTE declarations (file name and content are the tag plus newline)
	RootDeclaration   = "0=ocfl_1.1"
	ObjectDeclaration = "0=ocfl_object_1.1"
)

// Inventory is the parsed form of an inventory.json document. Field order
// matters: Marshal emits fields in declaration order and this order is the
// canonical serialization the sidecar digest is computed over.
type Inventory struct {
	Id               string                                           `json:"id"`
	Type             string                                           `json:"type"`
	DigestAlgorithm  checksum.DigestAlgorithm                         `json:"digestAlgorithm"`
	Head             string                                           `json:"head"`
	ContentDirectory string                                           `json:"contentDirectory,omitempty"`
	Manifest         map[string][]string                              `json:"manifest"`
	Versions         map[string]*Version                              `json:"versions"`
	Fixity           map[checksum.DigestAlgorithm]map[string][]string `json:"fixity,omitempty"`
}

var compileInventorySchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("inventory.schema.json", string(schemas.InventorySchema))
})

var versionNameRegexp = regexp.MustCompile(`^v[1-9][0-9]*$`)

func versionName(n int) string {
	return fmt.Sprintf("v%d", n)
}

func parseVersionName(name string) (int, error) {
	if !versionNameRegexp.MatchString(name) {
		return 0, errors.Errorf("invalid version name '%s'", name)
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil {
		return 0, errors.Wrapf(err, "invalid version name '%s'", name)
	}
	return n, nil
}

// NewInventory builds the empty inventory of a brand-new object. It has no
// versions yet; the first AddVersion creates v1.
func NewInventory(id string, alg checksum.DigestAlgorithm) (*Inventory, error) {
	if id == "" {
		return nil, newError(KindSchemaViolation, nil, "empty object id")
	}
	if !checksum.ContentAlgorithm(alg) {
		return nil, newError(KindUnsupported, nil, "digest algorithm '%s' not usable for content addressing", alg)
	}
	return &Inventory{
		Id:               id,
		Type:             InventoryType,
		DigestAlgorithm:  alg,
		ContentDirectory: DefaultContentDirectory,
		Manifest:         map[string][]string{},
		Versions:         map[string]*Version{},
	}, nil
}

// ParseInventory validates data against the embedded inventory schema,
// decodes it and applies the semantic checks the schema cannot express
// (gapless numbering, head pointer, state-manifest closure).
func ParseInventory(data []byte) (*Inventory, error) {
	schema, err := compileInventorySchema()
	if err != nil {
		return nil, errors.Wrap(err, "cannot compile inventory schema")
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, newError(KindSchemaViolation, err, "inventory is not valid json")
	}
	if err := schema.Validate(doc); err != nil {
		return nil, newError(KindSchemaViolation, err, "inventory violates schema")
	}
	inv := &Inventory{}
	if err := json.Unmarshal(data, inv); err != nil {
		return nil, newError(KindSchemaViolation, err, "cannot unmarshal inventory")
	}
	if err := inv.check(); err != nil {
		return nil, errors.WithStack(err)
	}
	return inv, nil
}

func (i *Inventory) check() error {
	if i.Type != InventoryType {
		return newError(KindSchemaViolation, nil, "unknown inventory type '%s'", i.Type).withObject(i.Id)
	}
	if !checksum.HashExists(i.DigestAlgorithm) {
		return newError(KindUnsupported, nil, "unknown digest algorithm '%s'", i.DigestAlgorithm).withObject(i.Id)
	}
	if !checksum.ContentAlgorithm(i.DigestAlgorithm) {
		return newError(KindUnsupported, nil, "digest algorithm '%s' not usable for content addressing", i.DigestAlgorithm).withObject(i.Id)
	}
	if len(i.Versions) == 0 {
		return newError(KindSchemaViolation, nil, "inventory without versions").withObject(i.Id)
	}
	nums := []int{}
	for name := range i.Versions {
		n, err := parseVersionName(name)
		if err != nil {
			return newError(KindSchemaViolation, err, "").withObject(i.Id)
		}
		nums = append(nums, n)
	}
	slices.Sort(nums)
	for idx, n := range nums {
		if n != idx+1 {
			return newError(KindSchemaViolation, nil, "version numbering not contiguous: %v", nums).withObject(i.Id)
		}
	}
	if i.Head != versionName(nums[len(nums)-1]) {
		return newError(KindSchemaViolation, nil, "head '%s' does not match highest version v%d", i.Head, nums[len(nums)-1]).withObject(i.Id)
	}
	for name, version := range i.Versions {
		for digest := range version.State {
			if _, ok := i.Manifest[digest]; !ok {
				return newError(KindSchemaViolation, nil, "state digest not in manifest").
					withObject(i.Id).withDigest(digest).withPath(name)
			}
		}
	}
	return nil
}

// Marshal produces the canonical serialization: declaration-order fields,
// sorted map keys (encoding/json guarantee), sorted path lists, two-space
// indent. Marshal(ParseInventory(b)) == b for canonical b.
func (i *Inventory) Marshal() ([]byte, error) {
	for _, paths := range i.Manifest {
		slices.Sort(paths)
	}
	for _, version := range i.Versions {
		for _, paths := range version.State {
			slices.Sort(paths)
		}
	}
	for _, digests := range i.Fixity {
		for _, paths := range digests {
			slices.Sort(paths)
		}
	}
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "cannot marshal inventory")
	}
	return data, nil
}

// Sidecar returns the content of the inventory digest sidecar file for the
// given serialized inventory.
func (i *Inventory) Sidecar(data []byte) (string, error) {
	h, err := checksum.GetHash(i.DigestAlgorithm)
	if err != nil {
		return "", errors.WithStack(err)
	}
	h.Write(data)
	return fmt.Sprintf("%x %s\n", h.Sum(nil), InventoryFile), nil
}

// SidecarName is the file name of the digest sidecar next to an
// inventory.json copy.
func (i *Inventory) SidecarName() string {
	return fmt.Sprintf("%s.%s", InventoryFile, i.DigestAlgorithm)
}

// HeadNum is the ordinal of the head version, 0 for an empty inventory.
func (i *Inventory) HeadNum() int {
	if i.Head == "" {
		return 0
	}
	n, err := parseVersionName(i.Head)
	if err != nil {
		return 0
	}
	return n
}

func (i *Inventory) VersionNums() []int {
	nums := []int{}
	for name := range i.Versions {
		if n, err := parseVersionName(name); err == nil {
			nums = append(nums, n)
		}
	}
	slices.Sort(nums)
	return nums
}

// GetVersion returns the version block for ordinal n.
func (i *Inventory) GetVersion(n int) (*Version, error) {
	version, ok := i.Versions[versionName(n)]
	if !ok {
		return nil, newError(KindNotFound, nil, "version v%d does not exist", n).withObject(i.Id).withVersion(n)
	}
	return version, nil
}

// LogicalState returns the path -> digest view of version n.
func (i *Inventory) LogicalState(n int) (map[string]string, error) {
	version, err := i.GetVersion(n)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return version.LogicalState(), nil
}

// ResolveDigest returns the first stored path for digest, relative to the
// object root.
func (i *Inventory) ResolveDigest(digest string) (string, error) {
	paths, ok := i.Manifest[digest]
	if !ok || len(paths) == 0 {
		return "", newError(KindMissingContent, nil, "digest not in manifest").withObject(i.Id).withDigest(digest)
	}
	return paths[0], nil
}

// HasDigest reports whether digest already has a manifest entry, which is
// the deduplication check of the content store.
func (i *Inventory) HasDigest(digest string) bool {
	_, ok := i.Manifest[digest]
	return ok
}

func (i *Inventory) GetContentDirectory() string {
	if i.ContentDirectory == "" {
		return DefaultContentDirectory
	}
	return i.ContentDirectory
}

// ContentPath builds the storage path of a logical path inside version n,
// relative to the object root.
func (i *Inventory) ContentPath(n int, logical string) string {
	return fmt.Sprintf("%s/%s/%s", versionName(n), i.GetContentDirectory(), logical)
}

// AddManifestEntry registers a new stored path for digest. Manifest entries
// are append-only; nothing ever removes one.
func (i *Inventory) AddManifestEntry(digest string, contentPath string) {
	if !slices.Contains(i.Manifest[digest], contentPath) {
		i.Manifest[digest] = append(i.Manifest[digest], contentPath)
	}
}

// AddFixity records a secondary digest for a stored path.
func (i *Inventory) AddFixity(alg checksum.DigestAlgorithm, digest string, contentPath string) {
	if i.Fixity == nil {
		i.Fixity = map[checksum.DigestAlgorithm]map[string][]string{}
	}
	if i.Fixity[alg] == nil {
		i.Fixity[alg] = map[string][]string{}
	}
	if !slices.Contains(i.Fixity[alg][digest], contentPath) {
		i.Fixity[alg][digest] = append(i.Fixity[alg][digest], contentPath)
	}
}

// AddVersion appends the next version with the given logical state
// (path -> digest). Every digest must already have a manifest entry.
func (i *Inventory) AddVersion(created time.Time, message string, user *User, logical map[string]string) (int, error) {
	next := i.HeadNum() + 1
	state := map[string][]string{}
	for path, digest := range logical {
		if !i.HasDigest(digest) {
			return 0, newError(KindSchemaViolation, nil, "state digest not in manifest").
				withObject(i.Id).withPath(path).withDigest(digest)
		}
		state[digest] = append(state[digest], path)
	}
	for _, paths := range state {
		slices.Sort(paths)
	}
	i.Versions[versionName(next)] = &Version{
		Created: OCFLTime{created},
		Message: message,
		State:   state,
		User:    user,
	}
	i.Head = versionName(next)
	return next, nil
}

// Clone is a deep copy; the commit engine stages against a clone so an
// aborted commit leaves the loaded inventory untouched.
func (i *Inventory) Clone() *Inventory {
	clone := &Inventory{
		Id:               i.Id,
		Type:             i.Type,
		DigestAlgorithm:  i.DigestAlgorithm,
		Head:             i.Head,
		ContentDirectory: i.ContentDirectory,
		Manifest:         map[string][]string{},
		Versions:         map[string]*Version{},
	}
	for digest, paths := range i.Manifest {
		clone.Manifest[digest] = slices.Clone(paths)
	}
	for name, version := range i.Versions {
		cv := &Version{
			Created: version.Created,
			Message: version.Message,
			State:   map[string][]string{},
		}
		if version.User != nil {
			user := *version.User
			cv.User = &user
		}
		for digest, paths := range version.State {
			cv.State[digest] = slices.Clone(paths)
		}
		clone.Versions[name] = cv
	}
	if i.Fixity != nil {
		clone.Fixity = map[checksum.DigestAlgorithm]map[string][]string{}
		for alg, digests := range i.Fixity {
			clone.Fixity[alg] = map[string][]string{}
			for digest, paths := range digests {
				clone.Fixity[alg][digest] = slices.Clone(paths)
			}
		}
	}
	return clone
}

// ConsistentWith checks that frozen (the inventory copy stored inside a
// version directory) matches what this head inventory looked like right
// after that version was committed.
func (i *Inventory) ConsistentWith(frozen *Inventory, n int) error {
	if frozen.Id != i.Id {
		return newError(KindInconsistent, nil, "frozen inventory id '%s' != '%s'", frozen.Id, i.Id).
			withObject(i.Id).withVersion(n)
	}
	if frozen.DigestAlgorithm != i.DigestAlgorithm {
		return newError(KindInconsistent, nil, "frozen inventory digest algorithm '%s' != '%s'",
			frozen.DigestAlgorithm, i.DigestAlgorithm).withObject(i.Id).withVersion(n)
	}
	if frozen.HeadNum() != n {
		return newError(KindInconsistent, nil, "frozen inventory head %s != v%d", frozen.Head, n).
			withObject(i.Id).withVersion(n)
	}
	for k := 1; k <= n; k++ {
		headVersion, err := i.GetVersion(k)
		if err != nil {
			return errors.WithStack(err)
		}
		frozenVersion, err := frozen.GetVersion(k)
		if err != nil {
			return errors.WithStack(err)
		}
		if !headVersion.EqualState(frozenVersion) {
			return newError(KindInconsistent, nil, "state of v%d differs between frozen v%d inventory and head", k, n).
				withObject(i.Id).withVersion(n)
		}
		if !headVersion.EqualMeta(frozenVersion) {
			return newError(KindInconsistent, nil, "metadata of v%d differs between frozen v%d inventory and head", k, n).
				withObject(i.Id).withVersion(n)
		}
	}
	for digest, paths := range frozen.Manifest {
		headPaths, ok := i.Manifest[digest]
		if !ok {
			return newError(KindInconsistent, nil, "manifest entry of frozen v%d inventory missing from head", n).
				withObject(i.Id).withDigest(digest).withVersion(n)
		}
		for _, path := range paths {
			if !slices.Contains(headPaths, path) {
				return newError(KindInconsistent, nil, "manifest path '%s' of frozen v%d inventory missing from head", path, n).
					withObject(i.Id).withDigest(digest).withVersion(n)
			}
		}
	}
	return nil
}
