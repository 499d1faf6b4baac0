package ocfl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/google/uuid"
	"github.com/ocfl-archive/ocflkit/pkg/backend"
	"github.com/ocfl-archive/ocflkit/pkg/checksum"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

// CommitState tracks a commit through its lifecycle. Transitions only move
// forward; a finished commit cannot be reused.
type CommitState string

const (
	CommitInitializing CommitState = "initializing"
	CommitStaging      CommitState = "staging"
	CommitValidating   CommitState = "validating"
	CommitCommitting   CommitState = "committing"
	CommitCommitted    CommitState = "committed"
	CommitAborted      CommitState = "aborted"
)

// FileSource opens the content of one staged file. It must be re-openable:
// the commit engine reads every source twice, once to digest and once to
// upload.
type FileSource func() (io.ReadCloser, error)

// BytesSource wraps in-memory content as a FileSource.
func BytesSource(data []byte) FileSource {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

type CommitOption func(*Commit)

func WithMessage(message string) CommitOption {
	return func(c *Commit) { c.message = message }
}

func WithUser(name, address string) CommitOption {
	return func(c *Commit) { c.user = &User{Name: name, Address: address} }
}

func WithCreated(created time.Time) CommitOption {
	return func(c *Commit) { c.created = created }
}

// WithFixity adds secondary digest algorithms recorded in the fixity block
// for all newly stored content.
func WithFixity(algs ...checksum.DigestAlgorithm) CommitOption {
	return func(c *Commit) { c.fixity = algs }
}

// Commit stages the complete logical state of the next version and writes
// it in one go. The head of the object is captured when the commit is
// created; a head moved by a concurrent writer is detected before anything
// becomes visible and surfaces as KindConflict.
type Commit struct {
	store      *StorageRoot
	fsys       backend.Backend
	id         string
	objectPath string
	base       *Inventory
	baseHead   int
	alg        checksum.DigestAlgorithm
	fixity     []checksum.DigestAlgorithm
	state      CommitState
	message    string
	user       *User
	created    time.Time
	files      map[string]FileSource
	retained   map[string]string
	staged     []string
	stagedDirs []string
	logger     zerolog.Logger
}

func newCommit(ctx context.Context, store *StorageRoot, id string, alg checksum.DigestAlgorithm, opts ...CommitOption) (*Commit, error) {
	objectPath, err := store.ObjectPath(id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	c := &Commit{
		store:      store,
		fsys:       store.fsys,
		id:         id,
		objectPath: objectPath,
		alg:        alg,
		state:      CommitInitializing,
		created:    time.Now().UTC(),
		files:      map[string]FileSource{},
		retained:   map[string]string{},
		logger:     store.logger.With().Str("object", id).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	object, err := store.OpenObject(ctx, id)
	switch {
	case err == nil:
		c.base = object.Inventory()
		c.baseHead = c.base.HeadNum()
		if c.alg != "" && c.alg != c.base.DigestAlgorithm {
			return nil, newError(KindUnsupported, nil,
				"object uses digest algorithm '%s', cannot commit with '%s'", c.base.DigestAlgorithm, c.alg).
				withObject(id)
		}
		c.alg = c.base.DigestAlgorithm
	case IsKind(err, KindNotFound):
		if c.alg == "" {
			c.alg = checksum.DigestDefault
		}
		if !checksum.ContentAlgorithm(c.alg) {
			return nil, newError(KindUnsupported, nil, "digest algorithm '%s' not usable for content addressing", c.alg).
				withObject(id)
		}
	default:
		return nil, errors.WithStack(err)
	}
	c.transition(CommitStaging)
	return c, nil
}

func (c *Commit) transition(next CommitState) {
	c.logger.Debug().Str("from", string(c.state)).Str("to", string(next)).Msg("commit state")
	c.state = next
}

func (c *Commit) State() CommitState { return c.state }

// Head is the version number the commit was started against, 0 for a new
// object.
func (c *Commit) Head() int { return c.baseHead }

func validLogicalPath(logical string) error {
	if logical == "" || strings.HasPrefix(logical, "/") || strings.HasSuffix(logical, "/") {
		return errors.Errorf("invalid logical path '%s'", logical)
	}
	for _, segment := range strings.Split(logical, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return errors.Errorf("invalid logical path '%s'", logical)
		}
	}
	return nil
}

// AddFile stages new content for a logical path. Staging the same path
// twice replaces the earlier source.
func (c *Commit) AddFile(logical string, src FileSource) error {
	if c.state != CommitStaging {
		return newError(KindConflict, nil, "commit is %s, not %s", c.state, CommitStaging).withObject(c.id)
	}
	if err := validLogicalPath(logical); err != nil {
		return newError(KindSchemaViolation, err, "").withObject(c.id).withPath(logical)
	}
	delete(c.retained, logical)
	c.files[logical] = src
	return nil
}

// Retain carries existing content forward under a logical path without
// re-uploading it. The digest must already be in the manifest.
func (c *Commit) Retain(logical string, digest string) error {
	if c.state != CommitStaging {
		return newError(KindConflict, nil, "commit is %s, not %s", c.state, CommitStaging).withObject(c.id)
	}
	if err := validLogicalPath(logical); err != nil {
		return newError(KindSchemaViolation, err, "").withObject(c.id).withPath(logical)
	}
	if c.base == nil || !c.base.HasDigest(digest) {
		return newError(KindNotFound, nil, "digest not in manifest").withObject(c.id).withDigest(digest)
	}
	delete(c.files, logical)
	c.retained[logical] = digest
	return nil
}

// RetainHead seeds the staged state with the complete head state, the
// starting point for an incremental update.
func (c *Commit) RetainHead() error {
	if c.base == nil {
		return nil
	}
	state, err := c.base.LogicalState(c.baseHead)
	if err != nil {
		return errors.WithStack(err)
	}
	for logical, digest := range state {
		if err := c.Retain(logical, digest); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// Remove drops a staged logical path. The path is simply absent from the
// next version; stored content is never deleted.
func (c *Commit) Remove(logical string) error {
	if c.state != CommitStaging {
		return newError(KindConflict, nil, "commit is %s, not %s", c.state, CommitStaging).withObject(c.id)
	}
	delete(c.files, logical)
	delete(c.retained, logical)
	return nil
}

// Abort discards the commit and removes anything it wrote.
func (c *Commit) Abort(ctx context.Context) error {
	if c.state == CommitCommitted {
		return newError(KindConflict, nil, "commit already committed").withObject(c.id)
	}
	err := c.cleanup(ctx)
	c.transition(CommitAborted)
	return errors.WithStack(err)
}

func (c *Commit) cleanup(ctx context.Context) error {
	var errs []error
	// reverse order, files before their directories
	for i := len(c.staged) - 1; i >= 0; i-- {
		if err := c.fsys.Delete(ctx, c.staged[i]); err != nil && !errors.Is(err, backend.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	for _, dir := range c.stagedDirs {
		exists, err := c.fsys.Exists(ctx, dir)
		if err != nil || !exists {
			continue
		}
		if err := c.fsys.DeleteAll(ctx, dir); err != nil {
			errs = append(errs, err)
		}
	}
	c.staged = nil
	c.stagedDirs = nil
	if len(errs) > 0 {
		return newError(KindBackendIO, errors.Combine(errs...), "cannot clean up staged content").withObject(c.id)
	}
	return nil
}

// checkPathTree rejects staged states where one logical path would have to
// be both a file and a directory.
func (c *Commit) checkPathTree(logical map[string]string) error {
	for p := range logical {
		for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
			if _, ok := logical[dir]; ok {
				return newError(KindSchemaViolation, nil, "logical path '%s' conflicts with file '%s'", p, dir).
					withObject(c.id).withPath(p)
			}
		}
	}
	return nil
}

type stagedUpload struct {
	digest      string
	contentPath string
	source      FileSource
	fixity      map[checksum.DigestAlgorithm]string
}

// digestPass streams every staged source through the digest writer without
// storing anything, so deduplication happens before the first byte is
// uploaded.
func (c *Commit) digestPass(ctx context.Context, next int, inv *Inventory) (map[string]string, []*stagedUpload, error) {
	algs := append([]checksum.DigestAlgorithm{c.alg}, c.fixity...)
	logical := map[string]string{}
	for p, digest := range c.retained {
		logical[p] = digest
	}
	uploads := []*stagedUpload{}
	byDigest := map[string]*stagedUpload{}
	paths := make([]string, 0, len(c.files))
	for p := range c.files {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, errors.WithStack(err)
		}
		src := c.files[p]
		rc, err := src()
		if err != nil {
			return nil, nil, newError(KindBackendIO, err, "cannot open staged content").withObject(c.id).withPath(p)
		}
		digests, err := checksum.Copy(checksum.NewNullWriter(), rc, algs)
		rc.Close()
		if err != nil {
			return nil, nil, newError(KindBackendIO, err, "cannot digest staged content").withObject(c.id).withPath(p)
		}
		digest := digests[c.alg]
		logical[p] = digest
		if inv.HasDigest(digest) {
			continue
		}
		if _, ok := byDigest[digest]; ok {
			// identical content staged under two logical paths, store once
			continue
		}
		fixity := map[checksum.DigestAlgorithm]string{}
		for _, alg := range c.fixity {
			fixity[alg] = digests[alg]
		}
		upload := &stagedUpload{
			digest:      digest,
			contentPath: inv.ContentPath(next, p),
			source:      src,
			fixity:      fixity,
		}
		byDigest[digest] = upload
		uploads = append(uploads, upload)
	}
	return logical, uploads, nil
}

// writeContent uploads one staged file to dst, re-verifying the digest
// captured in the first pass. A source that changed between the two passes
// is KindCorruption.
func (c *Commit) writeContent(ctx context.Context, upload *stagedUpload, dst string) error {
	rc, err := upload.source()
	if err != nil {
		return newError(KindBackendIO, err, "cannot open staged content").withObject(c.id).withPath(dst)
	}
	defer rc.Close()
	h, err := checksum.GetHash(c.alg)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := c.fsys.WriteNew(ctx, dst, io.TeeReader(rc, h)); err != nil {
		return newError(KindBackendIO, err, "cannot write staged content").withObject(c.id).withPath(dst)
	}
	c.staged = append(c.staged, dst)
	if digest := fmt.Sprintf("%x", h.Sum(nil)); digest != upload.digest {
		return newError(KindCorruption, nil, "content changed between digest and upload pass").
			withObject(c.id).withPath(dst).withDigest(upload.digest)
	}
	return nil
}

// currentHead reads the head version currently on storage, 0 if the object
// does not exist.
func (c *Commit) currentHead(ctx context.Context) (int, error) {
	inv, _, err := readInventory(ctx, c.fsys, c.objectPath)
	if err != nil {
		if IsKind(err, KindNotFound) {
			return 0, nil
		}
		return 0, errors.WithStack(err)
	}
	return inv.HeadNum(), nil
}

// Commit runs the staged changeset to completion and returns the new
// version number. On any failure everything staged on the backend is
// removed and the commit ends aborted.
func (c *Commit) Commit(ctx context.Context) (int, error) {
	if c.state != CommitStaging {
		return 0, newError(KindConflict, nil, "commit is %s, not %s", c.state, CommitStaging).withObject(c.id)
	}
	c.transition(CommitValidating)
	n, err := c.run(ctx)
	if err != nil {
		if cleanupErr := c.cleanup(ctx); cleanupErr != nil {
			c.logger.Error().Err(cleanupErr).Msg("cleanup after failed commit")
		}
		c.transition(CommitAborted)
		return 0, errors.WithStack(err)
	}
	c.transition(CommitCommitted)
	return n, nil
}

func (c *Commit) run(ctx context.Context) (int, error) {
	var inv *Inventory
	var err error
	if c.base != nil {
		inv = c.base.Clone()
	} else {
		if inv, err = NewInventory(c.id, c.alg); err != nil {
			return 0, errors.WithStack(err)
		}
	}
	next := c.baseHead + 1

	logical, uploads, err := c.digestPass(ctx, next, inv)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if err := c.checkPathTree(logical); err != nil {
		return 0, errors.WithStack(err)
	}

	// head may have moved since the commit was opened
	head, err := c.currentHead(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if head != c.baseHead {
		return 0, newError(KindConflict, nil, "head moved from v%d to v%d", c.baseHead, head).
			withObject(c.id).withVersion(head)
	}

	for _, upload := range uploads {
		inv.AddManifestEntry(upload.digest, upload.contentPath)
		for alg, digest := range upload.fixity {
			inv.AddFixity(alg, digest, upload.contentPath)
		}
	}
	if _, err := inv.AddVersion(c.created, c.message, c.user, logical); err != nil {
		return 0, errors.WithStack(err)
	}
	data, err := inv.Marshal()
	if err != nil {
		return 0, errors.WithStack(err)
	}

	c.transition(CommitCommitting)
	if renamer, ok := c.fsys.(backend.Renamer); ok {
		err = c.commitLocal(ctx, renamer, inv, data, next, uploads)
	} else {
		err = c.commitRemote(ctx, inv, data, next, uploads)
	}
	if err != nil {
		return 0, errors.WithStack(err)
	}
	c.logger.Info().Int("version", next).Int("new_files", len(uploads)).Msg("committed")
	return next, nil
}

// commitLocal assembles the version under a temporary directory inside the
// object root and makes it visible with a single rename. A concurrently
// created version directory makes the rename fail, which is a conflict,
// not an io error.
func (c *Commit) commitLocal(ctx context.Context, renamer backend.Renamer, inv *Inventory, data []byte, next int, uploads []*stagedUpload) error {
	if c.base == nil {
		if err := writeDeclaration(ctx, c.fsys, c.objectPath, ObjectDeclaration); err != nil {
			return errors.WithStack(err)
		}
		c.staged = append(c.staged, path.Join(c.objectPath, ObjectDeclaration))
	}
	tmp := path.Join(c.objectPath, fmt.Sprintf("staging.%s", uuid.NewString()))
	c.stagedDirs = append(c.stagedDirs, tmp)
	prefix := fmt.Sprintf("%s/%s/", versionName(next), inv.GetContentDirectory())
	for _, upload := range uploads {
		rel := strings.TrimPrefix(upload.contentPath, prefix)
		if err := c.writeContent(ctx, upload, path.Join(tmp, inv.GetContentDirectory(), rel)); err != nil {
			return errors.WithStack(err)
		}
	}
	if err := writeInventory(ctx, c.fsys, tmp, inv, data, false); err != nil {
		return errors.WithStack(err)
	}
	c.staged = append(c.staged,
		path.Join(tmp, InventoryFile),
		path.Join(tmp, inv.SidecarName()))

	versionDir := path.Join(c.objectPath, versionName(next))
	if err := renamer.Rename(ctx, tmp, versionDir); err != nil {
		return newError(KindConflict, err, "cannot promote staged version to %s", versionName(next)).
			withObject(c.id).withVersion(next)
	}
	// staged paths now live under the version directory
	c.staged = renamePaths(c.staged, tmp, versionDir)
	c.stagedDirs = []string{versionDir}

	if err := writeInventory(ctx, c.fsys, c.objectPath, inv, data, true); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// commitRemote writes to final paths directly, content first and the root
// inventory flip last. There is no rename on object stores; an interrupted
// commit leaves a trailing version directory that validation reports as
// incomplete while every prior version stays readable.
func (c *Commit) commitRemote(ctx context.Context, inv *Inventory, data []byte, next int, uploads []*stagedUpload) error {
	for _, upload := range uploads {
		if err := c.writeContent(ctx, upload, path.Join(c.objectPath, upload.contentPath)); err != nil {
			return errors.WithStack(err)
		}
	}
	if c.base == nil {
		if err := writeDeclaration(ctx, c.fsys, c.objectPath, ObjectDeclaration); err != nil {
			return errors.WithStack(err)
		}
		c.staged = append(c.staged, path.Join(c.objectPath, ObjectDeclaration))
	}
	versionDir := path.Join(c.objectPath, versionName(next))
	if err := writeInventory(ctx, c.fsys, versionDir, inv, data, false); err != nil {
		return errors.WithStack(err)
	}
	c.staged = append(c.staged,
		path.Join(versionDir, InventoryFile),
		path.Join(versionDir, inv.SidecarName()))

	// last chance to lose the race before the flip makes the version visible
	head, err := c.currentHead(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if head != c.baseHead {
		return newError(KindConflict, nil, "head moved from v%d to v%d", c.baseHead, head).
			withObject(c.id).withVersion(head)
	}
	if err := writeInventory(ctx, c.fsys, c.objectPath, inv, data, true); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func renamePaths(paths []string, from, to string) []string {
	renamed := make([]string, 0, len(paths))
	for _, p := range paths {
		if strings.HasPrefix(p, from+"/") {
			renamed = append(renamed, to+strings.TrimPrefix(p, from))
		} else {
			renamed = append(renamed, p)
		}
	}
	return renamed
}
