package ocfl

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"

	"emperror.dev/errors"
	"github.com/ocfl-archive/ocflkit/pkg/backend"
	"github.com/ocfl-archive/ocflkit/pkg/checksum"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single validation finding. Kind reuses the error taxonomy so
// callers can filter findings the same way they match errors.
type Issue struct {
	Severity Severity
	Kind     Kind
	ObjectID string
	Location string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s/%s] %s: %s", i.Severity, i.Kind, i.Location, i.Message)
}

// Report collects the findings of one validation run. It is safe for
// concurrent use by the digest workers.
type Report struct {
	mu     sync.Mutex
	issues []Issue
}

func (r *Report) add(severity Severity, kind Kind, objectID, location, format string, a ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issues = append(r.issues, Issue{
		Severity: severity,
		Kind:     kind,
		ObjectID: objectID,
		Location: location,
		Message:  fmt.Sprintf(format, a...),
	})
}

// addError files err as a finding, reusing its kind and context fields.
func (r *Report) addError(err error, objectID, location string) {
	kind := GetKind(err)
	if kind == "" {
		kind = KindBackendIO
	}
	var e *Error
	if errors.As(err, &e) {
		if e.ObjectID != "" {
			objectID = e.ObjectID
		}
		if e.Path != "" && location == "" {
			location = e.Path
		}
	}
	r.add(SeverityError, kind, objectID, location, "%s", err.Error())
}

// Issues returns the findings sorted by object, location and severity.
func (r *Report) Issues() []Issue {
	r.mu.Lock()
	defer r.mu.Unlock()
	issues := slices.Clone(r.issues)
	slices.SortFunc(issues, func(a, b Issue) int {
		if c := strings.Compare(a.ObjectID, b.ObjectID); c != 0 {
			return c
		}
		if c := strings.Compare(a.Location, b.Location); c != 0 {
			return c
		}
		return strings.Compare(string(a.Severity), string(b.Severity))
	})
	return issues
}

// Valid reports whether the run found no error-severity issues.
func (r *Report) Valid() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, issue := range r.issues {
		if issue.Severity == SeverityError {
			return false
		}
	}
	return true
}

func (r *Report) Errors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, issue := range r.issues {
		if issue.Severity == SeverityError {
			n++
		}
	}
	return n
}

func (r *Report) Warnings() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, issue := range r.issues {
		if issue.Severity != SeverityError {
			n++
		}
	}
	return n
}

// ValidationOptions tunes a validation run.
type ValidationOptions struct {
	// Parallel bounds the concurrent digest workers.
	Parallel int
	// NoDigest skips the content fixity pass and checks structure only.
	NoDigest bool
}

const defaultValidationParallel = 4

func (o *ValidationOptions) parallel() int {
	if o == nil || o.Parallel <= 0 {
		return defaultValidationParallel
	}
	return o.Parallel
}

func (o *ValidationOptions) noDigest() bool {
	return o != nil && o.NoDigest
}

// objectValidator carries the state of one object validation run.
type objectValidator struct {
	fsys    backend.Backend
	root    string
	opts    *ValidationOptions
	report  *Report
	logger  zerolog.Logger
	inv     *Inventory
	present map[string]int64
}

// ValidateObject checks the object rooted at root in depth: declaration,
// inventory chain, version directory layout, manifest closure and, unless
// disabled, the digest of every stored file. Structural findings go into
// the report; the returned error is reserved for backend failures.
func ValidateObject(ctx context.Context, fsys backend.Backend, root string, opts *ValidationOptions, logger zerolog.Logger) (*Report, error) {
	v := &objectValidator{
		fsys:   fsys,
		root:   root,
		opts:   opts,
		report: &Report{},
		logger: logger,
	}
	if err := v.run(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	return v.report, nil
}

func (v *objectValidator) run(ctx context.Context) error {
	if err := readDeclaration(ctx, v.fsys, v.root, ObjectDeclaration); err != nil {
		v.report.addError(err, "", v.root)
	}
	inv, _, err := readInventory(ctx, v.fsys, v.root)
	if err != nil {
		if IsKind(err, KindBackendIO) {
			return errors.WithStack(err)
		}
		v.report.addError(err, "", path.Join(v.root, InventoryFile))
		// no inventory to check against, but trailing version directories
		// from an interrupted first commit are still worth reporting
		v.checkEntriesWithoutInventory(ctx)
		return nil
	}
	v.inv = inv
	if err := v.scanContent(ctx); err != nil {
		return errors.WithStack(err)
	}
	v.checkEntries(ctx)
	if err := v.checkVersionInventories(ctx); err != nil {
		return errors.WithStack(err)
	}
	v.checkManifestClosure()
	if !v.opts.noDigest() {
		if err := v.checkDigests(ctx); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (v *objectValidator) checkEntriesWithoutInventory(ctx context.Context) {
	entries, err := v.fsys.List(ctx, v.root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.Dir && versionNameRegexp.MatchString(entry.Name) {
			v.report.add(SeverityError, KindIncomplete, "", path.Join(v.root, entry.Name),
				"version directory without a readable root inventory")
		}
	}
}

// scanContent walks the object once and keeps every file path and size.
func (v *objectValidator) scanContent(ctx context.Context) error {
	v.present = map[string]int64{}
	prefix := v.root + "/"
	if v.root == "" {
		prefix = ""
	}
	err := v.fsys.Walk(ctx, v.root, func(p string, size int64) error {
		v.present[strings.TrimPrefix(p, prefix)] = size
		return nil
	})
	if err != nil {
		return newError(KindBackendIO, err, "cannot walk object root '%s'", v.root).withObject(v.inv.Id)
	}
	return nil
}

// checkEntries classifies the direct children of the object root. A version
// directory numbered past head is the footprint of an interrupted commit.
func (v *objectValidator) checkEntries(ctx context.Context) {
	entries, err := v.fsys.List(ctx, v.root)
	if err != nil {
		return
	}
	head := v.inv.HeadNum()
	for _, entry := range entries {
		location := path.Join(v.root, entry.Name)
		switch {
		case !entry.Dir:
			switch entry.Name {
			case ObjectDeclaration, InventoryFile, v.inv.SidecarName():
			default:
				v.report.add(SeverityWarning, KindInconsistent, v.inv.Id, location,
					"unexpected file in object root")
			}
		case entry.Name == extensionsDir:
		case versionNameRegexp.MatchString(entry.Name):
			n, _ := parseVersionName(entry.Name)
			if n > head {
				v.report.add(SeverityError, KindIncomplete, v.inv.Id, location,
					"version directory past head %s, interrupted commit", v.inv.Head)
			}
		default:
			v.report.add(SeverityWarning, KindInconsistent, v.inv.Id, location,
				"unexpected directory in object root")
		}
	}
}

// checkVersionInventories verifies the frozen inventory of every version
// against the head inventory.
func (v *objectValidator) checkVersionInventories(ctx context.Context) error {
	for n := 1; n <= v.inv.HeadNum(); n++ {
		versionDir := path.Join(v.root, versionName(n))
		frozen, _, err := readInventory(ctx, v.fsys, versionDir)
		if err != nil {
			switch {
			case IsKind(err, KindBackendIO):
				return errors.WithStack(err)
			case IsKind(err, KindNotFound):
				if v.versionDirExists(n) {
					v.report.add(SeverityWarning, KindIncomplete, v.inv.Id, versionDir,
						"version directory carries no inventory")
				} else {
					v.report.add(SeverityError, KindInconsistent, v.inv.Id, versionDir,
						"version directory missing, versions must run contiguously from v1 to %s", v.inv.Head)
				}
			default:
				v.report.addError(err, v.inv.Id, path.Join(versionDir, InventoryFile))
			}
			continue
		}
		if err := v.inv.ConsistentWith(frozen, n); err != nil {
			v.report.addError(err, v.inv.Id, path.Join(versionDir, InventoryFile))
		}
	}
	return nil
}

// versionDirExists reports whether any stored file lives under version n.
// Object stores have no empty directories, so file presence is the check.
func (v *objectValidator) versionDirExists(n int) bool {
	prefix := versionName(n) + "/"
	for p := range v.present {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// checkManifestClosure matches the manifest against the walked files: every
// manifest path must exist and every content file must be claimed.
func (v *objectValidator) checkManifestClosure() {
	claimed := map[string]bool{}
	for digest, paths := range v.inv.Manifest {
		for _, p := range paths {
			claimed[p] = true
			if _, ok := v.present[p]; !ok {
				v.report.add(SeverityError, KindMissingContent, v.inv.Id, path.Join(v.root, p),
					"content file of digest %s missing", shortDigest(digest))
			}
		}
	}
	contentPrefix := regexp.MustCompile(`^v[1-9][0-9]*/` + regexp.QuoteMeta(v.inv.GetContentDirectory()) + `/`)
	for p := range v.present {
		if !contentPrefix.MatchString(p) {
			continue
		}
		if !claimed[p] {
			v.report.add(SeverityError, KindInconsistent, v.inv.Id, path.Join(v.root, p),
				"content file not referenced by manifest")
		}
	}
}

// checkDigests re-hashes every stored file and compares it to its manifest
// digest, with bounded parallelism. Fixity entries are verified with the
// same pass.
func (v *objectValidator) checkDigests(ctx context.Context) error {
	fixityByPath := map[string]map[checksum.DigestAlgorithm]string{}
	for alg, digests := range v.inv.Fixity {
		if !checksum.HashExists(alg) {
			v.report.add(SeverityWarning, KindUnsupported, v.inv.Id, "fixity",
				"cannot verify fixity algorithm '%s'", alg)
			continue
		}
		for digest, paths := range digests {
			for _, p := range paths {
				if fixityByPath[p] == nil {
					fixityByPath[p] = map[checksum.DigestAlgorithm]string{}
				}
				fixityByPath[p][alg] = digest
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.parallel())
	for digest, paths := range v.inv.Manifest {
		for _, p := range paths {
			if _, ok := v.present[p]; !ok {
				continue
			}
			digest, p := digest, p
			g.Go(func() error {
				algs := []checksum.DigestAlgorithm{v.inv.DigestAlgorithm}
				for alg := range fixityByPath[p] {
					algs = append(algs, alg)
				}
				rc, err := v.fsys.Open(gctx, path.Join(v.root, p))
				if err != nil {
					return newError(KindBackendIO, err, "cannot open '%s'", p).withObject(v.inv.Id)
				}
				defer rc.Close()
				digests, err := checksum.Copy(checksum.NewNullWriter(), rc, algs)
				if err != nil {
					return newError(KindBackendIO, err, "cannot digest '%s'", p).withObject(v.inv.Id)
				}
				if digests[v.inv.DigestAlgorithm] != digest {
					v.report.add(SeverityError, KindCorruption, v.inv.Id, path.Join(v.root, p),
						"digest mismatch, manifest claims %s", shortDigest(digest))
				}
				for alg, want := range fixityByPath[p] {
					if digests[alg] != want {
						v.report.add(SeverityError, KindCorruption, v.inv.Id, path.Join(v.root, p),
							"fixity mismatch for %s", alg)
					}
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

// ValidateObject checks a single object of the storage root.
func (s *StorageRoot) ValidateObject(ctx context.Context, id string, opts *ValidationOptions) (*Report, error) {
	objectPath, err := s.ObjectPath(id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ValidateObject(ctx, s.fsys, objectPath, opts, s.logger)
}

// Validate checks the storage root itself and every object in it.
func (s *StorageRoot) Validate(ctx context.Context, opts *ValidationOptions) (*Report, error) {
	report := &Report{}
	if err := readDeclaration(ctx, s.fsys, "", RootDeclaration); err != nil {
		report.addError(err, "", RootDeclaration)
	}
	roots, err := s.objectRoots(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.parallel())
	for _, root := range roots {
		root := root
		g.Go(func() error {
			objectReport, err := ValidateObject(gctx, s.fsys, root, opts, s.logger)
			if err != nil {
				return errors.WithStack(err)
			}
			report.mu.Lock()
			report.issues = append(report.issues, objectReport.issues...)
			report.mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.WithStack(err)
	}
	return report, nil
}
