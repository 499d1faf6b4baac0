package ocfl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"emperror.dev/errors"
	"github.com/ocfl-archive/ocflkit/pkg/backend"
	"github.com/ocfl-archive/ocflkit/pkg/checksum"
	"github.com/ocfl-archive/ocflkit/pkg/storagelayout"
	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

const (
	layoutFile    = "ocfl_layout.json"
	extensionsDir = "extensions"
)

type rootLayout struct {
	Extension   string `json:"extension"`
	Description string `json:"description,omitempty"`
}

// StorageRoot is the top level store. It maps object ids to object root
// directories through its storage layout extension.
type StorageRoot struct {
	fsys   backend.Backend
	layout storagelayout.StorageLayout
	logger zerolog.Logger
}

// InitStorageRoot creates a new storage root on an empty backend prefix:
// declaration, layout descriptor and layout extension config.
func InitStorageRoot(ctx context.Context, fsys backend.Backend, layout storagelayout.StorageLayout, logger zerolog.Logger) (*StorageRoot, error) {
	if layout == nil {
		var err error
		if layout, err = storagelayout.NewDefaultStorageLayout(); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	exists, err := fsys.Exists(ctx, RootDeclaration)
	if err != nil {
		return nil, newError(KindBackendIO, err, "cannot check '%s'", fsys)
	}
	if exists {
		return nil, newError(KindConflict, backend.ErrAlreadyExists, "storage root already initialized in '%s'", fsys)
	}
	if err := writeDeclaration(ctx, fsys, "", RootDeclaration); err != nil {
		return nil, errors.WithStack(err)
	}
	layoutData, err := json.MarshalIndent(&rootLayout{
		Extension:   layout.Name(),
		Description: "content addressed object store",
	}, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "cannot marshal layout descriptor")
	}
	layoutData = append(layoutData, '\n')
	if _, err := fsys.WriteNew(ctx, layoutFile, bytes.NewReader(layoutData)); err != nil {
		return nil, newError(KindBackendIO, err, "cannot write '%s'", layoutFile)
	}
	var config bytes.Buffer
	if err := layout.WriteConfig(&config); err != nil {
		return nil, errors.WithStack(err)
	}
	configPath := path.Join(extensionsDir, layout.Name(), "config.json")
	if _, err := fsys.WriteNew(ctx, configPath, &config); err != nil {
		return nil, newError(KindBackendIO, err, "cannot write '%s'", configPath)
	}
	logger.Info().Str("layout", layout.Name()).Msgf("initialized storage root on %s", fsys)
	return &StorageRoot{fsys: fsys, layout: layout, logger: logger}, nil
}

// LoadStorageRoot opens an existing storage root: declaration check and
// layout extension discovery.
func LoadStorageRoot(ctx context.Context, fsys backend.Backend, logger zerolog.Logger) (*StorageRoot, error) {
	if err := readDeclaration(ctx, fsys, "", RootDeclaration); err != nil {
		return nil, errors.WithStack(err)
	}
	layout, err := loadLayout(ctx, fsys)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &StorageRoot{fsys: fsys, layout: layout, logger: logger}, nil
}

func loadLayout(ctx context.Context, fsys backend.Backend) (storagelayout.StorageLayout, error) {
	data, err := backend.ReadAll(ctx, fsys, layoutFile)
	if err != nil {
		if errors.Is(err, backend.ErrNotExist) {
			// no descriptor means the root predates layout extensions
			return storagelayout.NewDefaultStorageLayout()
		}
		return nil, newError(KindBackendIO, err, "cannot read '%s'", layoutFile)
	}
	var descriptor rootLayout
	if err := json.Unmarshal(data, &descriptor); err != nil {
		return nil, newError(KindSchemaViolation, err, "cannot unmarshal '%s'", layoutFile)
	}
	configPath := path.Join(extensionsDir, descriptor.Extension, "config.json")
	configData, err := backend.ReadAll(ctx, fsys, configPath)
	if err != nil {
		if !errors.Is(err, backend.ErrNotExist) {
			return nil, newError(KindBackendIO, err, "cannot read '%s'", configPath)
		}
		configData = []byte(fmt.Sprintf(`{"extensionName":%q}`, descriptor.Extension))
	}
	layout, err := storagelayout.NewStorageLayout(configData)
	if err != nil {
		if errors.Is(err, storagelayout.ErrNotSupported) {
			return nil, newError(KindUnsupported, err, "layout extension '%s'", descriptor.Extension)
		}
		return nil, errors.WithStack(err)
	}
	return layout, nil
}

func (s *StorageRoot) Layout() storagelayout.StorageLayout { return s.layout }

// ObjectPath maps an object id to its object root directory.
func (s *StorageRoot) ObjectPath(id string) (string, error) {
	p, err := s.layout.ID2Path(id)
	if err != nil {
		return "", newError(KindUnsupported, err, "cannot map object id").withObject(id)
	}
	return p, nil
}

// OpenObject loads the object for id.
func (s *StorageRoot) OpenObject(ctx context.Context, id string) (*Object, error) {
	objectPath, err := s.ObjectPath(id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	object, err := loadObject(ctx, s.fsys, objectPath, s.logger)
	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.ObjectID == "" {
			e.ObjectID = id
		}
		return nil, errors.WithStack(err)
	}
	if object.ID() != id {
		return nil, newError(KindInconsistent, nil, "object at '%s' has id '%s'", objectPath, object.ID()).
			withObject(id)
	}
	return object, nil
}

// ObjectExists checks for the object declaration at the mapped path.
func (s *StorageRoot) ObjectExists(ctx context.Context, id string) (bool, error) {
	objectPath, err := s.ObjectPath(id)
	if err != nil {
		return false, errors.WithStack(err)
	}
	exists, err := s.fsys.Exists(ctx, path.Join(objectPath, ObjectDeclaration))
	if err != nil {
		return false, newError(KindBackendIO, err, "cannot check object").withObject(id)
	}
	return exists, nil
}

// ListObjects walks the root for object declarations and returns the ids of
// all loadable objects, sorted.
func (s *StorageRoot) ListObjects(ctx context.Context) ([]string, error) {
	ids := []string{}
	err := s.fsys.Walk(ctx, "", func(p string, size int64) error {
		if path.Base(p) != ObjectDeclaration {
			return nil
		}
		inv, _, err := readInventory(ctx, s.fsys, path.Dir(p))
		if err != nil {
			s.logger.Warn().Err(err).Msgf("skipping unreadable object at %s", path.Dir(p))
			return nil
		}
		ids = append(ids, inv.Id)
		return nil
	})
	if err != nil {
		return nil, newError(KindBackendIO, err, "cannot walk storage root")
	}
	slices.Sort(ids)
	return ids, nil
}

// objectRoots walks the root for object declarations and returns the object
// root directories, sorted.
func (s *StorageRoot) objectRoots(ctx context.Context) ([]string, error) {
	roots := []string{}
	err := s.fsys.Walk(ctx, "", func(p string, size int64) error {
		if path.Base(p) == ObjectDeclaration {
			roots = append(roots, path.Dir(p))
		}
		return nil
	})
	if err != nil {
		return nil, newError(KindBackendIO, err, "cannot walk storage root")
	}
	slices.Sort(roots)
	return roots, nil
}

// NewCommit starts a commit against the object for id. The object need not
// exist yet; the first commit creates it with the given digest algorithm.
func (s *StorageRoot) NewCommit(ctx context.Context, id string, alg checksum.DigestAlgorithm, opts ...CommitOption) (*Commit, error) {
	return newCommit(ctx, s, id, alg, opts...)
}

// PurgeObject removes an object and all of its versions. This is
// out-of-band destruction, not part of the version history.
func (s *StorageRoot) PurgeObject(ctx context.Context, id string) error {
	objectPath, err := s.ObjectPath(id)
	if err != nil {
		return errors.WithStack(err)
	}
	exists, err := s.fsys.Exists(ctx, path.Join(objectPath, ObjectDeclaration))
	if err != nil {
		return newError(KindBackendIO, err, "cannot check object").withObject(id)
	}
	if !exists {
		return newError(KindNotFound, nil, "object does not exist").withObject(id)
	}
	if err := s.fsys.DeleteAll(ctx, objectPath); err != nil {
		return newError(KindBackendIO, err, "cannot purge object").withObject(id)
	}
	s.logger.Info().Str("object", id).Msg("purged object")
	return nil
}
