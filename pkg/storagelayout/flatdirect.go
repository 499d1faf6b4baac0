package storagelayout

import (
	"io"
	"strings"

	"emperror.dev/errors"
)

const FlatDirectName = "0002-flat-direct-storage-layout"

// FlatDirect uses the object ID itself as the directory name. Only usable
// for IDs that are valid single path segments.
type FlatDirect struct {
	*Config
}

func NewFlatDirect(config *Config) (*FlatDirect, error) {
	sl := &FlatDirect{Config: config}
	if config.ExtensionName != sl.Name() {
		return nil, errors.Errorf("invalid extension name %s for extension %s", config.ExtensionName, sl.Name())
	}
	return sl, nil
}

func (sl *FlatDirect) Name() string { return FlatDirectName }

func (sl *FlatDirect) ID2Path(id string) (string, error) {
	if len(id) > MaxDirLen {
		return "", errors.Errorf("id '%s' too long (max. %v)", id, MaxDirLen)
	}
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/\\") {
		return "", errors.Errorf("id '%s' is not a valid directory name", id)
	}
	return id, nil
}

func (sl *FlatDirect) WriteConfig(w io.Writer) error {
	return writeConfig(w, sl.Config)
}
