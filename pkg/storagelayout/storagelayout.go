// Package storagelayout maps object IDs to storage root relative paths.
// The layout of a storage root is chosen once at init time and written as an
// extension config; it never changes afterwards.
package storagelayout

import (
	"encoding/json"
	"io"

	"emperror.dev/errors"
)

const MaxDirLen = 255

type StorageLayout interface {
	ID2Path(id string) (string, error)
	Name() string
	WriteConfig(w io.Writer) error
}

type Config struct {
	ExtensionName string `json:"extensionName"`
}

var ErrNotSupported = errors.New("storage layout not supported")

func writeConfig(w io.Writer, config any) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return errors.Wrap(err, "cannot marshal layout config")
	}
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "cannot write layout config")
	}
	return nil
}
