package storagelayout

import (
	"encoding/json"

	"emperror.dev/errors"
	"github.com/ocfl-archive/ocflkit/pkg/checksum"
)

// NewDefaultStorageLayout is used when a storage root carries no layout
// extension config.
func NewDefaultStorageLayout() (StorageLayout, error) {
	layout, err := NewHashedNTuple(&HashedNTupleConfig{
		Config:          &Config{ExtensionName: HashedNTupleName},
		DigestAlgorithm: string(checksum.DigestSHA256),
		TupleSize:       3,
		NumberOfTuples:  3,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "cannot initialize %s", HashedNTupleName)
	}
	return layout, nil
}

// NewStorageLayout instantiates a layout from its JSON extension config.
func NewStorageLayout(config []byte) (StorageLayout, error) {
	var cfg = &Config{}
	if err := json.Unmarshal(config, cfg); err != nil {
		return nil, errors.Wrapf(err, "cannot unmarshal json - %s", string(config))
	}
	switch cfg.ExtensionName {
	case FlatDirectName:
		layout, err := NewFlatDirect(cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot initialize %s", cfg.ExtensionName)
		}
		return layout, nil
	case HashedNTupleName:
		var conf = &HashedNTupleConfig{Config: cfg}
		if err := json.Unmarshal(config, conf); err != nil {
			return nil, errors.Wrapf(err, "cannot unmarshal json - %s", string(config))
		}
		layout, err := NewHashedNTuple(conf)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot initialize %s", cfg.ExtensionName)
		}
		return layout, nil
	default:
		return nil, errors.Wrapf(ErrNotSupported, "'%s'", cfg.ExtensionName)
	}
}
