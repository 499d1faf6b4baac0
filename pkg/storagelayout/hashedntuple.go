package storagelayout

import (
	"fmt"
	"io"
	"strings"

	"emperror.dev/errors"
	"github.com/ocfl-archive/ocflkit/pkg/checksum"
)

const HashedNTupleName = "0004-hashed-n-tuple-storage-layout"

// HashedNTuple hashes the object ID and splits the digest into fixed-size
// tuples, spreading objects over a balanced directory tree.
type HashedNTuple struct {
	digestAlgorithm checksum.DigestAlgorithm
	tupleSize       int
	numberOfTuples  int
	shortObjectRoot bool
}

type HashedNTupleConfig struct {
	*Config
	DigestAlgorithm string `json:"digestAlgorithm"`
	TupleSize       int    `json:"tupleSize"`
	NumberOfTuples  int    `json:"numberOfTuples"`
	ShortObjectRoot bool   `json:"shortObjectRoot"`
}

func NewHashedNTuple(config *HashedNTupleConfig) (*HashedNTuple, error) {
	if config.NumberOfTuples > 32 {
		config.NumberOfTuples = 32
	}
	if config.TupleSize > 32 {
		config.TupleSize = 32
	}
	if config.TupleSize == 0 || config.NumberOfTuples == 0 {
		config.NumberOfTuples = 0
		config.TupleSize = 0
	}
	if config.DigestAlgorithm == "" {
		config.DigestAlgorithm = string(checksum.DigestSHA256)
	}
	sl := &HashedNTuple{
		digestAlgorithm: checksum.DigestAlgorithm(config.DigestAlgorithm),
		tupleSize:       config.TupleSize,
		numberOfTuples:  config.NumberOfTuples,
		shortObjectRoot: config.ShortObjectRoot,
	}
	if !checksum.HashExists(sl.digestAlgorithm) {
		return nil, errors.Wrapf(checksum.ErrUnknownAlgorithm, "'%s'", config.DigestAlgorithm)
	}
	if config.ExtensionName != sl.Name() {
		return nil, errors.Errorf("invalid extension name %s for extension %s", config.ExtensionName, sl.Name())
	}
	return sl, nil
}

func (sl *HashedNTuple) Name() string { return HashedNTupleName }

func (sl *HashedNTuple) ID2Path(id string) (string, error) {
	h, err := checksum.GetHash(sl.digestAlgorithm)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if _, err := h.Write([]byte(id)); err != nil {
		return "", errors.Wrapf(err, "cannot hash '%s'", id)
	}
	digest := fmt.Sprintf("%x", h.Sum(nil))
	if len(digest) < sl.tupleSize*sl.numberOfTuples {
		return "", errors.Errorf("digest %s too short for %v tuples of %v chars", sl.digestAlgorithm, sl.numberOfTuples, sl.tupleSize)
	}
	dirparts := []string{}
	for i := 0; i < sl.numberOfTuples; i++ {
		dirparts = append(dirparts, digest[i*sl.tupleSize:(i+1)*sl.tupleSize])
	}
	if sl.shortObjectRoot {
		dirparts = append(dirparts, digest[sl.numberOfTuples*sl.tupleSize:])
	} else {
		dirparts = append(dirparts, digest)
	}
	return strings.Join(dirparts, "/"), nil
}

func (sl *HashedNTuple) WriteConfig(w io.Writer) error {
	return writeConfig(w, &HashedNTupleConfig{
		Config:          &Config{ExtensionName: sl.Name()},
		DigestAlgorithm: string(sl.digestAlgorithm),
		TupleSize:       sl.tupleSize,
		NumberOfTuples:  sl.numberOfTuples,
		ShortObjectRoot: sl.shortObjectRoot,
	})
}
