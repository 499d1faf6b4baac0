package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"io"

	"emperror.dev/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// DigestAlgorithm names a digest algorithm the way it appears in an
// inventory document ("sha512", "blake2b-512", ...).
type DigestAlgorithm string

const (
	DigestSHA512     DigestAlgorithm = "sha512"
	DigestSHA256     DigestAlgorithm = "sha256"
	DigestSHA1       DigestAlgorithm = "sha1"
	DigestMD5        DigestAlgorithm = "md5"
	DigestBlake2b160 DigestAlgorithm = "blake2b-160"
	DigestBlake2b256 DigestAlgorithm = "blake2b-256"
	DigestBlake2b384 DigestAlgorithm = "blake2b-384"
	DigestBlake2b512 DigestAlgorithm = "blake2b-512"
)

// DigestDefault is used for content addressing unless configured otherwise.
const DigestDefault = DigestSHA512

// ErrUnknownAlgorithm is wrapped by every error caused by an algorithm
// outside the supported set.
var ErrUnknownAlgorithm = errors.New("unknown digest algorithm")

var hashFunc = map[DigestAlgorithm]func() hash.Hash{
	DigestSHA512: sha512.New,
	DigestSHA256: sha256.New,
	DigestSHA1:   sha1.New,
	DigestMD5:    md5.New,
	DigestBlake2b160: func() hash.Hash {
		h, err := blake2b.New(20, nil)
		if err != nil {
			panic(err)
		}
		return h
	},
	DigestBlake2b256: func() hash.Hash {
		h, err := blake2b.New256(nil)
		if err != nil {
			panic(err)
		}
		return h
	},
	DigestBlake2b384: func() hash.Hash {
		h, err := blake2b.New384(nil)
		if err != nil {
			panic(err)
		}
		return h
	},
	DigestBlake2b512: func() hash.Hash {
		h, err := blake2b.New512(nil)
		if err != nil {
			panic(err)
		}
		return h
	},
}

// contentAlgorithms may be used for content addressing. All other known
// algorithms are restricted to fixity entries.
var contentAlgorithms = []DigestAlgorithm{DigestSHA512, DigestSHA256}

var DigestNames = maps.Keys(hashFunc)

func HashExists(alg DigestAlgorithm) bool {
	_, ok := hashFunc[alg]
	return ok
}

// ContentAlgorithm reports whether alg is allowed as the addressing
// algorithm of an object.
func ContentAlgorithm(alg DigestAlgorithm) bool {
	return slices.Contains(contentAlgorithms, alg)
}

func GetHash(alg DigestAlgorithm) (hash.Hash, error) {
	f, ok := hashFunc[alg]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownAlgorithm, "'%s'", alg)
	}
	return f(), nil
}

// Checksum streams src through alg and returns the lowercase hex digest.
func Checksum(src io.Reader, alg DigestAlgorithm) (string, error) {
	sink, err := GetHash(alg)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if _, err := io.Copy(sink, src); err != nil {
		return "", errors.Wrapf(err, "cannot create checksum %s", alg)
	}
	return fmt.Sprintf("%x", sink.Sum(nil)), nil
}
