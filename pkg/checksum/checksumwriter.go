package checksum

import (
	"fmt"
	"io"
	"sync"

	"emperror.dev/errors"
)

type rwStruct struct {
	reader *io.PipeReader
	writer *io.PipeWriter
}

// ChecksumWriter computes several digests of a stream in a single pass.
// Each algorithm gets its own pipe fed by a MultiWriter, so the source is
// read exactly once regardless of how many digests are requested.
type ChecksumWriter struct {
	sync.Mutex
	checksums []DigestAlgorithm
	cs        map[DigestAlgorithm]string
	errs      []error
	dataLock  sync.Mutex
}

func NewChecksumWriter(checksums []DigestAlgorithm) (*ChecksumWriter, error) {
	for _, alg := range checksums {
		if !HashExists(alg) {
			return nil, errors.Wrapf(ErrUnknownAlgorithm, "'%s'", alg)
		}
	}
	return &ChecksumWriter{
		checksums: checksums,
		cs:        map[DigestAlgorithm]string{},
		errs:      []error{},
	}, nil
}

// Copy streams src to dst while computing all configured digests.
func Copy(dst io.Writer, src io.Reader, checksums []DigestAlgorithm) (map[DigestAlgorithm]string, error) {
	cw, err := NewChecksumWriter(checksums)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return cw.Copy(dst, src)
}

func (c *ChecksumWriter) doChecksum(reader io.Reader, alg DigestAlgorithm, done chan bool) {
	// we should end in all cases
	defer func() { done <- true }()

	sink, err := GetHash(alg)
	if err != nil {
		c.setError(errors.WithStack(err))
		io.Copy(&NullWriter{}, reader)
		return
	}
	if _, err := io.Copy(sink, reader); err != nil {
		c.setError(errors.Wrapf(err, "cannot create checksum %s", alg))
		return
	}
	c.setResult(alg, fmt.Sprintf("%x", sink.Sum(nil)))
}

func (c *ChecksumWriter) setResult(alg DigestAlgorithm, digest string) {
	c.dataLock.Lock()
	defer c.dataLock.Unlock()
	c.cs[alg] = digest
}

func (c *ChecksumWriter) setError(err error) {
	c.dataLock.Lock()
	defer c.dataLock.Unlock()
	c.errs = append(c.errs, err)
}

func (c *ChecksumWriter) clear() {
	c.dataLock.Lock()
	defer c.dataLock.Unlock()
	c.errs = []error{}
	c.cs = map[DigestAlgorithm]string{}
}

func (c *ChecksumWriter) Copy(dst io.Writer, src io.Reader) (map[DigestAlgorithm]string, error) {
	c.Lock()
	defer c.Unlock()

	c.clear()

	rws := map[DigestAlgorithm]rwStruct{}
	done := make(chan bool)
	for _, alg := range c.checksums {
		rw := rwStruct{}
		rw.reader, rw.writer = io.Pipe()
		rws[alg] = rw
		go c.doChecksum(rw.reader, alg, done)
	}

	rw := rwStruct{}
	rw.reader, rw.writer = io.Pipe()
	rws["_"] = rw
	go func() {
		defer func() { done <- true }()
		if _, err := io.Copy(dst, rw.reader); err != nil {
			c.setError(errors.Wrap(err, "cannot copy to target destination"))
		}
	}()

	go func() {
		defer func() {
			for _, rw := range rws {
				rw.writer.Close()
			}
		}()
		writers := []io.Writer{}
		for _, rw := range rws {
			writers = append(writers, rw.writer)
		}
		if _, err := io.Copy(io.MultiWriter(writers...), src); err != nil {
			c.setError(errors.Wrap(err, "cannot write to destination"))
		}
	}()

	// wait until all checksums and destination done
	for cnt := 0; cnt < len(rws); cnt++ {
		<-done
	}

	c.dataLock.Lock()
	defer c.dataLock.Unlock()
	if len(c.errs) > 0 {
		return nil, errors.Combine(c.errs...)
	}
	return c.cs, nil
}
