// Package store provides a simple, goroutine safe key-value interface used
// as the backing for the persistent thumbnail cache. Values are streams, so
// records can be read without being copied into memory first.
//
// The FileSystem store is the one used in production. The Memory store is
// for testing.
package store

import (
	"io"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store defines the basic stream based key-value store. Items are immutable
// once stored, but they may be deleted and then replaced with a new value.
//
// Since the FileSystem store uses keys as file names, keys must not contain
// forbidden filesystem characters, such as '/'.
//
// Writers returned by Create only publish their record when closed, so a
// reader never observes a partially written value.
type Store interface {
	ROStore
	Create(key string) (io.WriteCloser, error)
	Delete(key string) error
}

// ROStore is the read-only pieces of a Store. It allows one to list contents
// and to retrieve data.
type ROStore interface {
	List() <-chan string
	ListPrefix(prefix string) ([]string, error)
	Open(key string) (ReadAtCloser, int64, error)
}

// NewReader converts a ReaderAt into an io.Reader. It is here as a utility
// to help work with the ReadAtCloser returned by Open.
func NewReader(r io.ReaderAt) io.Reader {
	return &reader{r: r}
}

type reader struct {
	r   io.ReaderAt
	off int64
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// reading less than a full buffer is not an error for an io.Reader
		err = nil
	}
	return
}

// ReadAll reads the entire value stored under key and returns it as a byte
// slice. It is a convenience for callers which know the value is small.
func ReadAll(s ROStore, key string) ([]byte, error) {
	rac, size, err := s.Open(key)
	if err != nil {
		return nil, err
	}
	defer rac.Close()
	buf := make([]byte, size)
	_, err = rac.ReadAt(buf, 0)
	if err == io.EOF {
		err = nil
	}
	return buf, err
}
