package store

import (
	"errors"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	raven "github.com/getsentry/raven-go"
)

// FileSystem implements the simple file system based store. Keys are used as
// file names, fanned out into subdirectories by their first characters to
// keep directory sizes reasonable. New values are staged in a scratch
// directory and renamed into place on Close, so concurrent readers never see
// a half-written record.
type FileSystem struct {
	root string
}

// the subdir files are staged in while they are being written.
const scratchdir = "scratch"

var (
	// make sure it implements the Store interface
	_ Store = &FileSystem{}

	// ErrKeyExists indicates an attempt to create a key which already exists.
	ErrKeyExists = errors.New("key already exists")

	// ErrBadKey means the key is empty or contains a forward slash.
	ErrBadKey = errors.New("bad key")
)

// NewFileSystem creates a new FileSystem store based at the given root path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root: root}
}

// List returns a channel listing every key in this store.
func (s *FileSystem) List() <-chan string {
	c := make(chan string)
	go func() {
		defer close(c)
		subdirs, err := os.ReadDir(s.root)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Println("store: list:", err)
				raven.CaptureError(err, nil)
			}
			return
		}
		for _, d := range subdirs {
			if !d.IsDir() || d.Name() == scratchdir {
				continue
			}
			files, err := os.ReadDir(filepath.Join(s.root, d.Name()))
			if err != nil {
				log.Println("store: list:", err)
				raven.CaptureError(err, nil)
				continue
			}
			for _, f := range files {
				if !f.IsDir() {
					c <- f.Name()
				}
			}
		}
	}()
	return c
}

// ListPrefix returns all the keys beginning with the given prefix.
func (s *FileSystem) ListPrefix(prefix string) ([]string, error) {
	var glob string
	if len(prefix) < 2 {
		glob = filepath.Join(s.root, "*", prefix+"*")
	} else {
		glob = filepath.Join(s.root, subdirFor(prefix), prefix+"*")
	}
	matches, err := filepath.Glob(glob)
	if err != nil {
		return nil, err
	}
	result := make([]string, 0, len(matches))
	for _, m := range matches {
		result = append(result, path.Base(m))
	}
	return result, nil
}

// Open returns a reader for the given record along with its size.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	if !keyOK(key) {
		return nil, 0, ErrBadKey
	}
	f, err := os.Open(filepath.Join(s.root, subdirFor(key), key))
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create makes a new record with the given key and returns a writer for
// saving data into it. The record appears in the store when the writer is
// closed.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	if !keyOK(key) {
		return nil, ErrBadKey
	}
	target, err := s.mkSubdir(subdirFor(key), key)
	if err != nil {
		return nil, err
	}
	if _, err = os.Stat(target); !os.IsNotExist(err) {
		return nil, ErrKeyExists
	}
	temp, err := s.mkSubdir(scratchdir, key)
	if err != nil {
		return nil, err
	}
	// O_EXCL so two writers for the same key cannot interleave
	w, err := os.OpenFile(temp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}
	return &moveCloser{w: w, source: temp, target: target}, nil
}

// Delete the given key from the store. It is not an error if the key doesn't
// exist.
func (s *FileSystem) Delete(key string) error {
	if !keyOK(key) {
		return ErrBadKey
	}
	err := os.Remove(filepath.Join(s.root, subdirFor(key), key))
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

// mkSubdir makes sure the given subdirectory exists under the root, and then
// returns the absolute path to the keyed file.
func (s *FileSystem) mkSubdir(subdir, key string) (string, error) {
	dir := filepath.Join(s.root, subdir)
	err := os.MkdirAll(dir, 0775)
	return filepath.Join(dir, key), err
}

// moveCloser tracks a scratch file so that when it is closed we can rename
// it into its final place. The rename is what makes the write atomic.
type moveCloser struct {
	w      *os.File
	source string
	target string
}

func (w *moveCloser) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

func (w *moveCloser) Close() error {
	err := w.w.Close()
	if err != nil {
		os.Remove(w.source)
		return err
	}
	return os.Rename(w.source, w.target)
}

// subdirFor returns the fan-out subdirectory a key is stored under,
// e.g. "ab1234" is stored in "ab/".
func subdirFor(key string) string {
	if len(key) < 2 {
		return "_"
	}
	return key[:2]
}

func keyOK(key string) bool {
	return key != "" && !strings.Contains(key, "/")
}
