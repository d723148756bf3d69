package pak

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"

	"github.com/pakview/pakview/util"
)

var (
	// ErrArchiveUnavailable means the archive file is missing or cannot be
	// opened for reading.
	ErrArchiveUnavailable = errors.New("archive unavailable")

	// ErrCorruptArchive means the file opened but is not a readable ZIP.
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrPoolClosed is returned by Acquire after the pool is closed.
	ErrPoolClosed = errors.New("handle pool closed")

	// ErrEntryNotFound means the requested internal path is not in the
	// archive.
	ErrEntryNotFound = errors.New("entry not found in archive")
)

// A Handle is one open reader over an archive file. Handles are not safe for
// concurrent use; the Pool guarantees each is held by at most one caller at
// a time.
type Handle struct {
	f       *os.File
	entries map[string]*zip.File
}

// Open returns a reader for the named entry's decompressed contents.
func (h *Handle) Open(internalPath string) (io.ReadCloser, error) {
	f, ok := h.entries[internalPath]
	if !ok {
		return nil, errors.Wrap(ErrEntryNotFound, internalPath)
	}
	return f.Open()
}

func (h *Handle) close() {
	h.f.Close()
}

// A Pool is a bounded set of concurrently open read handles to one archive
// file. It amortizes the cost of opening the archive across many concurrent
// entry reads. Acquire never hangs: a closed pool or a vanished backing file
// produces a typed error instead.
type Pool struct {
	path string
	gate *util.Gate

	m      sync.Mutex
	free   []*Handle
	closed bool
}

// OpenPool opens a handle pool of size min(n, NumCPU) over the archive. The
// first handle is opened eagerly so an unusable archive fails here rather
// than inside a worker.
func OpenPool(path string, n int) (*Pool, error) {
	if max := runtime.NumCPU(); n > max {
		n = max
	}
	if n < 1 {
		n = 1
	}
	h, err := openHandle(path)
	if err != nil {
		return nil, err
	}
	return &Pool{
		path: path,
		gate: util.NewGate(n),
		free: []*Handle{h},
	}, nil
}

func openHandle(path string) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrArchiveUnavailable, "%s: %v", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(ErrArchiveUnavailable, "%s: %v", path, err)
	}
	zr, err := zip.NewReader(f, fi.Size())
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(ErrCorruptArchive, "%s: %v", path, err)
	}
	entries := make(map[string]*zip.File, len(zr.File))
	for _, zf := range zr.File {
		entries[zf.Name] = zf
	}
	return &Handle{f: f, entries: entries}, nil
}

// Acquire blocks until a handle is available, the context is done, or the
// pool is closed. Each successful Acquire must be balanced by a Release.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	if !p.gate.EnterContext(ctx) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrPoolClosed
	}
	p.m.Lock()
	var h *Handle
	if n := len(p.free); n > 0 {
		h = p.free[n-1]
		p.free = p.free[:n-1]
	}
	p.m.Unlock()
	if h != nil {
		return h, nil
	}
	h, err := openHandle(p.path)
	if err != nil {
		p.gate.Leave()
		return nil, err
	}
	return h, nil
}

// Release returns a handle to the pool.
func (p *Pool) Release(h *Handle) {
	p.m.Lock()
	if p.closed {
		h.close()
	} else {
		p.free = append(p.free, h)
	}
	p.m.Unlock()
	p.gate.Leave()
}

// Close stops the pool. Pending and future Acquires fail with ErrPoolClosed;
// handles already handed out are closed as they are released.
func (p *Pool) Close() error {
	p.m.Lock()
	if p.closed {
		p.m.Unlock()
		return nil
	}
	p.closed = true
	free := p.free
	p.free = nil
	p.m.Unlock()
	p.gate.Stop()
	for _, h := range free {
		h.close()
	}
	return nil
}
