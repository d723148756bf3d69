package pak

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPoolBounded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.pak")
	writeArchive(t, path, map[string][]byte{"x.txt": []byte("hello")})

	p, err := OpenPool(path, 2)
	if err != nil {
		t.Fatalf("OpenPool returned %s", err)
	}
	defer p.Close()

	h1, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned %s", err)
	}
	h2, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned %s", err)
	}
	if h1 == h2 {
		t.Error("pool handed the same handle to two callers")
	}

	// pool is exhausted, a third acquire should block until release
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err = p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire on full pool returned %v", err)
	}

	p.Release(h1)
	h3, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire after Release returned %s", err)
	}
	p.Release(h2)
	p.Release(h3)
}

func TestPoolHandleRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.pak")
	writeArchive(t, path, map[string][]byte{"dir/file.txt": []byte("contents here")})

	p, err := OpenPool(path, 1)
	if err != nil {
		t.Fatalf("OpenPool returned %s", err)
	}
	defer p.Close()

	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned %s", err)
	}
	defer p.Release(h)

	rc, err := h.Open("dir/file.txt")
	if err != nil {
		t.Fatalf("Open returned %s", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "contents here" {
		t.Errorf("read %q", data)
	}

	if _, err = h.Open("missing"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("Open(missing) returned %v, expected ErrEntryNotFound", err)
	}
}

func TestPoolClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.pak")
	writeArchive(t, path, map[string][]byte{"x.txt": []byte("hello")})

	p, err := OpenPool(path, 1)
	if err != nil {
		t.Fatalf("OpenPool returned %s", err)
	}
	p.Close()
	if _, err = p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire after Close returned %v, expected ErrPoolClosed", err)
	}
}

func TestPoolMissingArchive(t *testing.T) {
	_, err := OpenPool(filepath.Join(t.TempDir(), "gone.pak"), 1)
	if !errors.Is(err, ErrArchiveUnavailable) {
		t.Errorf("OpenPool returned %v, expected ErrArchiveUnavailable", err)
	}
}

func TestPoolCorruptArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pak")
	if err := os.WriteFile(path, []byte("not a zip"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := OpenPool(path, 1)
	if !errors.Is(err, ErrCorruptArchive) {
		t.Errorf("OpenPool returned %v, expected ErrCorruptArchive", err)
	}
}

func TestPoolVanishedArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.pak")
	writeArchive(t, path, map[string][]byte{"x.txt": []byte("hello")})

	p, err := OpenPool(path, 2)
	if err != nil {
		t.Fatalf("OpenPool returned %s", err)
	}
	defer p.Close()

	// the eager handle is the only one in the free list. take it, then
	// delete the backing file so the next acquire has to open a new handle.
	h, err := p.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire returned %s", err)
	}
	os.Remove(path)

	_, err = p.Acquire(context.Background())
	if !errors.Is(err, ErrArchiveUnavailable) {
		t.Errorf("Acquire with missing file returned %v, expected ErrArchiveUnavailable", err)
	}
	p.Release(h)
}
