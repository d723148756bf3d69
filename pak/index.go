package pak

import (
	"archive/zip"
	"io"
	"log"
	"sync"

	raven "github.com/getsentry/raven-go"
	"github.com/golang/groupcache/singleflight"

	"github.com/pakview/pakview/imagemeta"
)

// how much of an entry is read when probing its header for dimensions
const headerReadSize = 32 * 1024

// An Index scans archives for qualifying preview images and memoizes the
// result against the archive's signature. Scans of different archives can
// run concurrently; scans of the same archive are collapsed into one by a
// per-key singleflight.
//
// An archive that cannot be opened (missing, locked, corrupt) produces an
// empty index. That failure never propagates to the caller; it is logged
// and the empty result is memoized until the file's signature changes.
type Index struct {
	// size gate for candidate entries, in bytes
	MinBytes int64
	MaxBytes int64

	flight singleflight.Group

	m    sync.RWMutex
	memo map[string]memoEntry // keyed by archive path
}

type memoEntry struct {
	sig  Signature
	locs []ImageLocation
}

// NewIndex returns an Index accepting entries with byte sizes inside
// [minBytes, maxBytes].
func NewIndex(minBytes, maxBytes int64) *Index {
	return &Index{
		MinBytes: minBytes,
		MaxBytes: maxBytes,
		memo:     make(map[string]memoEntry),
	}
}

// Cached returns the memoized index for the archive if its recorded
// signature matches sig.
func (ix *Index) Cached(archivePath string, sig Signature) ([]ImageLocation, bool) {
	ix.m.RLock()
	e, ok := ix.memo[archivePath]
	ix.m.RUnlock()
	if !ok || e.sig != sig {
		return nil, false
	}
	return e.locs, true
}

// Adopt installs a prebuilt index for the archive, replacing whatever was
// memoized. It is used to seed the index from the disk cache's manifest so
// a cold start does not need to open the archive at all.
func (ix *Index) Adopt(archivePath string, sig Signature, locs []ImageLocation) {
	ix.m.Lock()
	ix.memo[archivePath] = memoEntry{sig: sig, locs: locs}
	ix.m.Unlock()
}

// Invalidate drops the memoized index for the archive. Call it before the
// archive file is moved or deleted.
func (ix *Index) Invalidate(archivePath string) {
	ix.m.Lock()
	delete(ix.memo, archivePath)
	ix.m.Unlock()
}

// Scan returns the ordered list of preview images in the archive. The
// memoized result is returned without reopening the archive when the
// archive's signature is unchanged.
func (ix *Index) Scan(archivePath string) []ImageLocation {
	sig, err := SignatureOf(archivePath)
	if err != nil {
		log.Printf("pak: stat %s: %v", archivePath, err)
		return nil
	}
	if locs, ok := ix.Cached(archivePath, sig); ok {
		return locs
	}
	v, _ := ix.flight.Do(archivePath, func() (interface{}, error) {
		// a concurrent scan may have finished while we waited
		if locs, ok := ix.Cached(archivePath, sig); ok {
			return locs, nil
		}
		locs := ix.scan(archivePath)
		ix.Adopt(archivePath, sig, locs)
		return locs, nil
	})
	locs, _ := v.([]ImageLocation)
	return locs
}

func (ix *Index) scan(archivePath string) []ImageLocation {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		log.Printf("pak: open %s: %v", archivePath, err)
		raven.CaptureError(err, map[string]string{"archive": archivePath})
		return nil
	}
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	siblings := NewSiblings(names)

	var locs []ImageLocation
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !IsImagePath(f.Name) {
			continue
		}
		size := int64(f.UncompressedSize64)
		if size < ix.MinBytes || size > ix.MaxBytes {
			continue
		}
		if siblings.Classify(f.Name) != Preview {
			continue
		}
		w, h, ok := probeEntry(f)
		if !ok {
			continue
		}
		locs = append(locs, ImageLocation{
			ArchivePath:  archivePath,
			InternalPath: f.Name,
			ByteSize:     size,
			Width:        w,
			Height:       h,
		})
	}
	return locs
}

// probeEntry decompresses just enough of the entry to read its image header.
func probeEntry(f *zip.File) (int, int, bool) {
	rc, err := f.Open()
	if err != nil {
		return 0, 0, false
	}
	defer rc.Close()
	buf := make([]byte, headerReadSize)
	n, err := io.ReadFull(rc, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, 0, false
	}
	return imagemeta.Probe(buf[:n])
}
