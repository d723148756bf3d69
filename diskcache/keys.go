package diskcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/pakview/pakview/pak"
)

// entry is the LRU bookkeeping record for one stored thumbnail.
type entry struct {
	key  string
	size int64
}

// ErrCacheFull means a record is larger than the whole cache and can never
// be admitted.
var ErrCacheFull = errors.New("record does not fit in cache")

// Store keys are built from hashes so they are filesystem safe regardless of
// what characters the archive and entry paths contain. The layout is
//
//	<archive>-<signature>-<entry>      thumbnail record
//	<archive>-idx                      manifest record
//
// where each component is a truncated hex digest. Sharing the archive
// prefix is what lets InvalidateArchive find everything with one prefix
// listing.

func archiveID(archivePath string) string {
	return shortHash(archivePath, 16)
}

func entryKey(archivePath string, sig pak.Signature, internalPath string) string {
	return archiveID(archivePath) + "-" + shortHash(sig.String(), 8) + "-" + shortHash(internalPath, 16)
}

func manifestKey(archivePath string) string {
	return archiveID(archivePath) + "-idx"
}

func isManifestKey(key string) bool {
	return len(key) > 4 && key[len(key)-4:] == "-idx"
}

func shortHash(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}
