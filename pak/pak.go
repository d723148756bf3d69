// Package pak reads preview images out of read-only content-package
// archives. A package archive is an ordinary ZIP file holding scene or asset
// files next to the images that act as their thumbnails. The package decides
// which archive entries qualify as previews, indexes them, and hands out
// bounded sets of concurrent read handles so many entries of one archive can
// be decompressed in parallel.
package pak

import (
	"fmt"
	"os"
)

// ImageLocation records one qualifying preview image inside an archive. It
// is immutable; a rescan of the archive replaces the whole index rather than
// mutating entries.
type ImageLocation struct {
	ArchivePath  string `json:"-"`
	InternalPath string `json:"path"`
	ByteSize     int64  `json:"size"`
	Width        int    `json:"w"`
	Height       int    `json:"h"`
}

// Signature is a cheap fingerprint of an archive file: its byte length and
// modification time. Two archives with equal signatures are assumed to have
// identical contents, which is how every cache layer decides whether its
// entries are stale without hashing the file.
type Signature struct {
	Size    int64 `json:"size"`
	ModTime int64 `json:"mtime"` // UnixNano
}

// SignatureOf stats the given file and returns its signature.
func SignatureOf(path string) (Signature, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Signature{}, err
	}
	return Signature{Size: fi.Size(), ModTime: fi.ModTime().UnixNano()}, nil
}

// IsZero reports whether s is the zero signature.
func (s Signature) IsZero() bool {
	return s.Size == 0 && s.ModTime == 0
}

func (s Signature) String() string {
	return fmt.Sprintf("%x.%x", s.Size, uint64(s.ModTime))
}
