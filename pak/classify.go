package pak

import (
	"path"
	"strings"
)

// Kind is the result of classifying a candidate image inside an archive.
type Kind int

const (
	// Orphan means the image has no non-image companion file sharing its
	// stem. Orphans are treated as texture content, not preview material.
	Orphan Kind = iota

	// Preview means the image is paired with a non-image file (a scene or
	// metadata file) of the same stem, so it is a thumbnail for that file.
	Preview
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// IsImagePath reports whether the path has one of the preview image
// extensions.
func IsImagePath(p string) bool {
	return imageExts[strings.ToLower(path.Ext(p))]
}

// Siblings groups the file names of one archive by directory and stem so a
// candidate can be classified with a single map lookup. All comparisons are
// case-insensitive. The classification depends only on the set of names, so
// the result is the same no matter what order the archive lists them in.
type Siblings struct {
	exts map[string][]string // lowercased stem -> lowercased extensions
}

// NewSiblings builds the lookup structure from a full archive file listing.
func NewSiblings(names []string) *Siblings {
	s := &Siblings{exts: make(map[string][]string)}
	for _, name := range names {
		stem, ext := splitStem(name)
		if ext == "" {
			continue
		}
		s.exts[stem] = append(s.exts[stem], ext)
	}
	return s
}

// Classify decides whether the candidate image is a preview or an orphan. A
// candidate is a preview when some file with the same directory and stem has
// a different, non-image extension. Image-extension siblings of the same
// stem (or suffix variants with their own stems) never disqualify a
// candidate from being an orphan.
func (s *Siblings) Classify(candidate string) Kind {
	stem, ext := splitStem(candidate)
	for _, other := range s.exts[stem] {
		if other != ext && !imageExts[other] {
			return Preview
		}
	}
	return Orphan
}

// splitStem splits an archive path into its lowercased directory-plus-stem
// and its lowercased extension.
func splitStem(p string) (stem, ext string) {
	p = strings.ToLower(p)
	ext = path.Ext(p)
	return p[:len(p)-len(ext)], ext
}
