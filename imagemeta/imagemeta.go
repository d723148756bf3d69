// Package imagemeta extracts pixel dimensions from image headers without
// running a full decode. Only fixed-offset metadata is read, so probing an
// image costs a few dozen bytes of input no matter how large the file is.
//
// Truncated or malformed headers are never an error; Probe simply reports
// that no dimensions could be found.
package imagemeta

import (
	"bytes"
	"encoding/binary"
)

// Format identifies the container an image buffer uses.
type Format int

const (
	FormatUnknown Format = iota
	FormatPNG
	FormatJPEG
	FormatGIF
	FormatBMP
	FormatWEBP
)

func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	case FormatGIF:
		return "gif"
	case FormatBMP:
		return "bmp"
	case FormatWEBP:
		return "webp"
	}
	return "unknown"
}

// Dimensions outside this range are treated as garbage from a corrupt
// header.
const (
	minDimension = 1
	maxDimension = 99999
)

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	gif87     = []byte("GIF87a")
	gif89     = []byte("GIF89a")
	riffMagic = []byte("RIFF")
	webpMagic = []byte("WEBP")
)

// DetectFormat sniffs the magic bytes at the start of buf. It is the cheap
// validity check run before an entry is fully read from an archive.
func DetectFormat(buf []byte) Format {
	switch {
	case len(buf) >= 8 && bytes.Equal(buf[:8], pngMagic):
		return FormatPNG
	case len(buf) >= 3 && buf[0] == 0xff && buf[1] == 0xd8 && buf[2] == 0xff:
		return FormatJPEG
	case len(buf) >= 6 && (bytes.Equal(buf[:6], gif87) || bytes.Equal(buf[:6], gif89)):
		return FormatGIF
	case len(buf) >= 2 && buf[0] == 'B' && buf[1] == 'M':
		return FormatBMP
	case len(buf) >= 12 && bytes.Equal(buf[:4], riffMagic) && bytes.Equal(buf[8:12], webpMagic):
		return FormatWEBP
	}
	return FormatUnknown
}

// Probe returns the pixel dimensions recorded in the header of buf. The
// third return is false when the format is unrecognized or the header is
// truncated, malformed, or records dimensions outside [1, 99999].
func Probe(buf []byte) (width, height int, ok bool) {
	switch DetectFormat(buf) {
	case FormatPNG:
		width, height, ok = probePNG(buf)
	case FormatJPEG:
		width, height, ok = probeJPEG(buf)
	case FormatGIF:
		width, height, ok = probeGIF(buf)
	case FormatBMP:
		width, height, ok = probeBMP(buf)
	case FormatWEBP:
		width, height, ok = probeWEBP(buf)
	}
	if ok && !plausible(width, height) {
		return 0, 0, false
	}
	return width, height, ok
}

func plausible(w, h int) bool {
	return w >= minDimension && w <= maxDimension &&
		h >= minDimension && h <= maxDimension
}

// probePNG reads the IHDR chunk, which the PNG spec requires to come first:
// width and height are big-endian 32-bit values at offsets 16 and 20.
func probePNG(buf []byte) (int, int, bool) {
	if len(buf) < 24 {
		return 0, 0, false
	}
	w := binary.BigEndian.Uint32(buf[16:])
	h := binary.BigEndian.Uint32(buf[20:])
	return int(w), int(h), true
}

// probeJPEG walks the top-level marker segments looking for a SOFn frame
// header (0xC0-0xCF, excluding the DHT, JPG, and DAC markers which share
// the range). Only segment boundaries are examined, so FF Cx byte patterns
// inside APPn payloads or entropy-coded data cannot masquerade as frames.
// A JPEG can still embed an EXIF thumbnail with its own SOF inside the APP1
// segment, so APP1 payloads are scanned too and the largest plausible
// dimensions win.
func probeJPEG(buf []byte) (int, int, bool) {
	var bestW, bestH, bestArea int
	keep := func(w, h int) {
		if plausible(w, h) && w*h > bestArea {
			bestW, bestH, bestArea = w, h, w*h
		}
	}
	i := 2
	for i+4 <= len(buf) {
		if buf[i] != 0xff {
			break // lost marker sync
		}
		marker := buf[i+1]
		if marker == 0xff { // fill byte
			i++
			continue
		}
		if marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7) {
			i += 2 // standalone marker without a payload
			continue
		}
		if marker == 0xd9 || marker == 0xda {
			break // EOI, or SOS with entropy-coded data after it
		}
		segLen := int(binary.BigEndian.Uint16(buf[i+2:]))
		if segLen < 2 || i+2+segLen > len(buf) {
			break // malformed or truncated segment
		}
		if isSOF(marker) && segLen >= 8 {
			if p := buf[i+4]; p == 8 || p == 12 || p == 16 {
				h := int(binary.BigEndian.Uint16(buf[i+5:]))
				w := int(binary.BigEndian.Uint16(buf[i+7:]))
				keep(w, h)
			}
		}
		if marker == 0xe1 {
			// the EXIF block; its thumbnail is a whole JPEG of its own
			if w, h, ok := scanSOF(buf[i+4 : i+2+segLen]); ok {
				keep(w, h)
			}
		}
		i += 2 + segLen
	}
	return bestW, bestH, bestArea > 0
}

// scanSOF brute-scans an APP1 payload for an embedded frame header. The
// thumbnail JPEG is not walked segment by segment; any SOF-shaped byte run
// that passes the precision and plausibility checks is accepted, largest
// first.
func scanSOF(buf []byte) (int, int, bool) {
	var bestW, bestH, bestArea int
	for i := 0; i+8 < len(buf); i++ {
		if buf[i] != 0xff || !isSOF(buf[i+1]) {
			continue
		}
		if segLen := int(binary.BigEndian.Uint16(buf[i+2:])); segLen < 8 {
			continue
		}
		if p := buf[i+4]; p != 8 && p != 12 && p != 16 {
			continue
		}
		h := int(binary.BigEndian.Uint16(buf[i+5:]))
		w := int(binary.BigEndian.Uint16(buf[i+7:]))
		if plausible(w, h) && w*h > bestArea {
			bestW, bestH, bestArea = w, h, w*h
		}
	}
	return bestW, bestH, bestArea > 0
}

func isSOF(marker byte) bool {
	if marker < 0xc0 || marker > 0xcf {
		return false
	}
	switch marker {
	case 0xc4, 0xc8, 0xcc: // DHT, JPG, DAC
		return false
	}
	return true
}

// probeGIF reads the logical screen descriptor: little-endian 16-bit width
// and height at offsets 6 and 8.
func probeGIF(buf []byte) (int, int, bool) {
	if len(buf) < 10 {
		return 0, 0, false
	}
	w := binary.LittleEndian.Uint16(buf[6:])
	h := binary.LittleEndian.Uint16(buf[8:])
	return int(w), int(h), true
}

// probeBMP reads the BITMAPINFOHEADER: little-endian 32-bit width and height
// at offsets 18 and 22. A negative height encodes top-down row order, so its
// absolute value is the pixel height.
func probeBMP(buf []byte) (int, int, bool) {
	if len(buf) < 26 {
		return 0, 0, false
	}
	w := int(int32(binary.LittleEndian.Uint32(buf[18:])))
	h := int(int32(binary.LittleEndian.Uint32(buf[22:])))
	if h < 0 {
		h = -h
	}
	return w, h, true
}

// probeWEBP handles the three RIFF sub-chunks a WEBP file can start with.
// Lossy (VP8) and lossless (VP8L) frames pack their dimensions into 14-bit
// fields; extended (VP8X) files record the canvas size as 24-bit values
// minus one.
func probeWEBP(buf []byte) (int, int, bool) {
	if len(buf) < 16 {
		return 0, 0, false
	}
	switch string(buf[12:16]) {
	case "VP8 ":
		// 3-byte frame tag, then the 0x9d012a start code
		if len(buf) < 30 {
			return 0, 0, false
		}
		if buf[23] != 0x9d || buf[24] != 0x01 || buf[25] != 0x2a {
			return 0, 0, false
		}
		w := int(binary.LittleEndian.Uint16(buf[26:]) & 0x3fff)
		h := int(binary.LittleEndian.Uint16(buf[28:]) & 0x3fff)
		return w, h, true
	case "VP8L":
		if len(buf) < 25 || buf[20] != 0x2f {
			return 0, 0, false
		}
		bits := binary.LittleEndian.Uint32(buf[21:])
		w := int(bits&0x3fff) + 1
		h := int((bits>>14)&0x3fff) + 1
		return w, h, true
	case "VP8X":
		if len(buf) < 30 {
			return 0, 0, false
		}
		w := int(uint32(buf[24])|uint32(buf[25])<<8|uint32(buf[26])<<16) + 1
		h := int(uint32(buf[27])|uint32(buf[28])<<8|uint32(buf[29])<<16) + 1
		return w, h, true
	}
	return 0, 0, false
}
