package imagemeta

import (
	"encoding/binary"
	"testing"
)

func pngHeader(w, h uint32) []byte {
	buf := make([]byte, 33)
	copy(buf, pngMagic)
	binary.BigEndian.PutUint32(buf[8:], 13)
	copy(buf[12:], "IHDR")
	binary.BigEndian.PutUint32(buf[16:], w)
	binary.BigEndian.PutUint32(buf[20:], h)
	buf[24] = 8 // bit depth
	buf[25] = 6 // color type
	return buf
}

func sofSegment(marker byte, w, h uint16) []byte {
	// marker, 17-byte segment, precision 8, three components
	seg := []byte{0xff, marker, 0x00, 0x11, 8, 0, 0, 0, 0, 3, 1, 0x22, 0, 2, 0x11, 1, 3, 0x11, 1}
	binary.BigEndian.PutUint16(seg[5:], h)
	binary.BigEndian.PutUint16(seg[7:], w)
	return seg
}

func jpegHeader(w, h uint16) []byte {
	buf := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}
	buf = append(buf, []byte("JFIF\x00")...)
	buf = append(buf, make([]byte, 9)...) // rest of APP0
	buf = append(buf, sofSegment(0xc0, w, h)...)
	return buf
}

func gifHeader(w, h uint16) []byte {
	buf := []byte("GIF89a")
	buf = append(buf, 0, 0, 0, 0)
	binary.LittleEndian.PutUint16(buf[6:], w)
	binary.LittleEndian.PutUint16(buf[8:], h)
	return buf
}

func bmpHeader(w, h int32) []byte {
	buf := make([]byte, 26)
	buf[0], buf[1] = 'B', 'M'
	binary.LittleEndian.PutUint32(buf[18:], uint32(w))
	binary.LittleEndian.PutUint32(buf[22:], uint32(h))
	return buf
}

func webpLossless(w, h uint32) []byte {
	buf := make([]byte, 25)
	copy(buf, "RIFF")
	copy(buf[8:], "WEBPVP8L")
	buf[20] = 0x2f
	bits := (w - 1) | (h-1)<<14
	binary.LittleEndian.PutUint32(buf[21:], bits)
	return buf
}

func TestProbe(t *testing.T) {
	var table = []struct {
		name string
		buf  []byte
		w, h int
		ok   bool
	}{
		{"png", pngHeader(800, 600), 800, 600, true},
		{"png truncated", pngHeader(800, 600)[:10], 0, 0, false},
		{"png zero width", pngHeader(0, 600), 0, 0, false},
		{"png oversized", pngHeader(100000, 600), 0, 0, false},
		{"jpeg", jpegHeader(512, 384), 512, 384, true},
		{"jpeg truncated", jpegHeader(512, 384)[:8], 0, 0, false},
		{"gif", gifHeader(320, 200), 320, 200, true},
		{"gif truncated", gifHeader(320, 200)[:7], 0, 0, false},
		{"bmp", bmpHeader(640, 480), 640, 480, true},
		{"bmp top-down", bmpHeader(640, -480), 640, 480, true},
		{"webp lossless", webpLossless(400, 300), 400, 300, true},
		{"empty", nil, 0, 0, false},
		{"garbage", []byte("this is not an image at all....."), 0, 0, false},
	}

	for _, tc := range table {
		w, h, ok := Probe(tc.buf)
		if ok != tc.ok || w != tc.w || h != tc.h {
			t.Errorf("%s: Probe = (%d, %d, %v), expected (%d, %d, %v)",
				tc.name, w, h, ok, tc.w, tc.h, tc.ok)
		}
	}
}

func appSegment(marker byte, payload []byte) []byte {
	seg := []byte{0xff, marker, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	return append(seg, payload...)
}

func TestProbeJPEGKeepsLargestSOF(t *testing.T) {
	buf := []byte{0xff, 0xd8}
	buf = append(buf, sofSegment(0xc0, 120, 90)...)
	buf = append(buf, sofSegment(0xc2, 1600, 1200)...)

	w, h, ok := Probe(buf)
	if !ok || w != 1600 || h != 1200 {
		t.Errorf("Probe = (%d, %d, %v), expected (1600, 1200, true)", w, h, ok)
	}
}

func TestProbeJPEGExifThumbnail(t *testing.T) {
	// the EXIF thumbnail lives inside APP1 as a complete JPEG with its own
	// SOF. the primary frame header must win.
	exif := append([]byte("Exif\x00\x00"), sofSegment(0xc0, 160, 120)...)
	buf := []byte{0xff, 0xd8}
	buf = append(buf, appSegment(0xe1, exif)...)
	buf = append(buf, sofSegment(0xc0, 480, 360)...)

	w, h, ok := Probe(buf)
	if !ok || w != 480 || h != 360 {
		t.Errorf("Probe = (%d, %d, %v), expected (480, 360, true)", w, h, ok)
	}
}

func TestProbeJPEGIgnoresPayloadPatterns(t *testing.T) {
	// an FF Cx byte run inside a non-EXIF application segment is payload,
	// not a frame header, no matter how plausible its fields look
	buf := []byte{0xff, 0xd8}
	buf = append(buf, appSegment(0xe0, sofSegment(0xc0, 4000, 3000))...)
	buf = append(buf, sofSegment(0xc0, 300, 200)...)

	w, h, ok := Probe(buf)
	if !ok || w != 300 || h != 200 {
		t.Errorf("Probe = (%d, %d, %v), expected (300, 200, true)", w, h, ok)
	}
}

func TestProbeJPEGStopsAtSOS(t *testing.T) {
	// entropy-coded data after SOS can contain anything, including bytes
	// shaped like a bigger SOF
	buf := []byte{0xff, 0xd8}
	buf = append(buf, sofSegment(0xc0, 300, 200)...)
	buf = append(buf, 0xff, 0xda, 0x00, 0x0c)
	buf = append(buf, make([]byte, 10)...)
	buf = append(buf, sofSegment(0xc1, 8000, 6000)...)

	w, h, ok := Probe(buf)
	if !ok || w != 300 || h != 200 {
		t.Errorf("Probe = (%d, %d, %v), expected (300, 200, true)", w, h, ok)
	}
}

func TestProbeJPEGIgnoresDHT(t *testing.T) {
	buf := []byte{0xff, 0xd8}
	buf = append(buf, sofSegment(0xc4, 999, 999)...) // DHT, not a SOF
	if _, _, ok := Probe(buf); ok {
		t.Error("Probe accepted a DHT segment as a SOF")
	}
}

func TestDetectFormat(t *testing.T) {
	var table = []struct {
		buf  []byte
		want Format
	}{
		{pngHeader(1, 1), FormatPNG},
		{jpegHeader(1, 1), FormatJPEG},
		{gifHeader(1, 1), FormatGIF},
		{bmpHeader(1, 1), FormatBMP},
		{webpLossless(1, 1), FormatWEBP},
		{[]byte("random bytes"), FormatUnknown},
		{nil, FormatUnknown},
	}
	for _, tc := range table {
		if got := DetectFormat(tc.buf); got != tc.want {
			t.Errorf("DetectFormat = %v, expected %v", got, tc.want)
		}
	}
}
