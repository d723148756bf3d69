package pak

import (
	"archive/zip"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testPNG returns a well-formed PNG header with the given dimensions, padded
// with zeros to total bytes.
func testPNG(w, h uint32, total int) []byte {
	buf := make([]byte, total)
	copy(buf, []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a})
	binary.BigEndian.PutUint32(buf[8:], 13)
	copy(buf[12:], "IHDR")
	binary.BigEndian.PutUint32(buf[16:], w)
	binary.BigEndian.PutUint32(buf[20:], h)
	buf[24] = 8
	buf[25] = 6
	return buf
}

// writeArchive creates a ZIP archive at path with the given entries.
func writeArchive(t *testing.T, path string, files map[string][]byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating %s: %s", path, err)
	}
	zw := zip.NewWriter(f)
	for name, contents := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("adding %s: %s", name, err)
		}
		w.Write(contents)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %s", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing file: %s", err)
	}
}

func TestSignatureOf(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.pak")
	writeArchive(t, path, map[string][]byte{"x.txt": []byte("hello")})

	sig1, err := SignatureOf(path)
	if err != nil {
		t.Fatalf("SignatureOf returned %s", err)
	}
	if sig1.IsZero() {
		t.Error("signature is zero for an existing file")
	}

	sig2, _ := SignatureOf(path)
	if sig1 != sig2 {
		t.Errorf("signatures differ for unchanged file: %v vs %v", sig1, sig2)
	}

	// appending and back-dating the mtime must still change the signature
	os.WriteFile(path, append([]byte("junk"), make([]byte, 100)...), 0644)
	os.Chtimes(path, time.Now(), time.Now().Add(time.Second))
	sig3, _ := SignatureOf(path)
	if sig1 == sig3 {
		t.Error("signature unchanged after file was modified")
	}

	if _, err := SignatureOf(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("SignatureOf of a missing file did not error")
	}
}
