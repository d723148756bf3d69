package diskcache

import (
	"encoding/json"
	"log"

	"github.com/pakview/pakview/pak"
	"github.com/pakview/pakview/store"
)

// manifest is the per-archive record of which previews have been persisted
// and under which signature. It doubles as the signature table: a manifest
// whose signature no longer matches the live file is simply ignored.
type manifest struct {
	Sig       pak.Signature       `json:"sig"`
	Locations []pak.ImageLocation `json:"locations"`
}

func (m *manifest) contains(internalPath string) bool {
	for _, loc := range m.Locations {
		if loc.InternalPath == internalPath {
			return true
		}
	}
	return false
}

func (c *Cache) readManifest(key string) (*manifest, error) {
	rac, _, err := c.s.Open(key)
	if err != nil {
		return nil, err
	}
	defer rac.Close()
	var m manifest
	if err := json.NewDecoder(store.NewReader(rac)).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// updateManifest records loc in the archive's manifest. A manifest written
// under an older signature is discarded and started fresh. Failures are
// logged and otherwise ignored; the manifest is an optimization, the
// thumbnail records are the data.
func (c *Cache) updateManifest(loc pak.ImageLocation, sig pak.Signature) {
	c.manifestM.Lock()
	defer c.manifestM.Unlock()

	key := manifestKey(loc.ArchivePath)
	m, err := c.readManifest(key)
	if err != nil || m.Sig != sig {
		m = &manifest{Sig: sig}
	}
	if m.contains(loc.InternalPath) {
		return
	}
	m.Locations = append(m.Locations, loc)

	// delete-then-create since the store refuses to overwrite. the create
	// itself is atomic, so readers see the old record or the new one.
	c.s.Delete(key)
	w, err := c.s.Create(key)
	if err != nil {
		log.Println("diskcache: manifest:", err)
		return
	}
	if err := json.NewEncoder(w).Encode(m); err != nil {
		log.Println("diskcache: manifest:", err)
	}
	w.Close()
}
