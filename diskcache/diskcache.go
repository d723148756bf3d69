// Package diskcache is the persistent tier of the preview cache. Decoded
// thumbnail bytes are stored in a store.Store keyed by the archive, the
// archive's signature, and the internal entry path. Because the signature
// participates in the key, entries for a changed archive simply miss and age
// out of the LRU; no explicit stale-entry bookkeeping is needed.
//
// Next to the thumbnail records the cache keeps one small manifest record
// per archive listing every preview it has persisted for that archive along
// with the signature they were read under. The manifest answers the
// "which previews does this archive have" question on a cold start without
// opening the archive file at all.
package diskcache

import (
	"container/list"
	"log"
	"sync"
	"sync/atomic"

	raven "github.com/getsentry/raven-go"

	"github.com/pakview/pakview/pak"
	"github.com/pakview/pakview/store"
)

type Cache struct {
	s       store.Store
	maxSize int64

	m     sync.Mutex
	size  int64
	order *list.List // front is MRU, back is LRU
	index map[string]*list.Element

	// manifest records are read-modify-write, so writes are serialized
	manifestM sync.Mutex

	bytesWritten int64 // atomic
	bytesRead    int64 // atomic
}

// New creates a cache storing at most maxSize bytes of thumbnails in s.
// Call Scan, either inline or in a goroutine, to pick up records persisted
// by an earlier run.
func New(s store.Store, maxSize int64) *Cache {
	return &Cache{
		s:       s,
		maxSize: maxSize,
		order:   list.New(),
		index:   make(map[string]*list.Element),
	}
}

// Scan enumerates the records already in the backing store and adds them to
// the usage list in an undetermined order. Records too big for the cache are
// deleted.
func (c *Cache) Scan() {
	for key := range c.s.List() {
		if isManifestKey(key) {
			continue
		}
		c.m.Lock()
		_, known := c.index[key]
		c.m.Unlock()
		if known {
			continue
		}
		rac, size, err := c.s.Open(key)
		if err != nil {
			continue
		}
		rac.Close()
		evicted, ok := c.admit(key, size)
		if !ok {
			c.s.Delete(key)
			continue
		}
		c.deleteAll(evicted)
	}
}

// Contains reports whether a record for the entry is currently present. It
// does not touch the backing store and does not refresh the record's
// recency, so presence is not a guarantee that a later GetBatch will hit.
func (c *Cache) Contains(archivePath string, sig pak.Signature, internalPath string) bool {
	key := entryKey(archivePath, sig, internalPath)
	c.m.Lock()
	_, ok := c.index[key]
	c.m.Unlock()
	return ok
}

// GetBatch looks up the given internal paths of one archive, all under the
// same signature. It returns the hits and, in request order, the paths that
// missed.
func (c *Cache) GetBatch(archivePath string, sig pak.Signature, paths []string) (map[string][]byte, []string) {
	hits := make(map[string][]byte)
	var misses []string
	for _, p := range paths {
		key := entryKey(archivePath, sig, p)
		c.m.Lock()
		elem, ok := c.index[key]
		if ok {
			c.order.MoveToFront(elem)
		}
		c.m.Unlock()
		if !ok {
			misses = append(misses, p)
			continue
		}
		data, err := store.ReadAll(c.s, key)
		if err != nil {
			// record vanished under us. drop it and report a miss.
			c.unlink(key)
			misses = append(misses, p)
			continue
		}
		atomic.AddInt64(&c.bytesRead, int64(len(data)))
		hits[p] = data
	}
	return hits, misses
}

// Put persists the thumbnail bytes for one archive entry and records it in
// the archive's manifest. Older records are evicted as needed to stay under
// the size limit. The write is atomic: a concurrent reader sees either the
// whole record or a miss, never a partial value.
func (c *Cache) Put(loc pak.ImageLocation, sig pak.Signature, data []byte) error {
	key := entryKey(loc.ArchivePath, sig, loc.InternalPath)
	evicted, ok := c.admit(key, int64(len(data)))
	if !ok {
		return ErrCacheFull
	}
	c.deleteAll(evicted)

	w, err := c.s.Create(key)
	if err == store.ErrKeyExists {
		// already persisted by a concurrent load. the reservation above now
		// accounts for the existing record, so leave it in place.
		return nil
	}
	if err != nil {
		c.unreserve(key, int64(len(data)))
		return err
	}
	if _, err = w.Write(data); err != nil {
		w.Close()
		c.unlink(key)
		return err
	}
	if err = w.Close(); err != nil {
		c.unlink(key)
		return err
	}
	atomic.AddInt64(&c.bytesWritten, int64(len(data)))
	c.updateManifest(loc, sig)
	return nil
}

// ListArchive returns the locations persisted for the archive if its
// manifest was written under the same signature. A nil result means there is
// no usable manifest and the caller has to scan the archive itself.
func (c *Cache) ListArchive(archivePath string, sig pak.Signature) []pak.ImageLocation {
	m, err := c.readManifest(manifestKey(archivePath))
	if err != nil || m == nil || m.Sig != sig {
		return nil
	}
	for i := range m.Locations {
		m.Locations[i].ArchivePath = archivePath
	}
	return m.Locations
}

// InvalidateArchive removes the archive's manifest and every thumbnail
// record stored for it, under any signature.
func (c *Cache) InvalidateArchive(archivePath string) {
	keys, err := c.s.ListPrefix(archiveID(archivePath) + "-")
	if err != nil {
		log.Println("diskcache: invalidate:", err)
		raven.CaptureError(err, nil)
		return
	}
	for _, key := range keys {
		c.unlink(key)
		c.s.Delete(key)
	}
}

// Clear empties the cache.
func (c *Cache) Clear() error {
	var keys []string
	for key := range c.s.List() {
		keys = append(keys, key)
	}
	for _, key := range keys {
		if err := c.s.Delete(key); err != nil {
			return err
		}
	}
	c.m.Lock()
	c.size = 0
	c.order = list.New()
	c.index = make(map[string]*list.Element)
	c.m.Unlock()
	return nil
}

// Size returns the number of thumbnail bytes currently accounted for.
func (c *Cache) Size() int64 {
	c.m.Lock()
	defer c.m.Unlock()
	return c.size
}

// Counters returns the total bytes written to and read from the backing
// store since this cache was created.
func (c *Cache) Counters() (written, read int64) {
	return atomic.LoadInt64(&c.bytesWritten), atomic.LoadInt64(&c.bytesRead)
}

// admit reserves space for a new record, evicting from the LRU tail as
// needed. It returns the keys to delete from the backing store; the actual
// deletes happen outside the lock. ok is false if the record can never fit.
func (c *Cache) admit(key string, size int64) (evicted []string, ok bool) {
	c.m.Lock()
	defer c.m.Unlock()
	if size > c.maxSize {
		return nil, false
	}
	if elem, exists := c.index[key]; exists {
		c.size -= elem.Value.(entry).size
		c.order.Remove(elem)
		delete(c.index, key)
	}
	c.size += size
	for c.size > c.maxSize {
		tail := c.order.Back()
		if tail == nil {
			c.size -= size
			return nil, false
		}
		e := c.order.Remove(tail).(entry)
		delete(c.index, e.key)
		c.size -= e.size
		evicted = append(evicted, e.key)
	}
	c.index[key] = c.order.PushFront(entry{key: key, size: size})
	return evicted, true
}

// unreserve backs out an admit that did not result in a stored record.
func (c *Cache) unreserve(key string, size int64) {
	c.m.Lock()
	if elem, ok := c.index[key]; ok && elem.Value.(entry).size == size {
		c.size -= size
		c.order.Remove(elem)
		delete(c.index, key)
	}
	c.m.Unlock()
}

// unlink forgets a record without touching the backing store.
func (c *Cache) unlink(key string) {
	c.m.Lock()
	if elem, ok := c.index[key]; ok {
		c.size -= elem.Value.(entry).size
		c.order.Remove(elem)
		delete(c.index, key)
	}
	c.m.Unlock()
}

func (c *Cache) deleteAll(keys []string) {
	for _, key := range keys {
		if err := c.s.Delete(key); err != nil {
			log.Println("diskcache: evict:", err)
		}
	}
}
