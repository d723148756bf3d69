// Package previews is the public surface of the preview cache. A Service
// answers requests for the thumbnails of a content package by checking the
// in-memory tiers, then the persistent disk tier, and only then opening the
// package archive and decompressing the missing entries in parallel.
//
// Expected failures never surface as errors: an unavailable archive or a
// corrupt entry is logged and absorbed, and the caller simply receives
// fewer images than requested.
package previews

import (
	"context"
	"io"
	"log"
	"runtime"
	"sync"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/golang/groupcache/singleflight"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/pakview/pakview/diskcache"
	"github.com/pakview/pakview/imagemeta"
	"github.com/pakview/pakview/memcache"
	"github.com/pakview/pakview/pak"
	"github.com/pakview/pakview/store"
	"github.com/pakview/pakview/util"
)

var (
	// ErrCorruptEntry means an archive entry failed the magic-byte or
	// header check.
	ErrCorruptEntry = errors.New("corrupt image entry")

	// ErrDimensionRejected means the image decoded fine but its dimensions
	// fall outside the accepted preview band. It marks texture content, not
	// a failure.
	ErrDimensionRejected = errors.New("dimensions outside preview band")
)

// A Locator maps a package name to the path of its archive file. It is
// provided by the package-management layer that knows where archives
// currently live.
type Locator interface {
	Locate(pkg string) (archivePath string, err error)
}

// LocatorFunc adapts a function to the Locator interface.
type LocatorFunc func(string) (string, error)

func (f LocatorFunc) Locate(pkg string) (string, error) { return f(pkg) }

// Config collects the tunables of the preview cache. The size and dimension
// gates are deliberately configuration, not constants; the defaults match
// the thresholds the browsing interface was tuned for.
type Config struct {
	HotEntries  int   // capacity of the resident memory tier
	WarmEntries int   // capacity of the reclaimable memory tier
	DiskBytes   int64 // capacity of the persistent tier

	MinImageBytes int64 // candidate entry byte-size gate
	MaxImageBytes int64
	MinEdge       int // accepted preview band, longer edge, in pixels
	MaxEdge       int

	Parallelism        int           // concurrent reads per archive, capped at NumCPU
	BatchTimeout       time.Duration // wall clock budget for one parallel batch
	PreloadBytesPerSec int64         // background preload throttle
	PreloadQueue       int           // capacity of the preload work queue
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HotEntries:         256,
		WarmEntries:        2048,
		DiskBytes:          256 << 20,
		MinImageBytes:      1 << 10,
		MaxImageBytes:      1 << 20,
		MinEdge:            128,
		MaxEdge:            512,
		Parallelism:        runtime.NumCPU(),
		BatchTimeout:       30 * time.Second,
		PreloadBytesPerSec: 4 << 20,
		PreloadQueue:       64,
	}
}

// Image is one decoded preview returned to the caller.
type Image struct {
	Location pak.ImageLocation
	Data     []byte
}

// Service is the cache orchestrator. Create one with New and release it
// with Stop.
type Service struct {
	cfg      Config
	loc      Locator
	index    *pak.Index
	mem      *memcache.Cache
	disk     *diskcache.Cache
	flight   singleflight.Group
	throttle *util.Throttle

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	m        sync.Mutex
	archives map[string]string // package name -> last resolved archive path

	hits   uint64 // atomic
	misses uint64 // atomic
}

// New creates a Service persisting thumbnails into s. It starts the
// background preload worker and a scan of previously persisted records.
func New(cfg Config, loc Locator, s store.Store) *Service {
	svc := &Service{
		cfg:      cfg,
		loc:      loc,
		index:    pak.NewIndex(cfg.MinImageBytes, cfg.MaxImageBytes),
		mem:      memcache.New(cfg.HotEntries, cfg.WarmEntries),
		disk:     diskcache.New(s, cfg.DiskBytes),
		throttle: util.NewThrottle(cfg.PreloadBytesPerSec),
		queue:    make(chan string, cfg.PreloadQueue),
		archives: make(map[string]string),
	}
	svc.ctx, svc.cancel = context.WithCancel(context.Background())
	go svc.disk.Scan()
	svc.wg.Add(1)
	go svc.preloadLoop()
	return svc
}

// Stop cancels background work and waits for it to finish.
func (s *Service) Stop() {
	s.cancel()
	s.throttle.Stop()
	s.wg.Wait()
}

// EvictPressure asks the memory tiers to shed entries. Wire it to whatever
// memory-pressure signal the host application has.
func (s *Service) EvictPressure(p memcache.Pressure) int {
	return s.mem.EvictPressure(p)
}

// EvictIdle demotes hot-tier entries that have not been requested within
// maxAge to the reclaimable warm tier. Hosts that browse in bursts can call
// it between bursts to give the resident tier back without losing the
// entries outright.
func (s *Service) EvictIdle(maxAge time.Duration) int {
	return s.mem.EvictIdle(maxAge)
}

// LoadMany returns up to maxCount decoded previews for the package, in the
// package's index order regardless of which parallel load finished first. A
// maxCount of zero or less means no limit. Entries that cannot be loaded
// are skipped, so the result may be shorter than the index.
func (s *Service) LoadMany(ctx context.Context, pkg string, maxCount int) []Image {
	archive, sig, locs := s.resolve(pkg)
	if archive == "" {
		return nil
	}
	if maxCount > 0 && len(locs) > maxCount {
		locs = locs[:maxCount]
	}

	results := make([][]byte, len(locs))
	var missIdx []int
	for i, loc := range locs {
		if data, ok := s.mem.Get(memKey(archive, sig, loc.InternalPath)); ok {
			results[i] = data
		} else {
			missIdx = append(missIdx, i)
		}
	}
	s.countHits(uint64(len(locs) - len(missIdx)))

	if len(missIdx) > 0 {
		missIdx = s.fillFromDisk(archive, sig, locs, missIdx, results)
	}
	if len(missIdx) > 0 {
		s.countMisses(uint64(len(missIdx)))
		s.loadFromArchive(ctx, archive, sig, locs, missIdx, results)
	}

	out := make([]Image, 0, len(locs))
	for i, data := range results {
		if data != nil {
			out = append(out, Image{Location: locs[i], Data: data})
		}
	}
	return out
}

// fillFromDisk batch-queries the disk tier for the still-missing indexes and
// returns the indexes that remain missing. Disk hits are promoted into the
// memory tiers.
func (s *Service) fillFromDisk(archive string, sig pak.Signature, locs []pak.ImageLocation, missIdx []int, results [][]byte) []int {
	paths := make([]string, len(missIdx))
	for j, i := range missIdx {
		paths[j] = locs[i].InternalPath
	}
	hits, _ := s.disk.GetBatch(archive, sig, paths)
	var remaining []int
	for _, i := range missIdx {
		data, ok := hits[locs[i].InternalPath]
		if !ok {
			remaining = append(remaining, i)
			continue
		}
		results[i] = data
		s.mem.Put(memKey(archive, sig, locs[i].InternalPath), data)
	}
	s.countHits(uint64(len(missIdx) - len(remaining)))
	return remaining
}

// loadFromArchive decompresses the missing entries from the archive file,
// in parallel bounded by the handle pool, under the batch timeout. If the
// batch runs out of time, whatever is still missing gets one sequential
// retry.
func (s *Service) loadFromArchive(ctx context.Context, archive string, sig pak.Signature, locs []pak.ImageLocation, missIdx []int, results [][]byte) {
	pool, err := pak.OpenPool(archive, s.cfg.Parallelism)
	if err != nil {
		log.Printf("previews: %s: %v", archive, err)
		raven.CaptureError(err, map[string]string{"archive": archive})
		return
	}
	defer pool.Close()

	bctx, cancel := context.WithTimeout(ctx, s.cfg.BatchTimeout)
	defer cancel()

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Parallelism)
	for _, i := range missIdx {
		i := i
		g.Go(func() error {
			data, err := s.loadOne(bctx, pool, archive, sig, locs[i])
			if err != nil {
				logEntryError(locs[i], err)
				return nil // per-entry failures never abort the batch
			}
			results[i] = data
			return nil
		})
	}
	g.Wait()

	if bctx.Err() == nil {
		return
	}
	// the parallel batch timed out. one sequential pass over the leftovers.
	log.Printf("previews: %s: batch timed out, retrying sequentially", archive)
	retry, err := pak.OpenPool(archive, 1)
	if err != nil {
		log.Printf("previews: %s: %v", archive, err)
		return
	}
	defer retry.Close()
	for _, i := range missIdx {
		if results[i] != nil {
			continue
		}
		data, err := s.loadOne(context.Background(), retry, archive, sig, locs[i])
		if err != nil {
			logEntryError(locs[i], err)
			continue
		}
		results[i] = data
	}
}

// loadOne reads, validates, and caches a single entry. Concurrent loads of
// the same entry are collapsed into one read; every caller observes the
// same bytes.
func (s *Service) loadOne(ctx context.Context, pool *pak.Pool, archive string, sig pak.Signature, loc pak.ImageLocation) ([]byte, error) {
	key := memKey(archive, sig, loc.InternalPath)
	v, err := s.flight.Do(key, func() (interface{}, error) {
		// another flight may have finished while we queued
		if data, ok := s.mem.Get(key); ok {
			return data, nil
		}
		h, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer pool.Release(h)
		data, err := s.readEntry(h, loc)
		if err != nil {
			return nil, err
		}
		// admit to both cache tiers before returning
		if err := s.disk.Put(loc, sig, data); err != nil && err != diskcache.ErrCacheFull {
			log.Printf("previews: disk put %s: %v", loc.InternalPath, err)
		}
		s.mem.Put(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// readEntry decompresses one entry through the given handle and validates
// it. The magic bytes are checked on a short read before the body is
// decompressed, so corrupt entries are rejected cheaply.
func (s *Service) readEntry(h *pak.Handle, loc pak.ImageLocation) ([]byte, error) {
	rc, err := h.Open(loc.InternalPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	head := make([]byte, 64)
	n, err := io.ReadFull(rc, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, errors.Wrap(ErrCorruptEntry, loc.InternalPath)
	}
	head = head[:n]
	if imagemeta.DetectFormat(head) == imagemeta.FormatUnknown {
		return nil, errors.Wrap(ErrCorruptEntry, loc.InternalPath)
	}

	rest, err := io.ReadAll(io.LimitReader(rc, s.cfg.MaxImageBytes))
	if err != nil {
		return nil, errors.Wrap(ErrCorruptEntry, loc.InternalPath)
	}
	data := append(head, rest...)
	if int64(len(data)) > s.cfg.MaxImageBytes {
		return nil, errors.Wrap(ErrDimensionRejected, loc.InternalPath)
	}

	w, hpx, ok := imagemeta.Probe(data)
	if !ok {
		return nil, errors.Wrap(ErrCorruptEntry, loc.InternalPath)
	}
	longer := w
	if hpx > longer {
		longer = hpx
	}
	if longer < s.cfg.MinEdge || longer > s.cfg.MaxEdge {
		return nil, errors.Wrap(ErrDimensionRejected, loc.InternalPath)
	}
	return data, nil
}

// resolve finds the package's archive and its current preview index. The
// disk cache's manifest is preferred over opening the archive, so a warm
// disk cache makes cold starts cheap. An empty archive path means the
// package could not be resolved.
func (s *Service) resolve(pkg string) (string, pak.Signature, []pak.ImageLocation) {
	archive, err := s.loc.Locate(pkg)
	if err != nil {
		log.Printf("previews: locate %s: %v", pkg, err)
		return "", pak.Signature{}, nil
	}
	s.m.Lock()
	s.archives[pkg] = archive
	s.m.Unlock()

	sig, err := pak.SignatureOf(archive)
	if err != nil {
		log.Printf("previews: stat %s: %v", archive, err)
		return "", pak.Signature{}, nil
	}
	if locs, ok := s.index.Cached(archive, sig); ok {
		return archive, sig, locs
	}
	if locs := s.disk.ListArchive(archive, sig); locs != nil {
		s.index.Adopt(archive, sig, locs)
		return archive, sig, locs
	}
	return archive, sig, s.index.Scan(archive)
}

// Invalidate drops every cached record referencing the package: its
// memoized index, its disk records and manifest, and its memory entries.
// Call it before the package's archive file is moved or deleted.
func (s *Service) Invalidate(pkg string) {
	s.m.Lock()
	archive, ok := s.archives[pkg]
	delete(s.archives, pkg)
	s.m.Unlock()
	if !ok {
		a, err := s.loc.Locate(pkg)
		if err != nil {
			return
		}
		archive = a
	}
	s.index.Invalidate(archive)
	s.disk.InvalidateArchive(archive)
	s.mem.RemovePrefix(archive + "\x00")
}

func memKey(archive string, sig pak.Signature, internalPath string) string {
	return archive + "\x00" + sig.String() + "\x00" + internalPath
}

func logEntryError(loc pak.ImageLocation, err error) {
	if errors.Is(err, ErrDimensionRejected) {
		// texture content, not a failure
		return
	}
	log.Printf("previews: %s!%s: %v", loc.ArchivePath, loc.InternalPath, err)
}
