package previews

import (
	"context"
	"log"

	"github.com/pkg/errors"

	"github.com/pakview/pakview/pak"
)

// QueueForPreload enqueues the package for background preloading. It never
// blocks; false means the queue is full and the request was dropped, which
// is fine for a best-effort warmup.
func (s *Service) QueueForPreload(pkg string) bool {
	select {
	case s.queue <- pkg:
		return true
	default:
		return false
	}
}

// preloadLoop is the background worker consuming the preload queue. It
// exits when the service is stopped.
func (s *Service) preloadLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case pkg := <-s.queue:
			s.Preload(s.ctx, pkg)
		}
	}
}

// Preload warms the disk cache with every preview of the package. It runs
// one entry at a time and pauses under the byte-rate throttle between
// entries, so foreground loads always win the contest for disk and CPU. It
// stops quietly when the context is cancelled.
func (s *Service) Preload(ctx context.Context, pkg string) {
	archive, sig, locs := s.resolve(pkg)
	if archive == "" || len(locs) == 0 {
		return
	}

	var want []pak.ImageLocation
	for _, loc := range locs {
		if !s.disk.Contains(archive, sig, loc.InternalPath) {
			want = append(want, loc)
		}
	}
	if len(want) == 0 {
		return
	}

	pool, err := pak.OpenPool(archive, 1)
	if err != nil {
		log.Printf("previews: preload %s: %v", archive, err)
		return
	}
	defer pool.Close()

	h, err := pool.Acquire(ctx)
	if err != nil {
		return
	}
	defer pool.Release(h)

	for _, loc := range want {
		if err := s.throttle.Wait(ctx); err != nil {
			return
		}
		data, err := s.readEntry(h, loc)
		if err != nil {
			if !errors.Is(err, ErrDimensionRejected) {
				log.Printf("previews: preload %s!%s: %v", archive, loc.InternalPath, err)
			}
			continue
		}
		s.throttle.Use(int64(len(data)))
		if err := s.disk.Put(loc, sig, data); err != nil {
			return // cache full or failing, no point continuing
		}
	}
}
