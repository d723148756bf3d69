package previews

import (
	"expvar"
	"sync/atomic"
)

// package-level expvars so the numbers show up on any debug endpoint the
// host application happens to serve
var (
	expHits   = expvar.NewInt("pakview.previews.hits")
	expMisses = expvar.NewInt("pakview.previews.misses")
)

// Stats is a snapshot of the cache's counters. A hit means a request was
// served from the memory or disk tier; a miss means the archive had to be
// opened.
type Stats struct {
	HitCount         uint64
	MissCount        uint64
	HitRate          float64
	DiskBytesWritten int64
	DiskBytesRead    int64
	DiskBytes        int64 // bytes currently stored in the persistent tier
	HotEntries       int
	WarmEntries      int
}

// Stats returns the current counters.
func (s *Service) Stats() Stats {
	st := Stats{
		HitCount:  atomic.LoadUint64(&s.hits),
		MissCount: atomic.LoadUint64(&s.misses),
		DiskBytes: s.disk.Size(),
	}
	st.DiskBytesWritten, st.DiskBytesRead = s.disk.Counters()
	st.HotEntries, st.WarmEntries = s.mem.Len()
	if total := st.HitCount + st.MissCount; total > 0 {
		st.HitRate = float64(st.HitCount) / float64(total)
	}
	return st
}

func (s *Service) countHits(n uint64) {
	if n > 0 {
		atomic.AddUint64(&s.hits, n)
		expHits.Add(int64(n))
	}
}

func (s *Service) countMisses(n uint64) {
	if n > 0 {
		atomic.AddUint64(&s.misses, n)
		expMisses.Add(int64(n))
	}
}
