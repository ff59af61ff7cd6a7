package dl

import (
	"sync"
	"time"

	"github.com/Laky-64/gologging"
	"github.com/zuchzub/trackdl/pkg/core/cache"
)

// Recorder observes every network attempt made by a Client.
// Implementations must be safe for concurrent use and must not block.
type Recorder interface {
	Record(a cache.Attempt)
}

// LogRecorder writes attempts to the log.
type LogRecorder struct{}

// Record logs a at debug level, with the error when the attempt failed.
func (LogRecorder) Record(a cache.Attempt) {
	if a.OK() {
		gologging.DebugF("[%s] attempt %d to %s: status=%d latency=%s", a.Kind, a.Number, a.URL, a.Status, a.Latency)
		return
	}
	gologging.DebugF("[%s] attempt %d to %s failed after %s: %s", a.Kind, a.Number, a.URL, a.Latency, a.Err)
}

// Stats is a snapshot of a StatsRecorder.
type Stats struct {
	Attempts int
	Failures int
	Latency  time.Duration
}

// StatsRecorder keeps per-kind counters in memory.
type StatsRecorder struct {
	mu    sync.Mutex
	stats map[string]Stats
	log   []cache.Attempt
	keep  int
}

// NewStatsRecorder returns a StatsRecorder that also keeps the last keep attempts.
func NewStatsRecorder(keep int) *StatsRecorder {
	return &StatsRecorder{stats: make(map[string]Stats), keep: keep}
}

// Record adds a to the counters of its kind and keeps it among the recent attempts.
func (s *StatsRecorder) Record(a cache.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats[a.Kind]
	st.Attempts++
	if !a.OK() {
		st.Failures++
	}
	st.Latency += a.Latency
	s.stats[a.Kind] = st

	if s.keep > 0 {
		s.log = append(s.log, a)
		if len(s.log) > s.keep {
			s.log = s.log[len(s.log)-s.keep:]
		}
	}
}

// Snapshot returns the counters for kind.
func (s *StatsRecorder) Snapshot(kind string) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats[kind]
}

// Recent returns a copy of the retained attempts, oldest first.
func (s *StatsRecorder) Recent() []cache.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cache.Attempt, len(s.log))
	copy(out, s.log)
	return out
}

// MultiRecorder fans an attempt out to several recorders.
type MultiRecorder []Recorder

// Record hands a to every non-nil recorder in order.
func (m MultiRecorder) Record(a cache.Attempt) {
	for _, r := range m {
		if r != nil {
			r.Record(a)
		}
	}
}
