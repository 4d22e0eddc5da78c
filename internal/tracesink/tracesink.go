// Package tracesink implements the per-Coordinator DecodeError side
// channel from spec.md §4.6/§8 scenario S6: a reader-scoped decode
// failure does not fail next_record, but is still surfaced somewhere
// for an operator to act on. Entries can carry raw bytes
// zstd-compressed when the caller passes them to Record (the coordinator
// records entries without raw bytes), grounded on the teacher's
// history.Writer zstd usage (zstd.NewWriter(nil) + EncodeAll) for
// archiving raw payloads cheaply.
package tracesink

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

var encoder, _ = zstd.NewWriter(nil)

// Entry is one recorded decode failure.
type Entry struct {
	Collector string
	Path      string
	Err       error
	// RawCompressed holds the reader's raw input bytes at time of
	// failure, zstd-compressed, if the caller supplied any (may be nil
	// for errors raised before any bytes were read).
	RawCompressed []byte
}

// Sink is a bounded, per-Coordinator buffer of decode-error Entries.
// Unlike the teacher's module-level debug macros, this is an
// instance-owned sink per spec.md §9's "global-ish tracing" redesign
// note.
type Sink struct {
	mu      sync.Mutex
	cap     int
	entries []Entry
}

// New returns a Sink retaining at most capacity entries (oldest
// dropped first). capacity <= 0 means unbounded.
func New(capacity int) *Sink {
	return &Sink{cap: capacity}
}

// Record appends a decode-error entry, compressing raw if non-empty.
func (s *Sink) Record(collector, path string, err error, raw []byte) {
	var compressed []byte
	if len(raw) > 0 {
		compressed = encoder.EncodeAll(raw, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, Entry{Collector: collector, Path: path, Err: err, RawCompressed: compressed})
	if s.cap > 0 && len(s.entries) > s.cap {
		s.entries = s.entries[len(s.entries)-s.cap:]
	}
}

// Drain returns and clears all currently buffered entries.
func (s *Sink) Drain() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.entries
	s.entries = nil
	return out
}

// Len reports how many entries are currently buffered.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
