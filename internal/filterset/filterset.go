// Package filterset implements the Filter Set: the bundle of predicates a
// caller configures before starting a stream, and the coarse/fine match
// queries the coordinator and reader set drive off of it.
package filterset

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"time"

	"github.com/route-beacon/bgpstream/internal/bserr"
	"github.com/route-beacon/bgpstream/internal/inputdesc"
)

// Forever marks an open-ended interval end, per spec.md §6.
const Forever uint32 = 1<<32 - 1

// ElementType enumerates the record kinds a filter may restrict on.
type ElementType int

const (
	ElementRIB ElementType = iota
	ElementAnnouncement
	ElementWithdrawal
	ElementStateChange
)

// Interval is a closed time range [Begin, End]. End == Forever means live.
type Interval struct {
	Begin uint32
	End   uint32
}

func (iv Interval) overlaps(lo, hi uint32) bool {
	return lo <= iv.End && hi >= iv.Begin
}

func (iv Interval) contains(ts uint32) bool {
	return ts >= iv.Begin && ts <= iv.End
}

// PrefixEntry is one prefix predicate. RecordMoreSpecific controls which side of
// the containment test must be the more-specific one; the spec's open
// question (§9) leaves this as a per-entry option with a documented
// default.
type PrefixEntry struct {
	Prefix netip.Prefix
	Exact  bool
	// RecordMoreSpecific: true (default) means a record prefix matches if
	// it is equal to or more specific than Prefix (record ⊆ filter).
	// false reverses the direction (filter ⊆ record).
	RecordMoreSpecific bool
}

var durationRE = regexp.MustCompile(`^(\d+)([smhdw]?)$`)

// Set holds every configured predicate. A Set is not safe for concurrent
// use; the coordinator that owns it is itself single-threaded.
type Set struct {
	intervals   []Interval
	collectors  map[string]bool
	projects    map[string]bool
	peerASNs    map[uint32]bool
	prefixes    []PrefixEntry
	elemTypes   map[ElementType]bool
	ribPeriod   uint32 // seconds; 0 = disabled
	frozen      bool
	liveHint    bool
	lastRIBSeen map[string]uint32 // collector -> last emitted RIB file timestamp
}

// New returns an empty, unfrozen Filter Set.
func New() *Set {
	return &Set{
		collectors:  make(map[string]bool),
		projects:    make(map[string]bool),
		peerASNs:    make(map[uint32]bool),
		elemTypes:   make(map[ElementType]bool),
		lastRIBSeen: make(map[string]uint32),
	}
}

func (s *Set) checkMutable() error {
	if s.frozen {
		return fmt.Errorf("%w: filter set is frozen after start()", bserr.ErrInvalidState)
	}
	return nil
}

// AddInterval appends one [begin, end] interval. end == Forever sets the
// coordinator's live-mode hint.
func (s *Set) AddInterval(begin, end uint32) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if begin > end {
		return fmt.Errorf("%w: interval begin %d > end %d", bserr.ErrInvalidFilter, begin, end)
	}
	s.intervals = append(s.intervals, Interval{Begin: begin, End: end})
	if end == Forever {
		s.liveHint = true
	}
	return nil
}

// AddRecent parses a duration specifier ("3600", "1h", ...) into an
// interval [now-spec, now]. If live is true, the end is replaced with
// Forever. now is injected so tests are deterministic.
func (s *Set) AddRecent(now time.Time, spec string, live bool) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	d, err := parseDurationSpec(spec)
	if err != nil {
		return fmt.Errorf("%w: %v", bserr.ErrInvalidFilter, err)
	}
	begin := uint32(now.Add(-d).Unix())
	end := uint32(now.Unix())
	if live {
		end = Forever
		s.liveHint = true
	}
	s.intervals = append(s.intervals, Interval{Begin: begin, End: end})
	return nil
}

func parseDurationSpec(spec string) (time.Duration, error) {
	m := durationRE.FindStringSubmatch(spec)
	if m == nil {
		return 0, fmt.Errorf("malformed duration %q", spec)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, err
	}
	unit := time.Second
	switch m[2] {
	case "", "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	}
	return time.Duration(n) * unit, nil
}

// AddRIBPeriod sets the per-collector RIB dedup window in seconds.
func (s *Set) AddRIBPeriod(seconds uint32) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	s.ribPeriod = seconds
	return nil
}

// AddCollector restricts the stream to the named collector.
func (s *Set) AddCollector(name string) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: empty collector name", bserr.ErrInvalidFilter)
	}
	s.collectors[name] = true
	return nil
}

// AddProject restricts the stream to the named project.
func (s *Set) AddProject(name string) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: empty project name", bserr.ErrInvalidFilter)
	}
	s.projects[name] = true
	return nil
}

// AddPeerASN restricts the stream to records involving the given peer ASN.
func (s *Set) AddPeerASN(asn uint32) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	s.peerASNs[asn] = true
	return nil
}

// AddPrefix restricts the stream by prefix containment.
// recordMoreSpecific=true keeps the default "record is
// more-specific-or-equal" direction.
func (s *Set) AddPrefix(cidr string, exact, recordMoreSpecific bool) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		return fmt.Errorf("%w: %v", bserr.ErrInvalidFilter, err)
	}
	s.prefixes = append(s.prefixes, PrefixEntry{Prefix: p, Exact: exact, RecordMoreSpecific: recordMoreSpecific})
	return nil
}

// AddElementType restricts the stream to the given element kind.
func (s *Set) AddElementType(t ElementType) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	s.elemTypes[t] = true
	return nil
}

// LiveHint reports whether any configured interval is open-ended.
func (s *Set) LiveHint() bool { return s.liveHint }

// EarliestBegin returns the smallest interval Begin across all
// configured intervals, used by the coordinator to seed its first poll
// window. Returns 0 if no interval is configured (callers only rely on
// this after Validate has succeeded).
func (s *Set) EarliestBegin() uint32 {
	if len(s.intervals) == 0 {
		return 0
	}
	min := s.intervals[0].Begin
	for _, iv := range s.intervals[1:] {
		if iv.Begin < min {
			min = iv.Begin
		}
	}
	return min
}

// Validate fails with ErrNoInterval if no time interval was ever added.
// Called by the coordinator's start().
func (s *Set) Validate() error {
	if len(s.intervals) == 0 {
		return bserr.ErrNoInterval
	}
	return nil
}

// Freeze marks the set immutable; called by the coordinator's start().
func (s *Set) Freeze() { s.frozen = true }

// CoarseMatch reports whether a candidate Input Descriptor should even be
// queued: its file-timestamp window must overlap a configured interval,
// collector/project predicates must admit it, and — for RIB descriptors —
// the RIB-period filter must admit this collector at this time.
//
// windowEnd bounds how far into the future a RIB file's validity window
// is assumed to extend for overlap purposes (callers pass the next
// descriptor's file timestamp, or Forever if unknown).
func (s *Set) CoarseMatch(d inputdesc.Descriptor, windowEnd uint32) bool {
	if !s.intervalsOverlap(d.FileTimestamp, windowEnd) {
		return false
	}
	if len(s.collectors) > 0 && !s.collectors[d.Collector] {
		return false
	}
	if len(s.projects) > 0 && !s.projects[d.Project] {
		return false
	}
	if d.Type == inputdesc.TypeRIB && s.ribPeriod > 0 {
		if last, ok := s.lastRIBSeen[d.Collector]; ok {
			if d.FileTimestamp < last+s.ribPeriod {
				return false
			}
		}
	}
	return true
}

// ObserveRIB records that a RIB descriptor for collector at fileTime was
// admitted, so later coarse_match calls can enforce the RIB-period window.
// This must be called exactly once per admitted RIB descriptor, in
// ascending file-timestamp order (the coordinator sorts each poll batch
// before calling it).
func (s *Set) ObserveRIB(collector string, fileTime uint32) {
	if s.ribPeriod == 0 {
		return
	}
	if last, ok := s.lastRIBSeen[collector]; !ok || fileTime > last {
		s.lastRIBSeen[collector] = fileTime
	}
}

func (s *Set) intervalsOverlap(lo, hi uint32) bool {
	for _, iv := range s.intervals {
		if iv.overlaps(lo, hi) {
			return true
		}
	}
	return false
}

// Record is the minimal view of an emitted record the fine-match query
// needs. The reader package's Record satisfies this via adapter fields.
type Record struct {
	Timestamp uint32
	PeerASN   uint32
	Prefixes  []netip.Prefix
	Type      ElementType
}

// FineMatch reports whether an already-decoded record passes the
// timestamp, peer, prefix and element-type predicates. Coarse match must
// already have approved the file this record came from.
func (s *Set) FineMatch(r Record) bool {
	if !s.intervalContains(r.Timestamp) {
		return false
	}
	if len(s.peerASNs) > 0 && !s.peerASNs[r.PeerASN] {
		return false
	}
	if len(s.elemTypes) > 0 && !s.elemTypes[r.Type] {
		return false
	}
	if len(s.prefixes) > 0 && !s.prefixMatch(r.Prefixes) {
		return false
	}
	return true
}

func (s *Set) intervalContains(ts uint32) bool {
	for _, iv := range s.intervals {
		if iv.contains(ts) {
			return true
		}
	}
	return false
}

func (s *Set) prefixMatch(candidates []netip.Prefix) bool {
	for _, pe := range s.prefixes {
		for _, c := range candidates {
			if pe.Exact {
				if c == pe.Prefix {
					return true
				}
				continue
			}
			if pe.RecordMoreSpecific {
				if prefixContains(pe.Prefix, c) {
					return true
				}
			} else {
				if prefixContains(c, pe.Prefix) {
					return true
				}
			}
		}
	}
	return false
}

// prefixContains reports whether child is equal to or more specific than
// parent (parent ⊇ child), for same-family prefixes.
func prefixContains(parent, child netip.Prefix) bool {
	if parent.Addr().Is4() != child.Addr().Is4() {
		return false
	}
	if child.Bits() < parent.Bits() {
		return false
	}
	return parent.Contains(child.Addr())
}
