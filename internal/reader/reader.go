package reader

import (
	"fmt"
	"io"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/route-beacon/bgpstream/internal/bserr"
	"github.com/route-beacon/bgpstream/internal/bsmetrics"
	"github.com/route-beacon/bgpstream/internal/filterset"
	"github.com/route-beacon/bgpstream/internal/inputdesc"
	"github.com/route-beacon/bgpstream/internal/mrt"
)

// State is the Reader lifecycle state from spec.md §3.
type State int

const (
	StateOpening State = iota
	StateReady
	StateEOF
	StateFailed
)

// Reader is a cursor over one archive file's decoded, filtered records.
type Reader struct {
	Desc  inputdesc.Descriptor
	state State
	err   error

	decoder mrt.Decoder
	closer  io.Closer

	filters *filterset.Set

	head     *Record
	lookhead *Record // one-record lookahead, used for RIB FIRST/LAST annotation
	emitted  int     // number of admitted records already delivered from this reader
}

// Open constructs a Reader over desc, opens the underlying file (or, for
// InlinePayload descriptors, wraps the in-memory bytes), and primes the
// head record by decoding and filtering until one is admitted or EOF.
// Per spec.md §4.4, a Reader in OPENING is not visible to the Reader Set
// until this call returns with state READY, EOF, or FAILED.
func Open(desc inputdesc.Descriptor, filters *filterset.Set) *Reader {
	r := &Reader{Desc: desc, state: StateOpening, filters: filters}

	var src io.Reader
	if desc.InlinePayload != nil {
		src = newByteReader(desc.InlinePayload)
	} else {
		f, err := os.Open(desc.Path)
		if err != nil {
			r.fail(fmt.Errorf("%w: opening %s: %v", bserr.ErrDecode, desc.Path, err))
			return r
		}
		r.closer = f
		src = f
	}

	decompressed, err := mrt.OpenCompressed(src, strings.ToLower(filepath.Ext(desc.Path)))
	if err != nil {
		r.fail(fmt.Errorf("%w: decompressing %s: %v", bserr.ErrDecode, desc.Path, err))
		return r
	}

	r.decoder = mrt.NewDecoder(decompressed)
	r.advanceLookahead()
	r.pullHead()
	return r
}

func (r *Reader) fail(err error) {
	r.state = StateFailed
	r.err = err
	r.closeHandle()
}

func (r *Reader) closeHandle() {
	if r.closer != nil {
		r.closer.Close()
		r.closer = nil
	}
}

// Close releases the Reader's file handle. Idempotent.
func (r *Reader) Close() { r.closeHandle() }

// State reports the current lifecycle state.
func (r *Reader) State() State { return r.state }

// Err returns the decode error that moved the Reader to FAILED, if any.
func (r *Reader) Err() error { return r.err }

// Head returns the not-yet-delivered head record. Only valid in READY.
func (r *Reader) Head() *Record { return r.head }

// advanceLookahead decodes the next raw MRT record into r.lookhead,
// applying no filtering — it exists purely to let pullHead know whether
// the record it is about to admit is the last one in the file.
func (r *Reader) advanceLookahead() {
	for {
		rec, err := r.decoder.Next()
		if err != nil {
			if err == io.EOF {
				r.lookhead = nil
				return
			}
			r.fail(fmt.Errorf("%w: %v", bserr.ErrDecode, err))
			r.lookhead = nil
			return
		}
		if rec == nil || len(rec.Elements) == 0 {
			continue // decoder-internal record (e.g. PEER_INDEX_TABLE); not user-visible
		}
		r.lookhead = &Record{
			Timestamp: rec.Timestamp,
			Collector: r.Desc.Collector,
			Project:   r.Desc.Project,
			Type:      r.Desc.Type,
			Elements:  rec.Elements,
			Raw:       rec.Raw,
		}
		return
	}
}

// pullHead moves r.lookhead into r.head (filtering its elements down to
// the ones that pass fine_match), repeating until an admitted record is
// found or the file is exhausted. On exhaustion with no prior decode
// error, the Reader transitions to EOF; otherwise it stays FAILED (set
// by advanceLookahead).
func (r *Reader) pullHead() {
	for {
		if r.lookhead == nil {
			r.head = nil
			if r.state != StateFailed {
				r.state = StateEOF
				r.closeHandle()
			}
			return
		}

		candidate := r.lookhead
		r.advanceLookahead()

		admitted := filterElements(r.filters, candidate)
		if dropped := len(candidate.Elements) - len(admitted); dropped > 0 {
			bsmetrics.ElementsFilteredTotal.WithLabelValues(r.Desc.Collector).Add(float64(dropped))
		}
		if len(admitted) == 0 {
			continue
		}
		candidate.Elements = admitted

		if candidate.Type == inputdesc.TypeRIB {
			if r.emitted == 0 {
				candidate.Position = PositionFirst
			} else if r.lookhead == nil {
				candidate.Position = PositionLast
			} else {
				candidate.Position = PositionMiddle
			}
		} else {
			candidate.Position = PositionDefault
		}

		r.head = candidate
		r.state = StateReady
		return
	}
}

// Advance delivers Head() to the caller (implicitly — callers read Head()
// before calling Advance) and decodes forward to the next admitted
// record, per the pop_next emission step in spec.md §4.4.
func (r *Reader) Advance() {
	r.emitted++
	r.pullHead()
}

func filterElements(filters *filterset.Set, rec *Record) []mrt.Element {
	var kept []mrt.Element
	for _, el := range rec.Elements {
		fr := filterset.Record{
			Timestamp: rec.Timestamp,
			PeerASN:   el.PeerASN,
			Type:      elementTypeOf(el.Type),
		}
		if el.Prefix.IsValid() {
			fr.Prefixes = []netip.Prefix{el.Prefix}
		}
		if filters.FineMatch(fr) {
			kept = append(kept, el)
		}
	}
	return kept
}

func elementTypeOf(t mrt.ElementType) filterset.ElementType {
	switch t {
	case mrt.ElementRIB:
		return filterset.ElementRIB
	case mrt.ElementAnnouncement:
		return filterset.ElementAnnouncement
	case mrt.ElementWithdrawal:
		return filterset.ElementWithdrawal
	default:
		return filterset.ElementStateChange
	}
}
