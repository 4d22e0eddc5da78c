// Package coordinator implements the Stream Coordinator from spec.md
// §4.5: the top-level orchestrator that owns the Filter Set, Data
// Interface, Input Queue and Reader Set, and drives the refill/merge
// pump loop behind next_record. Grounded on the teacher's cmd/rib-ingester
// main.go wiring style (construct dependencies, defer Close, structured
// zap logging) generalized from a fixed two-pipeline Kafka program into
// a single reusable, embeddable type.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/route-beacon/bgpstream/internal/bserr"
	"github.com/route-beacon/bgpstream/internal/bsmetrics"
	"github.com/route-beacon/bgpstream/internal/datainterface"
	"github.com/route-beacon/bgpstream/internal/filterset"
	"github.com/route-beacon/bgpstream/internal/inputdesc"
	"github.com/route-beacon/bgpstream/internal/queue"
	"github.com/route-beacon/bgpstream/internal/reader"
	"github.com/route-beacon/bgpstream/internal/tracesink"
)

// State is the Coordinator lifecycle state from spec.md §3/§4.5.
type State int

const (
	StateAllocated State = iota
	StateOn
	StateOff
)

// Status is the three-valued next_record outcome from spec.md §7's
// "error vs end-of-stream" redesign note.
type Status int

const (
	StatusOK Status = iota
	StatusEndOfStream
	StatusError
)

const (
	defaultWindowSize             = 86400 // seconds; one day per poll
	defaultInitialBackoff         = 30 * time.Second
	defaultMaxBackoff             = time.Hour
	defaultMaxConsecutiveFailures = 3
)

// Coordinator is the Stream Coordinator. Not safe for concurrent use —
// per spec.md §5, the core is single-threaded cooperative; a caller
// wanting parallel streams instantiates multiple Coordinators.
type Coordinator struct {
	name  string
	state State

	filters *filterset.Set
	backend datainterface.Backend
	queue   *queue.Queue
	readers *reader.Set

	liveMode   bool
	windowSize uint32
	windowFrom uint32
	windowTo   uint32

	backoff                 time.Duration
	consecutiveFailures     int
	maxConsecutiveFailures  int

	interrupt atomic.Bool

	logger *zap.Logger
	trace  *tracesink.Sink

	sleepFunc func(ctx context.Context, d time.Duration) error
}

// New allocates a Coordinator. State starts at ALLOCATED.
func New(name string, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		name:                   name,
		state:                  StateAllocated,
		filters:                filterset.New(),
		queue:                  queue.New(),
		readers:                reader.NewSet(),
		windowSize:             defaultWindowSize,
		maxConsecutiveFailures: defaultMaxConsecutiveFailures,
		logger:                 logger.Named("coordinator").With(zap.String("coordinator", name)),
		trace:                  tracesink.New(256),
		sleepFunc:              realSleep,
	}
}

func realSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Coordinator) checkAllocated() error {
	if c.state != StateAllocated {
		return fmt.Errorf("%w: operation only valid while ALLOCATED", bserr.ErrInvalidState)
	}
	return nil
}

// AddFilter dispatches a generic (kind, value) predicate to the Filter
// Set, per spec.md §4.1's add(kind, value). Recognized kinds: collector,
// project, peer-asn, prefix, prefix-exact, element-type.
func (c *Coordinator) AddFilter(kind, value string) error {
	if err := c.checkAllocated(); err != nil {
		return err
	}
	switch kind {
	case "collector":
		return c.filters.AddCollector(value)
	case "project":
		return c.filters.AddProject(value)
	case "peer-asn":
		asn, err := parseUint32(value)
		if err != nil {
			return fmt.Errorf("%w: %v", bserr.ErrInvalidFilter, err)
		}
		return c.filters.AddPeerASN(asn)
	case "prefix":
		return c.filters.AddPrefix(value, false, true)
	case "prefix-exact":
		return c.filters.AddPrefix(value, true, true)
	case "element-type":
		et, err := parseElementType(value)
		if err != nil {
			return err
		}
		return c.filters.AddElementType(et)
	default:
		return fmt.Errorf("%w: unrecognized filter kind %q", bserr.ErrInvalidFilter, kind)
	}
}

// AddInterval appends one bounded or open-ended time interval.
func (c *Coordinator) AddInterval(begin, end uint32) error {
	if err := c.checkAllocated(); err != nil {
		return err
	}
	return c.filters.AddInterval(begin, end)
}

// AddRecentInterval parses a duration specifier into an interval ending
// at now (or Forever if live).
func (c *Coordinator) AddRecentInterval(now time.Time, spec string, live bool) error {
	if err := c.checkAllocated(); err != nil {
		return err
	}
	return c.filters.AddRecent(now, spec, live)
}

// AddRIBPeriodFilter sets the per-collector RIB dedup window.
func (c *Coordinator) AddRIBPeriodFilter(seconds uint32) error {
	if err := c.checkAllocated(); err != nil {
		return err
	}
	return c.filters.AddRIBPeriod(seconds)
}

// SetDataInterface assigns the backend instance this Coordinator polls.
// Unlike spec.md §4.5's set_data_interface(id) (a registry lookup by
// string id), this takes the backend value directly: some backends
// (sqlitecatalog's caller-injected *sql.DB, kafkalive's constructed
// *zap.Logger-bound client) need constructor arguments a string id
// cannot carry, so backend selection is the caller's responsibility —
// see the bgpstream package's thin registry helpers for the common
// cases.
func (c *Coordinator) SetDataInterface(b datainterface.Backend) error {
	if err := c.checkAllocated(); err != nil {
		return err
	}
	c.backend = b
	return nil
}

// SetDataInterfaceOption forwards one backend option. The backend must
// already be set via SetDataInterface.
func (c *Coordinator) SetDataInterfaceOption(name, value string) error {
	if err := c.checkAllocated(); err != nil {
		return err
	}
	if c.backend == nil {
		return fmt.Errorf("%w: no data interface configured", bserr.ErrInvalidState)
	}
	return c.backend.Configure(name, value)
}

// SetLiveMode marks the stream as open-ended regardless of whether any
// configured interval already implies it.
func (c *Coordinator) SetLiveMode() error {
	if err := c.checkAllocated(); err != nil {
		return err
	}
	c.liveMode = true
	return nil
}

// SetWindowSize overrides the per-poll window width in seconds.
func (c *Coordinator) SetWindowSize(seconds uint32) error {
	if err := c.checkAllocated(); err != nil {
		return err
	}
	if seconds == 0 {
		return fmt.Errorf("%w: window size must be > 0", bserr.ErrInvalidFilter)
	}
	c.windowSize = seconds
	return nil
}

// SetMaxConsecutiveFailures overrides the default of 3 consecutive
// backend ERROR polls before next_record surfaces a fatal error.
func (c *Coordinator) SetMaxConsecutiveFailures(n int) error {
	if err := c.checkAllocated(); err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("%w: max consecutive failures must be > 0", bserr.ErrInvalidFilter)
	}
	c.maxConsecutiveFailures = n
	return nil
}

// SetSleepFunc overrides the backoff sleep implementation — the
// coordinator's analogue of spec.md §8 S5's "monkey-patched clock",
// letting tests observe the backoff sequence without real wall time.
func (c *Coordinator) SetSleepFunc(f func(ctx context.Context, d time.Duration) error) {
	c.sleepFunc = f
}

// State reports the current lifecycle state.
func (c *Coordinator) State() State { return c.state }

// IsJoined reports readiness for an external health probe: true once
// the Coordinator has started successfully. Named to match the
// ConsumerStatus-shaped interface the teacher's HTTP server expects.
func (c *Coordinator) IsJoined() bool { return c.state == StateOn }

// Trace returns the decode-error side channel (spec.md §8 S6).
func (c *Coordinator) Trace() *tracesink.Sink { return c.trace }

// Interrupt requests cooperative cancellation of a blocked next_record.
func (c *Coordinator) Interrupt() { c.interrupt.Store(true) }

// ResetInterrupt clears a prior Interrupt so next_record may resume.
func (c *Coordinator) ResetInterrupt() { c.interrupt.Store(false) }

// Start validates filters, starts the backend, and transitions to ON.
// On failure the Coordinator stays ALLOCATED, per spec.md §4.5's state
// machine.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.checkAllocated(); err != nil {
		return err
	}
	if c.backend == nil {
		return fmt.Errorf("%w: no data interface configured", bserr.ErrInvalidState)
	}
	if err := c.filters.Validate(); err != nil {
		return err
	}
	if err := c.backend.Start(ctx); err != nil {
		return err
	}

	c.filters.Freeze()
	c.liveMode = c.liveMode || c.filters.LiveHint()
	c.windowFrom = c.filters.EarliestBegin()
	c.windowTo = addClamp(c.windowFrom, c.windowSize-1)
	c.backoff = defaultInitialBackoff
	c.state = StateOn

	c.logger.Info("coordinator started",
		zap.Bool("live_mode", c.liveMode),
		zap.Uint32("window_from", c.windowFrom),
		zap.Uint32("window_to", c.windowTo),
	)
	return nil
}

// Destroy releases all owned resources and transitions through OFF, per
// spec.md §4.5. Idempotent.
func (c *Coordinator) Destroy() error {
	if c.state == StateOff {
		return nil
	}
	c.state = StateOff
	c.readers.CloseAll()
	if c.backend != nil {
		err := c.backend.Close()
		c.backend = nil
		return err
	}
	return nil
}

func unknownBackend(id string) error {
	return fmt.Errorf("%w: %s", bserr.ErrUnknownBackend, id)
}

func addClamp(from, size uint32) uint32 {
	sum := uint64(from) + uint64(size)
	if sum >= uint64(filterset.Forever) {
		return filterset.Forever
	}
	return uint32(sum)
}

func parseUint32(s string) (uint32, error) {
	var v uint64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, err
	}
	if v > uint64(^uint32(0)) {
		return 0, fmt.Errorf("value %d overflows uint32", v)
	}
	return uint32(v), nil
}

func parseElementType(s string) (filterset.ElementType, error) {
	switch s {
	case "rib":
		return filterset.ElementRIB, nil
	case "announcement":
		return filterset.ElementAnnouncement, nil
	case "withdrawal":
		return filterset.ElementWithdrawal, nil
	case "state-change":
		return filterset.ElementStateChange, nil
	default:
		return 0, fmt.Errorf("%w: unrecognized element type %q", bserr.ErrInvalidFilter, s)
	}
}

// NextRecord runs the refill/merge pump until one record is emitted or
// the stream is definitively exhausted, per spec.md §4.5.
func (c *Coordinator) NextRecord(ctx context.Context) (*reader.Record, Status, error) {
	if c.state != StateOn {
		return nil, StatusError, fmt.Errorf("%w: next_record requires ON", bserr.ErrInvalidState)
	}

	for {
		if c.interrupt.Load() {
			return nil, StatusError, bserr.ErrInterrupted
		}

		if c.readers.Len() > 0 {
			return c.emitOne()
		}

		if !c.queue.Empty() {
			c.drainQueue()
			continue
		}

		outcome, err := c.refill(ctx)
		switch outcome {
		case refillProgress:
			continue
		case refillBoundedEnd:
			return nil, StatusEndOfStream, nil
		case refillInterrupted:
			return nil, StatusError, bserr.ErrInterrupted
		case refillFatal:
			return nil, StatusError, err
		}
	}
}

func (c *Coordinator) emitOne() (*reader.Record, Status, error) {
	rec, rdr, ok := c.readers.PopNext()
	if !ok {
		// Should not happen: caller already checked Len() > 0.
		return nil, StatusError, fmt.Errorf("bgpstream: reader set emitted nothing")
	}
	bsmetrics.ReaderSetSize.WithLabelValues(c.name).Set(float64(c.readers.Len()))
	bsmetrics.RecordsEmittedTotal.WithLabelValues(rec.Collector, rec.Type.String()).Inc()

	if rdr.State() == reader.StateFailed {
		c.trace.Record(rdr.Desc.Collector, rdr.Desc.Path, rdr.Err(), nil)
		bsmetrics.DecodeErrorsTotal.WithLabelValues(rdr.Desc.Collector, "advance").Inc()
		c.logger.Warn("reader failed during advance; dropped from merge",
			zap.String("collector", rdr.Desc.Collector),
			zap.String("path", rdr.Desc.Path),
			zap.Error(rdr.Err()),
		)
	}
	return rec, StatusOK, nil
}

func (c *Coordinator) drainQueue() {
	for {
		d, ok := c.queue.Pop()
		if !ok {
			return
		}
		rdr := reader.Open(d, c.filters)
		switch rdr.State() {
		case reader.StateReady:
			c.readers.Add(rdr)
			bsmetrics.ReaderSetSize.WithLabelValues(c.name).Set(float64(c.readers.Len()))
		case reader.StateFailed:
			c.trace.Record(d.Collector, d.Path, rdr.Err(), nil)
			bsmetrics.DecodeErrorsTotal.WithLabelValues(d.Collector, "open").Inc()
			c.logger.Warn("reader failed to open",
				zap.String("collector", d.Collector),
				zap.String("path", d.Path),
				zap.Error(rdr.Err()),
			)
		default:
			// EOF immediately: every record in the file was filtered out,
			// or the file is empty. Nothing to track.
		}
	}
}

type refillOutcome int

const (
	refillProgress refillOutcome = iota
	refillBoundedEnd
	refillInterrupted
	refillFatal
)

// refill polls the Data Interface once, queues whatever survives coarse
// filtering, and advances the poll window, per spec.md §4.4's refill
// protocol and §4.6's backend-error handling.
func (c *Coordinator) refill(ctx context.Context) (refillOutcome, error) {
	window := datainterface.Window{From: c.windowFrom, To: c.windowTo}

	start := time.Now()
	descs, status, err := c.backend.Poll(ctx, c.filters, window)
	bsmetrics.PollDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())

	c.windowFrom = addClamp(c.windowTo, 1)
	c.windowTo = addClamp(c.windowFrom, c.windowSize-1)

	switch status {
	case datainterface.StatusError:
		bsmetrics.PollsTotal.WithLabelValues(c.name, "error").Inc()
		c.consecutiveFailures++
		bsmetrics.ConsecutiveBackendFailures.WithLabelValues(c.name).Set(float64(c.consecutiveFailures))
		if c.consecutiveFailures >= c.maxConsecutiveFailures {
			return refillFatal, fmt.Errorf("%w: %v", bserr.ErrTooManyBackendFailures, err)
		}
		c.logger.Warn("backend poll error; backing off", zap.Error(err), zap.Int("consecutive_failures", c.consecutiveFailures))
		if interrupted := c.doBackoff(ctx); interrupted {
			return refillInterrupted, nil
		}
		return refillProgress, nil

	case datainterface.StatusEmpty:
		bsmetrics.PollsTotal.WithLabelValues(c.name, "empty").Inc()
		c.consecutiveFailures = 0
		if !c.liveMode {
			return refillBoundedEnd, nil
		}
		if interrupted := c.doBackoff(ctx); interrupted {
			return refillInterrupted, nil
		}
		return refillProgress, nil

	default: // StatusOK
		bsmetrics.PollsTotal.WithLabelValues(c.name, "ok").Inc()
		c.consecutiveFailures = 0
		c.backoff = defaultInitialBackoff
		c.queueDescriptors(descs)
		return refillProgress, nil
	}
}

// queueDescriptors coarse-filters descs and fills the Input Queue,
// preserving poll order as the final tie-break per spec.md §4.3, and
// observes RIB descriptors into the RIB-period filter in ascending
// file-timestamp order as each is admitted.
func (c *Coordinator) queueDescriptors(descs []inputdesc.Descriptor) {
	sorted := make([]inputdesc.Descriptor, len(descs))
	copy(sorted, descs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return inputdesc.Less(sorted[i], sorted[j])
	})

	var admitted []inputdesc.Descriptor
	for i, d := range sorted {
		windowEnd := filterset.Forever
		if i+1 < len(sorted) {
			windowEnd = sorted[i+1].FileTimestamp
		}
		if !c.filters.CoarseMatch(d, windowEnd) {
			continue
		}
		if d.Type == inputdesc.TypeRIB {
			c.filters.ObserveRIB(d.Collector, d.FileTimestamp)
		}
		admitted = append(admitted, d)
		bsmetrics.DescriptorsQueuedTotal.WithLabelValues(d.Collector, d.Type.String()).Inc()
	}
	c.queue.Fill(admitted)
}

// doBackoff sleeps the current backoff duration (or returns immediately
// if interrupted beforehand), then doubles the backoff up to the
// configured maximum. Returns true if interrupted.
func (c *Coordinator) doBackoff(ctx context.Context) bool {
	if c.interrupt.Load() {
		return true
	}
	bsmetrics.BackoffSeconds.WithLabelValues(c.name).Set(c.backoff.Seconds())
	if err := c.sleepFunc(ctx, c.backoff); err != nil {
		return true
	}
	if c.interrupt.Load() {
		return true
	}
	c.backoff *= 2
	if c.backoff > defaultMaxBackoff {
		c.backoff = defaultMaxBackoff
	}
	return false
}
