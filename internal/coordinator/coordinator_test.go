package coordinator

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/route-beacon/bgpstream/internal/bserr"
	"github.com/route-beacon/bgpstream/internal/datainterface"
	"github.com/route-beacon/bgpstream/internal/filterset"
	"github.com/route-beacon/bgpstream/internal/inputdesc"
)

// --- MRT fixture helpers (one RIB element, no peers, per-descriptor) ---

func putCommonHeader(buf *bytes.Buffer, ts uint32, msgType, subtype uint16, body []byte) {
	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:4], ts)
	binary.BigEndian.PutUint16(hdr[4:6], msgType)
	binary.BigEndian.PutUint16(hdr[6:8], subtype)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
	buf.Write(hdr[:])
	buf.Write(body)
}

func ribEntryBody(prefix netip.Prefix) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(0))
	buf.WriteByte(byte(prefix.Bits()))
	byteLen := (prefix.Bits() + 7) / 8
	addrBytes := prefix.Addr().AsSlice()
	buf.Write(addrBytes[:byteLen])
	binary.Write(&buf, binary.BigEndian, uint16(1))
	binary.Write(&buf, binary.BigEndian, uint16(0))
	binary.Write(&buf, binary.BigEndian, uint32(0))
	binary.Write(&buf, binary.BigEndian, uint16(0))
	return buf.Bytes()
}

// ribFixture builds a standalone MRT byte stream (no peer-index table, the
// decoder's peer lookup degrades to zero-value peer fields) with one RIB
// record at ts carrying a single prefix.
func ribFixture(ts uint32, prefix netip.Prefix) []byte {
	var buf bytes.Buffer
	putCommonHeader(&buf, ts, 13, 2, ribEntryBody(prefix)) // TypeTableDumpV2, SubtypeRIBIPv4Unicast
	return buf.Bytes()
}

func corruptFixture() []byte {
	return []byte{0, 0, 0, 1, 0, 13, 0, 1, 0xff, 0xff, 0xff, 0xff}
}

func ribDescriptor(collector string, ts uint32, prefix netip.Prefix) inputdesc.Descriptor {
	return inputdesc.Descriptor{
		Type:          inputdesc.TypeRIB,
		Collector:     collector,
		Project:       "test",
		FileTimestamp: ts,
		InlinePayload: ribFixture(ts, prefix),
	}
}

// --- fake backend ---

type pollResponse struct {
	descs  []inputdesc.Descriptor
	status datainterface.Status
	err    error
}

type fakeBackend struct {
	polls     []pollResponse
	idx       int
	startErr  error
	configErr error
	closed    bool
}

func (b *fakeBackend) Configure(name, value string) error { return b.configErr }
func (b *fakeBackend) Start(ctx context.Context) error     { return b.startErr }
func (b *fakeBackend) Poll(ctx context.Context, filters *filterset.Set, window datainterface.Window) ([]inputdesc.Descriptor, datainterface.Status, error) {
	if b.idx >= len(b.polls) {
		return nil, datainterface.StatusEmpty, nil
	}
	r := b.polls[b.idx]
	b.idx++
	return r.descs, r.status, r.err
}
func (b *fakeBackend) Close() error { b.closed = true; return nil }

var _ datainterface.Backend = (*fakeBackend)(nil)

func newStarted(t *testing.T, backend *fakeBackend, live bool) *Coordinator {
	t.Helper()
	c := New("test", nil)
	// A bounded end keeps live mode off unless SetLiveMode is called: an
	// open-ended (Forever) interval would turn it on by itself.
	if err := c.AddInterval(0, 100000); err != nil {
		t.Fatal(err)
	}
	if live {
		if err := c.SetLiveMode(); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.SetDataInterface(backend); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestLifecycle_MutatorsRejectedOnceStarted(t *testing.T) {
	c := newStarted(t, &fakeBackend{}, false)
	if err := c.AddFilter("collector", "rrc00"); !errors.Is(err, bserr.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if err := c.AddInterval(0, 100); !errors.Is(err, bserr.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if err := c.SetWindowSize(10); !errors.Is(err, bserr.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestNextRecord_RequiresOnState(t *testing.T) {
	c := New("test", nil)
	_, status, err := c.NextRecord(context.Background())
	if status != StatusError || !errors.Is(err, bserr.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before Start, got status=%v err=%v", status, err)
	}
}

func TestStart_RequiresInterval(t *testing.T) {
	c := New("test", nil)
	if err := c.SetDataInterface(&fakeBackend{}); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail with no interval configured")
	}
	if c.State() != StateAllocated {
		t.Fatalf("expected Coordinator to remain ALLOCATED on failed Start, got %v", c.State())
	}
}

func TestNextRecord_BoundedHistorical_EndsAtEmpty(t *testing.T) {
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	backend := &fakeBackend{polls: []pollResponse{
		{descs: []inputdesc.Descriptor{ribDescriptor("rrc00", 100, prefix)}, status: datainterface.StatusOK},
	}}
	c := newStarted(t, backend, false)
	defer c.Destroy()

	rec, status, err := c.NextRecord(context.Background())
	if err != nil || status != StatusOK {
		t.Fatalf("expected first record OK, got status=%v err=%v", status, err)
	}
	if rec.Collector != "rrc00" {
		t.Fatalf("unexpected collector %q", rec.Collector)
	}

	_, status, err = c.NextRecord(context.Background())
	if status != StatusEndOfStream || err != nil {
		t.Fatalf("expected end of stream after backend exhausts, got status=%v err=%v", status, err)
	}
}

func TestNextRecord_OrdersAcrossCollectorsByTimestamp(t *testing.T) {
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	backend := &fakeBackend{polls: []pollResponse{
		{status: datainterface.StatusOK, descs: []inputdesc.Descriptor{
			ribDescriptor("rrc01", 300, prefix),
			ribDescriptor("rrc00", 100, prefix),
			ribDescriptor("rrc02", 200, prefix),
		}},
	}}
	c := newStarted(t, backend, false)
	defer c.Destroy()

	var got []uint32
	for {
		rec, status, err := c.NextRecord(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if status == StatusEndOfStream {
			break
		}
		got = append(got, rec.Timestamp)
	}
	want := []uint32{100, 200, 300}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected timestamp %d, got %d", i, want[i], got[i])
		}
	}
}

func TestNextRecord_TieBreakRIBBeforeUpdatesAtSameTimestamp(t *testing.T) {
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	ribDesc := ribDescriptor("rrc00", 100, prefix)
	updDesc := ribDescriptor("rrc00", 100, prefix)
	updDesc.Type = inputdesc.TypeUpdates

	backend := &fakeBackend{polls: []pollResponse{
		{status: datainterface.StatusOK, descs: []inputdesc.Descriptor{updDesc, ribDesc}},
	}}
	c := newStarted(t, backend, false)
	defer c.Destroy()

	rec, status, err := c.NextRecord(context.Background())
	if err != nil || status != StatusOK {
		t.Fatalf("unexpected status=%v err=%v", status, err)
	}
	if rec.Type != inputdesc.TypeRIB {
		t.Fatalf("expected RIB to be emitted before UPDATES at the same timestamp, got %v", rec.Type)
	}
}

func TestNextRecord_FilterSoundnessAndCompleteness(t *testing.T) {
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	backend := &fakeBackend{polls: []pollResponse{
		{status: datainterface.StatusOK, descs: []inputdesc.Descriptor{
			ribDescriptor("rrc00", 100, prefix),
			ribDescriptor("rrc01", 200, prefix),
		}},
	}}
	c := New("test", nil)
	if err := c.AddInterval(0, 100000); err != nil {
		t.Fatal(err)
	}
	if err := c.AddFilter("collector", "rrc00"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDataInterface(backend); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Destroy()

	rec, status, err := c.NextRecord(context.Background())
	if err != nil || status != StatusOK {
		t.Fatalf("unexpected status=%v err=%v", status, err)
	}
	if rec.Collector != "rrc00" {
		t.Fatalf("expected only the matching collector to be admitted, got %q", rec.Collector)
	}

	_, status, err = c.NextRecord(context.Background())
	if status != StatusEndOfStream || err != nil {
		t.Fatalf("expected end of stream once the only matching record is emitted, got status=%v err=%v", status, err)
	}
}

func TestNextRecord_RIBPeriodDedup(t *testing.T) {
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	backend := &fakeBackend{polls: []pollResponse{
		{status: datainterface.StatusOK, descs: []inputdesc.Descriptor{ribDescriptor("rrc00", 1000, prefix)}},
		{status: datainterface.StatusOK, descs: []inputdesc.Descriptor{ribDescriptor("rrc00", 1100, prefix)}},
		{status: datainterface.StatusOK, descs: []inputdesc.Descriptor{ribDescriptor("rrc00", 1000+3600, prefix)}},
	}}
	c := New("test", nil)
	if err := c.AddInterval(0, 100000); err != nil {
		t.Fatal(err)
	}
	if err := c.AddRIBPeriodFilter(3600); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDataInterface(backend); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Destroy()

	var got []uint32
	for {
		rec, status, err := c.NextRecord(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if status == StatusEndOfStream {
			break
		}
		got = append(got, rec.Timestamp)
	}
	want := []uint32{1000, 1000 + 3600}
	if len(got) != len(want) {
		t.Fatalf("expected %d records (the within-period RIB deduped away), got %d (%v)", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected timestamp %d, got %d", i, want[i], got[i])
		}
	}
}

func TestNextRecord_BackoffDoublesUpToCap(t *testing.T) {
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	backend := &fakeBackend{polls: []pollResponse{
		{status: datainterface.StatusEmpty},
		{status: datainterface.StatusEmpty},
		{status: datainterface.StatusEmpty},
		{status: datainterface.StatusOK, descs: []inputdesc.Descriptor{ribDescriptor("rrc00", 100, prefix)}},
	}}
	c := newStarted(t, backend, true)
	defer c.Destroy()

	var slept []time.Duration
	c.SetSleepFunc(func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})

	rec, status, err := c.NextRecord(context.Background())
	if err != nil || status != StatusOK {
		t.Fatalf("unexpected status=%v err=%v", status, err)
	}
	if rec.Timestamp != 100 {
		t.Fatalf("expected the eventually-returned record, got timestamp %d", rec.Timestamp)
	}

	want := []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("expected %d backoff sleeps, got %d (%v)", len(want), len(slept), slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleep %d: expected %v, got %v", i, want[i], slept[i])
		}
	}
}

func TestNextRecord_ConsecutiveBackendFailuresEscalates(t *testing.T) {
	backendErr := errors.New("boom")
	backend := &fakeBackend{polls: []pollResponse{
		{status: datainterface.StatusError, err: backendErr},
		{status: datainterface.StatusError, err: backendErr},
		{status: datainterface.StatusError, err: backendErr},
	}}
	c := New("test", nil)
	if err := c.AddInterval(0, filterset.Forever); err != nil {
		t.Fatal(err)
	}
	if err := c.SetMaxConsecutiveFailures(3); err != nil {
		t.Fatal(err)
	}
	if err := c.SetDataInterface(backend); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Destroy()
	c.SetSleepFunc(func(ctx context.Context, d time.Duration) error { return nil })

	_, status, err := c.NextRecord(context.Background())
	if status != StatusError || !errors.Is(err, bserr.ErrTooManyBackendFailures) {
		t.Fatalf("expected ErrTooManyBackendFailures after 3 consecutive failures, got status=%v err=%v", status, err)
	}
}

func TestNextRecord_InterruptStopsBlockedBackoff(t *testing.T) {
	backend := &fakeBackend{polls: []pollResponse{
		{status: datainterface.StatusEmpty},
	}}
	c := newStarted(t, backend, true)
	defer c.Destroy()

	c.SetSleepFunc(func(ctx context.Context, d time.Duration) error {
		c.Interrupt()
		return nil
	})

	_, status, err := c.NextRecord(context.Background())
	if status != StatusError || !errors.Is(err, bserr.ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got status=%v err=%v", status, err)
	}
}

func TestNextRecord_DecodeErrorRecordedToTraceAndDropped(t *testing.T) {
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	corrupt := inputdesc.Descriptor{
		Type: inputdesc.TypeRIB, Collector: "rrc00", FileTimestamp: 100,
		InlinePayload: corruptFixture(),
	}
	good := ribDescriptor("rrc01", 200, prefix)

	backend := &fakeBackend{polls: []pollResponse{
		{status: datainterface.StatusOK, descs: []inputdesc.Descriptor{corrupt, good}},
	}}
	c := newStarted(t, backend, false)
	defer c.Destroy()

	rec, status, err := c.NextRecord(context.Background())
	if err != nil || status != StatusOK {
		t.Fatalf("unexpected status=%v err=%v", status, err)
	}
	if rec.Collector != "rrc01" {
		t.Fatalf("expected the corrupt reader to be dropped silently, got collector %q", rec.Collector)
	}

	entries := c.Trace().Drain()
	if len(entries) != 1 {
		t.Fatalf("expected 1 trace entry for the corrupt file, got %d", len(entries))
	}
	if entries[0].Collector != "rrc00" {
		t.Fatalf("expected the trace entry to name the corrupt collector, got %q", entries[0].Collector)
	}
}

func TestDestroy_IsIdempotentAndClosesBackend(t *testing.T) {
	backend := &fakeBackend{}
	c := newStarted(t, backend, false)
	if err := c.Destroy(); err != nil {
		t.Fatal(err)
	}
	if !backend.closed {
		t.Fatal("expected backend to be closed")
	}
	if err := c.Destroy(); err != nil {
		t.Fatalf("expected idempotent Destroy, got %v", err)
	}
}

func TestIsJoined_TracksState(t *testing.T) {
	c := New("test", nil)
	if c.IsJoined() {
		t.Fatal("expected IsJoined false before Start")
	}
	backend := &fakeBackend{}
	_ = c.AddInterval(0, filterset.Forever)
	_ = c.SetDataInterface(backend)
	_ = c.Start(context.Background())
	if !c.IsJoined() {
		t.Fatal("expected IsJoined true once ON")
	}
	_ = c.Destroy()
	if c.IsJoined() {
		t.Fatal("expected IsJoined false once OFF")
	}
}
