// Package mrt decodes MRT-formatted BGP dumps (RFC 6396) into the typed
// BGP records the stream pipeline consumes. The MRT binary decoder is
// treated as an external collaborator by spec.md §1 — this package is a
// reference implementation sufficient to drive and test the pipeline
// against TABLE_DUMP_V2 (RIB) and BGP4MP/BGP4MP_ET (UPDATES) fixtures,
// not a hardened production decoder for every MRT subtype in the wild.
package mrt

import "net/netip"

// MRT message types (RFC 6396 §3).
const (
	TypeTableDumpV2 uint16 = 13
	TypeBGP4MP      uint16 = 16
	TypeBGP4MPET    uint16 = 17
)

// TABLE_DUMP_V2 subtypes (RFC 6396 §4.3).
const (
	SubtypePeerIndexTable        uint16 = 1
	SubtypeRIBIPv4Unicast        uint16 = 2
	SubtypeRIBIPv6Unicast        uint16 = 4
	SubtypeRIBIPv4UnicastAddPath uint16 = 8
	SubtypeRIBIPv6UnicastAddPath uint16 = 10
)

// BGP4MP subtypes (RFC 6396 §4.4, RFC 8050 add-path extensions).
const (
	SubtypeBGP4MPStateChange        uint16 = 0
	SubtypeBGP4MPMessage            uint16 = 1
	SubtypeBGP4MPMessageAS4         uint16 = 4
	SubtypeBGP4MPStateChangeAS4     uint16 = 5
	SubtypeBGP4MPMessageLocal       uint16 = 6
	SubtypeBGP4MPMessageAS4Local    uint16 = 7
	SubtypeBGP4MPMessageAddPath     uint16 = 8
	SubtypeBGP4MPMessageAS4AddPath  uint16 = 9
)

// ElementType mirrors the element kinds spec.md's glossary and §4.1
// name: RIB entries, announcements, withdrawals, and peer state changes.
type ElementType int

const (
	ElementRIB ElementType = iota
	ElementAnnouncement
	ElementWithdrawal
	ElementStateChange
)

// Element is one semantic entry within a decoded Record.
type Element struct {
	Type      ElementType
	PeerIP    netip.Addr
	PeerASN   uint32
	Prefix    netip.Prefix
	PathID    uint32
	NextHop   string
	ASPath    string
	Origin    string
	LocalPref *uint32
	MED       *uint32
	CommStd   []string
	CommExt   []string
	CommLarge []string
	OldState  uint16
	NewState  uint16
}

// Record is one decoded MRT record: a timestamp and the elements it
// carries. Collector/project/dump-type/position are not known to the
// decoder — the reader package annotates them from the owning Input
// Descriptor and from lookahead, per spec.md §3/§4.4.
type Record struct {
	Timestamp uint32
	Elements  []Element
	Raw       []byte
}
