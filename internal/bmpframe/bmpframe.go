// Package bmpframe unwraps OpenBMP RAW v2 frames and BMP Route
// Monitoring messages down to the encapsulated BGP UPDATE, for the
// kafkalive Data Interface backend. Adapted from the teacher's
// internal/bmp package (openbmp.go, parser.go, types.go): this package
// keeps only the Route Monitoring path — BMP Peer Up/Down, Initiation,
// Termination and Statistics Report carry no routing information this
// stream exposes, so they are skipped rather than parsed.
package bmpframe

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/netip"
)

const (
	openBMPHeaderSize      = 10 // version(2) + collector_hash(4) + msg_len(4)
	openBMPVersionExpected = 2
)

// DecodeOpenBMPFrame strips the OpenBMP RAW v2 envelope and returns the
// enclosed BMP message bytes.
func DecodeOpenBMPFrame(data []byte, maxPayloadBytes int) ([]byte, error) {
	if len(data) < openBMPHeaderSize {
		return nil, fmt.Errorf("openbmp: frame too short (%d bytes, need %d)", len(data), openBMPHeaderSize)
	}
	version := binary.BigEndian.Uint16(data[0:2])
	if version != openBMPVersionExpected {
		return nil, fmt.Errorf("openbmp: unexpected version %d (expected %d)", version, openBMPVersionExpected)
	}
	msgLen := binary.BigEndian.Uint32(data[6:10])
	if msgLen == 0 {
		return nil, fmt.Errorf("openbmp: msg_len is 0")
	}
	if uint64(msgLen) > uint64(math.MaxInt)-uint64(openBMPHeaderSize) {
		return nil, fmt.Errorf("openbmp: msg_len %d overflows addressable size", msgLen)
	}
	if maxPayloadBytes > 0 && int(msgLen) > maxPayloadBytes {
		return nil, fmt.Errorf("openbmp: msg_len %d exceeds max_payload_bytes %d", msgLen, maxPayloadBytes)
	}
	totalLen := openBMPHeaderSize + int(msgLen)
	if len(data) < totalLen {
		return nil, fmt.Errorf("openbmp: frame truncated (have %d, need %d)", len(data), totalLen)
	}
	return data[openBMPHeaderSize:totalLen], nil
}

// BMP message type codes (RFC 7854).
const (
	msgTypeRouteMonitoring uint8 = 0
	msgTypePeerDown        uint8 = 2
	msgTypePeerUp          uint8 = 3
	msgTypeInitiation      uint8 = 4
	msgTypeTermination     uint8 = 5
)

const (
	commonHeaderSize  = 6  // version(1) + msg_length(4) + msg_type(1)
	perPeerHeaderSize = 42 // peer_type(1) + flags(1) + distinguisher(8) + addr(16) + AS(4) + BGPID(4) + ts_sec(4) + ts_usec(4)
	bmpVersion        = 3
	peerFlagIPv6      = 0x80
	peerFlagAddPath   = 0x02
)

// RouteMonitoring is a decoded BMP Route Monitoring message: the
// per-peer header's addressing fields plus the raw BGP UPDATE payload.
type RouteMonitoring struct {
	PeerIP     netip.Addr
	PeerASN    uint32
	HasAddPath bool
	BGPData    []byte
}

// ParseAll extracts every Route Monitoring message from a run of
// concatenated BMP messages (goBMP-style collectors may batch several
// BMP messages per Kafka record). Non-Route-Monitoring messages are
// skipped; a message this parser can't make sense of stops the scan
// rather than guessing at a resync point.
func ParseAll(data []byte) []RouteMonitoring {
	var out []RouteMonitoring
	offset := 0
	for offset < len(data) {
		remaining := data[offset:]
		if len(remaining) < commonHeaderSize {
			break
		}
		msgLength := binary.BigEndian.Uint32(remaining[1:5])
		if msgLength < uint32(commonHeaderSize) || int(msgLength) > len(remaining) {
			break
		}
		if rm, ok := parseOne(remaining[:msgLength]); ok {
			out = append(out, rm)
		}
		offset += int(msgLength)
	}
	return out
}

func parseOne(data []byte) (RouteMonitoring, bool) {
	version := data[0]
	if version != bmpVersion {
		return RouteMonitoring{}, false
	}
	msgType := data[5]
	if msgType != msgTypeRouteMonitoring {
		return RouteMonitoring{}, false
	}
	body := data[commonHeaderSize:]
	if len(body) < perPeerHeaderSize {
		return RouteMonitoring{}, false
	}

	flags := body[1]
	isIPv6 := flags&peerFlagIPv6 != 0
	hasAddPath := flags&peerFlagAddPath != 0

	addrField := body[10:26]
	var peerIP netip.Addr
	if isIPv6 {
		peerIP, _ = netip.AddrFromSlice(addrField)
	} else {
		peerIP, _ = netip.AddrFromSlice(addrField[12:16])
	}
	peerASN := binary.BigEndian.Uint32(body[26:30])

	bgpData := body[perPeerHeaderSize:]
	if len(bgpData) == 0 {
		return RouteMonitoring{}, false
	}
	return RouteMonitoring{PeerIP: peerIP, PeerASN: peerASN, HasAddPath: hasAddPath, BGPData: bgpData}, true
}
