package mrt

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"

	"github.com/route-beacon/bgpstream/internal/bgpattrs"
)

// Decoder is the narrow contract the reader package depends on: a
// sequence of decoded MRT records terminated by io.EOF. Reference
// implementations satisfy it over any io.Reader (plain, gzip, or bzip2
// decompressed).
type Decoder interface {
	Next() (*Record, error)
}

// peer is one entry of a TABLE_DUMP_V2 PEER_INDEX_TABLE.
type peer struct {
	ip  netip.Addr
	asn uint32
}

// reader is the reference Decoder implementation.
type reader struct {
	r     *bufio.Reader
	peers []peer
}

// NewDecoder wraps r (already decompressed) in a reference MRT decoder.
func NewDecoder(r io.Reader) Decoder {
	return &reader{r: bufio.NewReaderSize(r, 64*1024)}
}

const commonHeaderSize = 12 // timestamp(4) + type(2) + subtype(2) + length(4)

// Next decodes and returns the next MRT record. Records that carry no
// elements the pipeline cares about (e.g. a PEER_INDEX_TABLE, which only
// updates decoder state) are decoded but skipped transparently; Next
// keeps reading until it has a record to return or hits EOF.
func (d *reader) Next() (*Record, error) {
	for {
		hdr := make([]byte, commonHeaderSize)
		if _, err := io.ReadFull(d.r, hdr); err != nil {
			if err == io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("mrt: truncated common header: %w", io.EOF)
			}
			return nil, err
		}

		ts := binary.BigEndian.Uint32(hdr[0:4])
		msgType := binary.BigEndian.Uint16(hdr[4:6])
		subtype := binary.BigEndian.Uint16(hdr[6:8])
		length := binary.BigEndian.Uint32(hdr[8:12])

		extraMicros := false
		if msgType == TypeBGP4MPET {
			extraMicros = true
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(d.r, body); err != nil {
			return nil, fmt.Errorf("mrt: truncated message body (type %d/%d, want %d bytes): %w", msgType, subtype, length, io.ErrUnexpectedEOF)
		}

		if extraMicros {
			if len(body) < 4 {
				return nil, fmt.Errorf("mrt: BGP4MP_ET body too short for microsecond field")
			}
			body = body[4:]
		}

		switch msgType {
		case TypeTableDumpV2:
			rec, skip, err := d.decodeTableDumpV2(subtype, ts, body)
			if err != nil {
				return nil, err
			}
			if skip {
				continue
			}
			return rec, nil

		case TypeBGP4MP, TypeBGP4MPET:
			rec, err := decodeBGP4MP(subtype, ts, body)
			if err != nil {
				return nil, err
			}
			return rec, nil

		default:
			// Unrecognized top-level type: skip the record, keep reading.
			continue
		}
	}
}

// decodeTableDumpV2 handles PEER_INDEX_TABLE (updates d.peers, returns
// skip=true) and RIB_IPV4/6_UNICAST[_ADDPATH] (returns a Record of RIB
// elements, one per peer entry for the prefix).
func (d *reader) decodeTableDumpV2(subtype uint16, ts uint32, body []byte) (rec *Record, skip bool, err error) {
	switch subtype {
	case SubtypePeerIndexTable:
		if err := d.decodePeerIndexTable(body); err != nil {
			return nil, false, err
		}
		return nil, true, nil

	case SubtypeRIBIPv4Unicast, SubtypeRIBIPv4UnicastAddPath:
		rec, err = d.decodeRIBUnicast(ts, body, 4, subtype == SubtypeRIBIPv4UnicastAddPath)
		return rec, false, err

	case SubtypeRIBIPv6Unicast, SubtypeRIBIPv6UnicastAddPath:
		rec, err = d.decodeRIBUnicast(ts, body, 6, subtype == SubtypeRIBIPv6UnicastAddPath)
		return rec, false, err

	default:
		return nil, true, nil
	}
}

func (d *reader) decodePeerIndexTable(body []byte) error {
	if len(body) < 8 {
		return fmt.Errorf("mrt: PEER_INDEX_TABLE too short")
	}
	offset := 4 // collector BGP ID
	viewLen := int(binary.BigEndian.Uint16(body[offset : offset+2]))
	offset += 2 + viewLen
	if offset+2 > len(body) {
		return fmt.Errorf("mrt: PEER_INDEX_TABLE truncated before peer count")
	}
	peerCount := int(binary.BigEndian.Uint16(body[offset : offset+2]))
	offset += 2

	peers := make([]peer, 0, peerCount)
	for i := 0; i < peerCount; i++ {
		if offset+1 > len(body) {
			return fmt.Errorf("mrt: PEER_INDEX_TABLE truncated at peer %d", i)
		}
		peerType := body[offset]
		offset++

		ipv6 := peerType&0x01 != 0
		as4 := peerType&0x02 != 0

		if offset+4 > len(body) {
			return fmt.Errorf("mrt: PEER_INDEX_TABLE truncated (peer BGP ID)")
		}
		offset += 4 // peer BGP ID, unused

		ipLen := 4
		if ipv6 {
			ipLen = 16
		}
		if offset+ipLen > len(body) {
			return fmt.Errorf("mrt: PEER_INDEX_TABLE truncated (peer IP)")
		}
		ip, _ := netip.AddrFromSlice(body[offset : offset+ipLen])
		offset += ipLen

		asLen := 2
		if as4 {
			asLen = 4
		}
		if offset+asLen > len(body) {
			return fmt.Errorf("mrt: PEER_INDEX_TABLE truncated (peer AS)")
		}
		var asn uint32
		if as4 {
			asn = binary.BigEndian.Uint32(body[offset : offset+4])
		} else {
			asn = uint32(binary.BigEndian.Uint16(body[offset : offset+2]))
		}
		offset += asLen

		peers = append(peers, peer{ip: ip, asn: asn})
	}

	d.peers = peers
	return nil
}

func (d *reader) decodeRIBUnicast(ts uint32, body []byte, ipVersion int, addPath bool) (*Record, error) {
	if len(body) < 5 {
		return nil, fmt.Errorf("mrt: RIB entry too short")
	}
	offset := 4 // sequence number, unused

	prefixLen := int(body[offset])
	offset++
	byteLen := (prefixLen + 7) / 8
	if offset+byteLen > len(body) {
		return nil, fmt.Errorf("mrt: RIB prefix truncated")
	}
	maxLen := 4
	if ipVersion == 6 {
		maxLen = 16
	}
	prefixBytes := make([]byte, maxLen)
	copy(prefixBytes, body[offset:offset+byteLen])
	offset += byteLen

	addr, _ := netip.AddrFromSlice(prefixBytes)
	prefix := netip.PrefixFrom(addr, prefixLen)

	if offset+2 > len(body) {
		return nil, fmt.Errorf("mrt: RIB entry count truncated")
	}
	entryCount := int(binary.BigEndian.Uint16(body[offset : offset+2]))
	offset += 2

	rec := &Record{Timestamp: ts}

	for i := 0; i < entryCount; i++ {
		if offset+2 > len(body) {
			return nil, fmt.Errorf("mrt: RIB entry %d truncated (peer index)", i)
		}
		peerIdx := int(binary.BigEndian.Uint16(body[offset : offset+2]))
		offset += 2

		if offset+4 > len(body) {
			return nil, fmt.Errorf("mrt: RIB entry %d truncated (originated time)", i)
		}
		offset += 4 // originated time, unused

		var pathID uint32
		if addPath {
			if offset+4 > len(body) {
				return nil, fmt.Errorf("mrt: RIB entry %d truncated (path id)", i)
			}
			pathID = binary.BigEndian.Uint32(body[offset : offset+4])
			offset += 4
		}

		if offset+2 > len(body) {
			return nil, fmt.Errorf("mrt: RIB entry %d truncated (attr length)", i)
		}
		attrLen := int(binary.BigEndian.Uint16(body[offset : offset+2]))
		offset += 2

		if offset+attrLen > len(body) {
			return nil, fmt.Errorf("mrt: RIB entry %d truncated (attrs)", i)
		}
		attrData := body[offset : offset+attrLen]
		offset += attrLen

		attrs, err := bgpattrs.ParsePathAttributes(attrData, addPath)
		if err != nil {
			return nil, fmt.Errorf("mrt: RIB entry %d attrs: %w", i, err)
		}

		el := Element{
			Type:      ElementRIB,
			Prefix:    prefix,
			PathID:    pathID,
			NextHop:   attrs.Nexthop,
			ASPath:    attrs.ASPath,
			Origin:    attrs.Origin,
			LocalPref: attrs.LocalPref,
			MED:       attrs.MED,
			CommStd:   attrs.CommStd,
			CommExt:   attrs.CommExt,
			CommLarge: attrs.CommLarge,
		}
		if peerIdx >= 0 && peerIdx < len(d.peers) {
			el.PeerIP = d.peers[peerIdx].ip
			el.PeerASN = d.peers[peerIdx].asn
		}
		rec.Elements = append(rec.Elements, el)
	}

	return rec, nil
}

// decodeBGP4MP handles BGP4MP_MESSAGE[_AS4][_ADDPATH] (announcements and
// withdrawals from a captured UPDATE) and BGP4MP_STATE_CHANGE[_AS4].
func decodeBGP4MP(subtype uint16, ts uint32, body []byte) (*Record, error) {
	as4 := subtype == SubtypeBGP4MPMessageAS4 || subtype == SubtypeBGP4MPMessageAS4Local || subtype == SubtypeBGP4MPMessageAS4AddPath || subtype == SubtypeBGP4MPStateChangeAS4
	addPath := subtype == SubtypeBGP4MPMessageAddPath || subtype == SubtypeBGP4MPMessageAS4AddPath

	asLen := 2
	if as4 {
		asLen = 4
	}
	offset := 0
	if offset+2*asLen+2+2 > len(body) {
		return nil, fmt.Errorf("mrt: BGP4MP header truncated")
	}

	var peerAS uint32
	if as4 {
		peerAS = binary.BigEndian.Uint32(body[offset : offset+4])
	} else {
		peerAS = uint32(binary.BigEndian.Uint16(body[offset : offset+2]))
	}
	offset += asLen // peer AS
	offset += asLen // local AS, unused
	offset += 2     // interface index, unused

	afi := binary.BigEndian.Uint16(body[offset : offset+2])
	offset += 2

	ipLen := 4
	if afi == bgpattrs.AFIIPv6 {
		ipLen = 16
	}
	if offset+2*ipLen > len(body) {
		return nil, fmt.Errorf("mrt: BGP4MP address fields truncated")
	}
	peerIPBytes := body[offset : offset+ipLen]
	offset += ipLen
	offset += ipLen // local IP, unused

	peerIP, _ := netip.AddrFromSlice(peerIPBytes)

	rec := &Record{Timestamp: ts, Raw: body}

	switch subtype {
	case SubtypeBGP4MPStateChange, SubtypeBGP4MPStateChangeAS4:
		if offset+4 > len(body) {
			return nil, fmt.Errorf("mrt: BGP4MP_STATE_CHANGE truncated")
		}
		oldState := binary.BigEndian.Uint16(body[offset : offset+2])
		newState := binary.BigEndian.Uint16(body[offset+2 : offset+4])
		rec.Elements = []Element{{
			Type:     ElementStateChange,
			PeerIP:   peerIP,
			PeerASN:  peerAS,
			OldState: oldState,
			NewState: newState,
		}}
		return rec, nil

	default:
		if offset > len(body) {
			return nil, fmt.Errorf("mrt: BGP4MP message body missing")
		}
		bgpMsg := body[offset:]
		els, err := decodeBGPUpdate(bgpMsg, addPath)
		if err != nil {
			return nil, fmt.Errorf("mrt: BGP4MP embedded UPDATE: %w", err)
		}
		for i := range els {
			els[i].PeerIP = peerIP
			els[i].PeerASN = peerAS
		}
		rec.Elements = els
		return rec, nil
	}
}

// DecodeBGPUpdateElements is the exported form of decodeBGPUpdate, used
// directly by the kafkalive backend to turn a BMP-Route-Monitoring BGP
// UPDATE payload into Elements without a surrounding MRT envelope.
func DecodeBGPUpdateElements(data []byte, hasAddPath bool) ([]Element, error) {
	return decodeBGPUpdate(data, hasAddPath)
}

// decodeBGPUpdate parses a full BGP message (19-byte header included) and
// returns one Element per withdrawn/announced prefix. Non-UPDATE message
// types yield no elements.
func decodeBGPUpdate(data []byte, hasAddPath bool) ([]Element, error) {
	if len(data) < bgpattrs.BGPHeaderSize {
		return nil, fmt.Errorf("bgp message too short (%d bytes)", len(data))
	}
	if data[18] != bgpattrs.BGPMsgTypeUpdate {
		return nil, nil
	}
	payload := data[bgpattrs.BGPHeaderSize:]
	if len(payload) < 4 {
		return nil, fmt.Errorf("bgp update payload too short")
	}

	offset := 0
	withdrawnLen := int(binary.BigEndian.Uint16(payload[offset : offset+2]))
	offset += 2
	if offset+withdrawnLen > len(payload) {
		return nil, fmt.Errorf("bgp withdrawn length exceeds data")
	}
	withdrawn, err := bgpattrs.ParsePrefixes(payload[offset:offset+withdrawnLen], 4, hasAddPath)
	if err != nil {
		return nil, err
	}
	offset += withdrawnLen

	if offset+2 > len(payload) {
		return nil, fmt.Errorf("bgp path attr length missing")
	}
	attrLen := int(binary.BigEndian.Uint16(payload[offset : offset+2]))
	offset += 2
	if offset+attrLen > len(payload) {
		return nil, fmt.Errorf("bgp path attr length exceeds data")
	}
	attrs, err := bgpattrs.ParsePathAttributes(payload[offset:offset+attrLen], hasAddPath)
	if err != nil {
		return nil, err
	}
	offset += attrLen

	nlri, err := bgpattrs.ParsePrefixes(payload[offset:], 4, hasAddPath)
	if err != nil {
		return nil, err
	}

	var els []Element
	for _, w := range withdrawn {
		p, perr := netip.ParsePrefix(w.Prefix)
		if perr != nil {
			continue
		}
		els = append(els, Element{Type: ElementWithdrawal, Prefix: p, PathID: uint32(w.PathID)})
	}
	for _, n := range nlri {
		p, perr := netip.ParsePrefix(n.Prefix)
		if perr != nil {
			continue
		}
		els = append(els, Element{
			Type: ElementAnnouncement, Prefix: p, PathID: uint32(n.PathID),
			NextHop: attrs.Nexthop, ASPath: attrs.ASPath, Origin: attrs.Origin,
			LocalPref: attrs.LocalPref, MED: attrs.MED,
			CommStd: attrs.CommStd, CommExt: attrs.CommExt, CommLarge: attrs.CommLarge,
		})
	}
	if afiV := bgpattrs.AFIToVersion(attrs.MPReachAFI); afiV == 6 {
		for _, n := range attrs.MPReachNLRI {
			p, perr := netip.ParsePrefix(n.Prefix)
			if perr != nil {
				continue
			}
			els = append(els, Element{
				Type: ElementAnnouncement, Prefix: p, PathID: uint32(n.PathID),
				NextHop: attrs.MPReachNexthop, ASPath: attrs.ASPath, Origin: attrs.Origin,
				LocalPref: attrs.LocalPref, MED: attrs.MED,
				CommStd: attrs.CommStd, CommExt: attrs.CommExt, CommLarge: attrs.CommLarge,
			})
		}
	}
	if afiV := bgpattrs.AFIToVersion(attrs.MPUnreachAFI); afiV == 6 {
		for _, n := range attrs.MPUnreachNLRI {
			p, perr := netip.ParsePrefix(n.Prefix)
			if perr != nil {
				continue
			}
			els = append(els, Element{Type: ElementWithdrawal, Prefix: p, PathID: uint32(n.PathID)})
		}
	}

	return els, nil
}

// OpenCompressed wraps the appropriate decompressor around r based on the
// archive's file extension, so reader.Reader can hand a bare *os.File (or
// network body) to NewDecoder regardless of on-disk compression.
func OpenCompressed(r io.Reader, ext string) (io.Reader, error) {
	switch ext {
	case ".gz":
		return newGzipReader(r)
	case ".bz2":
		return newBzip2Reader(r), nil
	default:
		return r, nil
	}
}
