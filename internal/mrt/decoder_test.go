package mrt

import (
	"bytes"
	"encoding/binary"
	"net/netip"
	"testing"
)

// putCommonHeader appends a 12-byte MRT common header.
func putCommonHeader(buf *bytes.Buffer, ts uint32, msgType, subtype uint16, body []byte) {
	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:4], ts)
	binary.BigEndian.PutUint16(hdr[4:6], msgType)
	binary.BigEndian.PutUint16(hdr[6:8], subtype)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
	buf.Write(hdr[:])
	buf.Write(body)
}

// buildPeerIndexTable builds a minimal PEER_INDEX_TABLE body with one
// 2-byte-ASN IPv4 peer.
func buildPeerIndexTable(peerIP netip.Addr, peerAS uint16) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{1, 2, 3, 4}) // collector BGP ID, unused
	binary.Write(&buf, binary.BigEndian, uint16(0))
	binary.Write(&buf, binary.BigEndian, uint16(1)) // peer count
	buf.WriteByte(0x00)                             // peer type: IPv4, 2-byte ASN
	buf.Write([]byte{9, 9, 9, 9})                   // peer BGP ID, unused
	buf.Write(peerIP.AsSlice())
	binary.Write(&buf, binary.BigEndian, peerAS)
	return buf.Bytes()
}

// buildRIBEntry builds a single RIB_IPV4_UNICAST body for one prefix with
// one peer entry carrying the given path attributes.
func buildRIBEntry(prefix netip.Prefix, peerIdx uint16, attrData []byte) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(0)) // sequence number
	buf.WriteByte(byte(prefix.Bits()))
	byteLen := (prefix.Bits() + 7) / 8
	addrBytes := prefix.Addr().AsSlice()
	buf.Write(addrBytes[:byteLen])
	binary.Write(&buf, binary.BigEndian, uint16(1)) // entry count

	binary.Write(&buf, binary.BigEndian, peerIdx)
	binary.Write(&buf, binary.BigEndian, uint32(0)) // originated time
	binary.Write(&buf, binary.BigEndian, uint16(len(attrData)))
	buf.Write(attrData)
	return buf.Bytes()
}

// buildPathAttr wraps a single non-extended-length path attribute.
func buildPathAttr(flags, typeCode byte, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(flags)
	buf.WriteByte(typeCode)
	buf.WriteByte(byte(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

func originAttr() []byte  { return buildPathAttr(0x40, 1, []byte{0}) } // IGP
func nextHopAttr(ip netip.Addr) []byte {
	return buildPathAttr(0x40, 3, ip.AsSlice())
}
func asPathAttr(asns ...uint32) []byte {
	var seg bytes.Buffer
	seg.WriteByte(2) // AS_SEQUENCE
	seg.WriteByte(byte(len(asns)))
	for _, asn := range asns {
		binary.Write(&seg, binary.BigEndian, asn)
	}
	return buildPathAttr(0x40, 2, seg.Bytes())
}

func TestDecoder_TableDumpV2_SkipsIndexTableAndDecodesRIB(t *testing.T) {
	peerIP := netip.MustParseAddr("192.0.2.1")
	prefix := netip.MustParsePrefix("10.1.2.0/24")

	attrs := append(append(originAttr(), asPathAttr(65001)...), nextHopAttr(netip.MustParseAddr("192.0.2.254"))...)

	var buf bytes.Buffer
	putCommonHeader(&buf, 1000, TypeTableDumpV2, SubtypePeerIndexTable, buildPeerIndexTable(peerIP, 65001))
	putCommonHeader(&buf, 1000, TypeTableDumpV2, SubtypeRIBIPv4Unicast, buildRIBEntry(prefix, 0, attrs))

	dec := NewDecoder(&buf)
	rec, err := dec.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Timestamp != 1000 {
		t.Fatalf("expected timestamp 1000, got %d", rec.Timestamp)
	}
	if len(rec.Elements) != 1 {
		t.Fatalf("expected 1 element, got %d", len(rec.Elements))
	}
	el := rec.Elements[0]
	if el.Type != ElementRIB {
		t.Fatalf("expected ElementRIB, got %v", el.Type)
	}
	if el.Prefix != prefix {
		t.Fatalf("expected prefix %v, got %v", prefix, el.Prefix)
	}
	if el.PeerIP != peerIP || el.PeerASN != 65001 {
		t.Fatalf("expected peer %v/%d, got %v/%d", peerIP, 65001, el.PeerIP, el.PeerASN)
	}
	if el.Origin != "IGP" {
		t.Fatalf("expected origin IGP, got %q", el.Origin)
	}
	if el.ASPath != "65001" {
		t.Fatalf("expected as-path 65001, got %q", el.ASPath)
	}
	if el.NextHop != "192.0.2.254" {
		t.Fatalf("expected next-hop 192.0.2.254, got %q", el.NextHop)
	}

	if _, err := dec.Next(); err == nil {
		t.Fatal("expected EOF after the only RIB record")
	}
}

// buildBGPUpdate builds a minimal 2-byte-ASN-free BGP UPDATE message: a
// 19-byte header, zero withdrawn routes, the given path attributes, and one
// NLRI prefix.
func buildBGPUpdate(attrs []byte, nlri netip.Prefix) []byte {
	var payload bytes.Buffer
	binary.Write(&payload, binary.BigEndian, uint16(0)) // withdrawn routes length
	binary.Write(&payload, binary.BigEndian, uint16(len(attrs)))
	payload.Write(attrs)
	payload.WriteByte(byte(nlri.Bits()))
	addrBytes := nlri.Addr().AsSlice()
	byteLen := (nlri.Bits() + 7) / 8
	payload.Write(addrBytes[:byteLen])

	var msg bytes.Buffer
	msg.Write(bytes.Repeat([]byte{0xff}, 16)) // marker
	binary.Write(&msg, binary.BigEndian, uint16(19+payload.Len()))
	msg.WriteByte(2) // UPDATE
	msg.Write(payload.Bytes())
	return msg.Bytes()
}

func TestDecoder_BGP4MPMessageAS4_DecodesAnnouncement(t *testing.T) {
	peerIP := netip.MustParseAddr("198.51.100.1")
	nlri := netip.MustParsePrefix("203.0.113.0/24")
	attrs := append(append(originAttr(), asPathAttr(65002)...), nextHopAttr(netip.MustParseAddr("198.51.100.254"))...)
	bgpMsg := buildBGPUpdate(attrs, nlri)

	var body bytes.Buffer
	binary.Write(&body, binary.BigEndian, uint32(65002)) // peer AS (4-byte)
	binary.Write(&body, binary.BigEndian, uint32(65000))  // local AS, unused
	binary.Write(&body, binary.BigEndian, uint16(0))      // interface index, unused
	binary.Write(&body, binary.BigEndian, uint16(1))      // AFI = IPv4
	body.Write(peerIP.AsSlice())
	body.Write(net4(netip.MustParseAddr("198.51.100.2")))
	body.Write(bgpMsg)

	var buf bytes.Buffer
	putCommonHeader(&buf, 2000, TypeBGP4MP, SubtypeBGP4MPMessageAS4, body.Bytes())

	dec := NewDecoder(&buf)
	rec, err := dec.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Timestamp != 2000 {
		t.Fatalf("expected timestamp 2000, got %d", rec.Timestamp)
	}
	if len(rec.Elements) != 1 {
		t.Fatalf("expected 1 element, got %d", len(rec.Elements))
	}
	el := rec.Elements[0]
	if el.Type != ElementAnnouncement {
		t.Fatalf("expected ElementAnnouncement, got %v", el.Type)
	}
	if el.Prefix != nlri {
		t.Fatalf("expected prefix %v, got %v", nlri, el.Prefix)
	}
	if el.PeerIP != peerIP || el.PeerASN != 65002 {
		t.Fatalf("expected peer %v/%d, got %v/%d", peerIP, 65002, el.PeerIP, el.PeerASN)
	}
	if el.ASPath != "65002" {
		t.Fatalf("expected as-path 65002, got %q", el.ASPath)
	}
}

func net4(a netip.Addr) []byte {
	b := a.As4()
	return b[:]
}

func TestDecoder_BGP4MPStateChangeAS4_DecodesStateChange(t *testing.T) {
	peerIP := netip.MustParseAddr("198.51.100.1")

	var body bytes.Buffer
	binary.Write(&body, binary.BigEndian, uint32(65002))
	binary.Write(&body, binary.BigEndian, uint32(65000))
	binary.Write(&body, binary.BigEndian, uint16(0))
	binary.Write(&body, binary.BigEndian, uint16(1))
	body.Write(peerIP.AsSlice())
	body.Write(net4(netip.MustParseAddr("198.51.100.2")))
	binary.Write(&body, binary.BigEndian, uint16(3)) // old state: Active
	binary.Write(&body, binary.BigEndian, uint16(6)) // new state: Established

	var buf bytes.Buffer
	putCommonHeader(&buf, 3000, TypeBGP4MP, SubtypeBGP4MPStateChangeAS4, body.Bytes())

	dec := NewDecoder(&buf)
	rec, err := dec.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.Elements) != 1 {
		t.Fatalf("expected 1 element, got %d", len(rec.Elements))
	}
	el := rec.Elements[0]
	if el.Type != ElementStateChange {
		t.Fatalf("expected ElementStateChange, got %v", el.Type)
	}
	if el.OldState != 3 || el.NewState != 6 {
		t.Fatalf("expected old/new state 3/6, got %d/%d", el.OldState, el.NewState)
	}
	if el.PeerASN != 65002 {
		t.Fatalf("expected peer ASN 65002, got %d", el.PeerASN)
	}
}

func TestDecoder_WithdrawnRoutes_DecodesWithdrawal(t *testing.T) {
	withdrawn := netip.MustParsePrefix("192.0.2.0/24")

	var payload bytes.Buffer
	byteLen := (withdrawn.Bits() + 7) / 8
	addrBytes := withdrawn.Addr().AsSlice()
	var wr bytes.Buffer
	wr.WriteByte(byte(withdrawn.Bits()))
	wr.Write(addrBytes[:byteLen])
	binary.Write(&payload, binary.BigEndian, uint16(wr.Len()))
	payload.Write(wr.Bytes())
	binary.Write(&payload, binary.BigEndian, uint16(0)) // no path attrs
	// no NLRI

	var msg bytes.Buffer
	msg.Write(bytes.Repeat([]byte{0xff}, 16))
	binary.Write(&msg, binary.BigEndian, uint16(19+payload.Len()))
	msg.WriteByte(2)
	msg.Write(payload.Bytes())

	peerIP := netip.MustParseAddr("198.51.100.1")
	var body bytes.Buffer
	binary.Write(&body, binary.BigEndian, uint32(65002))
	binary.Write(&body, binary.BigEndian, uint32(65000))
	binary.Write(&body, binary.BigEndian, uint16(0))
	binary.Write(&body, binary.BigEndian, uint16(1))
	body.Write(peerIP.AsSlice())
	body.Write(net4(netip.MustParseAddr("198.51.100.2")))
	body.Write(msg.Bytes())

	var buf bytes.Buffer
	putCommonHeader(&buf, 4000, TypeBGP4MP, SubtypeBGP4MPMessageAS4, body.Bytes())

	dec := NewDecoder(&buf)
	rec, err := dec.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.Elements) != 1 {
		t.Fatalf("expected 1 element, got %d", len(rec.Elements))
	}
	if rec.Elements[0].Type != ElementWithdrawal {
		t.Fatalf("expected ElementWithdrawal, got %v", rec.Elements[0].Type)
	}
	if rec.Elements[0].Prefix != withdrawn {
		t.Fatalf("expected prefix %v, got %v", withdrawn, rec.Elements[0].Prefix)
	}
}
