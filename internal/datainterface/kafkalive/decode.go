package kafkalive

import (
	"encoding/binary"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/route-beacon/bgpstream/internal/bmpframe"
	"github.com/route-beacon/bgpstream/internal/inputdesc"
	"github.com/route-beacon/bgpstream/internal/mrt"
)

// decodeRecord unwraps one Kafka record's OpenBMP frame, extracts every
// BMP Route Monitoring message inside it, and re-encodes each as a
// standalone MRT BGP4MP_MESSAGE_AS4[_ADDPATH] byte stream so the reader
// package's mrt.NewDecoder can consume it exactly like a file-backed
// dump, without a separate decode path for the live backend.
func decodeRecord(r *kgo.Record, collector, project string, maxPayloadBytes int) ([]inputdesc.Descriptor, error) {
	bmpMsg, err := bmpframe.DecodeOpenBMPFrame(r.Value, maxPayloadBytes)
	if err != nil {
		return nil, fmt.Errorf("decoding openbmp frame: %w", err)
	}

	monitored := bmpframe.ParseAll(bmpMsg)
	if len(monitored) == 0 {
		return nil, nil
	}

	ts := uint32(r.Timestamp.Unix())
	descs := make([]inputdesc.Descriptor, 0, len(monitored))
	for _, rm := range monitored {
		payload := synthesizeMRTBGP4MP(ts, rm)
		// Validate it decodes before handing it to the reader; a
		// malformed BGP UPDATE here would otherwise surface as a
		// confusing decode failure several layers downstream.
		if _, err := mrt.DecodeBGPUpdateElements(rm.BGPData, rm.HasAddPath); err != nil {
			continue
		}
		descs = append(descs, inputdesc.Descriptor{
			Type:          inputdesc.TypeUpdates,
			Collector:     collector,
			Project:       project,
			FileTimestamp: ts,
			ScanTime:      ts,
			InlinePayload: payload,
		})
	}
	return descs, nil
}

// synthesizeMRTBGP4MP builds a single MRT common-header-prefixed
// BGP4MP_MESSAGE_AS4[_ADDPATH] record: peer AS(4) + local AS(4, zero) +
// interface index(2, zero) + AFI(2) + peer IP + local IP (zeroed, same
// length as peer IP) + the raw BGP UPDATE bytes, per RFC 6396 §4.4.
func synthesizeMRTBGP4MP(ts uint32, rm bmpframe.RouteMonitoring) []byte {
	ipLen := 4
	afi := uint16(1)
	if rm.PeerIP.Is6() {
		ipLen = 16
		afi = 2
	}

	subtype := mrt.SubtypeBGP4MPMessageAS4
	if rm.HasAddPath {
		subtype = mrt.SubtypeBGP4MPMessageAS4AddPath
	}

	bodyLen := 4 + 4 + 2 + 2 + ipLen + ipLen + len(rm.BGPData)
	buf := make([]byte, 12+bodyLen)

	binary.BigEndian.PutUint32(buf[0:4], ts)
	binary.BigEndian.PutUint16(buf[4:6], mrt.TypeBGP4MP)
	binary.BigEndian.PutUint16(buf[6:8], subtype)
	binary.BigEndian.PutUint32(buf[8:12], uint32(bodyLen))

	off := 12
	binary.BigEndian.PutUint32(buf[off:off+4], rm.PeerASN)
	off += 4
	off += 4 // local AS, zeroed
	off += 2 // interface index, zeroed
	binary.BigEndian.PutUint16(buf[off:off+2], afi)
	off += 2

	peerBytes := rm.PeerIP.AsSlice()
	copy(buf[off:off+ipLen], peerBytes)
	off += ipLen
	off += ipLen // local IP, zeroed

	copy(buf[off:], rm.BGPData)
	return buf
}
