// Package reader implements the Reader and Reader Set: the priority
// structure that keeps one cursor per open archive file and always
// yields the globally-smallest head record, per spec.md §4.4.
package reader

import (
	"github.com/route-beacon/bgpstream/internal/inputdesc"
	"github.com/route-beacon/bgpstream/internal/mrt"
)

// Position is the RIB dump-position annotation from spec.md §3/§4.4.
type Position int

const (
	PositionDefault Position = iota
	PositionFirst
	PositionMiddle
	PositionLast
)

// Record is the BGP Record delivered to the caller.
type Record struct {
	Timestamp uint32
	Collector string
	Project   string
	Type      inputdesc.FileType
	Position  Position
	Elements  []mrt.Element
	Raw       []byte
}
