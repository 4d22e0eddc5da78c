// Package datainterface defines the Data Interface contract every
// backend (singlefile, csvcatalog, sqlcatalog, sqlitecatalog, kafkalive)
// satisfies, per spec.md §4.2. It holds no implementation itself.
package datainterface

import (
	"context"

	"github.com/route-beacon/bgpstream/internal/filterset"
	"github.com/route-beacon/bgpstream/internal/inputdesc"
)

// Status is the three-valued poll outcome from spec.md §4.2.
type Status int

const (
	StatusOK Status = iota
	StatusEmpty
	StatusError
)

// Window is the advisory [From, To] timestamp range the coordinator
// currently wants covered. Backends MAY return descriptors outside the
// hint; the coordinator coarse-filters again.
type Window struct {
	From uint32
	To   uint32
}

// Backend is the capability set every data interface variant implements:
// configure, start, poll, close. No inheritance — variants compose this
// interface directly, per spec.md §9's polymorphism redesign note.
type Backend interface {
	// Configure sets a backend-specific option from its published list.
	Configure(name, value string) error

	// Start opens resources (file handles, connections).
	Start(ctx context.Context) error

	// Poll returns descriptors matching filters for the current window.
	Poll(ctx context.Context, filters *filterset.Set, window Window) ([]inputdesc.Descriptor, Status, error)

	// Close releases resources. Idempotent.
	Close() error
}
