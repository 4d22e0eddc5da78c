// Package bgpstream is a library for ingesting historical and live BGP
// routing data: it unifies multiple archive-metadata backends into a
// single filtered, time-ordered stream of BGP records delivered one at
// a time via next_record. See internal/coordinator for the pipeline
// that drives this (Filter Set → Data Interface → Input Queue →
// Reader Set).
//
// This file re-exports the surface a library consumer actually needs
// so most programs only import "github.com/route-beacon/bgpstream"
// instead of reaching into internal/*.
package bgpstream

import (
	"time"

	"go.uber.org/zap"

	"github.com/route-beacon/bgpstream/internal/coordinator"
	"github.com/route-beacon/bgpstream/internal/datainterface"
	"github.com/route-beacon/bgpstream/internal/datainterface/csvcatalog"
	"github.com/route-beacon/bgpstream/internal/datainterface/kafkalive"
	"github.com/route-beacon/bgpstream/internal/datainterface/singlefile"
	"github.com/route-beacon/bgpstream/internal/datainterface/sqlcatalog"
	"github.com/route-beacon/bgpstream/internal/datainterface/sqlitecatalog"
	"github.com/route-beacon/bgpstream/internal/filterset"
	"github.com/route-beacon/bgpstream/internal/reader"
)

// Coordinator is the Stream Coordinator: the top-level orchestrator a
// caller allocates, configures while ALLOCATED, starts, and then drains
// with NextRecord until StatusEndOfStream or StatusError.
type Coordinator = coordinator.Coordinator

// New allocates a Coordinator in state ALLOCATED. name identifies it in
// logs and metrics; pass "" for an anonymous single-stream program.
func New(name string, logger *zap.Logger) *Coordinator {
	return coordinator.New(name, logger)
}

// Backend is the Data Interface contract every variant below satisfies.
type Backend = datainterface.Backend

// Record is the BGP Record delivered by NextRecord.
type Record = reader.Record

// Position is a RIB record's dump-position annotation.
type Position = reader.Position

const (
	PositionDefault = reader.PositionDefault
	PositionFirst   = reader.PositionFirst
	PositionMiddle  = reader.PositionMiddle
	PositionLast    = reader.PositionLast
)

// ElementType restricts a filter (or tags a record) by BGP message kind.
type ElementType = filterset.ElementType

const (
	ElementRIB          = filterset.ElementRIB
	ElementAnnouncement = filterset.ElementAnnouncement
	ElementWithdrawal   = filterset.ElementWithdrawal
	ElementStateChange  = filterset.ElementStateChange
)

// Status is next_record's three-valued outcome.
type Status = coordinator.Status

const (
	StatusOK          = coordinator.StatusOK
	StatusEndOfStream = coordinator.StatusEndOfStream
	StatusError       = coordinator.StatusError
)

// Forever marks an open-ended interval end (live mode).
const Forever uint32 = filterset.Forever

// NewSingleFileBackend builds the single-file reference backend: one
// RIB path and/or one UPDATES path given via Configure("rib-file", ...)
// / Configure("upd-file", ...).
func NewSingleFileBackend() Backend { return singlefile.New() }

// NewCSVCatalogBackend builds the CSV-catalog reference backend: a
// sorted CSV of (path, type, collector, project, timestamp) rows given
// via Configure("csv-file", ...).
func NewCSVCatalogBackend() Backend { return csvcatalog.New() }

// NewSQLCatalogBackend builds the Postgres-backed catalog backend. It
// owns its own connection pool, opened on Start.
func NewSQLCatalogBackend() Backend { return sqlcatalog.New() }

// NewSQLiteCatalogBackend builds the embedded-catalog backend. Unlike
// the other backends it does not open its own connection: callers must
// inject an already-open *sql.DB via the returned value's WithDB method
// before calling Coordinator.SetDataInterface.
func NewSQLiteCatalogBackend() *sqlitecatalog.Backend { return sqlitecatalog.New() }

// NewKafkaLiveBackend builds the live Kafka/OpenBMP backend: each poll
// extracts BGP UPDATE messages out of OpenBMP-framed Route Monitoring
// records on the configured topics.
func NewKafkaLiveBackend(logger *zap.Logger) *kafkalive.Backend { return kafkalive.New(logger) }

// AddRecentInterval is a convenience wrapper around
// Coordinator.AddRecentInterval using the real wall clock.
func AddRecentInterval(c *Coordinator, spec string, live bool) error {
	return c.AddRecentInterval(time.Now(), spec, live)
}
