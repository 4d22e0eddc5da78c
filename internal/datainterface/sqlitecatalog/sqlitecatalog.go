// Package sqlitecatalog implements the embedded SQL catalog Data
// Interface backend from spec.md §4.2/§6. No sqlite driver appears
// anywhere in the reference corpus, so rather than fabricate one this
// backend is written against stdlib database/sql and accepts an
// already-opened *sql.DB from its caller (Go's standard driver
// registration pattern) — the caller picks whichever driver it has
// blank-imported (mattn/go-sqlite3, modernc.org/sqlite, etc).
package sqlitecatalog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/route-beacon/bgpstream/internal/bserr"
	"github.com/route-beacon/bgpstream/internal/datainterface"
	"github.com/route-beacon/bgpstream/internal/filterset"
	"github.com/route-beacon/bgpstream/internal/inputdesc"
)

// Backend is the embedded SQL-catalog reference backend. Unlike
// sqlcatalog it does not own a connection pool: it wraps a *sql.DB the
// caller supplies via WithDB, since database/sql has no driver-agnostic
// way to open a connection string from option key/value pairs alone.
type Backend struct {
	db       *sql.DB
	dumpPath string
	table    string
}

// New returns an unconfigured embedded SQL catalog backend. The caller
// must call WithDB before Start.
func New() *Backend {
	return &Backend{table: "archive_files"}
}

// WithDB injects an already-opened database handle. Ownership of db
// (including closing it) stays with the caller; Close on this backend
// does not close db.
func (b *Backend) WithDB(db *sql.DB) *Backend {
	b.db = db
	return b
}

var _ datainterface.Backend = (*Backend)(nil)

// Configure accepts dump-path and table. Unlike sqlcatalog there is no
// db-file option here: opening the database is the caller's
// responsibility via WithDB, since the driver to use for db-file is not
// known to this package.
func (b *Backend) Configure(name, value string) error {
	switch name {
	case "dump-path":
		b.dumpPath = value
	case "table":
		b.table = value
	default:
		return fmt.Errorf("%w: %s", bserr.ErrUnknownOption, name)
	}
	return nil
}

// Start verifies the injected handle is reachable.
func (b *Backend) Start(ctx context.Context) error {
	if b.db == nil {
		return fmt.Errorf("%w: sqlitecatalog backend needs WithDB before Start", bserr.ErrBackendStart)
	}
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: pinging catalog database: %v", bserr.ErrBackendStart, err)
	}
	return nil
}

// Poll issues a parameterised query over the filetime window.
func (b *Backend) Poll(ctx context.Context, filters *filterset.Set, window datainterface.Window) ([]inputdesc.Descriptor, datainterface.Status, error) {
	query := fmt.Sprintf(`SELECT path, type, collector, project, filetime, runtime
		FROM %s
		WHERE filetime >= ? AND filetime <= ?
		ORDER BY filetime, type`, quoteIdent(b.table))

	rows, err := b.db.QueryContext(ctx, query, window.From, window.To)
	if err != nil {
		return nil, datainterface.StatusError, fmt.Errorf("%w: %v", bserr.ErrBackendQuery, err)
	}
	defer rows.Close()

	var out []inputdesc.Descriptor
	for rows.Next() {
		var path, typeStr, collector, project string
		var filetime, runtime int64
		if err := rows.Scan(&path, &typeStr, &collector, &project, &filetime, &runtime); err != nil {
			return nil, datainterface.StatusError, fmt.Errorf("%w: scanning row: %v", bserr.ErrBackendQuery, err)
		}
		ftype := inputdesc.TypeUpdates
		if typeStr == "ribs" {
			ftype = inputdesc.TypeRIB
		}
		fullPath := path
		if b.dumpPath != "" && !filepath.IsAbs(path) {
			fullPath = filepath.Join(b.dumpPath, path)
		}
		out = append(out, inputdesc.Descriptor{
			Path: fullPath, Type: ftype, Collector: collector, Project: project,
			FileTimestamp: uint32(filetime), ScanTime: uint32(runtime),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, datainterface.StatusError, fmt.Errorf("%w: iterating rows: %v", bserr.ErrBackendQuery, err)
	}

	if len(out) == 0 {
		return nil, datainterface.StatusEmpty, nil
	}
	return out, datainterface.StatusOK, nil
}

// Close is a no-op: the injected *sql.DB is owned by the caller.
func (b *Backend) Close() error { return nil }

func quoteIdent(s string) string {
	return `"` + s + `"`
}
