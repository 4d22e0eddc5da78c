// Package csvcatalog implements the CSV catalog Data Interface backend
// from spec.md §4.2/§6: a sorted CSV of (path, type, collector, project,
// filetime) rows. Every row has exactly these five columns; a row with a
// sixth (runtime) column makes Start fail, and each Descriptor's ScanTime
// is set to its filetime. Poll returns all new rows whose timestamps
// fall within the window, advancing a cursor.
package csvcatalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/route-beacon/bgpstream/internal/bserr"
	"github.com/route-beacon/bgpstream/internal/datainterface"
	"github.com/route-beacon/bgpstream/internal/filterset"
	"github.com/route-beacon/bgpstream/internal/inputdesc"
)

type row struct {
	desc inputdesc.Descriptor
}

// Backend is the CSV-catalog reference backend.
type Backend struct {
	csvFile  string
	dumpPath string

	rows   []row
	cursor int
}

// New returns an unconfigured CSV catalog backend.
func New() *Backend { return &Backend{} }

var _ datainterface.Backend = (*Backend)(nil)

// Configure accepts csv-file and dump-path.
func (b *Backend) Configure(name, value string) error {
	switch name {
	case "csv-file":
		b.csvFile = value
	case "dump-path":
		b.dumpPath = value
	default:
		return fmt.Errorf("%w: %s", bserr.ErrUnknownOption, name)
	}
	return nil
}

// Start loads and sorts the CSV catalog by file timestamp.
func (b *Backend) Start(ctx context.Context) error {
	if b.csvFile == "" {
		return fmt.Errorf("%w: csvcatalog backend needs csv-file", bserr.ErrBackendStart)
	}
	f, err := os.Open(b.csvFile)
	if err != nil {
		return fmt.Errorf("%w: %v", bserr.ErrBackendStart, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = 5
	records, err := cr.ReadAll()
	if err != nil {
		return fmt.Errorf("%w: parsing csv: %v", bserr.ErrBackendStart, err)
	}

	rows := make([]row, 0, len(records))
	for i, rec := range records {
		d, err := parseRow(rec, b.dumpPath)
		if err != nil {
			return fmt.Errorf("%w: row %d: %v", bserr.ErrBackendStart, i, err)
		}
		rows = append(rows, row{desc: d})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return inputdesc.Less(rows[i].desc, rows[j].desc)
	})
	b.rows = rows
	return nil
}

func parseRow(rec []string, dumpPath string) (inputdesc.Descriptor, error) {
	path, typeStr, collector, project, filetimeStr := rec[0], rec[1], rec[2], rec[3], rec[4]

	var ftype inputdesc.FileType
	switch typeStr {
	case "ribs":
		ftype = inputdesc.TypeRIB
	case "updates":
		ftype = inputdesc.TypeUpdates
	default:
		return inputdesc.Descriptor{}, fmt.Errorf("unknown type %q", typeStr)
	}

	filetime, err := strconv.ParseUint(filetimeStr, 10, 32)
	if err != nil {
		return inputdesc.Descriptor{}, fmt.Errorf("bad filetime %q: %w", filetimeStr, err)
	}

	fullPath := path
	if dumpPath != "" && !filepath.IsAbs(path) {
		fullPath = filepath.Join(dumpPath, path)
	}

	return inputdesc.Descriptor{
		Path: fullPath, Type: ftype, Collector: collector, Project: project,
		FileTimestamp: uint32(filetime), ScanTime: uint32(filetime),
	}, nil
}

// Poll returns all unread rows whose file timestamp falls within window.
// The cursor stops at the first row past window.To, so such rows are
// returned by a later poll; rows before window.From are skipped and the
// cursor moves past them, so no later poll returns them.
func (b *Backend) Poll(ctx context.Context, filters *filterset.Set, window datainterface.Window) ([]inputdesc.Descriptor, datainterface.Status, error) {
	var out []inputdesc.Descriptor
	for b.cursor < len(b.rows) {
		d := b.rows[b.cursor].desc
		if d.FileTimestamp > window.To {
			break
		}
		b.cursor++
		if d.FileTimestamp < window.From {
			continue
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, datainterface.StatusEmpty, nil
	}
	return out, datainterface.StatusOK, nil
}

// Close is a no-op; the catalog is held in memory.
func (b *Backend) Close() error { return nil }
