package coordinator

import (
	"github.com/route-beacon/bgpstream/internal/datainterface"
	"github.com/route-beacon/bgpstream/internal/datainterface/csvcatalog"
	"github.com/route-beacon/bgpstream/internal/datainterface/singlefile"
	"github.com/route-beacon/bgpstream/internal/datainterface/sqlcatalog"
)

// NewBackend constructs one of the three Data Interface backends whose
// construction takes no arguments beyond Configure options: singlefile,
// csvcatalog, sqlcatalog. sqlitecatalog (needs a caller-opened *sql.DB)
// and kafkalive (needs a *zap.Logger) are constructed directly by the
// caller and passed to SetDataInterface instead — a string id can't
// carry those constructor arguments.
func NewBackend(id string) (datainterface.Backend, error) {
	switch id {
	case "singlefile":
		return singlefile.New(), nil
	case "csvcatalog":
		return csvcatalog.New(), nil
	case "sqlcatalog":
		return sqlcatalog.New(), nil
	default:
		return nil, unknownBackend(id)
	}
}
