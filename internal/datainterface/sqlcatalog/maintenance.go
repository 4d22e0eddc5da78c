package sqlcatalog

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var validCatalogPartition = regexp.MustCompile(`^archive_files_\d{8}$`)

// Maintenance manages daily partitions of the archive_files catalog
// table, adapted from the teacher's maintenance.PartitionManager: large
// catalogs are commonly partitioned by filetime day so old archive
// metadata can be dropped cheaply once its retention window passes.
// This is operator tooling around the sqlcatalog backend, not something
// the stream pipeline itself calls.
type Maintenance struct {
	backend       *Backend
	retentionDays int
	timezone      string
	logger        *zap.Logger
}

// NewMaintenance returns a Maintenance helper bound to an already-started
// Backend.
func NewMaintenance(b *Backend, retentionDays int, timezone string, logger *zap.Logger) *Maintenance {
	return &Maintenance{backend: b, retentionDays: retentionDays, timezone: timezone, logger: logger}
}

// Run creates today's and tomorrow's partitions, then drops partitions
// older than the retention window.
func (m *Maintenance) Run(ctx context.Context) error {
	if err := m.CreatePartitions(ctx); err != nil {
		return fmt.Errorf("creating catalog partitions: %w", err)
	}
	if err := m.DropOldPartitions(ctx); err != nil {
		return fmt.Errorf("dropping old catalog partitions: %w", err)
	}
	return nil
}

func (m *Maintenance) CreatePartitions(ctx context.Context) error {
	loc, err := time.LoadLocation(m.timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", m.timezone, err)
	}
	now := time.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	tomorrow := today.AddDate(0, 0, 1)
	dayAfter := today.AddDate(0, 0, 2)

	if err := m.createPartition(ctx, today, tomorrow); err != nil {
		return err
	}
	return m.createPartition(ctx, tomorrow, dayAfter)
}

func (m *Maintenance) createPartition(ctx context.Context, from, to time.Time) error {
	name := fmt.Sprintf("archive_files_%s", from.Format("20060102"))
	safeName := pgx.Identifier{name}.Sanitize()
	fromStr := from.UTC().Format("2006-01-02 15:04:05+00")
	toStr := to.UTC().Format("2006-01-02 15:04:05+00")

	createSQL := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')`,
		safeName, quoteIdent(m.backend.table), fromStr, toStr,
	)
	if _, err := m.backend.pool.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("creating partition %s: %w", name, err)
	}
	m.logger.Info("catalog partition ensured", zap.String("partition", name))
	return nil
}

func (m *Maintenance) DropOldPartitions(ctx context.Context) error {
	loc, err := time.LoadLocation(m.timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", m.timezone, err)
	}
	cutoff := time.Now().In(loc).AddDate(0, 0, -m.retentionDays)
	cutoffDate := time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, loc)

	rows, err := m.backend.pool.Query(ctx,
		fmt.Sprintf(`SELECT inhrelid::regclass::text FROM pg_inherits WHERE inhparent = '%s'::regclass`, m.backend.table))
	if err != nil {
		return fmt.Errorf("listing partitions: %w", err)
	}
	defer rows.Close()

	var partitions []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("scanning partition name: %w", err)
		}
		partitions = append(partitions, name)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating partitions: %w", err)
	}

	for _, name := range partitions {
		if !validCatalogPartition.MatchString(name) {
			m.logger.Warn("skipping partition with unexpected name", zap.String("partition", name))
			continue
		}
		dateStr := name[len(name)-8:]
		partDate, err := time.ParseInLocation("20060102", dateStr, loc)
		if err != nil {
			m.logger.Warn("cannot parse partition date", zap.String("partition", name))
			continue
		}
		if partDate.Before(cutoffDate) {
			safeName := pgx.Identifier{name}.Sanitize()
			if _, err := m.backend.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", safeName)); err != nil {
				return fmt.Errorf("dropping partition %s: %w", name, err)
			}
			m.logger.Info("dropped old catalog partition", zap.String("partition", name))
		}
	}
	return nil
}
