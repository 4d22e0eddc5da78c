// Command bgpstream-query runs a Coordinator over an archive backend
// (singlefile, csvcatalog, sqlcatalog) and prints each emitted record as
// one JSON line to stdout, exiting once a bounded configured interval is
// exhausted; an open-ended interval end puts the Coordinator in live
// mode, where it keeps polling instead of exiting. Grounded on the teacher's cmd/rib-ingester
// main.go flag/logger/config plumbing, trimmed to a single foreground
// pump loop instead of a daemon with an HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/route-beacon/bgpstream/internal/config"
	"github.com/route-beacon/bgpstream/internal/coordinator"
	"github.com/route-beacon/bgpstream/internal/filterset"
	"github.com/route-beacon/bgpstream/internal/reader"
)

func main() {
	configPath, logLevelOverride := parseFlags(os.Args[1:])

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if logLevelOverride != "" {
		cfg.Service.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Service.LogLevel)
	defer logger.Sync()

	coord := coordinator.New(cfg.Service.InstanceID, logger)

	if err := applyFilters(coord, cfg); err != nil {
		logger.Fatal("invalid filters", zap.Error(err))
	}
	if err := coord.SetWindowSize(cfg.Stream.WindowSizeSeconds); err != nil {
		logger.Fatal("invalid window size", zap.Error(err))
	}
	if err := coord.SetMaxConsecutiveFailures(cfg.Stream.MaxConsecutiveFailures); err != nil {
		logger.Fatal("invalid max consecutive failures", zap.Error(err))
	}

	backend, err := coordinator.NewBackend(cfg.Backend.ID)
	if err != nil {
		logger.Fatal("unknown backend", zap.String("id", cfg.Backend.ID), zap.Error(err))
	}
	for name, value := range cfg.Backend.Options {
		if err := backend.Configure(name, value); err != nil {
			logger.Fatal("invalid backend option", zap.String("name", name), zap.Error(err))
		}
	}
	if err := coord.SetDataInterface(backend); err != nil {
		logger.Fatal("failed to set data interface", zap.Error(err))
	}

	ctx := context.Background()
	if err := coord.Start(ctx); err != nil {
		logger.Fatal("failed to start coordinator", zap.Error(err))
	}
	defer coord.Destroy()

	enc := json.NewEncoder(os.Stdout)
	var emitted uint64
	for {
		rec, status, err := coord.NextRecord(ctx)
		switch status {
		case coordinator.StatusOK:
			if encErr := enc.Encode(toJSONRecord(rec)); encErr != nil {
				logger.Fatal("failed to write record", zap.Error(encErr))
			}
			emitted++
		case coordinator.StatusEndOfStream:
			logger.Info("query complete", zap.Uint64("records_emitted", emitted))
			return
		case coordinator.StatusError:
			logger.Fatal("query failed", zap.Error(err), zap.Uint64("records_emitted", emitted))
		}
	}
}

// jsonRecord is the line-delimited wire shape emitted on stdout; field
// names are stable across releases since downstream scripts grep/jq them.
type jsonRecord struct {
	Timestamp int64  `json:"timestamp"`
	Collector string `json:"collector"`
	Project   string `json:"project"`
	Type      string `json:"type"`
	Position  string `json:"position,omitempty"`
	Elements  int    `json:"elements"`
}

func toJSONRecord(rec *reader.Record) jsonRecord {
	out := jsonRecord{
		Timestamp: int64(rec.Timestamp),
		Collector: rec.Collector,
		Project:   rec.Project,
		Type:      rec.Type.String(),
		Elements:  len(rec.Elements),
	}
	switch rec.Position {
	case reader.PositionFirst:
		out.Position = "first"
	case reader.PositionMiddle:
		out.Position = "middle"
	case reader.PositionLast:
		out.Position = "last"
	}
	return out
}

func applyFilters(coord *coordinator.Coordinator, cfg *config.Config) error {
	end := filterset.Forever
	if cfg.Filters.IntervalEnd != "" && cfg.Filters.IntervalEnd != "forever" {
		var v uint64
		if _, err := fmt.Sscanf(cfg.Filters.IntervalEnd, "%d", &v); err != nil {
			return fmt.Errorf("parsing filters.interval_end: %w", err)
		}
		end = uint32(v)
	}
	if err := coord.AddInterval(cfg.Filters.IntervalBegin, end); err != nil {
		return err
	}
	for _, c := range cfg.Filters.Collectors {
		if err := coord.AddFilter("collector", c); err != nil {
			return err
		}
	}
	for _, p := range cfg.Filters.Projects {
		if err := coord.AddFilter("project", p); err != nil {
			return err
		}
	}
	for _, asn := range cfg.Filters.PeerASNs {
		if err := coord.AddFilter("peer-asn", fmt.Sprintf("%d", asn)); err != nil {
			return err
		}
	}
	for _, prefix := range cfg.Filters.Prefixes {
		if err := coord.AddFilter("prefix", prefix); err != nil {
			return err
		}
	}
	if cfg.Filters.RIBPeriod > 0 {
		if err := coord.AddRIBPeriodFilter(cfg.Filters.RIBPeriod); err != nil {
			return err
		}
	}
	return nil
}

func parseFlags(args []string) (configPath, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		}
	}
	return
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
