// Command bgpstream-serve runs a long-lived Stream Coordinator against a
// live-capable Data Interface (kafkalive, or any archive backend with
// live polling left on) and exposes its health over HTTP. Grounded on
// the teacher's cmd/rib-ingester main.go: same flag parsing, logger
// construction, and signal-driven graceful shutdown shape, generalized
// from two fixed Kafka pipelines down to one embeddable Coordinator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/route-beacon/bgpstream/internal/bshttp"
	"github.com/route-beacon/bgpstream/internal/bsmetrics"
	"github.com/route-beacon/bgpstream/internal/config"
	"github.com/route-beacon/bgpstream/internal/coordinator"
	"github.com/route-beacon/bgpstream/internal/datainterface"
	"github.com/route-beacon/bgpstream/internal/datainterface/kafkalive"
	"github.com/route-beacon/bgpstream/internal/filterset"
)

const shutdownGrace = 5 * time.Second

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

	bsmetrics.Register()

	logger.Info("starting bgpstream-serve",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("http_listen", cfg.Service.HTTPListen),
		zap.String("backend", cfg.Backend.ID),
	)

	coord, err := buildCoordinator(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build coordinator", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coord.Start(ctx); err != nil {
		logger.Fatal("failed to start coordinator", zap.Error(err))
	}

	httpServer := bshttp.NewServer(cfg.Service.HTTPListen, coord, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	done := make(chan struct{})
	go pump(ctx, coord, logger, done)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-done:
		logger.Info("stream ended on its own")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	coord.Interrupt()
	cancel()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached before pump loop exited")
	}

	if err := coord.Destroy(); err != nil {
		logger.Error("coordinator teardown error", zap.Error(err))
	}

	logger.Info("bgpstream-serve stopped")
}

// pump drains next_record until the stream ends, errors out, or ctx is
// cancelled. A production consumer would forward rec to a sink; this
// reference implementation logs a progress line every 10000 records;
// the coordinator counts totals in bsmetrics, which the /metrics
// endpoint already exposes.
func pump(ctx context.Context, coord *coordinator.Coordinator, logger *zap.Logger, done chan<- struct{}) {
	defer close(done)
	var emitted uint64
	for {
		rec, status, err := coord.NextRecord(ctx)
		switch status {
		case coordinator.StatusOK:
			emitted++
			if emitted%10000 == 0 {
				logger.Info("progress", zap.Uint64("records_emitted", emitted))
			}
		case coordinator.StatusEndOfStream:
			logger.Info("stream reached end of configured interval", zap.Uint64("records_emitted", emitted))
			return
		case coordinator.StatusError:
			logger.Error("stream stopped", zap.Error(err), zap.Uint64("records_emitted", emitted))
			return
		}
		_ = rec
	}
}

func buildCoordinator(cfg *config.Config, logger *zap.Logger) (*coordinator.Coordinator, error) {
	coord := coordinator.New(cfg.Service.InstanceID, logger)

	if err := applyFilters(coord, cfg); err != nil {
		return nil, err
	}

	if err := coord.SetWindowSize(cfg.Stream.WindowSizeSeconds); err != nil {
		return nil, err
	}
	if err := coord.SetMaxConsecutiveFailures(cfg.Stream.MaxConsecutiveFailures); err != nil {
		return nil, err
	}
	if cfg.Stream.Live {
		if err := coord.SetLiveMode(); err != nil {
			return nil, err
		}
	}

	backend, err := buildBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := coord.SetDataInterface(backend); err != nil {
		return nil, err
	}

	return coord, nil
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

func buildBackend(cfg *config.Config, logger *zap.Logger) (datainterface.Backend, error) {
	if cfg.Backend.ID == "kafkalive" {
		b := kafkalive.New(logger.Named("kafkalive"))
		if err := b.Configure("brokers", joinCSV(cfg.Kafka.Brokers)); err != nil {
			return nil, err
		}
		if err := b.Configure("group-id", cfg.Kafka.GroupID); err != nil {
			return nil, err
		}
		if err := b.Configure("topics", joinCSV(cfg.Kafka.Topics)); err != nil {
			return nil, err
		}
		if cfg.Kafka.ClientID != "" {
			if err := b.Configure("client-id", cfg.Kafka.ClientID); err != nil {
				return nil, err
			}
		}
		if cfg.Kafka.SASL.Enabled {
			if err := b.Configure("sasl-user", cfg.Kafka.SASL.Username); err != nil {
				return nil, err
			}
			if err := b.Configure("sasl-pass", cfg.Kafka.SASL.Password); err != nil {
				return nil, err
			}
		}
		return b, nil
	}

	b, err := coordinator.NewBackend(cfg.Backend.ID)
	if err != nil {
		return nil, err
	}
	for name, value := range cfg.Backend.Options {
		if err := b.Configure(name, value); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func joinCSV(vals []string) string {
	out := ""
	for i, v := range vals {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
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
