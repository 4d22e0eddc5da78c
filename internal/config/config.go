// Package config loads the bgpstream-serve/bgpstream-query command
// configuration, adapted from the teacher's internal/config package:
// the same koanf layering (YAML file, then environment overlay) and
// the same defaults-then-unmarshal-then-validate shape, relabeled from
// rib-ingester's fixed Kafka/Postgres pipeline to this module's
// Coordinator/backend options. The Kafka TLS/SASL builders are kept
// near-verbatim since kafkalive needs exactly the same shape of
// connection security config the teacher's Kafka consumers did.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

// Config is the top-level configuration for the reference CLIs.
type Config struct {
	Service ServiceConfig `koanf:"service"`
	Stream  StreamConfig  `koanf:"stream"`
	Backend BackendConfig `koanf:"backend"`
	Filters FiltersConfig `koanf:"filters"`
	Kafka   KafkaConfig   `koanf:"kafka"`
}

type ServiceConfig struct {
	InstanceID string `koanf:"instance_id"`
	HTTPListen string `koanf:"http_listen"`
	LogLevel   string `koanf:"log_level"`
}

// StreamConfig carries the Coordinator-level tuning knobs from
// spec.md §4.4/§4.5.
type StreamConfig struct {
	Live                   bool   `koanf:"live"`
	WindowSizeSeconds      uint32 `koanf:"window_size_seconds"`
	MaxConsecutiveFailures int    `koanf:"max_consecutive_failures"`
}

// BackendConfig selects and configures one Data Interface backend. ID
// is one of singlefile, csvcatalog, sqlcatalog, sqlitecatalog,
// kafkalive. Options holds the string key/value pairs forwarded
// verbatim to Backend.Configure for the string-option backends;
// sqlitecatalog and kafkalive need constructor arguments (a *sql.DB, a
// *zap.Logger) beyond what a string map can carry. bgpstream-serve wires
// up kafkalive directly, using Kafka below; neither CLI builds a
// sqlitecatalog backend.
type BackendConfig struct {
	ID      string            `koanf:"id"`
	Options map[string]string `koanf:"options"`
}

// FiltersConfig is the declarative form of the predicates
// Coordinator.AddFilter/AddInterval/AddRIBPeriodFilter accept.
type FiltersConfig struct {
	IntervalBegin uint32   `koanf:"interval_begin"`
	IntervalEnd   string   `koanf:"interval_end"` // numeric seconds, or "forever"
	Collectors    []string `koanf:"collectors"`
	Projects      []string `koanf:"projects"`
	PeerASNs      []uint32 `koanf:"peer_asns"`
	Prefixes      []string `koanf:"prefixes"`
	RIBPeriod     uint32   `koanf:"rib_period_seconds"`
}

// KafkaConfig configures the kafkalive backend's connection when
// backend.id is "kafkalive".
type KafkaConfig struct {
	Brokers  []string   `koanf:"brokers"`
	GroupID  string     `koanf:"group_id"`
	Topics   []string   `koanf:"topics"`
	ClientID string     `koanf:"client_id"`
	TLS      TLSConfig  `koanf:"tls"`
	SASL     SASLConfig `koanf:"sasl"`
}

type TLSConfig struct {
	Enabled  bool   `koanf:"enabled"`
	CAFile   string `koanf:"ca_file"`
	CertFile string `koanf:"cert_file"`
	KeyFile  string `koanf:"key_file"`
}

type SASLConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Mechanism string `koanf:"mechanism"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
}

// Load reads path (if non-empty) as YAML, then overlays
// BGPSTREAM_-prefixed environment variables, applying defaults first
// and validating last, mirroring the teacher's config.Load.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: BGPSTREAM_KAFKA__BROKERS → kafka.brokers
	if err := k.Load(env.Provider("BGPSTREAM_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "BGPSTREAM_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID: "bgpstream-1",
			HTTPListen: ":8080",
			LogLevel:   "info",
		},
		Stream: StreamConfig{
			WindowSizeSeconds:      86400,
			MaxConsecutiveFailures: 3,
		},
		Kafka: KafkaConfig{
			ClientID: "bgpstream",
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Split comma-separated env strings for slice fields, same
	// convention the teacher used for Kafka.Brokers/Topics.
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}
	if len(cfg.Kafka.Topics) == 1 && strings.Contains(cfg.Kafka.Topics[0], ",") {
		cfg.Kafka.Topics = strings.Split(cfg.Kafka.Topics[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields the Coordinator can't check for itself
// before start() (backend selection, Kafka connection shape).
func (c *Config) Validate() error {
	if c.Backend.ID == "" {
		return fmt.Errorf("config: backend.id is required")
	}
	if c.Filters.IntervalEnd != "" && c.Filters.IntervalEnd != "forever" {
		if _, err := parseUint32(c.Filters.IntervalEnd); err != nil {
			return fmt.Errorf("config: filters.interval_end invalid: %w", err)
		}
	}
	if c.Stream.WindowSizeSeconds == 0 {
		return fmt.Errorf("config: stream.window_size_seconds must be > 0")
	}
	if c.Stream.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("config: stream.max_consecutive_failures must be > 0")
	}
	if c.Backend.ID == "kafkalive" {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers is required for backend.id=kafkalive")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("config: kafka.group_id is required for backend.id=kafkalive")
		}
		if len(c.Kafka.Topics) == 0 {
			return fmt.Errorf("config: kafka.topics is required for backend.id=kafkalive")
		}
	}
	return nil
}

func parseUint32(s string) (uint32, error) {
	var v uint64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// BuildTLSConfig creates a *tls.Config from the Kafka TLS settings.
// Returns nil if TLS is disabled.
func (k *KafkaConfig) BuildTLSConfig() (*tls.Config, error) {
	if !k.TLS.Enabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{}
	if k.TLS.CAFile != "" {
		caPEM, err := os.ReadFile(k.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsCfg.RootCAs = pool
	}
	if k.TLS.CertFile != "" && k.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(k.TLS.CertFile, k.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// BuildSASLMechanism creates a SASL mechanism from the Kafka SASL
// settings. Returns nil if SASL is disabled.
func (k *KafkaConfig) BuildSASLMechanism() sasl.Mechanism {
	if !k.SASL.Enabled {
		return nil
	}
	switch strings.ToUpper(k.SASL.Mechanism) {
	case "PLAIN":
		return plain.Auth{User: k.SASL.Username, Pass: k.SASL.Password}.AsMechanism()
	default:
		return nil
	}
}
