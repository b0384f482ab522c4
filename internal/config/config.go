package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

type Config struct {
	Service    ServiceConfig     `koanf:"service"`
	Collectors []CollectorConfig `koanf:"collectors"`
	Metadata   MetadataConfig    `koanf:"metadata"`
	Watch      WatchConfig       `koanf:"watch"`
	Output     OutputConfig      `koanf:"output"`
	Postgres   PostgresConfig    `koanf:"postgres"`
	Kafka      KafkaConfig       `koanf:"kafka"`
	Retention  RetentionConfig   `koanf:"retention"`
}

type ServiceConfig struct {
	InstanceID             string `koanf:"instance_id"`
	HTTPListen             string `koanf:"http_listen"`
	LogLevel               string `koanf:"log_level"`
	ShutdownTimeoutSeconds int    `koanf:"shutdown_timeout_seconds"`
}

// CollectorConfig describes one collector's ordered file list and how
// to decode it.
type CollectorConfig struct {
	Name        string   `koanf:"name"`
	InputFormat string   `koanf:"input_format"` // "mrtjson" or "pipesep"
	Files       []string `koanf:"files"`
	SortRIS     bool     `koanf:"sort_ris"`
}

// MetadataConfig points at the CSV files the Annotation Engine loads
// before detection starts. Any field left empty skips that annotator.
type MetadataConfig struct {
	RouteObjectsFile  string `koanf:"route_objects_file"`
	ROAFile           string `koanf:"roa_file"`
	OrganisationsFile string `koanf:"organisations_file"`
	MaintainersFile   string `koanf:"maintainers_file"`
	ContactsFile      string `koanf:"contacts_file"`
}

// WatchConfig selects which IsWatcher predicate gates RIB installation
// of non-conflicting announces.
type WatchConfig struct {
	Mode     string   `koanf:"mode"` // "always", "asn", or "prefix"
	ASNs     []uint32 `koanf:"asns"`
	Prefixes []string `koanf:"prefixes"`
}

type OutputConfig struct {
	Directory          string `koanf:"directory"`
	Compress           bool   `koanf:"compress"`
	AbnormalOnly       bool   `koanf:"abnormal_only"`
	DefaultRoutePolicy string `koanf:"default_route_policy"` // "mask_length" or "literal"
}

type PostgresConfig struct {
	Enabled  bool   `koanf:"enabled"`
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
	MinConns int32  `koanf:"min_conns"`
}

type KafkaConfig struct {
	Enabled       bool           `koanf:"enabled"`
	Brokers       []string       `koanf:"brokers"`
	ClientID      string         `koanf:"client_id"`
	TLS           TLSConfig      `koanf:"tls"`
	SASL          SASLConfig     `koanf:"sasl"`
	Consumer      ConsumerConfig `koanf:"consumer"`
	FetchMaxBytes int32          `koanf:"fetch_max_bytes"`
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

// ConsumerConfig describes the Kafka consumer group used when a
// collector's messages arrive via a topic instead of a file list.
type ConsumerConfig struct {
	GroupID string   `koanf:"group_id"`
	Topics  []string `koanf:"topics"`
}

// RetentionConfig drives internal/maintenance's partition upkeep: how
// many days of partitions to keep, and which timezone decides where a
// day boundary falls.
type RetentionConfig struct {
	Days     int    `koanf:"days"`
	Timezone string `koanf:"timezone"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Overlay environment variables: HIJACKD_POSTGRES__DSN → postgres.dsn
	if err := k.Load(env.Provider("HIJACKD_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "HIJACKD_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env config: %w", err)
	}

	cfg := &Config{
		Service: ServiceConfig{
			InstanceID:             "hijackd-1",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Output: OutputConfig{
			Directory:          ".",
			DefaultRoutePolicy: "mask_length",
		},
		Watch: WatchConfig{
			Mode: "always",
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
			MinConns: 2,
		},
		Kafka: KafkaConfig{
			ClientID:      "hijackd",
			FetchMaxBytes: 52428800,
		},
		Retention: RetentionConfig{
			Days:     90,
			Timezone: "UTC",
		},
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}
	if len(cfg.Kafka.Consumer.Topics) == 1 && strings.Contains(cfg.Kafka.Consumer.Topics[0], ",") {
		cfg.Kafka.Consumer.Topics = strings.Split(cfg.Kafka.Consumer.Topics[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Collectors) == 0 && !c.Kafka.Enabled {
		return fmt.Errorf("config: at least one collector or kafka.enabled is required")
	}
	for _, col := range c.Collectors {
		if col.Name == "" {
			return fmt.Errorf("config: collectors[].name is required")
		}
		if col.InputFormat != "mrtjson" && col.InputFormat != "pipesep" {
			return fmt.Errorf("config: collector %s has unknown input_format %q (want mrtjson or pipesep)", col.Name, col.InputFormat)
		}
		if len(col.Files) == 0 {
			return fmt.Errorf("config: collector %s has no files", col.Name)
		}
	}
	switch c.Output.DefaultRoutePolicy {
	case "mask_length", "literal":
	default:
		return fmt.Errorf("config: output.default_route_policy must be mask_length or literal (got %q)", c.Output.DefaultRoutePolicy)
	}
	switch c.Watch.Mode {
	case "always", "asn", "prefix":
	default:
		return fmt.Errorf("config: watch.mode must be always, asn, or prefix (got %q)", c.Watch.Mode)
	}
	if c.Watch.Mode == "asn" && len(c.Watch.ASNs) == 0 {
		return fmt.Errorf("config: watch.mode=asn requires watch.asns")
	}
	if c.Watch.Mode == "prefix" && len(c.Watch.Prefixes) == 0 {
		return fmt.Errorf("config: watch.mode=prefix requires watch.prefixes")
	}
	if c.Postgres.Enabled {
		if c.Postgres.DSN == "" {
			return fmt.Errorf("config: postgres.dsn is required when postgres.enabled")
		}
		if c.Postgres.MaxConns <= 0 {
			return fmt.Errorf("config: postgres.max_conns must be > 0 (got %d)", c.Postgres.MaxConns)
		}
		if c.Postgres.MinConns < 0 {
			return fmt.Errorf("config: postgres.min_conns must be >= 0 (got %d)", c.Postgres.MinConns)
		}
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers is required when kafka.enabled")
		}
		if c.Kafka.Consumer.GroupID == "" {
			return fmt.Errorf("config: kafka.consumer.group_id is required when kafka.enabled")
		}
		if len(c.Kafka.Consumer.Topics) == 0 {
			return fmt.Errorf("config: kafka.consumer.topics is required when kafka.enabled")
		}
		if c.Kafka.FetchMaxBytes <= 0 {
			return fmt.Errorf("config: kafka.fetch_max_bytes must be > 0 (got %d)", c.Kafka.FetchMaxBytes)
		}
	}
	if c.Service.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("config: service.shutdown_timeout_seconds must be > 0 (got %d)", c.Service.ShutdownTimeoutSeconds)
	}
	if c.Retention.Days <= 0 {
		return fmt.Errorf("config: retention.days must be > 0 (got %d)", c.Retention.Days)
	}
	if _, err := time.LoadLocation(c.Retention.Timezone); err != nil {
		return fmt.Errorf("config: retention.timezone %q is invalid: %w", c.Retention.Timezone, err)
	}
	return nil
}

// BuildTLSConfig creates a *tls.Config from the Kafka TLS settings. Returns nil if TLS is disabled.
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

// BuildSASLMechanism creates a SASL mechanism from the Kafka SASL settings. Returns nil if SASL is disabled.
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
