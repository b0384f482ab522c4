package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			InstanceID:             "test",
			HTTPListen:             ":8080",
			LogLevel:               "info",
			ShutdownTimeoutSeconds: 30,
		},
		Collectors: []CollectorConfig{
			{Name: "rrc00", InputFormat: "mrtjson", Files: []string{"bview.20260101.0000.json"}},
		},
		Output: OutputConfig{
			Directory:          "/tmp/out",
			DefaultRoutePolicy: "mask_length",
		},
		Watch: WatchConfig{
			Mode: "always",
		},
		Postgres: PostgresConfig{
			Enabled:  true,
			DSN:      "postgres://localhost/test",
			MaxConns: 10,
			MinConns: 2,
		},
		Retention: RetentionConfig{
			Days:     90,
			Timezone: "UTC",
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_NoCollectorsAndKafkaDisabled(t *testing.T) {
	cfg := validConfig()
	cfg.Collectors = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when no collectors and kafka disabled")
	}
}

func TestValidate_CollectorMissingName(t *testing.T) {
	cfg := validConfig()
	cfg.Collectors[0].Name = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for collector with empty name")
	}
}

func TestValidate_CollectorUnknownInputFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Collectors[0].InputFormat = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown input_format")
	}
}

func TestValidate_CollectorNoFiles(t *testing.T) {
	cfg := validConfig()
	cfg.Collectors[0].Files = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for collector with no files")
	}
}

func TestValidate_InvalidDefaultRoutePolicy(t *testing.T) {
	cfg := validConfig()
	cfg.Output.DefaultRoutePolicy = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid default_route_policy")
	}
}

func TestValidate_WatchModeASNRequiresASNs(t *testing.T) {
	cfg := validConfig()
	cfg.Watch.Mode = "asn"
	cfg.Watch.ASNs = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when watch.mode=asn has no asns")
	}
}

func TestValidate_WatchModeASNWithASNsValid(t *testing.T) {
	cfg := validConfig()
	cfg.Watch.Mode = "asn"
	cfg.Watch.ASNs = []uint32{64496}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got error: %v", err)
	}
}

func TestValidate_WatchModePrefixRequiresPrefixes(t *testing.T) {
	cfg := validConfig()
	cfg.Watch.Mode = "prefix"
	cfg.Watch.Prefixes = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when watch.mode=prefix has no prefixes")
	}
}

func TestValidate_UnknownWatchMode(t *testing.T) {
	cfg := validConfig()
	cfg.Watch.Mode = "bogus"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown watch.mode")
	}
}

func TestValidate_PostgresEnabledNoDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.DSN = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty DSN when postgres.enabled")
	}
}

func TestValidate_PostgresDisabledSkipsDSNCheck(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Enabled = false
	cfg.Postgres.DSN = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config with postgres disabled, got error: %v", err)
	}
}

func TestValidate_PostgresMaxConnsZero(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.MaxConns = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for max_conns = 0")
	}
}

func TestValidate_KafkaEnabledNoBrokers(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty brokers when kafka.enabled")
	}
}

func TestValidate_KafkaEnabledNoGroupID(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.Consumer.Topics = []string{"t1"}
	cfg.Kafka.Consumer.GroupID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty consumer group_id when kafka.enabled")
	}
}

func TestValidate_KafkaEnabledNoTopics(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.Consumer.GroupID = "g1"
	cfg.Kafka.Consumer.Topics = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty consumer topics when kafka.enabled")
	}
}

func TestValidate_KafkaEnabledFetchMaxBytesZero(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.Consumer.GroupID = "g1"
	cfg.Kafka.Consumer.Topics = []string{"t1"}
	cfg.Kafka.FetchMaxBytes = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for fetch_max_bytes = 0")
	}
}

func TestValidate_ShutdownTimeoutZero(t *testing.T) {
	cfg := validConfig()
	cfg.Service.ShutdownTimeoutSeconds = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for shutdown_timeout_seconds = 0")
	}
}

func TestValidate_RetentionDaysZero(t *testing.T) {
	cfg := validConfig()
	cfg.Retention.Days = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for retention.days = 0")
	}
}

func TestValidate_RetentionInvalidTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.Retention.Timezone = "Not/A_Zone"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid retention.timezone")
	}
}

func writeMinimalYAML(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	data := `
collectors:
  - name: rrc00
    input_format: mrtjson
    files:
      - "bview.20260101.0000.json"
postgres:
  enabled: true
  dsn: "postgres://localhost/test"
`
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_EnvOverrideDSN(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("HIJACKD_POSTGRES__DSN", "postgres://envhost/envdb")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Postgres.DSN != "postgres://envhost/envdb" {
		t.Errorf("expected DSN from env, got %q", cfg.Postgres.DSN)
	}
}

func TestLoad_EnvOverrideLogLevel(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("HIJACKD_SERVICE__LOG_LEVEL", "debug")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.LogLevel != "debug" {
		t.Errorf("expected log_level 'debug' from env, got %q", cfg.Service.LogLevel)
	}
}

func TestLoad_EnvEmptyDSNFailsValidation(t *testing.T) {
	p := writeMinimalYAML(t)
	t.Setenv("HIJACKD_POSTGRES__DSN", "")

	_, err := Load(p)
	if err == nil {
		t.Fatal("expected validation error for empty postgres DSN via env")
	}
}

func TestLoad_Defaults(t *testing.T) {
	p := writeMinimalYAML(t)

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Service.HTTPListen != ":8080" {
		t.Errorf("expected default http_listen ':8080', got %q", cfg.Service.HTTPListen)
	}
	if cfg.Output.DefaultRoutePolicy != "mask_length" {
		t.Errorf("expected default default_route_policy 'mask_length', got %q", cfg.Output.DefaultRoutePolicy)
	}
	if cfg.Watch.Mode != "always" {
		t.Errorf("expected default watch.mode 'always', got %q", cfg.Watch.Mode)
	}
	if cfg.Retention.Days != 90 {
		t.Errorf("expected default retention.days 90, got %d", cfg.Retention.Days)
	}
	if cfg.Retention.Timezone != "UTC" {
		t.Errorf("expected default retention.timezone 'UTC', got %q", cfg.Retention.Timezone)
	}
}
