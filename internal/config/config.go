package config

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ScoringConfig holds the tunables of the talker scoring engine.
type ScoringConfig struct {
	Decrement         float64 `yaml:"decrement"`
	MinBytesThreshold uint64  `yaml:"min_bytes_threshold"`
	// BytesWeight is reserved for a flow-count weighting bonus. It is carried
	// through to the engine but does not change scores on its own.
	BytesWeight float64 `yaml:"bytes_weight"`
	Retention   int     `yaml:"retention"`
}

// IngestConfig sizes the ingestion worker pool.
type IngestConfig struct {
	NumWorkers    int    `yaml:"num_workers"`
	ChannelSize   int    `yaml:"channel_size"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval string `yaml:"flush_interval"`
	ReadBuffer    int    `yaml:"read_buffer"`
	// SettleTime is how far behind the wall clock the reporting cycle reads
	// ingested flows, covering batches stamped but not yet committed.
	SettleTime string `yaml:"settle_time"`
}

// ClickHouseConfig holds the connection details for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RedisConfig holds the connection details for the Redis talker store.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// StorageConfig selects the persistence backends.
type StorageConfig struct {
	FlowBackend   string           `yaml:"flow_backend"`
	TalkerBackend string           `yaml:"talker_backend"`
	SQLitePath    string           `yaml:"sqlite_path"`
	PostgresURL   string           `yaml:"postgres_url"`
	ClickHouse    ClickHouseConfig `yaml:"clickhouse"`
	Redis         RedisConfig      `yaml:"redis"`
}

// NATSConfig configures the optional flow relay.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// SnapshotConfig configures talker snapshots written after each cycle.
type SnapshotConfig struct {
	Enabled  bool   `yaml:"enabled"`
	RootPath string `yaml:"root_path"`
}

// RecordConfig controls capture of received datagrams to pcap files.
type RecordConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	ChannelSize int    `yaml:"channel_size"`
}

// DNSConfig sizes the resolution cache.
type DNSConfig struct {
	CacheSize int    `yaml:"cache_size"`
	CacheTTL  string `yaml:"cache_ttl"`
	Timeout   string `yaml:"timeout"`
}

// OTELConfig configures trace export.
type OTELConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Service  string `yaml:"service"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	NetflowPort       int    `yaml:"netflow_port"`
	WebPort           int    `yaml:"web_port"`
	PurgeInterval     int    `yaml:"purge_interval"`     // seconds of raw flows to keep
	InternalNetwork   string `yaml:"internal_network"`   // CIDR
	DataDir           string `yaml:"data_dir"`
	ReportingInterval int    `yaml:"reporting_interval"` // minutes between cycles
	LogFile           string `yaml:"log_file"`
	LogLevel          string `yaml:"log_level"`
	PidFile           string `yaml:"pid_file"`
	MetricsAddr       string `yaml:"metrics_addr"`
	GRPCAddr          string `yaml:"grpc_addr"`

	Scoring  ScoringConfig  `yaml:"scoring"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Storage  StorageConfig  `yaml:"storage"`
	NATS     NATSConfig     `yaml:"nats"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Record   RecordConfig   `yaml:"record"`
	DNS      DNSConfig      `yaml:"dns"`
	OTEL     OTELConfig     `yaml:"otel"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := seeded()
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg.LoadFromEnv()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns a fully defaulted Config.
func Default() *Config {
	cfg := seeded()
	cfg.SetDefaults()
	return cfg
}

// seeded holds the defaults for fields where zero is a meaningful value.
// They are set before unmarshalling so an explicit zero in YAML is kept.
func seeded() *Config {
	return &Config{
		Scoring: ScoringConfig{
			Decrement:         0.5,
			MinBytesThreshold: 500,
			Retention:         21,
		},
	}
}

// SetDefaults fills every unset field with its default. Scoring tunables
// are not touched; see Default.
func (c *Config) SetDefaults() {
	if c.NetflowPort == 0 {
		c.NetflowPort = 2055
	}
	if c.WebPort == 0 {
		c.WebPort = 8080
	}
	if c.PurgeInterval == 0 {
		c.PurgeInterval = 86400
	}
	if c.InternalNetwork == "" {
		c.InternalNetwork = "192.168.0.0/16"
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.ReportingInterval == 0 {
		c.ReportingInterval = 5
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}

	if c.Ingest.NumWorkers == 0 {
		c.Ingest.NumWorkers = 2
	}
	if c.Ingest.ChannelSize == 0 {
		c.Ingest.ChannelSize = 10000
	}
	if c.Ingest.BatchSize == 0 {
		c.Ingest.BatchSize = 500
	}
	if c.Ingest.FlushInterval == "" {
		c.Ingest.FlushInterval = "1s"
	}
	if c.Ingest.ReadBuffer == 0 {
		c.Ingest.ReadBuffer = 4 << 20
	}
	if c.Ingest.SettleTime == "" {
		c.Ingest.SettleTime = "2s"
	}

	if c.Storage.FlowBackend == "" {
		c.Storage.FlowBackend = "sqlite"
	}
	if c.Storage.TalkerBackend == "" {
		c.Storage.TalkerBackend = "sqlite"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.DataDir, "flowtrack.db")
	}
	if c.Storage.ClickHouse.Port == 0 {
		c.Storage.ClickHouse.Port = 9000
	}
	if c.Storage.ClickHouse.Database == "" {
		c.Storage.ClickHouse.Database = "default"
	}
	if c.Storage.Redis.KeyPrefix == "" {
		c.Storage.Redis.KeyPrefix = "flowtrack"
	}

	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "flowtrack.flows"
	}
	if c.Snapshot.RootPath == "" {
		c.Snapshot.RootPath = filepath.Join(c.DataDir, "snapshots")
	}
	if c.Record.Path == "" {
		c.Record.Path = filepath.Join(c.DataDir, "captures")
	}
	if c.Record.ChannelSize == 0 {
		c.Record.ChannelSize = 10000
	}
	if c.DNS.CacheSize == 0 {
		c.DNS.CacheSize = 4096
	}
	if c.DNS.CacheTTL == "" {
		c.DNS.CacheTTL = "1h"
	}
	if c.DNS.Timeout == "" {
		c.DNS.Timeout = "2s"
	}
	if c.OTEL.Service == "" {
		c.OTEL.Service = "flowtrack"
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.NetflowPort < 1 || c.NetflowPort > 65535 {
		return fmt.Errorf("netflow_port out of range: %d", c.NetflowPort)
	}
	if c.WebPort < 1 || c.WebPort > 65535 {
		return fmt.Errorf("web_port out of range: %d", c.WebPort)
	}
	if c.PurgeInterval < 1 {
		return fmt.Errorf("purge_interval must be at least 1 second")
	}
	if c.ReportingInterval < 1 {
		return fmt.Errorf("reporting_interval must be at least 1 minute")
	}
	if _, err := netip.ParsePrefix(c.InternalNetwork); err != nil {
		return fmt.Errorf("internal_network is not a CIDR: %w", err)
	}
	if c.Scoring.Decrement < 0 {
		return fmt.Errorf("scoring.decrement must not be negative")
	}
	if c.Scoring.Retention < 1 {
		return fmt.Errorf("scoring.retention must be at least 1")
	}
	if c.Ingest.NumWorkers < 1 || c.Ingest.BatchSize < 1 || c.Ingest.ChannelSize < 1 {
		return fmt.Errorf("ingest sizes must be positive")
	}
	for name, d := range map[string]string{
		"ingest.flush_interval": c.Ingest.FlushInterval,
		"ingest.settle_time":    c.Ingest.SettleTime,
		"dns.cache_ttl":         c.DNS.CacheTTL,
		"dns.timeout":           c.DNS.Timeout,
	} {
		v, err := time.ParseDuration(d)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Storage.FlowBackend == "postgres" || c.Storage.TalkerBackend == "postgres" {
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for the postgres backend")
		}
	}
	if c.Storage.TalkerBackend == "redis" && c.Storage.Redis.Addr == "" {
		return fmt.Errorf("storage.redis.addr is required for the redis backend")
	}
	if c.Storage.FlowBackend == "clickhouse" && c.Storage.ClickHouse.Host == "" {
		return fmt.Errorf("storage.clickhouse.host is required for the clickhouse backend")
	}
	return nil
}

// LoadFromEnv applies FLOWTRACK_* environment overrides.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("FLOWTRACK_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("FLOWTRACK_INTERNAL_NETWORK"); v != "" {
		c.InternalNetwork = v
	}
	if v := os.Getenv("FLOWTRACK_NETFLOW_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.NetflowPort = p
		}
	}
	if v := os.Getenv("FLOWTRACK_POSTGRES_URL"); v != "" {
		c.Storage.PostgresURL = v
	}
	if v := os.Getenv("FLOWTRACK_REDIS_ADDR"); v != "" {
		c.Storage.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// ReportingPeriod returns the interval between reporting cycles.
func (c *Config) ReportingPeriod() time.Duration {
	return time.Duration(c.ReportingInterval) * time.Minute
}

// FlowRetention returns how long raw flows are kept, which is also how often they are purged.
func (c *Config) FlowRetention() time.Duration {
	return time.Duration(c.PurgeInterval) * time.Second
}

// CacheTTL returns the parsed DNS cache TTL.
func (c *Config) CacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.DNS.CacheTTL)
	return d
}

// LookupTimeout returns the parsed DNS lookup timeout.
func (c *Config) LookupTimeout() time.Duration {
	d, _ := time.ParseDuration(c.DNS.Timeout)
	return d
}

// FlushInterval returns the parsed ingest flush interval.
func (c *Config) FlushInterval() time.Duration {
	d, _ := time.ParseDuration(c.Ingest.FlushInterval)
	return d
}

// SettleTime returns the parsed ingest settle delay.
func (c *Config) SettleTime() time.Duration {
	d, _ := time.ParseDuration(c.Ingest.SettleTime)
	return d
}

// NetflowAddr is the UDP listen address of the ingestion port.
func (c *Config) NetflowAddr() string {
	return fmt.Sprintf(":%d", c.NetflowPort)
}

// WebAddr is the listen address of the reporting API.
func (c *Config) WebAddr() string {
	return fmt.Sprintf(":%d", c.WebPort)
}
