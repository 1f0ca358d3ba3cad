package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/iotrace/iotrace/internal/histogram"
	"github.com/iotrace/iotrace/pkg/errors"
	"github.com/iotrace/iotrace/pkg/types"
	"github.com/iotrace/iotrace/pkg/utils"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global    GlobalConfig    `yaml:"global"`
	Stores    StoresConfig    `yaml:"stores"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Histogram HistogramConfig `yaml:"histogram"`
	Report    ReportConfig    `yaml:"report"`
	API       APIConfig       `yaml:"api"`
	Archive   ArchiveConfig   `yaml:"archive"`
	BPF       BPFConfig       `yaml:"bpf"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StoresConfig sets the capacity of every bounded store
type StoresConfig struct {
	LedgerMaxEntries    int `yaml:"ledger_max_entries"`
	MetricsMaxEntries   int `yaml:"metrics_max_entries"`
	HistogramMaxEntries int `yaml:"histogram_max_entries"`
}

// LedgerConfig controls eviction of stale correlation entries
type LedgerConfig struct {
	EvictionTTL   time.Duration `yaml:"eviction_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// HistogramConfig represents the RTT histogram attach options
type HistogramConfig struct {
	GroupByLocalAddr  bool   `yaml:"group_by_local_addr"`
	GroupByRemoteAddr bool   `yaml:"group_by_remote_addr"`
	SourcePort        uint16 `yaml:"source_port"`
	DestPort          uint16 `yaml:"dest_port"`
	SourceAddr        string `yaml:"source_addr"`
	DestAddr          string `yaml:"dest_addr"`
	ExtendedStats     bool   `yaml:"extended_stats"`
	Milliseconds      bool   `yaml:"milliseconds"`
}

// ReportConfig represents the terminal poller settings
type ReportConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	ClearScreen bool          `yaml:"clear_screen"`
	Width       int           `yaml:"width"`
}

// APIConfig represents the HTTP API settings
type APIConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Address          string        `yaml:"address"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	EnableMetrics    bool          `yaml:"enable_metrics"`
	MetricsNamespace string        `yaml:"metrics_namespace"`
	EnablePprof      bool          `yaml:"enable_pprof"`
}

// ArchiveConfig represents snapshot archiving settings
type ArchiveConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	Backend        string               `yaml:"backend"`
	Interval       time.Duration        `yaml:"interval"`
	Prefix         string               `yaml:"prefix"`
	Timeout        time.Duration        `yaml:"timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	S3             S3Config             `yaml:"s3"`
	MinIO          MinIOConfig          `yaml:"minio"`
	Redis          RedisConfig          `yaml:"redis"`
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// S3Config represents the S3 archive backend
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	StorageClass    string `yaml:"storage_class"`
	UseCargoShip    bool   `yaml:"use_cargoship"`
}

// MinIOConfig represents the MinIO archive backend
type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
}

// RedisConfig represents the Redis archive backend
type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
	Channel  string        `yaml:"channel"`
}

// BPFConfig represents access to kernel-resident maps
type BPFConfig struct {
	PinPath string `yaml:"pin_path"`

	// KernelLedger backs the correlation ledger with kernel hash maps.
	KernelLedger bool `yaml:"kernel_ledger"`
}

// NewDefault creates a new configuration with default values
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Stores: StoresConfig{
			LedgerMaxEntries:    1024,
			MetricsMaxEntries:   1024,
			HistogramMaxEntries: 10240,
		},
		Ledger: LedgerConfig{
			EvictionTTL:   0,
			SweepInterval: 10 * time.Second,
		},
		Report: ReportConfig{
			Enabled:  true,
			Interval: time.Second,
			Width:    40,
		},
		API: APIConfig{
			Enabled:          false,
			Address:          ":9435",
			ReadTimeout:      10 * time.Second,
			WriteTimeout:     10 * time.Second,
			EnableMetrics:    true,
			MetricsNamespace: "iotrace",
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Backend:  "s3",
			Interval: time.Minute,
			Prefix:   "iotrace",
			Timeout:  30 * time.Second,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   time.Second,
				MaxDelay:    30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
			S3: S3Config{
				Region:       "us-east-1",
				StorageClass: "STANDARD",
			},
			Redis: RedisConfig{
				Address: "localhost:6379",
				TTL:     24 * time.Hour,
				Channel: "iotrace:snapshots",
			},
		},
		BPF: BPFConfig{
			PinPath: "/sys/fs/bpf/iotrace",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to read config file", err).
			WithDetail("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, "failed to parse config file", err).
			WithDetail("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("IOTRACE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("IOTRACE_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}

	// Store capacities
	if err := envInt("IOTRACE_LEDGER_MAX_ENTRIES", &c.Stores.LedgerMaxEntries); err != nil {
		return err
	}
	if err := envInt("IOTRACE_METRICS_MAX_ENTRIES", &c.Stores.MetricsMaxEntries); err != nil {
		return err
	}
	if err := envInt("IOTRACE_HISTOGRAM_MAX_ENTRIES", &c.Stores.HistogramMaxEntries); err != nil {
		return err
	}

	// Ledger eviction
	if err := envDuration("IOTRACE_EVICTION_TTL", &c.Ledger.EvictionTTL); err != nil {
		return err
	}

	// Histogram options
	if val := os.Getenv("IOTRACE_SOURCE_ADDR"); val != "" {
		c.Histogram.SourceAddr = val
	}
	if val := os.Getenv("IOTRACE_DEST_ADDR"); val != "" {
		c.Histogram.DestAddr = val
	}
	if val := os.Getenv("IOTRACE_MILLISECONDS"); val != "" {
		c.Histogram.Milliseconds = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("IOTRACE_EXTENDED_STATS"); val != "" {
		c.Histogram.ExtendedStats = strings.ToLower(val) == "true"
	}

	// API and archive
	if val := os.Getenv("IOTRACE_API_ADDRESS"); val != "" {
		c.API.Address = val
		c.API.Enabled = true
	}
	if val := os.Getenv("IOTRACE_ARCHIVE_BACKEND"); val != "" {
		c.Archive.Backend = val
	}
	if val := os.Getenv("IOTRACE_S3_BUCKET"); val != "" {
		c.Archive.S3.Bucket = val
	}
	if val := os.Getenv("IOTRACE_REDIS_ADDRESS"); val != "" {
		c.Archive.Redis.Address = val
	}
	if val := os.Getenv("IOTRACE_PIN_PATH"); val != "" {
		c.BPF.PinPath = val
	}
	if val := os.Getenv("IOTRACE_KERNEL_LEDGER"); val != "" {
		c.BPF.KernelLedger = strings.ToLower(val) == "true"
	}

	return nil
}

func envInt(name string, target *int) error {
	val := os.Getenv(name)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, fmt.Sprintf("invalid %s", name), err)
	}
	*target = n
	return nil
}

func envDuration(name string, target *time.Duration) error {
	val := os.Getenv(name)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, fmt.Sprintf("invalid %s", name), err)
	}
	*target = d
	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, "failed to marshal config", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, "failed to create config directory", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, "failed to write config file", err)
	}

	return nil
}

func invalid(format string, args ...interface{}) error {
	return errors.NewError(errors.ErrCodeConfigValidation, fmt.Sprintf(format, args...))
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("invalid log_level: %s (must be one of: TRACE, DEBUG, INFO, WARN, ERROR)", c.Global.LogLevel)
	}
	if _, err := utils.ParseLogFormat(c.Global.LogFormat); err != nil {
		return invalid("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}

	if c.Stores.LedgerMaxEntries <= 0 {
		return invalid("ledger_max_entries must be greater than 0")
	}
	if c.Stores.MetricsMaxEntries <= 0 {
		return invalid("metrics_max_entries must be greater than 0")
	}
	if c.Stores.HistogramMaxEntries <= 0 {
		return invalid("histogram_max_entries must be greater than 0")
	}

	if c.Ledger.EvictionTTL < 0 {
		return invalid("eviction_ttl cannot be negative")
	}
	if c.Ledger.EvictionTTL > 0 && c.Ledger.SweepInterval <= 0 {
		return invalid("sweep_interval must be greater than 0 when eviction is enabled")
	}

	if _, err := types.ParseIPv4(c.Histogram.SourceAddr); err != nil {
		return invalid("invalid source_addr: %v", err)
	}
	if _, err := types.ParseIPv4(c.Histogram.DestAddr); err != nil {
		return invalid("invalid dest_addr: %v", err)
	}

	if c.Report.Enabled && c.Report.Interval <= 0 {
		return invalid("report interval must be greater than 0")
	}

	if c.API.Enabled && c.API.Address == "" {
		return invalid("api address is required when the api is enabled")
	}

	if c.Archive.Enabled {
		if c.Archive.Interval <= 0 {
			return invalid("archive interval must be greater than 0")
		}
		switch strings.ToLower(c.Archive.Backend) {
		case "s3":
			if c.Archive.S3.Bucket == "" {
				return invalid("s3 bucket is required for the s3 archive backend")
			}
		case "minio":
			if c.Archive.MinIO.Endpoint == "" || c.Archive.MinIO.Bucket == "" {
				return invalid("minio endpoint and bucket are required for the minio archive backend")
			}
		case "redis":
			if c.Archive.Redis.Address == "" {
				return invalid("redis address is required for the redis archive backend")
			}
		default:
			return invalid("unknown archive backend: %s (must be s3, minio or redis)", c.Archive.Backend)
		}
		if c.Archive.Retry.MaxAttempts <= 0 {
			return invalid("archive retry max_attempts must be greater than 0")
		}
	}

	return nil
}

// HistogramEngineConfig converts the histogram section into engine options.
// The configuration must have passed Validate.
func (c *Configuration) HistogramEngineConfig() histogram.Config {
	saddr, _ := types.ParseIPv4(c.Histogram.SourceAddr)
	daddr, _ := types.ParseIPv4(c.Histogram.DestAddr)

	return histogram.Config{
		GroupByLocalAddr:  c.Histogram.GroupByLocalAddr,
		GroupByRemoteAddr: c.Histogram.GroupByRemoteAddr,
		SourcePort:        c.Histogram.SourcePort,
		DestPort:          c.Histogram.DestPort,
		SourceAddr:        saddr,
		DestAddr:          daddr,
		Extended:          c.Histogram.ExtendedStats,
		Milliseconds:      c.Histogram.Milliseconds,
		MaxEntries:        c.Stores.HistogramMaxEntries,
	}
}

// Logger builds the structured logger described by the global section.
func (c *Configuration) Logger() (*utils.StructuredLogger, error) {
	level, err := utils.ParseLogLevel(c.Global.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := utils.ParseLogFormat(c.Global.LogFormat)
	if err != nil {
		return nil, err
	}
	return utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:  level,
		Output: os.Stderr,
		Format: format,
	})
}
