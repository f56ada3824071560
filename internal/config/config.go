package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/user/tagwatch/internal/logger"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Browser     BrowserConfig     `yaml:"browser"`
	Logging     LoggingConfig     `yaml:"logging"`
	Datastore   DatastoreConfig   `yaml:"datastore"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Lock        LockConfig        `yaml:"lock"`
}

// SchedulerConfig contains Two-Phase Scheduler and Retry Queue Processor
// runtime controls.
type SchedulerConfig struct {
	WorkerCount     int   `yaml:"worker_count"`
	Phase1TimeoutMs int   `yaml:"phase1_timeout_ms"`
	Phase2TimeoutMs int   `yaml:"phase2_timeout_ms"`
	RetentionDays   int   `yaml:"retention_days"`
	RetryIntervalMs int64 `yaml:"retry_interval_ms"`
}

// BrowserConfig contains Browser Pool settings (ported from the teacher's
// ChromeConfig, pool-sizing/restart-policy fields preserved verbatim).
type BrowserConfig struct {
	Headless  bool `yaml:"headless"`
	NoSandbox bool `yaml:"no_sandbox"`

	PoolSize          int           `yaml:"pool_size"`
	WarmupURL         string        `yaml:"warmup_url"`
	RestartAfterCount int           `yaml:"restart_after_count"`
	RestartAfterTime  time.Duration `yaml:"restart_after_time"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	FilePath string `yaml:"file_path"`
}

// DatastoreConfig contains the Postgres connection settings for
// internal/store.
type DatastoreConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MigrationsTable string `yaml:"migrations_table"`
}

// ObjectStoreConfig contains the GCS bucket settings for
// internal/objectstore.
type ObjectStoreConfig struct {
	Bucket                 string `yaml:"bucket"`
	CredentialsFile         string `yaml:"credentials_file"`
	SignedURLExpiryMinutes  int    `yaml:"signed_url_expiry_minutes"`
}

// LockConfig contains the Run Coordinator's host-local lockfile path.
type LockConfig struct {
	Path string `yaml:"path"`
}

// Default values
const (
	defaultWorkerCount     = 4
	defaultPhase1TimeoutMs = 20000
	defaultPhase2TimeoutMs = 60000
	defaultRetentionDays   = 30
	defaultRetryIntervalMs = 5 * 60 * 1000

	defaultWarmupURL         = "https://example.com/"
	defaultRestartAfterCount = 50
	defaultRestartAfterTime  = 30 * time.Minute
	defaultShutdownTimeout   = 30 * time.Second

	defaultLogLevel  = logger.LevelInfo
	defaultLogFormat = logger.FormatJSON

	defaultMigrationsTable        = "goose_db_version"
	defaultSignedURLExpiryMinutes = 60

	defaultLockPath = "/var/run/tagwatch/run.lock"
)

// Validation constraints
const (
	minWorkerCount = 1
	maxWorkerCount = 32
)

var validLogLevels = map[string]bool{
	logger.LevelDebug: true,
	logger.LevelInfo:  true,
	logger.LevelWarn:  true,
	logger.LevelError: true,
}

var validLogFormats = map[string]bool{
	logger.FormatJSON:    true,
	logger.FormatConsole: true,
}

// Load reads configuration from a YAML file and applies environment
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Scheduler.WorkerCount == 0 {
		c.Scheduler.WorkerCount = defaultWorkerCount
	}
	if c.Scheduler.Phase1TimeoutMs == 0 {
		c.Scheduler.Phase1TimeoutMs = defaultPhase1TimeoutMs
	}
	if c.Scheduler.Phase2TimeoutMs == 0 {
		c.Scheduler.Phase2TimeoutMs = defaultPhase2TimeoutMs
	}
	if c.Scheduler.RetentionDays == 0 {
		c.Scheduler.RetentionDays = defaultRetentionDays
	}
	if c.Scheduler.RetryIntervalMs == 0 {
		c.Scheduler.RetryIntervalMs = defaultRetryIntervalMs
	}

	if c.Browser.PoolSize == 0 {
		c.Browser.PoolSize = c.Scheduler.WorkerCount
	}
	if c.Browser.WarmupURL == "" {
		c.Browser.WarmupURL = defaultWarmupURL
	}
	if c.Browser.RestartAfterCount == 0 {
		c.Browser.RestartAfterCount = defaultRestartAfterCount
	}
	if c.Browser.RestartAfterTime == 0 {
		c.Browser.RestartAfterTime = defaultRestartAfterTime
	}
	if c.Browser.ShutdownTimeout == 0 {
		c.Browser.ShutdownTimeout = defaultShutdownTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}

	if c.Datastore.MigrationsTable == "" {
		c.Datastore.MigrationsTable = defaultMigrationsTable
	}
	if c.Datastore.MaxOpenConns == 0 {
		c.Datastore.MaxOpenConns = c.Scheduler.WorkerCount * 2
	}

	if c.ObjectStore.SignedURLExpiryMinutes == 0 {
		c.ObjectStore.SignedURLExpiryMinutes = defaultSignedURLExpiryMinutes
	}

	if c.Lock.Path == "" {
		c.Lock.Path = defaultLockPath
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TAGWATCH_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.WorkerCount = n
		}
	}
	if v := os.Getenv("TAGWATCH_PHASE1_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.Phase1TimeoutMs = n
		}
	}
	if v := os.Getenv("TAGWATCH_PHASE2_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.Phase2TimeoutMs = n
		}
	}
	if v := os.Getenv("TAGWATCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TAGWATCH_DATASTORE_DSN"); v != "" {
		c.Datastore.DSN = v
	}
	if v := os.Getenv("TAGWATCH_OBJECT_STORE_BUCKET"); v != "" {
		c.ObjectStore.Bucket = v
	}
	if v := os.Getenv("TAGWATCH_LOCK_PATH"); v != "" {
		c.Lock.Path = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Scheduler.WorkerCount < minWorkerCount || c.Scheduler.WorkerCount > maxWorkerCount {
		return fmt.Errorf("invalid worker_count: %d (must be %d-%d)", c.Scheduler.WorkerCount, minWorkerCount, maxWorkerCount)
	}
	if c.Scheduler.Phase1TimeoutMs <= 0 {
		return fmt.Errorf("phase1_timeout_ms must be positive")
	}
	if c.Scheduler.Phase2TimeoutMs <= 0 {
		return fmt.Errorf("phase2_timeout_ms must be positive")
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.Logging.Level)
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be one of: json, console)", c.Logging.Format)
	}
	if strings.TrimSpace(c.Datastore.DSN) == "" {
		return fmt.Errorf("datastore.dsn must be set")
	}
	if strings.TrimSpace(c.ObjectStore.Bucket) == "" {
		return fmt.Errorf("object_store.bucket must be set")
	}
	return nil
}

// Phase2HardDeadline is the Phase-2 per-property hard deadline: the phase
// timeout plus the tag-manager wait window.
func (c *Config) Phase2HardDeadline() time.Duration {
	return time.Duration(c.Scheduler.Phase2TimeoutMs)*time.Millisecond + 30*time.Second
}
