package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hookcron/hookcron-go/internal/common/core"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StoreSQLite   StoreDriver = "sqlite"
	StorePostgres StoreDriver = "postgres"
	StoreRedis    StoreDriver = "redis"
)

type Config struct {
	// Mostly used for log level.
	Development bool   `yaml:"development"`
	ListenAddr  string `yaml:"listen_addr"`
	APIKey      string `yaml:"api_key"`
	// Endpoint is the default callback URL for jobs enqueued without one.
	Endpoint           string `yaml:"endpoint"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`

	SigningSecret             string   `yaml:"signing_secret"`
	ExpiredSecrets            []string `yaml:"expired_secrets"`
	EncryptionKey             string   `yaml:"encryption_key"`
	ExpiredEncryptionKeys     []string `yaml:"expired_encryption_keys"`
	AllowUnverifiedSignatures bool     `yaml:"allow_unverified_signatures"`

	Store       StoreDriver `yaml:"store"`
	StoreDSN    string      `yaml:"store_dsn"`
	RedisDB     int         `yaml:"redis_db"`
	StorePrefix string      `yaml:"store_prefix"`

	PollInterval    time.Duration `yaml:"poll_interval"`
	BatchSize       int           `yaml:"batch_size"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	DefaultRetries  int           `yaml:"default_retries"`

	RetryMode    core.RetryMode `yaml:"-"`
	RetryMaxTime time.Duration  `yaml:"retry_max_time"`
}

var (
	retryModeMap = map[string]core.RetryMode{
		"none":    core.None,
		"backoff": core.Backoff,
	}

	storeDrivers = map[string]StoreDriver{
		"memory":   StoreMemory,
		"sqlite":   StoreSQLite,
		"sqlite3":  StoreSQLite,
		"postgres": StorePostgres,
		"redis":    StoreRedis,
	}
)

// Defaults returns a Config with every optional field set.
func Defaults() *Config {
	return &Config{
		ListenAddr:      core.DefaultListenAddr,
		Store:           StoreMemory,
		StorePrefix:     core.DefaultStorePrefix,
		PollInterval:    core.DefaultPollInterval,
		BatchSize:       core.DefaultBatchSize,
		DispatchTimeout: core.DefaultDispatchTimeout,
		RetryDelay:      core.DefaultRetryDelay,
		DefaultRetries:  core.DefaultRetries,
		RetryMode:       core.None,
		RetryMaxTime:    core.DefaultRetryMaxTime,
	}
}

// New returns a new Config with sensible defaults, a .env file in the
// working directory loaded if present.
//
// The following environment variables are honored:
//
// - HOOKCRON_CONFIG_FILE: optional YAML file applied before the variables below.
// - HOOKCRON_DEVELOPMENT: whether to enable development mode.
// - HOOKCRON_LISTEN_ADDR: address of the REST surface. Defaults to ":8080".
// - HOOKCRON_API_KEY: bearer token required by the REST surface when set.
// - HOOKCRON_ENDPOINT: default callback URL for jobs.
// - HOOKCRON_INSECURE: whether to skip verifying callback TLS certificates.
// - HOOKCRON_SIGNING_SECRET: the live signing secret. Required.
// - HOOKCRON_EXPIRED_SECRETS: comma separated secrets still accepted when opening.
// - HOOKCRON_ENCRYPTION_KEY: the live encryption key. Payloads are not encrypted when empty.
// - HOOKCRON_EXPIRED_ENCRYPTION_KEYS: comma separated keys still accepted when opening.
// - HOOKCRON_ALLOW_UNVERIFIED_SIGNATURES: accept payloads with a bad signature, flagged. Defaults to false.
// - HOOKCRON_STORE: one of "memory", "sqlite", "postgres", "redis". Defaults to "memory".
// - HOOKCRON_STORE_DSN: database path, connection string or redis address.
// - HOOKCRON_REDIS_DB: redis database number.
// - HOOKCRON_STORE_PREFIX: key/table prefix. Defaults to "hookcron".
// - HOOKCRON_POLL_INTERVAL: delay between scheduler ticks. Defaults to 1s.
// - HOOKCRON_BATCH_SIZE: maximum jobs claimed per tick. Defaults to 10.
// - HOOKCRON_DISPATCH_TIMEOUT: per request timeout. Defaults to 15s.
// - HOOKCRON_RETRY_DELAY: fixed delay before a failed job is retried. Defaults to 3s.
// - HOOKCRON_DEFAULT_RETRIES: retries for jobs enqueued without one. Defaults to 3.
// - HOOKCRON_RETRY_MODE: store retry mode. Defaults to "none". Valid values are "none", "backoff".
// - HOOKCRON_RETRY_MAX_TIME: the maximum time spent retrying a store call. Defaults to 30 seconds.
//
// If HOOKCRON_SIGNING_SECRET is not set, New will return an error.
func New() (*Config, error) {
	_ = gotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("HOOKCRON_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type fileConfig struct {
	Config    `yaml:",inline"`
	RetryMode string `yaml:"retry_mode"`
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	file := fileConfig{Config: *c}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	*c = file.Config
	if file.RetryMode != "" {
		mode, ok := retryModeMap[file.RetryMode]
		if !ok {
			return fmt.Errorf("unknown retry_mode %q", file.RetryMode)
		}
		c.RetryMode = mode
	}
	return nil
}

func (c *Config) loadEnv() error {
	var err error

	if v := os.Getenv("HOOKCRON_DEVELOPMENT"); v != "" {
		c.Development, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("HOOKCRON_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("HOOKCRON_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("HOOKCRON_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv("HOOKCRON_INSECURE"); v != "" {
		c.InsecureSkipVerify, _ = strconv.ParseBool(v)
	}

	if v := os.Getenv("HOOKCRON_SIGNING_SECRET"); v != "" {
		c.SigningSecret = v
	}
	if v := os.Getenv("HOOKCRON_EXPIRED_SECRETS"); v != "" {
		c.ExpiredSecrets = splitList(v)
	}
	if v := os.Getenv("HOOKCRON_ENCRYPTION_KEY"); v != "" {
		c.EncryptionKey = v
	}
	if v := os.Getenv("HOOKCRON_EXPIRED_ENCRYPTION_KEYS"); v != "" {
		c.ExpiredEncryptionKeys = splitList(v)
	}
	if v := os.Getenv("HOOKCRON_ALLOW_UNVERIFIED_SIGNATURES"); v != "" {
		c.AllowUnverifiedSignatures, _ = strconv.ParseBool(v)
	}

	if v := os.Getenv("HOOKCRON_STORE"); v != "" {
		driver, ok := storeDrivers[strings.ToLower(v)]
		if !ok {
			return fmt.Errorf("HOOKCRON_STORE %q is not supported", v)
		}
		c.Store = driver
	}
	if v := os.Getenv("HOOKCRON_STORE_DSN"); v != "" {
		c.StoreDSN = v
	}
	if v := os.Getenv("HOOKCRON_REDIS_DB"); v != "" {
		if c.RedisDB, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("HOOKCRON_REDIS_DB: %w", err)
		}
	}
	if v := os.Getenv("HOOKCRON_STORE_PREFIX"); v != "" {
		c.StorePrefix = v
	}

	if c.PollInterval, err = envDuration("HOOKCRON_POLL_INTERVAL", c.PollInterval); err != nil {
		return err
	}
	if c.DispatchTimeout, err = envDuration("HOOKCRON_DISPATCH_TIMEOUT", c.DispatchTimeout); err != nil {
		return err
	}
	if c.RetryDelay, err = envDuration("HOOKCRON_RETRY_DELAY", c.RetryDelay); err != nil {
		return err
	}
	if v := os.Getenv("HOOKCRON_BATCH_SIZE"); v != "" {
		if c.BatchSize, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("HOOKCRON_BATCH_SIZE: %w", err)
		}
	}
	if v := os.Getenv("HOOKCRON_DEFAULT_RETRIES"); v != "" {
		if c.DefaultRetries, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("HOOKCRON_DEFAULT_RETRIES: %w", err)
		}
	}

	if v := os.Getenv("HOOKCRON_RETRY_MODE"); v != "" {
		retry, ok := retryModeMap[v]
		if !ok {
			fmt.Println("[ERROR] failed to set retry mode, disabling retries")
			c.RetryMode = core.None
		} else {
			c.RetryMode = retry
		}
	}
	if v := os.Getenv("HOOKCRON_RETRY_MAX_TIME"); v != "" {
		duration, err := time.ParseDuration(v)
		if err == nil {
			c.RetryMaxTime = duration
		} else {
			fmt.Println("[ERROR] failed to set retry max time, keeping", c.RetryMaxTime)
		}
	}
	return nil
}

// Validate checks the settings every deployment needs.
func (c *Config) Validate() error {
	if c.SigningSecret == "" {
		return fmt.Errorf("HOOKCRON_SIGNING_SECRET is not set, please set it to the scope signing secret")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("dispatch timeout must be positive, got %s", c.DispatchTimeout)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay must not be negative, got %s", c.RetryDelay)
	}
	if c.Store != StoreMemory && c.StoreDSN == "" {
		return fmt.Errorf("HOOKCRON_STORE_DSN is required for the %s store", c.Store)
	}
	return nil
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
