// Package config loads service settings from an optional file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"orderbatch/internal/planner"
)

// EnvPrefix prefixes every environment override, e.g. OB_STORE__DRIVER=postgres.
const EnvPrefix = "OB_"

type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	Store    StoreConfig    `json:"store"`
	Redis    RedisConfig    `json:"redis"`
	Planner  PlannerConfig  `json:"planner"`
	Batching BatchingConfig `json:"batching"`
	Webhooks WebhooksConfig `json:"webhooks"`
	Log      LogConfig      `json:"log"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
	// AllowOrigins is a comma-separated CORS allow list; "*" allows any origin.
	AllowOrigins    string        `json:"allow_origins"`
	RateRPS         float64       `json:"rate_rps"`
	RateBurst       int           `json:"rate_burst"`
	MaxUploadBytes  int64         `json:"max_upload_bytes"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

func (c *HTTPConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.AllowOrigins == "" {
		c.AllowOrigins = "*"
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 10 << 20
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

func (c HTTPConfig) Validate() error {
	if c.RateRPS < 0 || c.RateBurst < 0 {
		return errors.New("http: rate_rps and rate_burst must not be negative")
	}
	return nil
}

// Origins splits AllowOrigins.
func (c HTTPConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type StoreConfig struct {
	Driver     string `json:"driver"`
	DSN        string `json:"dsn"`
	SQLitePath string `json:"sqlite_path"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Driver == "" {
		if c.DSN != "" {
			c.Driver = DriverPostgres
		} else {
			c.Driver = DriverMemory
		}
	}
	if c.Driver == DriverSQLite && c.SQLitePath == "" {
		c.SQLitePath = "orderbatch.db"
	}
}

func (c StoreConfig) Validate() error {
	switch c.Driver {
	case DriverMemory, DriverSQLite:
		return nil
	case DriverPostgres:
		if c.DSN == "" {
			return errors.New("store: postgres driver requires dsn")
		}
		return nil
	}
	return fmt.Errorf("store: unsupported driver %q", c.Driver)
}

type RedisConfig struct {
	// URL enables the shared run lock and cross-instance event fan-out.
	URL string `json:"url"`
}

type PlannerConfig struct {
	TargetGroupSize int `json:"target_group_size"`
	DefaultClusters int `json:"default_clusters"`
	MaxIterations   int `json:"max_iterations"`
	Restarts        int `json:"restarts"`
	// Seed fixes clustering initialisation. Unset means 1; 0 seeds from the clock.
	Seed     *int64 `json:"seed"`
	IDFormat string `json:"id_format"`
	IDPrefix string `json:"id_prefix"`
}

func (c *PlannerConfig) SetDefaults() {
	if c.TargetGroupSize <= 0 {
		c.TargetGroupSize = planner.DefaultTargetGroupSize
	}
	if c.DefaultClusters <= 0 {
		c.DefaultClusters = planner.DefaultClusters
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 100
	}
	if c.Restarts <= 0 {
		c.Restarts = 4
	}
	if c.Seed == nil {
		one := int64(1)
		c.Seed = &one
	}
	if c.IDFormat == "" {
		c.IDFormat = planner.IDFormatUUID
	}
	if c.IDPrefix == "" {
		c.IDPrefix = "BATCH"
	}
}

func (c PlannerConfig) Validate() error {
	if _, err := planner.NewIDGenerator(c.IDFormat, c.IDPrefix); err != nil {
		return fmt.Errorf("planner: %w", err)
	}
	return nil
}

// PlannerOptions converts the settings to planner.Config.
func (c PlannerConfig) PlannerOptions() planner.Config {
	cfg := planner.Config{MaxIterations: c.MaxIterations, Restarts: c.Restarts}
	if c.Seed != nil {
		cfg.Seed = *c.Seed
	}
	return cfg
}

type BatchingConfig struct {
	LockWait      time.Duration `json:"lock_wait"`
	RetryAttempts int           `json:"retry_attempts"`
	RetryInterval time.Duration `json:"retry_interval"`
}

func (c *BatchingConfig) SetDefaults() {
	if c.LockWait <= 0 {
		c.LockWait = 5 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 100 * time.Millisecond
	}
}

// WebhooksConfig lists receivers of batch.created notifications.
type WebhooksConfig struct {
	URLs        string `json:"urls"` // comma-separated
	Secret      string `json:"secret"`
	MaxAttempts int    `json:"max_attempts"`
}

func (c *WebhooksConfig) SetDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json or console
}

func (c *LogConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "json"
		if strings.EqualFold(os.Getenv("APP_ENV"), "dev") {
			c.Format = "console"
		}
	}
}

func (c LogConfig) Validate() error {
	switch c.Level {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("log: unknown level %q", c.Level)
	}
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("log: unknown format %q", c.Format)
	}
	return nil
}

// legacyEnv maps the plain variables used by existing deployments onto config keys.
var legacyEnv = map[string]string{
	"DATABASE_URL":  "store.dsn",
	"REDIS_URL":     "redis.url",
	"ALLOW_ORIGINS": "http.allow_origins",
	"RATE_RPS":      "http.rate_rps",
	"RATE_BURST":    "http.rate_burst",

	"WEBHOOK_MAX_ATTEMPTS": "webhooks.max_attempts",
}

// Load reads configuration. path may be empty; otherwise it must name a .yaml, .yml or .json file.
// A .env file in the working directory is loaded first when present. OB_ variables win over
// the file and the legacy variables.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	for name, key := range legacyEnv {
		if v := os.Getenv(name); v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, err
			}
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		if err := k.Set("http.addr", ":"+v); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) SetDefaults() {
	c.HTTP.SetDefaults()
	c.Store.SetDefaults()
	c.Planner.SetDefaults()
	c.Batching.SetDefaults()
	c.Webhooks.SetDefaults()
	c.Log.SetDefaults()
}

func (c *Config) Validate() error {
	return errors.Join(
		c.HTTP.Validate(),
		c.Store.Validate(),
		c.Planner.Validate(),
		c.Log.Validate(),
	)
}

// Redacted returns the settings that are safe to expose on the debug endpoint.
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"http_addr":         c.HTTP.Addr,
		"allow_origins":     c.HTTP.AllowOrigins,
		"rate_rps":          c.HTTP.RateRPS,
		"rate_burst":        c.HTTP.RateBurst,
		"store_driver":      c.Store.Driver,
		"has_database_url":  c.Store.DSN != "",
		"has_redis_url":     c.Redis.URL != "",
		"target_group_size": c.Planner.TargetGroupSize,
		"default_clusters":  c.Planner.DefaultClusters,
		"id_format":         c.Planner.IDFormat,
		"lock_wait":         c.Batching.LockWait.String(),
		"retry_attempts":    c.Batching.RetryAttempts,
		"webhook_attempts":  c.Webhooks.MaxAttempts,
		"has_webhooks":      c.Webhooks.URLs != "",
	}
}
