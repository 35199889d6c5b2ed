// Package config loads the sharder configuration from a YAML file, overridden by the
// SHARDER_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Token    string         `yaml:"token"`
	Shards   ShardsConfig   `yaml:"shards"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Rest     RestConfig     `yaml:"rest"`
	Redis    RedisConfig    `yaml:"redis"`
	Sessions SessionsConfig `yaml:"sessions"`
	Sentry   SentryConfig   `yaml:"sentry"`
	Log      LogConfig      `yaml:"log"`
}

type ShardsConfig struct {
	// Total of 0 asks the API for the recommended count.
	Total   int `yaml:"total"`
	Lowest  int `yaml:"lowest"`
	Highest int `yaml:"highest"`

	// Workers is the number of processes started by the supervise command.
	Workers int `yaml:"workers"`
}

type GatewayConfig struct {
	URL             string        `yaml:"url"`
	Version         int           `yaml:"version"`
	Encoding        string        `yaml:"encoding"`
	Compress        bool          `yaml:"compress"`
	LargeThreshold  int           `yaml:"large_threshold"`
	Intents         []string      `yaml:"intents"`
	Status          string        `yaml:"status"`
	IdentifySpacing time.Duration `yaml:"identify_spacing"`
	FatalCloseCodes []int         `yaml:"fatal_close_codes"`
	EventBuffer     int           `yaml:"event_buffer"`
	Debug           bool          `yaml:"debug"`
}

type RestConfig struct {
	BaseURL            string  `yaml:"base_url"`
	MaxThrottleRetries int     `yaml:"max_throttle_retries"`
	RouteKey           string  `yaml:"route_key"` // "parent" or "template"
	GlobalLimit        float64 `yaml:"global_limit"`
	GlobalBurst        int     `yaml:"global_burst"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	Threads   int    `yaml:"threads"`
	Key       string `yaml:"key"`
	MaxLength int64  `yaml:"max_length"`

	// marks forwarded events as coming from a whitelabel bot
	Whitelabel bool `yaml:"whitelabel"`
}

type SessionsConfig struct {
	URI       string `yaml:"uri"`
	Namespace string `yaml:"namespace"`
}

type SentryConfig struct {
	Dsn     string `yaml:"dsn"`
	Project string `yaml:"project"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

func Default() *Config {
	return &Config{
		Shards: ShardsConfig{
			Total:   1,
			Workers: 1,
		},
		Gateway: GatewayConfig{
			Encoding:       "json",
			LargeThreshold: 250,
			Intents:        DefaultIntents(),
			Status:         "DM for help | t!help",
		},
		Rest: RestConfig{
			MaxThrottleRetries: 1,
			RouteKey:           "parent",
		},
		Redis: RedisConfig{
			Threads: 5,
			Key:     "tickets:events",
		},
		Sessions: SessionsConfig{
			Namespace: "default",
		},
		Sentry: SentryConfig{
			Project: "sharder",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads filename, which may be empty or missing, then applies env overrides and
// validates the result.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	stringVars := map[string]*string{
		"SHARDER_TOKEN":        &c.Token,
		"SHARDER_REDIS_ADDR":   &c.Redis.Addr,
		"SHARDER_REDIS_PASSWD": &c.Redis.Password,
		"SHARDER_ENCODING":     &c.Gateway.Encoding,
		"SENTRY_DSN":           &c.Sentry.Dsn,
		"SESSION_DB_URI":       &c.Sessions.URI,
		"LOG_LEVEL":            &c.Log.Level,
	}

	for key, target := range stringVars {
		if value, ok := lookup(key); ok {
			*target = value
		}
	}

	intVars := map[string]*int{
		"SHARDER_COUNT_TOTAL":   &c.Shards.Total,
		"SHARDER_COUNT_LOWEST":  &c.Shards.Lowest,
		"SHARDER_COUNT_HIGHEST": &c.Shards.Highest,
		"SHARDER_WORKERS":       &c.Shards.Workers,
		"SHARDER_REDIS_THREADS": &c.Redis.Threads,
	}

	for key, target := range intVars {
		value, ok := lookup(key)
		if !ok {
			continue
		}

		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}

		*target = parsed
	}

	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("token cannot be empty")
	}

	if c.Shards.Total < 0 {
		return fmt.Errorf("shards.total cannot be negative")
	}

	if c.Shards.Lowest < 0 || c.Shards.Highest < 0 {
		return fmt.Errorf("shards.lowest and shards.highest cannot be negative")
	}

	if c.Shards.Highest != 0 && c.Shards.Lowest >= c.Shards.Highest {
		return fmt.Errorf("shards.lowest must be below shards.highest")
	}

	if c.Shards.Total > 0 && c.Shards.Highest > c.Shards.Total {
		return fmt.Errorf("shards.highest cannot exceed shards.total")
	}

	if c.Shards.Workers < 1 {
		return fmt.Errorf("shards.workers must be at least 1")
	}

	switch c.Gateway.Encoding {
	case "json", "cbor":
	default:
		return fmt.Errorf("gateway.encoding must be json or cbor, got %q", c.Gateway.Encoding)
	}

	if _, err := c.Gateway.ParseIntents(); err != nil {
		return err
	}

	if c.Gateway.IdentifySpacing < 0 {
		return fmt.Errorf("gateway.identify_spacing cannot be negative")
	}

	switch c.Rest.RouteKey {
	case "parent", "template":
	default:
		return fmt.Errorf("rest.route_key must be parent or template, got %q", c.Rest.RouteKey)
	}

	if c.Rest.MaxThrottleRetries < 0 {
		return fmt.Errorf("rest.max_throttle_retries cannot be negative")
	}

	if c.Rest.GlobalLimit < 0 {
		return fmt.Errorf("rest.global_limit cannot be negative")
	}

	if c.Redis.Addr != "" && c.Redis.Threads < 1 {
		return fmt.Errorf("redis.threads must be at least 1")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}
