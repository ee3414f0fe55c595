// Package config loads TransparentCache settings from the environment.
//
// Environment Variables:
//   - GORAWRCACHE_REDIS_URL: Redis URL, e.g. redis://localhost:6379/0 (required)
//   - GORAWRCACHE_KEY_PREFIX: namespace of remote keys (default: trans-cache-)
//   - GORAWRCACHE_LOCAL_MAX_ENTRIES: local tier capacity (default: 1000)
//   - GORAWRCACHE_LOCAL_TTL: local tier TTL (default: 60s)
//   - GORAWRCACHE_REMOTE_MAX_ENTRIES: advisory remote capacity (default: 10000)
//   - GORAWRCACHE_REMOTE_TTL: remote tier TTL (default: 5m)
//   - GORAWRCACHE_REMOTE_COMMAND_TIMEOUT: bound on every Redis command (default: 50ms)
//   - GORAWRCACHE_REFRESH_RPS: background refresh budget, 0 is unlimited (default: 0)
//   - GORAWRCACHE_REFRESH_BURST: refresh budget burst (default: 1)
//
// Example usage:
//
//	cfg, err := config.LoadFile(".env")
//	if err != nil {
//		log.Fatalf("load config: %v", err)
//	}
//	opts, err := cfg.Options()
//	if err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//	tc, err := gorawrcache.New(opts...)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	gorawrcache "github.com/Keksclan/goRawrCache"
	"github.com/Keksclan/goRawrCache/cache"
)

const envPrefix = "GORAWRCACHE_"

// Config holds the raw values read from the environment. Load does not
// parse them; Validate and Options do.
type Config struct {
	RedisURL  string
	KeyPrefix string

	LocalMaxEntries string
	LocalTTL        string

	RemoteMaxEntries     string
	RemoteTTL            string
	RemoteCommandTimeout string

	RefreshRPS   string
	RefreshBurst string
}

// Load reads the configuration from environment variables, falling back to
// the defaults for unset ones.
func Load() *Config {
	def := gorawrcache.DefaultSettings()
	return &Config{
		RedisURL:  getEnv("REDIS_URL", ""),
		KeyPrefix: getEnv("KEY_PREFIX", cache.DefaultKeyPrefix),

		LocalMaxEntries: getEnv("LOCAL_MAX_ENTRIES", strconv.Itoa(def.Local.MaxEntries)),
		LocalTTL:        getEnv("LOCAL_TTL", def.Local.TTL.String()),

		RemoteMaxEntries:     getEnv("REMOTE_MAX_ENTRIES", strconv.Itoa(def.Remote.MaxEntries)),
		RemoteTTL:            getEnv("REMOTE_TTL", def.Remote.TTL.String()),
		RemoteCommandTimeout: getEnv("REMOTE_COMMAND_TIMEOUT", def.Remote.CommandTimeout.String()),

		RefreshRPS:   getEnv("REFRESH_RPS", "0"),
		RefreshBurst: getEnv("REFRESH_BURST", "1"),
	}
}

// LoadFile loads path into the environment with godotenv, without overriding
// variables that are already set, and then calls Load. A missing file is not
// an error.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return Load(), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

type parsed struct {
	settings     gorawrcache.Settings
	refreshRPS   float64
	refreshBurst int
}

// Validate checks that every value parses and that the resulting settings
// satisfy the cache invariants.
func (c *Config) Validate() error {
	_, err := c.validated()
	return err
}

// Options converts the configuration into constructor options.
func (c *Config) Options() ([]gorawrcache.Option, error) {
	p, err := c.validated()
	if err != nil {
		return nil, err
	}
	return []gorawrcache.Option{
		gorawrcache.WithRedisURL(c.RedisURL),
		gorawrcache.WithKeyPrefix(c.KeyPrefix),
		gorawrcache.WithLocal(p.settings.Local),
		gorawrcache.WithRemote(p.settings.Remote),
		gorawrcache.WithRefreshBudget(p.refreshRPS, p.refreshBurst),
	}, nil
}

func (c *Config) validated() (parsed, error) {
	p, err := c.parse()
	if err != nil {
		return p, err
	}
	return p, checkSettings(p.settings)
}

func (c *Config) parse() (parsed, error) {
	var p parsed
	var err error

	if c.RedisURL == "" {
		return p, fmt.Errorf("%w: %sREDIS_URL environment variable is required", gorawrcache.ErrInvalidConfig, envPrefix)
	}
	if p.settings.Local.MaxEntries, err = positiveInt("LOCAL_MAX_ENTRIES", c.LocalMaxEntries); err != nil {
		return p, err
	}
	if p.settings.Local.TTL, err = duration("LOCAL_TTL", c.LocalTTL); err != nil {
		return p, err
	}
	if p.settings.Remote.MaxEntries, err = positiveInt("REMOTE_MAX_ENTRIES", c.RemoteMaxEntries); err != nil {
		return p, err
	}
	if p.settings.Remote.TTL, err = duration("REMOTE_TTL", c.RemoteTTL); err != nil {
		return p, err
	}
	if p.settings.Remote.CommandTimeout, err = duration("REMOTE_COMMAND_TIMEOUT", c.RemoteCommandTimeout); err != nil {
		return p, err
	}
	if p.refreshRPS, err = strconv.ParseFloat(c.RefreshRPS, 64); err != nil || p.refreshRPS < 0 {
		return p, fmt.Errorf("%w: %sREFRESH_RPS must be a non-negative number", gorawrcache.ErrInvalidConfig, envPrefix)
	}
	if p.refreshBurst, err = positiveInt("REFRESH_BURST", c.RefreshBurst); err != nil {
		return p, err
	}
	return p, nil
}

// checkSettings applies the constructor-layer invariants, so a bad
// environment fails here instead of in New.
func checkSettings(s gorawrcache.Settings) error {
	if s.Remote.TTL < s.Local.TTL {
		return fmt.Errorf("%w: %sREMOTE_TTL (%s) must be >= %sLOCAL_TTL (%s)",
			gorawrcache.ErrInvalidConfig, envPrefix, s.Remote.TTL, envPrefix, s.Local.TTL)
	}
	return nil
}

func positiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %s%s must be a positive number", gorawrcache.ErrInvalidConfig, envPrefix, key)
	}
	return n, nil
}

func duration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s%s must be a positive duration (e.g. '60s', '5m')", gorawrcache.ErrInvalidConfig, envPrefix, key)
	}
	return d, nil
}
