// Package config loads toolgate settings from defaults, an optional YAML file,
// TOOLGATE_* environment variables and bound command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/toolgate/pkg/dedup"
	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/aretw0/toolgate/pkg/loopguard"
	"github.com/aretw0/toolgate/pkg/retry"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. TOOLGATE_STORE_DRIVER.
const EnvPrefix = "TOOLGATE"

// Store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverFile   = "file"
)

// Config stores all configuration of the application.
type Config struct {
	LogLevel string           `mapstructure:"log_level"`
	Handlers string           `mapstructure:"handlers"` // process handler file, see pkg/adapters/process
	Build    BuildConfig      `mapstructure:"build"`
	Dispatch DispatchConfig   `mapstructure:"dispatch"`
	Retry    retry.Policy     `mapstructure:"retry"`
	Dedup    dedup.Config     `mapstructure:"dedup"`
	Loop     loopguard.Config `mapstructure:"loop"`
	Store    StoreConfig      `mapstructure:"store"`
	Admin    AdminConfig      `mapstructure:"admin"`
	MCP      MCPConfig        `mapstructure:"mcp"`
}

// BuildConfig drives the schema compiler.
type BuildConfig struct {
	Dir       string   `mapstructure:"dir"`
	Out       string   `mapstructure:"out"`
	Providers []string `mapstructure:"providers"`
	Major     int      `mapstructure:"major"`
	Revision  string   `mapstructure:"revision"`
}

// DispatchConfig holds the per-call policy.
type DispatchConfig struct {
	MaxCallsPerTurn int    `mapstructure:"max_calls_per_turn"`
	DefaultMode     string `mapstructure:"default_mode"`
}

// RedisConfig stores redis connection details.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
	Lock     bool          `mapstructure:"lock"` // serialize sessions across processes
}

// EncryptionConfig seals snapshots at rest. Keys are base64 encoded 32 byte
// AES keys; an empty Key disables encryption.
type EncryptionConfig struct {
	Key          string   `mapstructure:"key"`
	FallbackKeys []string `mapstructure:"fallback_keys"`
}

// StoreConfig selects where ended sessions are snapshotted.
type StoreConfig struct {
	Driver     string           `mapstructure:"driver"`
	Path       string           `mapstructure:"path"` // file driver
	Redis      RedisConfig      `mapstructure:"redis"`
	Mask       []string         `mapstructure:"mask"` // key patterns masked before saving
	Encryption EncryptionConfig `mapstructure:"encryption"`
}

// AdminConfig configures the read-only admin HTTP surface. An empty Addr disables it.
type AdminConfig struct {
	Addr string `mapstructure:"addr"`
}

// MCPConfig configures the MCP transport.
type MCPConfig struct {
	Transport string        `mapstructure:"transport"` // stdio or sse
	Addr      string        `mapstructure:"addr"`
	BaseURL   string        `mapstructure:"base_url"`
	TurnGap   time.Duration `mapstructure:"turn_gap"`
	Mode      string        `mapstructure:"mode"`
}

// New returns a viper instance with every default set and environment
// overrides enabled. Callers may bind flags to it before Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("handlers", "handlers.yaml")

	v.SetDefault("build.dir", "tools")
	v.SetDefault("build.out", "dist/registry.json")
	v.SetDefault("build.providers", []string{"gemini", "openai", "anthropic"})
	v.SetDefault("build.major", 1)
	v.SetDefault("build.revision", "")

	v.SetDefault("dispatch.max_calls_per_turn", 8)
	v.SetDefault("dispatch.default_mode", domain.ModeInteractive)

	p := retry.DefaultPolicy()
	v.SetDefault("retry.max_attempts", p.MaxAttempts)
	v.SetDefault("retry.base.initial", p.Base.Initial)
	v.SetDefault("retry.base.max", p.Base.Max)
	v.SetDefault("retry.base.multiplier", p.Base.Multiplier)
	v.SetDefault("retry.base.jitter", p.Base.Jitter)
	v.SetDefault("retry.unavailable.initial", p.Unavailable.Initial)
	v.SetDefault("retry.unavailable.max", p.Unavailable.Max)
	v.SetDefault("retry.unavailable.multiplier", p.Unavailable.Multiplier)
	v.SetDefault("retry.unavailable.jitter", p.Unavailable.Jitter)
	v.SetDefault("retry.low_latency_modes", p.LowLatencyModes)

	d := dedup.DefaultConfig()
	v.SetDefault("dedup.threshold", d.Threshold)
	v.SetDefault("dedup.window_turns", d.WindowTurns)
	v.SetDefault("dedup.ttl", d.TTL)
	v.SetDefault("dedup.max_records", d.MaxRecords)
	v.SetDefault("dedup.summarize_above", d.SummarizeAbove)
	v.SetDefault("dedup.workers", d.Workers)

	l := loopguard.DefaultConfig()
	v.SetDefault("loop.same_call_limit", l.SameCallLimit)
	v.SetDefault("loop.empty_result_limit", l.EmptyResultLimit)
	v.SetDefault("loop.window_turns", l.WindowTurns)

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.path", ".toolgate/sessions")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "toolgate:session:")
	v.SetDefault("store.redis.ttl", 24*time.Hour)
	v.SetDefault("store.redis.lock", false)
	v.SetDefault("store.mask", []string{})
	v.SetDefault("store.encryption.key", "")
	v.SetDefault("store.encryption.fallback_keys", []string{})

	v.SetDefault("admin.addr", "")

	v.SetDefault("mcp.transport", "stdio")
	v.SetDefault("mcp.addr", ":8080")
	v.SetDefault("mcp.base_url", "http://localhost:8080")
	v.SetDefault("mcp.turn_gap", 5*time.Second)
	v.SetDefault("mcp.mode", domain.ModeInteractive)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path into v, if path is set, and decodes the result.
// Without a path, toolgate.yaml in the working directory is used when present.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("toolgate")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the runtime cannot honor.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMemory, DriverRedis, DriverFile:
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if !domain.ValidMode(c.Dispatch.DefaultMode) {
		errs = append(errs, fmt.Errorf("dispatch.default_mode: unknown mode %q", c.Dispatch.DefaultMode))
	}
	if !domain.ValidMode(c.MCP.Mode) {
		errs = append(errs, fmt.Errorf("mcp.mode: unknown mode %q", c.MCP.Mode))
	}
	for _, m := range c.Retry.LowLatencyModes {
		if !domain.ValidMode(m) {
			errs = append(errs, fmt.Errorf("retry.low_latency_modes: unknown mode %q", m))
		}
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1"))
	}
	if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1 {
		errs = append(errs, fmt.Errorf("dedup.threshold must be in (0, 1]"))
	}
	switch c.MCP.Transport {
	case "stdio", "sse":
	default:
		errs = append(errs, fmt.Errorf("mcp.transport: unknown transport %q", c.MCP.Transport))
	}
	return errors.Join(errs...)
}
