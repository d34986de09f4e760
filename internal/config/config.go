// Package config loads engine configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/papersift/llm-engine/pkg/engine"
	"github.com/papersift/llm-engine/pkg/logging"
	"github.com/papersift/llm-engine/pkg/pool"
)

const (
	apiKeysEnv   = "LLM_ENGINE_API_KEYS" // comma-separated key[:label] pairs
	redisAddrEnv = "LLM_ENGINE_REDIS_ADDR"
)

// Config holds all settings the CLI needs to run the engine.
type Config struct {
	Logging     LoggingConfig      `yaml:"logging"`
	Redis       RedisConfig        `yaml:"redis"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Credentials []CredentialConfig `yaml:"credentials"`
	Models      []ModelConfig      `yaml:"models"`
	Defaults    DefaultsConfig     `yaml:"defaults"`
}

// LoggingConfig configures the zerolog setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Duration decodes YAML strings like "30s" or "1h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// RedisConfig enables the verdict cache when Addr is set.
type RedisConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	TTL      Duration `yaml:"ttl"`
}

// MetricsConfig exposes the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// CredentialConfig is one API key with a display label.
type CredentialConfig struct {
	Key   string `yaml:"key"`
	Label string `yaml:"label"`
}

// ModelConfig overrides the built-in model tier table.
type ModelConfig struct {
	Name              string   `yaml:"name"`
	Tier              int      `yaml:"tier"`
	DailyRequestLimit int64    `yaml:"dailyRequestLimit"`
	Fallback          []string `yaml:"fallback"`
}

// DefaultsConfig seeds engine requests.
type DefaultsConfig struct {
	Model                string   `yaml:"model"`
	BatchSize            int      `yaml:"batchSize"`
	MaxConcurrentBatches int      `yaml:"maxConcurrentBatches"`
	RetryAttempts        int      `yaml:"retryAttempts"`
	Timeout              Duration `yaml:"timeout"`
	FallbackStrategy     string   `yaml:"fallbackStrategy"`
	MinQuotaPct          float64  `yaml:"minQuotaPct"`
}

// Load reads the YAML file at path (optional) and applies environment
// overrides. Validation failures are returned, not defaulted away.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(apiKeysEnv); v != "" {
		c.Credentials = nil
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			key, label, _ := strings.Cut(part, ":")
			c.Credentials = append(c.Credentials, CredentialConfig{Key: key, Label: label})
		}
	}
	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Redis.Addr = v
	}
}

func (c *Config) validate() error {
	if len(c.Credentials) == 0 {
		return fmt.Errorf("config: %w", pool.ErrFatalConfig)
	}
	for i, cred := range c.Credentials {
		if cred.Key == "" {
			return fmt.Errorf("config: credential %d has no key", i)
		}
	}
	switch engine.FallbackStrategy(c.Defaults.FallbackStrategy) {
	case engine.FallbackRuleBased, engine.FallbackPromptUser, engine.FallbackFail:
	default:
		return fmt.Errorf("config: unknown fallback strategy %q", c.Defaults.FallbackStrategy)
	}
	return nil
}

// PoolCredentials converts configured credentials to pool values.
func (c *Config) PoolCredentials() []pool.Credential {
	creds := make([]pool.Credential, 0, len(c.Credentials))
	for _, cc := range c.Credentials {
		creds = append(creds, pool.Credential{Key: cc.Key, Label: cc.Label})
	}
	return creds
}

// PoolModels converts configured models to pool profiles; nil means use the
// built-in table.
func (c *Config) PoolModels() []pool.ModelProfile {
	if len(c.Models) == 0 {
		return nil
	}
	models := make([]pool.ModelProfile, 0, len(c.Models))
	for _, mc := range c.Models {
		models = append(models, pool.ModelProfile{
			Name:              mc.Name,
			Tier:              mc.Tier,
			DailyRequestLimit: mc.DailyRequestLimit,
			Fallback:          mc.Fallback,
		})
	}
	return models
}

// LoggingSetup converts the logging section to a logging.Config.
func (c *Config) LoggingSetup() logging.Config {
	cfg := logging.DefaultConfig()
	if c.Logging.Level != "" {
		cfg.Level = logging.LogLevel(c.Logging.Level)
	}
	cfg.Pretty = c.Logging.Pretty
	return cfg
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
		Defaults: DefaultsConfig{
			Model:                engine.ModelAuto,
			BatchSize:            engine.DefaultBatchSize,
			MaxConcurrentBatches: engine.DefaultMaxConcurrentBatches,
			RetryAttempts:        engine.DefaultRetryAttempts,
			Timeout:              Duration(engine.DefaultCallTimeout),
			FallbackStrategy:     string(engine.FallbackRuleBased),
		},
	}
}
