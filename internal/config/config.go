// Package config loads taxonsync settings from flags, the environment, .env
// files and a YAML config file.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/constants"
	"github.com/agentstation/taxonsync/pkg/errors"
	"github.com/agentstation/taxonsync/pkg/logging"
	"github.com/agentstation/taxonsync/pkg/retry"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TAXONSYNC"

// Store types.
const (
	StoreYAML   = "yaml"
	StoreSQLite = "sqlite"
)

// Platform types.
const (
	PlatformREST   = "rest"
	PlatformMemory = "memory"
)

// Config is the complete taxonsync configuration.
type Config struct {
	Store          StoreConfig      `mapstructure:"store"`
	Platforms      []PlatformConfig `mapstructure:"platforms"`
	Kinds          []KindConfig     `mapstructure:"kinds"`
	Concurrency    int              `mapstructure:"concurrency"`
	PageSize       int              `mapstructure:"page_size"`
	MaxRelocations int              `mapstructure:"max_relocations"`
	DryRun         bool             `mapstructure:"dry_run"`
	Timeout        time.Duration    `mapstructure:"timeout"`
	Retry          RetryConfig      `mapstructure:"retry"`
	MetricsAddr    string           `mapstructure:"metrics_addr"`
	Log            LogConfig        `mapstructure:"log"`

	// ConfigFile is the file settings were read from, if any.
	ConfigFile string `mapstructure:"-"`
}

// StoreConfig selects the source of truth.
type StoreConfig struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"`
}

// PlatformConfig describes one target platform.
type PlatformConfig struct {
	ID         string        `mapstructure:"id"`
	Type       string        `mapstructure:"type"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKeyEnv  string        `mapstructure:"api_key_env"`
	AuthHeader string        `mapstructure:"auth_header"`
	AuthScheme string        `mapstructure:"auth_scheme"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// KindConfig is one kind of a run, in dependency order.
type KindConfig struct {
	Kind    string         `mapstructure:"kind"`
	Parents []ParentConfig `mapstructure:"parents"`
}

// ParentConfig names the attribute holding a parent's internal id.
type ParentConfig struct {
	Kind  string `mapstructure:"kind"`
	Field string `mapstructure:"field"`
}

// RetryConfig mirrors retry.Policy.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Jitter         float64       `mapstructure:"jitter"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load reads configuration in order of precedence:
//  1. Flags bound to v by the caller
//  2. Environment variables (TAXONSYNC_*)
//  3. .env and .env.local
//  4. Config file (configFile, or ~/.taxonsync.yaml, or ./.taxonsync.yaml)
//  5. Defaults
func Load(v *viper.Viper, configFile string) (*Config, error) {
	loadEnvFiles()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(constants.DefaultConfigName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.NewConfigError("file", "cannot read config", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.NewConfigError("file", "cannot decode config", err)
	}
	cfg.ConfigFile = v.ConfigFileUsed()
	cfg.Store.Path = expandHome(cfg.Store.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.type", StoreYAML)
	v.SetDefault("store.path", constants.DefaultStorePath)
	v.SetDefault("concurrency", constants.DefaultConcurrency)
	v.SetDefault("page_size", constants.DefaultPageSize)
	v.SetDefault("max_relocations", constants.DefaultMaxRelocations)
	v.SetDefault("dry_run", false)
	v.SetDefault("timeout", constants.SyncTimeout)
	v.SetDefault("metrics_addr", "")

	policy := retry.DefaultPolicy()
	v.SetDefault("retry.max_attempts", policy.MaxAttempts)
	v.SetDefault("retry.base_delay", policy.BaseDelay)
	v.SetDefault("retry.max_delay", policy.MaxDelay)
	v.SetDefault("retry.jitter", policy.Jitter)
	v.SetDefault("retry.attempt_timeout", policy.AttemptTimeout)

	// The unprefixed LOG_* variables are shared with the logging package.
	logEnv := logging.FromEnv()
	v.SetDefault("log.level", logEnv.Level)
	v.SetDefault("log.format", logEnv.Format)
	v.SetDefault("log.output", logEnv.Output)
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case StoreYAML, StoreSQLite:
	default:
		return errors.NewConfigError("store.type", "must be yaml or sqlite, got "+c.Store.Type, nil)
	}
	if c.Store.Path == "" {
		return errors.NewConfigError("store.path", "is required", nil)
	}

	seen := make(map[string]bool, len(c.Platforms))
	for _, p := range c.Platforms {
		if p.ID == "" {
			return errors.NewConfigError("platforms", "every platform needs an id", nil)
		}
		if seen[p.ID] {
			return errors.NewConfigError("platforms", "duplicate platform "+p.ID, nil)
		}
		seen[p.ID] = true

		switch p.Type {
		case PlatformREST:
			if p.BaseURL == "" {
				return errors.NewConfigError("platforms", p.ID+": rest platforms need a base_url", nil)
			}
		case PlatformMemory:
		default:
			return errors.NewConfigError("platforms", p.ID+": unknown type "+p.Type, nil)
		}
	}

	if _, err := c.KindSpecs(); err != nil {
		return errors.NewConfigError("kinds", err.Error(), err)
	}
	if err := c.Retry.Policy().Validate(); err != nil {
		return errors.NewConfigError("retry", err.Error(), err)
	}
	return nil
}

// KindSpecs returns the configured kinds, or the default hierarchy when none
// are configured.
func (c *Config) KindSpecs() ([]catalog.KindSpec, error) {
	if len(c.Kinds) == 0 {
		return catalog.DefaultKindSpecs(), nil
	}

	specs := make([]catalog.KindSpec, 0, len(c.Kinds))
	for _, k := range c.Kinds {
		kind, err := catalog.ParseKind(k.Kind)
		if err != nil {
			return nil, err
		}
		spec := catalog.KindSpec{Kind: kind}
		for _, p := range k.Parents {
			parent, err := catalog.ParseKind(p.Kind)
			if err != nil {
				return nil, err
			}
			spec.Parents = append(spec.Parents, catalog.ParentRef{Kind: parent, Field: p.Field})
		}
		specs = append(specs, spec)
	}
	if err := catalog.ValidateOrder(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// Policy converts the retry settings.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    r.MaxAttempts,
		BaseDelay:      r.BaseDelay,
		MaxDelay:       r.MaxDelay,
		Jitter:         r.Jitter,
		AttemptTimeout: r.AttemptTimeout,
	}
}

// loadEnvFiles loads .env files; .env.local overrides .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
