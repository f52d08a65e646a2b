package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/taxonsync/pkg/catalog"
	"github.com/agentstation/taxonsync/pkg/constants"
	"github.com/agentstation/taxonsync/pkg/errors"
)

const sample = `
store:
  type: sqlite
  path: /var/lib/taxonsync/catalog.db
platforms:
  - id: shopX
    type: rest
    base_url: https://shop.example.com/api
    api_key_env: SHOPX_TOKEN
  - id: sandbox
    type: memory
kinds:
  - kind: publisher
  - kind: imprint
    parents:
      - kind: publisher
        field: publisher
concurrency: 8
retry:
  max_attempts: 6
  base_delay: 250ms
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taxonsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(viper.New(), writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, StoreSQLite, cfg.Store.Type)
	assert.Equal(t, "/var/lib/taxonsync/catalog.db", cfg.Store.Path)
	require.Len(t, cfg.Platforms, 2)
	assert.Equal(t, "https://shop.example.com/api", cfg.Platforms[0].BaseURL)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, constants.DefaultPageSize, cfg.PageSize)
	assert.Equal(t, 6, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, constants.MaxRetryBackoff, cfg.Retry.MaxDelay)
	assert.NotEmpty(t, cfg.ConfigFile)

	specs, err := cfg.KindSpecs()
	require.NoError(t, err)
	assert.Equal(t, []catalog.KindSpec{
		{Kind: catalog.KindPublisher},
		{Kind: catalog.KindImprint, Parents: []catalog.ParentRef{{Kind: catalog.KindPublisher, Field: "publisher"}}},
	}, specs)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("TAXONSYNC_CONCURRENCY", "2")
	t.Setenv("TAXONSYNC_DRY_RUN", "true")
	t.Setenv("TAXONSYNC_RETRY_MAX_ATTEMPTS", "9")

	cfg, err := Load(viper.New(), writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 9, cfg.Retry.MaxAttempts)
}

func TestDefaultKinds(t *testing.T) {
	cfg, err := Load(viper.New(), writeConfig(t, "store:\n  path: ./data\n"))
	require.NoError(t, err)

	specs, err := cfg.KindSpecs()
	require.NoError(t, err)
	assert.Equal(t, catalog.DefaultKindSpecs(), specs)
	assert.Equal(t, StoreYAML, cfg.Store.Type)
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	var cfgErr *errors.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Store:     StoreConfig{Type: StoreYAML, Path: "data"},
			Platforms: []PlatformConfig{{ID: "shopX", Type: PlatformREST, BaseURL: "http://localhost"}},
			Retry:     RetryConfig{MaxAttempts: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad store", func(c *Config) { c.Store.Type = "postgres" }, "store.type"},
		{"no path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"no id", func(c *Config) { c.Platforms[0].ID = "" }, "platforms"},
		{"duplicate", func(c *Config) { c.Platforms = append(c.Platforms, c.Platforms[0]) }, "duplicate"},
		{"rest without url", func(c *Config) { c.Platforms[0].BaseURL = "" }, "base_url"},
		{"unknown type", func(c *Config) { c.Platforms[0].Type = "ftp" }, "unknown type"},
		{"unknown kind", func(c *Config) { c.Kinds = []KindConfig{{Kind: "widget"}} }, "kinds"},
		{"child first", func(c *Config) {
			c.Kinds = []KindConfig{
				{Kind: "imprint", Parents: []ParentConfig{{Kind: "publisher", Field: "publisher"}}},
				{Kind: "publisher"},
			}
		}, "kinds"},
		{"bad retry", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAPIKey(t *testing.T) {
	v := viper.New()
	p := PlatformConfig{ID: "shopX", APIKeyEnv: "TAXONSYNC_TEST_SHOPX_TOKEN"}

	_, err := APIKey(v, p)
	assert.Error(t, err)

	t.Setenv("TAXONSYNC_TEST_SHOPX_TOKEN", "secret")
	key, err := APIKey(v, p)
	require.NoError(t, err)
	assert.Equal(t, "secret", key)

	key, err = APIKey(v, PlatformConfig{ID: "open"})
	require.NoError(t, err)
	assert.Empty(t, key)
}
