package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var managedEnv = []string{
	"HOST", "PORT", "PUBLIC_DIR", "CORS_ORIGINS",
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "OPENAI_MAX_RETRIES", "OPENAI_TIMEOUT",
	"DEFAULT_MODEL", "ALLOWED_MODELS", "SYSTEM_PROMPT", "HEARTBEAT_INTERVAL",
	"CONTEXT_SOURCE", "CONTEXT_TIMEOUT", "CONTEXT_MAX_SNIPPETS",
	"CATALOG_DB_PATH", "CATALOG_SITEMAP_URL", "CATALOG_WORKERS", "CATALOG_MAX_PAGES", "CATALOG_REFRESH_INTERVAL",
	"SEARCH_API_URL", "SEARCH_API_KEY", "SEARCH_ENGINE_ID", "SEARCH_CACHE_SIZE",
	"LOG_LEVEL", "LOG_FORMAT", "LOG_REPORT_CALLER",
	"CIRCUIT_BREAKER_ENABLED", "CIRCUIT_BREAKER_FAILURE_THRESHOLD", "CIRCUIT_BREAKER_TIMEOUT", "CIRCUIT_BREAKER_MAX_REQUESTS",
	"OTEL_EXPORTER_URL", "OTEL_SERVICE_NAME",
}

// clearEnv blanks every variable the loader reads; empty values are ignored.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range managedEnv {
		t.Setenv(key, "")
	}
}

func missingFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.yaml")
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "test-api-key")

	config, err := LoadYAML(missingFile(t))
	require.NoError(t, err)

	assert.Equal(t, "3000", config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, "0.0.0.0:3000", config.Address())
	assert.Equal(t, "public", config.Server.PublicDir)
	assert.Equal(t, []string{"*"}, config.Server.CorsOrigins)
	assert.Equal(t, "test-api-key", config.LLMProvider.APIKey)
	assert.Equal(t, "https://api.openai.com/v1", config.LLMProvider.BaseURL)
	assert.Equal(t, "gpt-4.1-mini", config.Chat.DefaultModel)
	assert.Empty(t, config.Chat.AllowedModels)
	assert.Equal(t, 15*time.Second, config.Relay.HeartbeatInterval)
	assert.Equal(t, ContextSourceNone, config.Context.Source)
	assert.False(t, config.CatalogEnabled())
	assert.Equal(t, "info", config.Logging.Level)
	assert.True(t, config.CircuitBreaker.Enabled)
	assert.Empty(t, config.Telemetry.ExporterURL)
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	envVars := map[string]string{
		"PORT":               "8080",
		"HOST":               "localhost",
		"OPENAI_API_KEY":     "custom-api-key",
		"OPENAI_BASE_URL":    "https://proxy.example.com/v1",
		"DEFAULT_MODEL":      "gpt-4o",
		"ALLOWED_MODELS":     "gpt-4o, gpt-4o-mini,   ,o3-mini",
		"SYSTEM_PROMPT":      "You are a helpful shop assistant.",
		"HEARTBEAT_INTERVAL": "5s",
		"LOG_LEVEL":          "debug",
		"CORS_ORIGINS":       "https://example.com, https://test.com",
		"CONTEXT_SOURCE":     "Catalog",
		"CATALOG_DB_PATH":    "/tmp/catalog.db",
		"CATALOG_WORKERS":    "8",
		"OTEL_EXPORTER_URL":  "localhost:4318",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	config, err := LoadYAML(missingFile(t))
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", config.Address())
	assert.Equal(t, "custom-api-key", config.LLMProvider.APIKey)
	assert.Equal(t, "https://proxy.example.com/v1", config.LLMProvider.BaseURL)
	assert.Equal(t, "gpt-4o", config.Chat.DefaultModel)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini", "o3-mini"}, config.Chat.AllowedModels)
	assert.Equal(t, "You are a helpful shop assistant.", config.Chat.SystemPrompt)
	assert.Equal(t, 5*time.Second, config.Relay.HeartbeatInterval)
	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, []string{"https://example.com", "https://test.com"}, config.Server.CorsOrigins)
	assert.True(t, config.CatalogEnabled())
	assert.Equal(t, "/tmp/catalog.db", config.Catalog.DBPath)
	assert.Equal(t, 8, config.Catalog.Workers)
	assert.Equal(t, "localhost:4318", config.Telemetry.ExporterURL)
}

func TestLoad_InvalidNumbersKeepDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "k")
	t.Setenv("HEARTBEAT_INTERVAL", "often")
	t.Setenv("CATALOG_WORKERS", "many")

	config, err := LoadYAML(missingFile(t))
	require.NoError(t, err)

	assert.Equal(t, 15*time.Second, config.Relay.HeartbeatInterval)
	assert.Equal(t, 4, config.Catalog.Workers)
}

func TestLoad_FromYAMLFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_OPENAI_KEY", "from-env")
	t.Setenv("PORT", "9000")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
server:
  port: "4000"
llm_provider:
  api_key: ${TEST_OPENAI_KEY}
chat:
  default_model: gpt-4o-mini
  allowed_models: [gpt-4o-mini, gpt-4o]
relay:
  heartbeat_interval: 20s
context:
  source: search
search:
  api_key: search-key
  engine_id: cx-123
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))

	config, err := LoadYAML(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", config.LLMProvider.APIKey)
	assert.Equal(t, "9000", config.Server.Port, "environment overrides the file")
	assert.Equal(t, "0.0.0.0", config.Server.Host, "unset keys keep defaults")
	assert.Equal(t, "gpt-4o-mini", config.Chat.DefaultModel)
	assert.Equal(t, []string{"gpt-4o-mini", "gpt-4o"}, config.Chat.AllowedModels)
	assert.Equal(t, 20*time.Second, config.Relay.HeartbeatInterval)
	assert.Equal(t, ContextSourceSearch, config.Context.Source)
	assert.Equal(t, "cx-123", config.Search.EngineID)
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))

	_, err := LoadYAML(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.LLMProvider.APIKey = "" },
			wantErr: "OPENAI_API_KEY is required",
		},
		{
			name:    "empty default model",
			mutate:  func(c *Config) { c.Chat.DefaultModel = "" },
			wantErr: "DEFAULT_MODEL must not be empty",
		},
		{
			name:    "negative heartbeat",
			mutate:  func(c *Config) { c.Relay.HeartbeatInterval = -time.Second },
			wantErr: "HEARTBEAT_INTERVAL must not be negative",
		},
		{
			name:    "unknown context source",
			mutate:  func(c *Config) { c.Context.Source = "vector" },
			wantErr: "CONTEXT_SOURCE must be one of",
		},
		{
			name:    "search without credentials",
			mutate:  func(c *Config) { c.Context.Source = ContextSourceSearch },
			wantErr: "SEARCH_API_KEY and SEARCH_ENGINE_ID are required",
		},
		{
			name: "catalog without path",
			mutate: func(c *Config) {
				c.Context.Source = ContextSourceCatalog
				c.Catalog.DBPath = ""
			},
			wantErr: "CATALOG_DB_PATH is required",
		},
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:   "zero heartbeat disables pings",
			mutate: func(c *Config) { c.Relay.HeartbeatInterval = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := getDefaultConfig()
			config.LLMProvider.APIKey = "k"
			tt.mutate(config)

			err := validateConfig(config)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b ,"))
	assert.Empty(t, splitList(" , "))
}
