package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Context source kinds.
const (
	ContextSourceNone    = "none"
	ContextSourceCatalog = "catalog"
	ContextSourceSearch  = "search"
)

// Config represents the complete application configuration
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	LLMProvider    LLMProviderConfig    `yaml:"llm_provider"`
	Chat           ChatConfig           `yaml:"chat"`
	Relay          RelayConfig          `yaml:"relay"`
	Context        ContextConfig        `yaml:"context"`
	Catalog        CatalogConfig        `yaml:"catalog"`
	Search         SearchConfig         `yaml:"search"`
	Logging        LoggingConfig        `yaml:"logging"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	PublicDir       string        `yaml:"public_dir"`
	CorsOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LLMProviderConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

type ChatConfig struct {
	DefaultModel  string   `yaml:"default_model"`
	AllowedModels []string `yaml:"allowed_models"`
	SystemPrompt  string   `yaml:"system_prompt"`
}

type RelayConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

type ContextConfig struct {
	Source      string        `yaml:"source"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxSnippets int           `yaml:"max_snippets"`
}

type CatalogConfig struct {
	DBPath          string        `yaml:"db_path"`
	SitemapURL      string        `yaml:"sitemap_url"`
	Workers         int           `yaml:"workers"`
	MaxPages        int           `yaml:"max_pages"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	UserAgent       string        `yaml:"user_agent"`
}

type SearchConfig struct {
	APIURL    string        `yaml:"api_url"`
	APIKey    string        `yaml:"api_key"`
	EngineID  string        `yaml:"engine_id"`
	CacheSize int           `yaml:"cache_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	ReportCaller bool   `yaml:"report_caller"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRequests      uint32        `yaml:"max_requests"`
}

type TelemetryConfig struct {
	ExporterURL string `yaml:"exporter_url"`
	ServiceName string `yaml:"service_name"`
}

// LoadYAML loads configuration from YAML file with environment variable overrides.
// A .env file in the working directory, when present, is loaded first.
func LoadYAML(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logrus.WithError(err).Warn("Failed to load .env file")
	}

	if configPath == "" {
		configPath = "config.yaml"
	}

	config := getDefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		yamlFile, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Expand environment variables in YAML content
		expandedYAML := os.ExpandEnv(string(yamlFile))

		if err := yaml.Unmarshal([]byte(expandedYAML), config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		logrus.WithField("config_file", configPath).Info("Loaded configuration from YAML file")
	} else {
		logrus.WithField("config_file", configPath).Warn("Config file not found, using defaults and environment variables")
	}

	config = applyEnvironmentOverrides(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// getDefaultConfig returns a configuration with sensible defaults
func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "3000",
			PublicDir:       "public",
			CorsOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		LLMProvider: LLMProviderConfig{
			BaseURL:    "https://api.openai.com/v1",
			MaxRetries: 2,
			Timeout:    60 * time.Second,
		},
		Chat: ChatConfig{
			DefaultModel: "gpt-4.1-mini",
		},
		Relay: RelayConfig{
			HeartbeatInterval: 15 * time.Second,
		},
		Context: ContextConfig{
			Source:      ContextSourceNone,
			Timeout:     5 * time.Second,
			MaxSnippets: 5,
		},
		Catalog: CatalogConfig{
			DBPath:          "catalog.db",
			Workers:         4,
			MaxPages:        500,
			RefreshInterval: 24 * time.Hour,
			UserAgent:       "chat-relay-catalog/1.0",
		},
		Search: SearchConfig{
			APIURL:    "https://www.googleapis.com/customsearch/v1",
			CacheSize: 256,
			Timeout:   5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "auto",
			ReportCaller: false,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			Timeout:          60 * time.Second,
			MaxRequests:      3,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "chat-relay",
		},
	}
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyEnvironmentOverrides applies environment variable overrides to config
func applyEnvironmentOverrides(config *Config) *Config {
	// Server overrides
	if val := os.Getenv("HOST"); val != "" {
		config.Server.Host = val
	}
	if val := os.Getenv("PORT"); val != "" {
		config.Server.Port = val
	}
	if val := os.Getenv("PUBLIC_DIR"); val != "" {
		config.Server.PublicDir = val
	}
	if val := os.Getenv("CORS_ORIGINS"); val != "" {
		config.Server.CorsOrigins = splitList(val)
	}

	// LLM provider overrides
	if val := os.Getenv("OPENAI_API_KEY"); val != "" {
		config.LLMProvider.APIKey = val
	}
	if val := os.Getenv("OPENAI_BASE_URL"); val != "" {
		config.LLMProvider.BaseURL = val
	}
	if val := os.Getenv("OPENAI_MAX_RETRIES"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.LLMProvider.MaxRetries = i
		}
	}
	if val := os.Getenv("OPENAI_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.LLMProvider.Timeout = d
		}
	}

	// Chat overrides
	if val := os.Getenv("DEFAULT_MODEL"); val != "" {
		config.Chat.DefaultModel = val
	}
	if val := os.Getenv("ALLOWED_MODELS"); val != "" {
		config.Chat.AllowedModels = splitList(val)
	}
	if val := os.Getenv("SYSTEM_PROMPT"); val != "" {
		config.Chat.SystemPrompt = val
	}

	// Relay overrides
	if val := os.Getenv("HEARTBEAT_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.Relay.HeartbeatInterval = d
		}
	}

	// Context overrides
	if val := os.Getenv("CONTEXT_SOURCE"); val != "" {
		config.Context.Source = strings.ToLower(val)
	}
	if val := os.Getenv("CONTEXT_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.Context.Timeout = d
		}
	}
	if val := os.Getenv("CONTEXT_MAX_SNIPPETS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Context.MaxSnippets = i
		}
	}

	// Catalog overrides
	if val := os.Getenv("CATALOG_DB_PATH"); val != "" {
		config.Catalog.DBPath = val
	}
	if val := os.Getenv("CATALOG_SITEMAP_URL"); val != "" {
		config.Catalog.SitemapURL = val
	}
	if val := os.Getenv("CATALOG_WORKERS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Catalog.Workers = i
		}
	}
	if val := os.Getenv("CATALOG_MAX_PAGES"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Catalog.MaxPages = i
		}
	}
	if val := os.Getenv("CATALOG_REFRESH_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.Catalog.RefreshInterval = d
		}
	}

	// Search overrides
	if val := os.Getenv("SEARCH_API_URL"); val != "" {
		config.Search.APIURL = val
	}
	if val := os.Getenv("SEARCH_API_KEY"); val != "" {
		config.Search.APIKey = val
	}
	if val := os.Getenv("SEARCH_ENGINE_ID"); val != "" {
		config.Search.EngineID = val
	}
	if val := os.Getenv("SEARCH_CACHE_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			config.Search.CacheSize = i
		}
	}

	// Logging overrides
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("LOG_REPORT_CALLER"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.Logging.ReportCaller = b
		}
	}

	// Circuit breaker overrides
	if val := os.Getenv("CIRCUIT_BREAKER_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			config.CircuitBreaker.Enabled = b
		}
	}
	if val := os.Getenv("CIRCUIT_BREAKER_FAILURE_THRESHOLD"); val != "" {
		if i, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.CircuitBreaker.FailureThreshold = uint32(i)
		}
	}
	if val := os.Getenv("CIRCUIT_BREAKER_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.CircuitBreaker.Timeout = d
		}
	}
	if val := os.Getenv("CIRCUIT_BREAKER_MAX_REQUESTS"); val != "" {
		if i, err := strconv.ParseUint(val, 10, 32); err == nil {
			config.CircuitBreaker.MaxRequests = uint32(i)
		}
	}

	// Telemetry overrides
	if val := os.Getenv("OTEL_EXPORTER_URL"); val != "" {
		config.Telemetry.ExporterURL = val
	}
	if val := os.Getenv("OTEL_SERVICE_NAME"); val != "" {
		config.Telemetry.ServiceName = val
	}

	return config
}

// validateConfig validates the configuration and returns errors for invalid values
func validateConfig(config *Config) error {
	var errors []string

	if config.LLMProvider.APIKey == "" {
		errors = append(errors, "OPENAI_API_KEY is required")
	}

	if config.Chat.DefaultModel == "" {
		errors = append(errors, "DEFAULT_MODEL must not be empty")
	}

	if config.Relay.HeartbeatInterval < 0 {
		errors = append(errors, fmt.Sprintf("HEARTBEAT_INTERVAL must not be negative (current: %s)", config.Relay.HeartbeatInterval))
	}

	switch config.Context.Source {
	case "", ContextSourceNone, ContextSourceCatalog:
	case ContextSourceSearch:
		if config.Search.APIKey == "" || config.Search.EngineID == "" {
			errors = append(errors, "SEARCH_API_KEY and SEARCH_ENGINE_ID are required when CONTEXT_SOURCE=search")
		}
	default:
		errors = append(errors, fmt.Sprintf("CONTEXT_SOURCE must be one of none, catalog, search (current: %s)", config.Context.Source))
	}

	if config.Context.Source == ContextSourceCatalog && config.Catalog.DBPath == "" {
		errors = append(errors, "CATALOG_DB_PATH is required when CONTEXT_SOURCE=catalog")
	}

	// The default model is always usable, even if the list omits it.
	if len(config.Chat.AllowedModels) > 0 && !contains(config.Chat.AllowedModels, config.Chat.DefaultModel) {
		logrus.WithField("model", config.Chat.DefaultModel).Warn("Default model is not in the allowed list")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Address returns the listen address.
func (c *Config) Address() string {
	return c.Server.Host + ":" + c.Server.Port
}

// CatalogEnabled reports whether the catalog store is opened at startup.
func (c *Config) CatalogEnabled() bool {
	return c.Context.Source == ContextSourceCatalog
}

// Load reads config.yaml from the working directory.
func Load() (*Config, error) {
	return LoadYAML("")
}
