// Package config loads gateway configuration from the environment,
// with an optional YAML overlay for the settings that do not map
// cleanly onto flat variables (selection weights, task overrides).
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/switchboard-ai/switchboard/manager"
	"github.com/switchboard-ai/switchboard/providers"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Providers     ProvidersConfig
	Resilience    providers.Config
	Selection     SelectionConfig
	Observability ObservabilityConfig
	Gateway       GatewayConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// ProvidersConfig holds vendor credentials loaded at startup. Providers
// can also be registered at runtime through the management API.
type ProvidersConfig struct {
	OpenAI OpenAIConfig
}

// OpenAIConfig holds OpenAI provider configuration
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	OrgID   string
}

// SelectionConfig holds provider-selection tuning. Weights and task
// overrides come from the YAML overlay; the strategy name may also be
// set via SELECTION_STRATEGY.
type SelectionConfig struct {
	Strategy      string            `yaml:"strategy"`
	Weights       manager.Weights   `yaml:"weights"`
	TaskOverrides map[string]string `yaml:"task_overrides"`
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// GatewayConfig holds settings for the inbound HTTP surface.
type GatewayConfig struct {
	InboundRPS   float64
	InboundBurst int
	CORSOrigins  []string
}

// overlay is the YAML shape accepted via SWITCHBOARD_CONFIG.
type overlay struct {
	Selection SelectionConfig `yaml:"selection"`
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Providers: ProvidersConfig{
			OpenAI: OpenAIConfig{
				APIKey:  getEnv("OPENAI_API_KEY", ""),
				BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				OrgID:   getEnv("OPENAI_ORG_ID", ""),
			},
		},
		Resilience: providers.Config{
			Timeout:          getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),
			RateLimitWindow:  getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
			RateLimitMax:     getEnvAsInt("RATE_LIMIT_MAX", 100),
			CacheTTL:         getEnvAsDuration("CACHE_TTL", 5*time.Minute),
			CacheMaxEntries:  getEnvAsInt("CACHE_MAX_ENTRIES", 1000),
			BreakerThreshold: getEnvAsInt("CIRCUIT_BREAKER_THRESHOLD", 5),
			BreakerCooldown:  getEnvAsDuration("CIRCUIT_BREAKER_COOLDOWN", time.Minute),
			QualityThreshold: getEnvAsFloat("QUALITY_THRESHOLD", 40),
		},
		Selection: SelectionConfig{
			Strategy: getEnv("SELECTION_STRATEGY", ""),
			Weights:  manager.DefaultWeights(),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
		Gateway: GatewayConfig{
			InboundRPS:   getEnvAsFloat("INBOUND_RPS", 10),
			InboundBurst: getEnvAsInt("INBOUND_BURST", 20),
			CORSOrigins:  []string{getEnv("CORS_ORIGIN", "*")},
		},
	}

	if path := os.Getenv("SWITCHBOARD_CONFIG"); path != "" {
		if err := cfg.applyOverlay(path); err != nil {
			return nil, fmt.Errorf("failed to apply config overlay %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// applyOverlay merges the YAML file at path over the env-derived config.
func (c *Config) applyOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var o overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("invalid yaml: %w", err)
	}
	if o.Selection.Strategy != "" {
		c.Selection.Strategy = o.Selection.Strategy
	}
	if w := o.Selection.Weights; w.Health != 0 || w.Performance != 0 || w.Suitability != 0 {
		c.Selection.Weights = w
	}
	if len(o.Selection.TaskOverrides) > 0 {
		c.Selection.TaskOverrides = o.Selection.TaskOverrides
	}
	return nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}
	switch c.Selection.Strategy {
	case "", manager.StrategyRoundRobin, manager.StrategyWeightedPerformance,
		manager.StrategyLeastLoaded, manager.StrategyPredictive:
	default:
		return fmt.Errorf("unknown selection strategy %q", c.Selection.Strategy)
	}
	if c.IsProduction() && c.Providers.OpenAI.APIKey == "" {
		return fmt.Errorf("at least one provider API key must be configured in production")
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
