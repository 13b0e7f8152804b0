package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/switchboard-ai/switchboard/manager"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default configuration",
			envVars: map[string]string{
				"ENVIRONMENT": "development",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "development", cfg.Environment)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 30*time.Second, cfg.Resilience.Timeout)
				assert.Equal(t, 100, cfg.Resilience.RateLimitMax)
				assert.Equal(t, time.Minute, cfg.Resilience.RateLimitWindow)
				assert.Equal(t, 5*time.Minute, cfg.Resilience.CacheTTL)
				assert.Equal(t, 1000, cfg.Resilience.CacheMaxEntries)
				assert.Equal(t, 5, cfg.Resilience.BreakerThreshold)
				assert.Equal(t, time.Minute, cfg.Resilience.BreakerCooldown)
				assert.Equal(t, manager.DefaultWeights(), cfg.Selection.Weights)
				assert.Equal(t, "info", cfg.Observability.LogLevel)
			},
		},
		{
			name: "resilience knobs from environment",
			envVars: map[string]string{
				"PROVIDER_TIMEOUT":          "45s",
				"RATE_LIMIT_MAX":            "50",
				"CACHE_TTL":                 "10m",
				"CIRCUIT_BREAKER_THRESHOLD": "3",
				"QUALITY_THRESHOLD":         "60",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 45*time.Second, cfg.Resilience.Timeout)
				assert.Equal(t, 50, cfg.Resilience.RateLimitMax)
				assert.Equal(t, 10*time.Minute, cfg.Resilience.CacheTTL)
				assert.Equal(t, 3, cfg.Resilience.BreakerThreshold)
				assert.Equal(t, 60.0, cfg.Resilience.QualityThreshold)
			},
		},
		{
			name: "production requires a provider key",
			envVars: map[string]string{
				"ENVIRONMENT": "production",
			},
			wantErr: true,
		},
		{
			name: "production with provider key",
			envVars: map[string]string{
				"ENVIRONMENT":    "production",
				"OPENAI_API_KEY": "sk-xxxxx",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.IsProduction())
				assert.False(t, cfg.IsDevelopment())
			},
		},
		{
			name: "invalid strategy rejected",
			envVars: map[string]string{
				"SELECTION_STRATEGY": "chaotic",
			},
			wantErr: true,
		},
		{
			name: "named strategy accepted",
			envVars: map[string]string{
				"SELECTION_STRATEGY": "least_loaded",
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, manager.StrategyLeastLoaded, cfg.Selection.Strategy)
			},
		},
		{
			name: "invalid port rejected",
			envVars: map[string]string{
				"SERVER_PORT": "99999",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := New(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestYAMLOverlay(t *testing.T) {
	overlayYAML := `
selection:
  strategy: weighted_performance
  weights:
    health: 0.5
    performance: 0.3
    suitability: 0.2
  task_overrides:
    coding: openai
`
	path := filepath.Join(t.TempDir(), "switchboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(overlayYAML), 0o600))

	os.Clearenv()
	t.Setenv("SWITCHBOARD_CONFIG", path)

	cfg, err := New(context.Background())
	require.NoError(t, err)

	assert.Equal(t, manager.StrategyWeightedPerformance, cfg.Selection.Strategy)
	assert.Equal(t, manager.Weights{Health: 0.5, Performance: 0.3, Suitability: 0.2}, cfg.Selection.Weights)
	assert.Equal(t, "openai", cfg.Selection.TaskOverrides["coding"])
}

func TestYAMLOverlayMissingFile(t *testing.T) {
	os.Clearenv()
	t.Setenv("SWITCHBOARD_CONFIG", "/nonexistent/config.yaml")

	_, err := New(context.Background())
	assert.Error(t, err)
}

func TestServerAddress(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 9000}
	assert.Equal(t, "127.0.0.1:9000", s.Address())
}
