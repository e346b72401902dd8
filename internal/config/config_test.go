package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 2, cfg.Engine.MaxGateRetries)
	assert.Equal(t, 24*time.Hour, cfg.Engine.DedupWindow)
	assert.Equal(t, 10*time.Second, cfg.Engine.ViewpointTimeout)
	assert.Equal(t, 0.35, cfg.Engine.ConflictThreshold)
	assert.Equal(t, 5, cfg.Engine.BoostTopK)
	assert.Equal(t, "chromem", cfg.PatternStore.Provider)
	assert.Equal(t, 10000, cfg.PatternStore.Retention.MaxCount)
	assert.Equal(t, "local", cfg.Embeddings.Provider)
	assert.Equal(t, 384, cfg.Embeddings.Dimension)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Engine.MaxGateRetries)
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
engine:
  max_gate_retries: 4
  viewpoint_timeout: 5s
patternstore:
  provider: qdrant
  qdrant:
    host: qdrant.internal
    port: 7443
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.MaxGateRetries)
	assert.Equal(t, 5*time.Second, cfg.Engine.ViewpointTimeout)
	assert.Equal(t, "qdrant", cfg.PatternStore.Provider)
	assert.Equal(t, "qdrant.internal", cfg.PatternStore.Qdrant.Host)
	assert.Equal(t, 7443, cfg.PatternStore.Qdrant.Port)
	// Untouched fields keep defaults.
	assert.Equal(t, 0.35, cfg.Engine.ConflictThreshold)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONDUCTORD_ENGINE_MAX_GATE_RETRIES", "5")
	t.Setenv("CONDUCTORD_PATTERNSTORE_QDRANT_HOST", "remote.example.com")
	t.Setenv("CONDUCTORD_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Engine.MaxGateRetries)
	assert.Equal(t, "remote.example.com", cfg.PatternStore.Qdrant.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "engine.max_gate_retries", envTransform("CONDUCTORD_ENGINE_MAX_GATE_RETRIES"))
	assert.Equal(t, "patternstore.qdrant.host", envTransform("CONDUCTORD_PATTERNSTORE_QDRANT_HOST"))
	assert.Equal(t, "patternstore.provider", envTransform("CONDUCTORD_PATTERNSTORE_PROVIDER"))
	assert.Equal(t, "logging.level", envTransform("CONDUCTORD_LOGGING_LEVEL"))
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative retries", func(c *Config) { c.Engine.MaxGateRetries = -1 }},
		{"conflict threshold above one", func(c *Config) { c.Engine.ConflictThreshold = 1.5 }},
		{"unknown store provider", func(c *Config) { c.PatternStore.Provider = "redis" }},
		{"unknown embeddings provider", func(c *Config) { c.Embeddings.Provider = "onnx" }},
		{"zero dimension", func(c *Config) { c.Embeddings.Dimension = -1 }},
		{"bad port", func(c *Config) { c.Operator.Port = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRejectsDirectory(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}
