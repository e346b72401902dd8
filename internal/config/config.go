// Package config provides configuration loading for conductord.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (ENGINE_MAX_GATE_RETRIES, QDRANT_HOST, ...)
//  2. YAML config file (~/.config/conductord/config.yaml by default)
//  3. Hardcoded defaults
//
// Every numeric policy knob the engine uses (retry bounds, conflict
// thresholds, retention windows) lives here with a conservative default
// rather than being baked into business logic.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the conductord process.
type Config struct {
	Logging      LoggingConfig      `koanf:"logging"`
	Engine       EngineConfig       `koanf:"engine"`
	PatternStore PatternStoreConfig `koanf:"patternstore"`
	Embeddings   EmbeddingsConfig   `koanf:"embeddings"`
	Transport    TransportConfig    `koanf:"transport"`
	Operator     OperatorConfig     `koanf:"operator"`
}

// LoggingConfig mirrors logging.Config; kept separate so the config package
// does not import the logging package.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// EngineConfig holds policy knobs for the state machine and dispatcher.
type EngineConfig struct {
	// DataDir is the root directory for project records and journals.
	DataDir string `koanf:"data_dir"`

	// MaxGateRetries bounds the fix-and-retry loop per review gate.
	MaxGateRetries int `koanf:"max_gate_retries"`

	// MaxModifyRetries bounds intent MODIFY re-instructions per phase
	// before the conflict escalates to the operator.
	MaxModifyRetries int `koanf:"max_modify_retries"`

	// DedupWindow is how long processed signal IDs are remembered after
	// a namespace leaves the phase they belonged to.
	DedupWindow time.Duration `koanf:"dedup_window"`

	// ViewpointTimeout is the per-evaluator budget during triangulation.
	ViewpointTimeout time.Duration `koanf:"viewpoint_timeout"`

	// ConflictThreshold is the score spread above which two viewpoints
	// with opposing verdicts are flagged as a conflict.
	ConflictThreshold float64 `koanf:"conflict_threshold"`

	// PassThreshold is the consensus score a gate needs to pass.
	PassThreshold float64 `koanf:"pass_threshold"`

	// BoostTopK is how many memory records a boost carries.
	BoostTopK int `koanf:"boost_top_k"`

	// EscalationQueueSize bounds the operator escalation queue.
	EscalationQueueSize int `koanf:"escalation_queue_size"`

	// NamespaceQueueSize bounds each namespace's signal queue.
	NamespaceQueueSize int `koanf:"namespace_queue_size"`
}

// PatternStoreConfig selects and configures the pattern store backend.
type PatternStoreConfig struct {
	// Provider is "chromem", "qdrant", or "fallback" (qdrant with local
	// chromem fallback and WAL sync).
	Provider string `koanf:"provider"`

	Chromem  ChromemConfig  `koanf:"chromem"`
	Qdrant   QdrantConfig   `koanf:"qdrant"`
	Fallback FallbackConfig `koanf:"fallback"`

	Retention RetentionConfig `koanf:"retention"`
}

// ChromemConfig configures the embedded local store.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// QdrantConfig configures the remote store.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	UseTLS     bool   `koanf:"use_tls"`
	MaxRetries int    `koanf:"max_retries"`
}

// FallbackConfig configures local fallback behavior during outages.
type FallbackConfig struct {
	WALPath             string        `koanf:"wal_path"`
	HealthCheckInterval time.Duration `koanf:"health_check_interval"`
	WALRetentionDays    int           `koanf:"wal_retention_days"`
}

// RetentionConfig bounds the learned-pattern store.
type RetentionConfig struct {
	MaxAge   time.Duration `koanf:"max_age"`
	MaxCount int           `koanf:"max_count"`
	Interval time.Duration `koanf:"interval"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "local" (deterministic hashing) or "tei" (HTTP).
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	Dimension int    `koanf:"dimension"`
}

// TransportConfig configures the NATS signal bus.
type TransportConfig struct {
	URL      string `koanf:"url"`
	Embedded bool   `koanf:"embedded"`
}

// OperatorConfig configures the operator HTTP interface.
type OperatorConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Engine.MaxGateRetries < 0 {
		return fmt.Errorf("engine.max_gate_retries must be non-negative")
	}
	if c.Engine.MaxModifyRetries < 0 {
		return fmt.Errorf("engine.max_modify_retries must be non-negative")
	}
	if c.Engine.ConflictThreshold < 0 || c.Engine.ConflictThreshold > 1 {
		return fmt.Errorf("engine.conflict_threshold must be in [0,1], got %f", c.Engine.ConflictThreshold)
	}
	if c.Engine.PassThreshold < 0 || c.Engine.PassThreshold > 1 {
		return fmt.Errorf("engine.pass_threshold must be in [0,1], got %f", c.Engine.PassThreshold)
	}
	if c.Engine.BoostTopK <= 0 {
		return fmt.Errorf("engine.boost_top_k must be positive")
	}
	switch c.PatternStore.Provider {
	case "chromem", "qdrant", "fallback":
	default:
		return fmt.Errorf("patternstore.provider must be chromem, qdrant, or fallback, got %q", c.PatternStore.Provider)
	}
	switch c.Embeddings.Provider {
	case "local", "tei":
	default:
		return fmt.Errorf("embeddings.provider must be local or tei, got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings.dimension must be positive")
	}
	if c.Operator.Port <= 0 || c.Operator.Port > 65535 {
		return fmt.Errorf("operator.port out of range: %d", c.Operator.Port)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Engine.DataDir == "" {
		cfg.Engine.DataDir = "~/.local/share/conductord"
	}
	if cfg.Engine.MaxGateRetries == 0 {
		cfg.Engine.MaxGateRetries = 2
	}
	if cfg.Engine.MaxModifyRetries == 0 {
		cfg.Engine.MaxModifyRetries = 2
	}
	if cfg.Engine.DedupWindow == 0 {
		cfg.Engine.DedupWindow = 24 * time.Hour
	}
	if cfg.Engine.ViewpointTimeout == 0 {
		cfg.Engine.ViewpointTimeout = 10 * time.Second
	}
	if cfg.Engine.ConflictThreshold == 0 {
		cfg.Engine.ConflictThreshold = 0.35
	}
	if cfg.Engine.PassThreshold == 0 {
		cfg.Engine.PassThreshold = 0.6
	}
	if cfg.Engine.BoostTopK == 0 {
		cfg.Engine.BoostTopK = 5
	}
	if cfg.Engine.EscalationQueueSize == 0 {
		cfg.Engine.EscalationQueueSize = 128
	}
	if cfg.Engine.NamespaceQueueSize == 0 {
		cfg.Engine.NamespaceQueueSize = 64
	}

	if cfg.PatternStore.Provider == "" {
		cfg.PatternStore.Provider = "chromem"
	}
	if cfg.PatternStore.Chromem.Path == "" {
		cfg.PatternStore.Chromem.Path = "~/.local/share/conductord/patternstore"
	}
	if cfg.PatternStore.Chromem.Collection == "" {
		cfg.PatternStore.Chromem.Collection = "patterns"
	}
	if cfg.PatternStore.Qdrant.Host == "" {
		cfg.PatternStore.Qdrant.Host = "localhost"
	}
	if cfg.PatternStore.Qdrant.Port == 0 {
		cfg.PatternStore.Qdrant.Port = 6334
	}
	if cfg.PatternStore.Qdrant.Collection == "" {
		cfg.PatternStore.Qdrant.Collection = "patterns"
	}
	if cfg.PatternStore.Qdrant.MaxRetries == 0 {
		cfg.PatternStore.Qdrant.MaxRetries = 3
	}
	if cfg.PatternStore.Fallback.WALPath == "" {
		cfg.PatternStore.Fallback.WALPath = "~/.local/share/conductord/wal"
	}
	if cfg.PatternStore.Fallback.HealthCheckInterval == 0 {
		cfg.PatternStore.Fallback.HealthCheckInterval = 30 * time.Second
	}
	if cfg.PatternStore.Fallback.WALRetentionDays == 0 {
		cfg.PatternStore.Fallback.WALRetentionDays = 7
	}
	if cfg.PatternStore.Retention.MaxAge == 0 {
		cfg.PatternStore.Retention.MaxAge = 90 * 24 * time.Hour
	}
	if cfg.PatternStore.Retention.MaxCount == 0 {
		cfg.PatternStore.Retention.MaxCount = 10000
	}
	if cfg.PatternStore.Retention.Interval == 0 {
		cfg.PatternStore.Retention.Interval = 24 * time.Hour
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "local"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 384
	}

	if cfg.Transport.URL == "" {
		cfg.Transport.URL = "nats://localhost:4222"
	}

	if cfg.Operator.Port == 0 {
		cfg.Operator.Port = 9290
	}
	if cfg.Operator.ShutdownTimeout == 0 {
		cfg.Operator.ShutdownTimeout = 10 * time.Second
	}
}
