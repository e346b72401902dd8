package review

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conductord/internal/embeddings"
	"github.com/fyrsmithlabs/conductord/internal/triangulate"
)

// Gate pairs a named concern with the triangulation engine scoped to it.
type Gate struct {
	Name   string
	Engine *triangulate.Engine
}

// Config bounds the chain's retry behavior.
type Config struct {
	// MaxRetries is the evaluation budget per gate. A gate that fails this
	// many times escalates.
	MaxRetries int
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("review: max retries must be at least 1")
	}
	return nil
}

// Chain evaluates artifacts through its gates strictly in order. A later
// gate never sees an artifact that failed an earlier gate without an
// intervening remediation.
type Chain struct {
	gates      []Gate
	remediator Remediator
	config     Config
	logger     *zap.Logger
}

// NewChain builds a review chain. remediator may be nil, in which case a
// failed gate escalates without retrying.
func NewChain(gates []Gate, remediator Remediator, config Config, logger *zap.Logger) (*Chain, error) {
	if len(gates) == 0 {
		return nil, fmt.Errorf("review: at least one gate required")
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		gates:      gates,
		remediator: remediator,
		config:     config,
		logger:     logger,
	}, nil
}

// DefaultGates is the standard gate order. Each gate carries its own
// viewpoint set so triangulation stays scoped to the gate's concern.
func DefaultGates(embedder embeddings.Provider, tcfg triangulate.Config, audit *triangulate.AuditLog, logger *zap.Logger) ([]Gate, error) {
	sets := []struct {
		name       string
		viewpoints []triangulate.Viewpoint
	}{
		{"safety", []triangulate.Viewpoint{
			triangulate.SafetyViewpoint{},
			triangulate.CorrectnessViewpoint{},
		}},
		{"robustness", []triangulate.Viewpoint{
			triangulate.RobustnessViewpoint{},
			triangulate.CorrectnessViewpoint{},
		}},
		{"resilience", []triangulate.Viewpoint{
			triangulate.ResilienceViewpoint{},
			triangulate.RobustnessViewpoint{},
		}},
		{"final-critique", triangulate.DefaultViewpoints(embedder)},
	}

	gates := make([]Gate, 0, len(sets))
	for _, s := range sets {
		engine, err := triangulate.NewEngine(s.viewpoints, tcfg, audit, logger.Named(s.name))
		if err != nil {
			return nil, fmt.Errorf("review: building %s gate: %w", s.name, err)
		}
		gates = append(gates, Gate{Name: s.name, Engine: engine})
	}
	return gates, nil
}

// Review runs the artifact through every gate in order. On success the
// returned slice holds one passed result per gate. On exhaustion the slice
// ends with the failed gate's result and the error is an *EscalationError;
// later gates are not evaluated.
func (c *Chain) Review(ctx context.Context, in triangulate.Input) ([]GateResult, error) {
	results := make([]GateResult, 0, len(c.gates))

	for _, gate := range c.gates {
		result, err := c.runGate(ctx, gate, &in)
		if err != nil {
			return results, err
		}
		results = append(results, result)
		if !result.Passed {
			gateResultsTotal.WithLabelValues(gate.Name, "escalated").Inc()
			return results, &EscalationError{
				GateName:    gate.Name,
				ArtifactRef: in.Artifact.Ref,
				Attempts:    result.RetryCount + 1,
				Issues:      result.Issues,
			}
		}
		gateResultsTotal.WithLabelValues(gate.Name, "passed").Inc()
	}
	return results, nil
}

// runGate evaluates one gate within its retry budget, remediating the
// artifact between attempts. The revised artifact carries forward to later
// gates.
func (c *Chain) runGate(ctx context.Context, gate Gate, in *triangulate.Input) (GateResult, error) {
	var last triangulate.Result
	attempts := 0

	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		result, err := gate.Engine.Triangulate(ctx, *in)
		if err != nil {
			return GateResult{}, fmt.Errorf("review: %s gate: %w", gate.Name, err)
		}
		last = result
		attempts = attempt

		if result.Passed {
			return GateResult{
				GateName:    gate.Name,
				ArtifactRef: in.Artifact.Ref,
				Passed:      true,
				Score:       result.ConsensusScore,
				Issues:      result.Issues(),
				RetryCount:  attempt - 1,
			}, nil
		}

		c.logger.Info("review: gate failed",
			zap.String("gate", gate.Name),
			zap.String("artifact", in.Artifact.Ref),
			zap.Float64("score", result.ConsensusScore),
			zap.Int("attempt", attempt))

		if attempt == c.config.MaxRetries || c.remediator == nil {
			break
		}

		fix := FixInstruction{
			GateName:    gate.Name,
			ArtifactRef: in.Artifact.Ref,
			Phase:       in.Artifact.Phase,
			Issues:      result.Issues(),
			Attempt:     attempt,
		}
		revised, err := c.remediator.Remediate(ctx, fix, in.Artifact)
		if err != nil {
			c.logger.Warn("review: remediation failed",
				zap.String("gate", gate.Name),
				zap.Error(err))
			break
		}
		remediationsTotal.WithLabelValues(gate.Name).Inc()
		in.Artifact = revised
	}

	return GateResult{
		GateName:    gate.Name,
		ArtifactRef: in.Artifact.Ref,
		Passed:      false,
		Score:       last.ConsensusScore,
		Issues:      last.Issues(),
		RetryCount:  attempts - 1,
	}, nil
}
