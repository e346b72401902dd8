package triangulate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("conductord.triangulate")

// Config bounds one triangulation run.
type Config struct {
	// ViewpointTimeout is the individual evaluation budget. A timed-out
	// viewpoint contributes a neutral score at reduced weight instead of
	// aborting the run.
	ViewpointTimeout time.Duration
	// ConflictThreshold is the minimum score spread between a passing and a
	// failing viewpoint for the pair to count as a conflict.
	ConflictThreshold float64
	// PassThreshold is the consensus score required to pass.
	PassThreshold float64
	// NeutralScore is the stand-in score for degraded viewpoints.
	NeutralScore float64
	// DegradedWeightFactor scales a degraded viewpoint's weight.
	DegradedWeightFactor float64
}

// ApplyDefaults fills zero values with conservative defaults.
func (c *Config) ApplyDefaults() {
	if c.ViewpointTimeout == 0 {
		c.ViewpointTimeout = 10 * time.Second
	}
	if c.ConflictThreshold == 0 {
		c.ConflictThreshold = 0.35
	}
	if c.PassThreshold == 0 {
		c.PassThreshold = 0.6
	}
	if c.NeutralScore == 0 {
		c.NeutralScore = 0.5
	}
	if c.DegradedWeightFactor == 0 {
		c.DegradedWeightFactor = 0.25
	}
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.ViewpointTimeout <= 0 {
		return fmt.Errorf("triangulate: viewpoint timeout must be positive")
	}
	for name, v := range map[string]float64{
		"conflict threshold":     c.ConflictThreshold,
		"pass threshold":         c.PassThreshold,
		"neutral score":          c.NeutralScore,
		"degraded weight factor": c.DegradedWeightFactor,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("triangulate: %s must be in (0,1]", name)
		}
	}
	return nil
}

// Engine fans an artifact out to its viewpoints in parallel and folds the
// evaluations into one consensus judgment. The viewpoint set is fixed at
// construction; an Engine is safe for concurrent use.
type Engine struct {
	viewpoints []Viewpoint
	config     Config
	audit      *AuditLog
	logger     *zap.Logger
}

// NewEngine builds an engine over a fixed viewpoint set. audit may be nil.
func NewEngine(viewpoints []Viewpoint, config Config, audit *AuditLog, logger *zap.Logger) (*Engine, error) {
	if len(viewpoints) == 0 {
		return nil, ErrNoViewpoints
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		viewpoints: viewpoints,
		config:     config,
		audit:      audit,
		logger:     logger,
	}, nil
}

// Triangulate evaluates the artifact under every viewpoint concurrently and
// synthesizes a consensus. Given identical viewpoint outputs the consensus
// score and conflict set are identical.
func (e *Engine) Triangulate(ctx context.Context, in Input) (Result, error) {
	ctx, span := tracer.Start(ctx, "triangulate")
	defer span.End()
	span.SetAttributes(
		attribute.String("artifact.ref", in.Artifact.Ref),
		attribute.String("phase", in.Artifact.Phase),
	)

	if err := in.Artifact.Validate(); err != nil {
		return Result{}, err
	}

	results := make([]ViewpointResult, len(e.viewpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, vp := range e.viewpoints {
		g.Go(func() error {
			results[i] = e.evaluateOne(gctx, vp, in)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	result := e.synthesize(in.Artifact, results)
	span.SetAttributes(attribute.Float64("consensus", result.ConsensusScore))

	if e.audit != nil {
		if err := e.audit.Append(result); err != nil {
			e.logger.Warn("triangulate: audit append failed",
				zap.String("artifact", in.Artifact.Ref),
				zap.Error(err))
		}
	}

	if result.Passed {
		triangulationsTotal.WithLabelValues("passed").Inc()
	} else {
		triangulationsTotal.WithLabelValues("failed").Inc()
	}
	return result, nil
}

// evaluateOne runs a single viewpoint under its timeout. Timeouts and
// evaluation errors degrade to the neutral score at reduced weight.
func (e *Engine) evaluateOne(ctx context.Context, vp Viewpoint, in Input) ViewpointResult {
	start := time.Now()
	evalCtx, cancel := context.WithTimeout(ctx, e.config.ViewpointTimeout)
	defer cancel()

	type outcome struct {
		ev  Evaluation
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		ev, err := vp.Evaluate(evalCtx, in)
		done <- outcome{ev, err}
	}()

	result := ViewpointResult{
		Name:   vp.Name(),
		Weight: vp.Weight(),
		At:     start,
	}

	select {
	case out := <-done:
		if out.err != nil {
			e.logger.Warn("triangulate: viewpoint failed",
				zap.String("viewpoint", vp.Name()),
				zap.Error(out.err))
			result.Score = e.config.NeutralScore
			result.Weight = vp.Weight() * e.config.DegradedWeightFactor
			result.Degraded = true
			result.Issues = []string{"evaluation failed: " + out.err.Error()}
			viewpointDegradedTotal.WithLabelValues(vp.Name()).Inc()
			break
		}
		result.Score = clampScore(out.ev.Score)
		result.Issues = out.ev.Issues
	case <-evalCtx.Done():
		e.logger.Warn("triangulate: viewpoint timed out",
			zap.String("viewpoint", vp.Name()),
			zap.Duration("timeout", e.config.ViewpointTimeout))
		result.Score = e.config.NeutralScore
		result.Weight = vp.Weight() * e.config.DegradedWeightFactor
		result.Degraded = true
		result.Issues = []string{"evaluation timed out"}
		viewpointDegradedTotal.WithLabelValues(vp.Name()).Inc()
	}

	elapsed := time.Since(start)
	result.Duration = elapsed.Seconds()
	viewpointDuration.WithLabelValues(vp.Name()).Observe(elapsed.Seconds())
	return result
}

// synthesize folds viewpoint results into a consensus score and conflict
// set. Ambiguity is not success: unresolved conflicts force failure.
func (e *Engine) synthesize(artifact Artifact, viewpoints []ViewpointResult) Result {
	var weightedSum, totalWeight float64
	for _, vp := range viewpoints {
		weightedSum += vp.Score * vp.Weight
		totalWeight += vp.Weight
	}
	consensus := 0.0
	if totalWeight > 0 {
		consensus = weightedSum / totalWeight
	}

	conflicts := e.detectConflicts(viewpoints)

	return Result{
		ArtifactRef:         artifact.Ref,
		Phase:               artifact.Phase,
		Viewpoints:          viewpoints,
		ConsensusScore:      consensus,
		UnresolvedConflicts: conflicts,
		Passed:              consensus >= e.config.PassThreshold && len(conflicts) == 0,
		At:                  time.Now().UTC(),
	}
}

// detectConflicts flags pass/fail disagreements wider than the conflict
// threshold. A conflict is resolved by weighting when one side carries at
// least twice the other's weight; the rest are unresolved.
func (e *Engine) detectConflicts(viewpoints []ViewpointResult) []Conflict {
	var conflicts []Conflict
	for i := 0; i < len(viewpoints); i++ {
		for j := i + 1; j < len(viewpoints); j++ {
			a, b := viewpoints[i], viewpoints[j]
			if a.passed(e.config.PassThreshold) == b.passed(e.config.PassThreshold) {
				continue
			}
			spread := a.Score - b.Score
			if spread < 0 {
				spread = -spread
			}
			if spread <= e.config.ConflictThreshold {
				continue
			}
			if a.Weight >= 2*b.Weight || b.Weight >= 2*a.Weight {
				continue
			}
			conflicts = append(conflicts, Conflict{
				ViewpointA: a.Name,
				ViewpointB: b.Name,
				Spread:     spread,
			})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].ViewpointA != conflicts[j].ViewpointA {
			return conflicts[i].ViewpointA < conflicts[j].ViewpointA
		}
		return conflicts[i].ViewpointB < conflicts[j].ViewpointB
	})
	return conflicts
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
