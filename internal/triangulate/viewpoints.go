package triangulate

import (
	"context"
	"math"
	"strings"

	"github.com/fyrsmithlabs/conductord/internal/embeddings"
)

// Viewpoint weights express domain priority within one engine. Only their
// ratios matter.
const (
	weightCorrectness     = 0.35
	weightRobustness      = 0.25
	weightAlignment       = 0.25
	weightMaintainability = 0.15
	weightSafety          = 0.40
	weightResilience      = 0.25
)

// DefaultViewpoints is the general-purpose evaluator set used by the
// final-critique gate and standalone triangulations.
func DefaultViewpoints(embedder embeddings.Provider) []Viewpoint {
	return []Viewpoint{
		CorrectnessViewpoint{},
		RobustnessViewpoint{},
		MaintainabilityViewpoint{},
		AlignmentViewpoint{Embedder: embedder},
	}
}

// CorrectnessViewpoint penalizes unfinished or malformed content: open
// placeholders, unclosed code fences, and near-empty artifacts.
type CorrectnessViewpoint struct{}

func (CorrectnessViewpoint) Name() string    { return "correctness" }
func (CorrectnessViewpoint) Weight() float64 { return weightCorrectness }

func (CorrectnessViewpoint) Evaluate(_ context.Context, in Input) (Evaluation, error) {
	content := in.Artifact.Content
	score := 0.9
	var issues []string

	for _, marker := range []string{"TODO", "FIXME", "XXX", "TBD", "???"} {
		if n := strings.Count(content, marker); n > 0 {
			score -= 0.1 * float64(n)
			issues = append(issues, marker+" placeholder present")
		}
	}
	if strings.Count(content, "```")%2 != 0 {
		score -= 0.2
		issues = append(issues, "unclosed code fence")
	}
	if len(strings.Fields(content)) < 10 {
		score -= 0.4
		issues = append(issues, "artifact is nearly empty")
	}
	return Evaluation{Score: clampScore(score), Issues: issues}, nil
}

// RobustnessViewpoint rewards explicit treatment of failure: error handling,
// edge cases, validation, timeouts.
type RobustnessViewpoint struct{}

func (RobustnessViewpoint) Name() string    { return "robustness" }
func (RobustnessViewpoint) Weight() float64 { return weightRobustness }

func (RobustnessViewpoint) Evaluate(_ context.Context, in Input) (Evaluation, error) {
	lower := strings.ToLower(in.Artifact.Content)
	score := 0.5
	var issues []string

	signals := []string{"error", "edge case", "invalid", "validat", "timeout", "retry", "failure"}
	hits := 0
	for _, s := range signals {
		if strings.Contains(lower, s) {
			hits++
		}
	}
	score += 0.1 * float64(hits)
	if hits == 0 {
		issues = append(issues, "no failure handling discussed")
	}
	if !strings.Contains(lower, "error") {
		issues = append(issues, "error paths not addressed")
	}
	return Evaluation{Score: clampScore(score), Issues: issues}, nil
}

// MaintainabilityViewpoint judges structure: sections or paragraphs, line
// lengths, overall size.
type MaintainabilityViewpoint struct{}

func (MaintainabilityViewpoint) Name() string    { return "maintainability" }
func (MaintainabilityViewpoint) Weight() float64 { return weightMaintainability }

func (MaintainabilityViewpoint) Evaluate(_ context.Context, in Input) (Evaluation, error) {
	content := in.Artifact.Content
	lines := strings.Split(content, "\n")
	score := 0.8
	var issues []string

	long := 0
	for _, line := range lines {
		if len(line) > 200 {
			long++
		}
	}
	if long > 0 {
		score -= 0.05 * float64(long)
		issues = append(issues, "overly long lines")
	}
	structured := strings.Contains(content, "#") || strings.Contains(content, "\n\n")
	if !structured && len(lines) > 20 {
		score -= 0.2
		issues = append(issues, "no visible structure")
	}
	return Evaluation{Score: clampScore(score), Issues: issues}, nil
}

// AlignmentViewpoint measures semantic similarity between the artifact and
// the project goal, with learned success patterns from the memory boost as a
// secondary signal.
type AlignmentViewpoint struct {
	Embedder embeddings.Provider
}

func (AlignmentViewpoint) Name() string    { return "alignment" }
func (AlignmentViewpoint) Weight() float64 { return weightAlignment }

func (v AlignmentViewpoint) Evaluate(ctx context.Context, in Input) (Evaluation, error) {
	if in.Goal == "" {
		return Evaluation{Score: 0.5, Issues: []string{"no goal to align against"}}, nil
	}
	artifactVec, err := v.Embedder.EmbedQuery(ctx, in.Artifact.Content)
	if err != nil {
		return Evaluation{}, err
	}
	goalVec, err := v.Embedder.EmbedQuery(ctx, in.Goal)
	if err != nil {
		return Evaluation{}, err
	}
	score := similarityToScore(cosine(artifactVec, goalVec))

	// Historical bias correction: proximity to previously successful
	// patterns shifts the verdict.
	if !in.Boost.Empty() {
		best := 0.0
		for _, entry := range in.Boost.Entries {
			if len(entry.Record.Embedding) != len(artifactVec) {
				continue
			}
			if s := similarityToScore(cosine(artifactVec, entry.Record.Embedding)); s > best {
				best = s
			}
		}
		score = 0.7*score + 0.3*best
	}

	var issues []string
	if score < 0.4 {
		issues = append(issues, "artifact diverges from stated goal")
	}
	return Evaluation{Score: clampScore(score), Issues: issues}, nil
}

// SafetyViewpoint scans for hazardous instructions and embedded secrets.
type SafetyViewpoint struct{}

func (SafetyViewpoint) Name() string    { return "safety" }
func (SafetyViewpoint) Weight() float64 { return weightSafety }

func (SafetyViewpoint) Evaluate(_ context.Context, in Input) (Evaluation, error) {
	lower := strings.ToLower(in.Artifact.Content)
	score := 1.0
	var issues []string

	hazards := map[string]string{
		"rm -rf":      "destructive shell command",
		"drop table":  "destructive SQL statement",
		"eval(":       "dynamic code evaluation",
		"password=":   "hardcoded credential",
		"api_key=":    "hardcoded credential",
		"secret_key=": "hardcoded credential",
		"disable tls": "transport security disabled",
	}
	for marker, issue := range hazards {
		if strings.Contains(lower, marker) {
			score -= 0.3
			issues = append(issues, issue)
		}
	}
	return Evaluation{Score: clampScore(score), Issues: issues}, nil
}

// ResilienceViewpoint rewards explicit degradation and recovery design.
type ResilienceViewpoint struct{}

func (ResilienceViewpoint) Name() string    { return "resilience" }
func (ResilienceViewpoint) Weight() float64 { return weightResilience }

func (ResilienceViewpoint) Evaluate(_ context.Context, in Input) (Evaluation, error) {
	lower := strings.ToLower(in.Artifact.Content)
	score := 0.5
	var issues []string

	signals := []string{"fallback", "backoff", "circuit", "graceful", "recover", "idempotent", "degrad"}
	hits := 0
	for _, s := range signals {
		if strings.Contains(lower, s) {
			hits++
		}
	}
	score += 0.12 * float64(hits)
	if hits == 0 {
		issues = append(issues, "no degradation or recovery strategy")
	}
	return Evaluation{Score: clampScore(score), Issues: issues}, nil
}

// cosine assumes no particular normalization and computes full cosine
// similarity.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// similarityToScore maps cosine similarity [-1,1] to [0,1].
func similarityToScore(sim float64) float64 {
	return clampScore((sim + 1) / 2)
}
