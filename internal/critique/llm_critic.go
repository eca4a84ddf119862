package critique

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jkaninda/kundi/internal/llm"
)

// LLMCritic reviews artifacts by prompting a model in an adversarial
// persona and parsing its findings. The model is asked for a JSON array;
// anything it wraps around the array (prose, code fences) is stripped.
type LLMCritic struct {
	provider  llm.Provider
	role      string
	maxTokens int
	logger    *slog.Logger
}

var _ Critic = (*LLMCritic)(nil)

// NewLLMCritic creates a critic with the given role persona, e.g.
// "security", "correctness", "operability".
func NewLLMCritic(provider llm.Provider, role string, maxTokens int, logger *slog.Logger) *LLMCritic {
	return &LLMCritic{
		provider:  provider,
		role:      role,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

func (c *LLMCritic) Name() string { return c.role }

const criticSystemPrompt = `You are an adversarial %s reviewer on a go/no-go panel.
Examine the artifact for defects in your area. Respond with ONLY a JSON array of findings:
[{"type":"security_vulnerability|compliance_gap|architecture_flaw|performance_risk|maintainability_concern|testing_gap|deployment_risk|data_handling_issue","severity":"critical|high|medium|low","summary":"one line","detail":"optional"}]
Return [] if you have no objections. Do not include any other text.`

func (c *LLMCritic) Review(ctx context.Context, target *Target) ([]Finding, error) {
	resp, err := c.provider.Complete(ctx, &llm.Request{
		Role:      c.role,
		System:    fmt.Sprintf(criticSystemPrompt, c.role),
		Prompt:    fmt.Sprintf("Phase: %s\n\nArtifact:\n%s", target.Phase, target.Content),
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("critic %s: %w", c.role, err)
	}

	findings, err := parseFindings(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("critic %s: %w", c.role, err)
	}
	c.logger.DebugContext(ctx, "critic reviewed",
		slog.String("critic", c.role),
		slog.Int("findings", len(findings)),
	)
	return findings, nil
}

// parseFindings extracts the JSON array from the model output. Models
// occasionally wrap the array in fences or a sentence despite the
// instruction, so only the bracketed span is decoded.
func parseFindings(text string) ([]Finding, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in review output")
	}

	var raw []struct {
		Type     string `json:"type"`
		Severity string `json:"severity"`
		Summary  string `json:"summary"`
		Detail   string `json:"detail"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("parsing review output: %w", err)
	}

	findings := make([]Finding, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r.Summary) == "" {
			continue
		}
		sev := Severity(strings.ToLower(r.Severity))
		switch sev {
		case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		default:
			sev = SeverityMedium
		}
		ftype, _ := ParseFindingType(strings.ToLower(r.Type))
		findings = append(findings, Finding{
			Type:     ftype,
			Severity: sev,
			Summary:  r.Summary,
			Detail:   r.Detail,
		})
	}
	return findings, nil
}

// LLMReviser rewrites an artifact to address blocking findings.
type LLMReviser struct {
	provider  llm.Provider
	maxTokens int
	logger    *slog.Logger
}

var _ Reviser = (*LLMReviser)(nil)

func NewLLMReviser(provider llm.Provider, maxTokens int, logger *slog.Logger) *LLMReviser {
	return &LLMReviser{provider: provider, maxTokens: maxTokens, logger: logger}
}

func (r *LLMReviser) Revise(ctx context.Context, content string, findings []Finding) (string, error) {
	var sb strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&sb, "- [%s] %s: %s\n", f.Severity, f.Summary, f.Detail)
	}

	resp, err := r.provider.Complete(ctx, &llm.Request{
		Role:      "reviser",
		System:    "Revise the artifact to address every blocking finding. Respond with ONLY the revised artifact.",
		Prompt:    fmt.Sprintf("Findings:\n%s\nArtifact:\n%s", sb.String(), content),
		MaxTokens: r.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("revising: %w", err)
	}
	return resp.Text, nil
}
