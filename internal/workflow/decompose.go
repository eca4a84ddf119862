package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jkaninda/kundi/internal/llm"
)

// LLMDecomposer plans a goal into a subtask DAG by prompting a model.
// The model is asked for a JSON array of subtask specs; depends_on holds
// indices into the array.
type LLMDecomposer struct {
	provider  llm.Provider
	maxTokens int
	logger    *slog.Logger
}

var _ Decomposer = (*LLMDecomposer)(nil)

func NewLLMDecomposer(provider llm.Provider, maxTokens int, logger *slog.Logger) *LLMDecomposer {
	return &LLMDecomposer{provider: provider, maxTokens: maxTokens, logger: logger}
}

const decomposerSystemPrompt = `You are a planner that decomposes an operational goal into subtasks for a fleet of specialized agents.
Respond with ONLY a JSON array:
[{"agent_role":"builder","description":"what to do","input":"optional context","depends_on":[0]}]
depends_on holds zero-based indices of earlier subtasks that must complete first. Keep the plan minimal.`

func (d *LLMDecomposer) Decompose(ctx context.Context, goal string) ([]SubtaskSpec, error) {
	resp, err := d.provider.Complete(ctx, &llm.Request{
		Role:      "planner",
		System:    decomposerSystemPrompt,
		Prompt:    goal,
		MaxTokens: d.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("decomposing goal: %w", err)
	}

	specs, err := parsePlan(resp.Text)
	if err != nil {
		return nil, err
	}
	d.logger.DebugContext(ctx, "goal decomposed",
		slog.Int("subtasks", len(specs)),
		slog.String("provider", d.provider.Name()),
	)
	return specs, nil
}

// parsePlan extracts the spec array from model output, tolerating code
// fences and surrounding prose. Dependency indices are validated here so
// a malformed plan fails before any subtask is persisted.
func parsePlan(text string) ([]SubtaskSpec, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array in plan output")
	}

	var specs []SubtaskSpec
	if err := json.Unmarshal([]byte(text[start:end+1]), &specs); err != nil {
		return nil, fmt.Errorf("parsing plan output: %w", err)
	}
	if len(specs) == 0 {
		return nil, ErrEmptyPlan
	}
	for i, s := range specs {
		if strings.TrimSpace(s.Description) == "" {
			return nil, fmt.Errorf("plan subtask %d has no description", i)
		}
		if s.AgentRole == "" {
			return nil, fmt.Errorf("plan subtask %d has no agent_role", i)
		}
		for _, dep := range s.DependsOn {
			if dep < 0 || dep >= i {
				return nil, fmt.Errorf("plan subtask %d depends on invalid index %d", i, dep)
			}
		}
	}
	return specs, nil
}
