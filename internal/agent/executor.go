package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jkaninda/kundi/internal/llm"
	"github.com/jkaninda/kundi/internal/protocol"
	"github.com/jkaninda/kundi/internal/tools"
)

// LLMExecutor runs subtasks by prompting a model with the agent's role
// persona.
type LLMExecutor struct {
	provider  llm.Provider
	role      string
	system    string
	maxTokens int
	logger    *slog.Logger
}

var _ Executor = (*LLMExecutor)(nil)

func NewLLMExecutor(provider llm.Provider, role, systemPrompt string, maxTokens int, logger *slog.Logger) *LLMExecutor {
	return &LLMExecutor{
		provider:  provider,
		role:      role,
		system:    systemPrompt,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

func (e *LLMExecutor) Execute(ctx context.Context, task protocol.TaskPayload) (string, error) {
	prompt := task.Description
	if task.Input != "" {
		prompt = fmt.Sprintf("%s\n\nInput:\n%s", task.Description, task.Input)
	}
	resp, err := e.provider.Complete(ctx, &llm.Request{
		Role:      e.role,
		System:    e.system,
		Prompt:    prompt,
		MaxTokens: e.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("executing subtask %s: %w", task.SubtaskID, err)
	}
	e.logger.DebugContext(ctx, "subtask executed",
		slog.String("subtask_id", task.SubtaskID.String()),
		slog.String("provider", e.provider.Name()),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
	)
	return resp.Text, nil
}

// toolCall is the structured form a planner uses to route a subtask
// straight to a tool instead of a model.
type toolCall struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
}

// ToolTaskExecutor runs subtasks whose input is a structured tool call
// through the gated invoker and delegates everything else to the
// fallback executor. Policy denials from the invoker fail the subtask.
type ToolTaskExecutor struct {
	invoker  *tools.Invoker
	agentID  string
	role     string
	fallback Executor
	logger   *slog.Logger
}

var _ Executor = (*ToolTaskExecutor)(nil)

func NewToolTaskExecutor(invoker *tools.Invoker, agentID, role string, fallback Executor, logger *slog.Logger) *ToolTaskExecutor {
	return &ToolTaskExecutor{
		invoker:  invoker,
		agentID:  agentID,
		role:     role,
		fallback: fallback,
		logger:   logger,
	}
}

func (e *ToolTaskExecutor) Execute(ctx context.Context, task protocol.TaskPayload) (string, error) {
	var call toolCall
	if err := json.Unmarshal([]byte(task.Input), &call); err != nil || call.Tool == "" {
		if e.fallback == nil {
			return "", fmt.Errorf("subtask %s: input is not a tool call and no fallback executor is configured", task.SubtaskID)
		}
		return e.fallback.Execute(ctx, task)
	}

	result, err := e.invoker.Invoke(ctx, e.agentID, e.role, call.Tool, call.Params)
	if err != nil {
		return "", fmt.Errorf("tool %s for subtask %s: %w", call.Tool, task.SubtaskID, err)
	}
	if !result.Success {
		return "", fmt.Errorf("tool %s for subtask %s reported failure: %s", call.Tool, task.SubtaskID, result.Output)
	}
	e.logger.DebugContext(ctx, "tool subtask executed",
		slog.String("subtask_id", task.SubtaskID.String()),
		slog.String("tool", call.Tool),
	)
	return result.Output, nil
}
