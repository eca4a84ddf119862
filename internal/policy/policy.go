// Package policy implements dispatcher-mode boundary enforcement.
// The matrix is keyed by (role, tool) and evaluated default-deny: a tool
// not explicitly allowed for a role is blocked. The orchestrator role may
// delegate but never directly execute — its base allow list covers only
// coordination operations, and per-project overrides can never widen it
// into the hard-coded exclusion set of destructive operations.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/kundi/internal/audit"
)

// Sentinel errors for boundary enforcement.
var (
	ErrPolicyDenied    = errors.New("policy denied")
	ErrInvalidOverride = errors.New("invalid policy override")
)

// RoleOrchestrator is the role subject to the dispatcher-mode boundary.
const RoleOrchestrator = "orchestrator"

// Coordination operations the orchestrator role may always call.
var orchestratorBaseAllow = []string{
	"dispatch",
	"status_query",
	"mailbox",
	"prompt_chain_invoke",
}

// baseExclusions is the hard-coded set of destructive operations that no
// override may ever grant to the orchestrator role.
var baseExclusions = map[string]bool{
	"shell_exec":    true,
	"file_write":    true,
	"file_delete":   true,
	"db_write":      true,
	"infra_destroy": true,
	"secret_read":   true,
}

// RolePolicy is the per-role allow/deny configuration.
// Deny is checked first; then the allow list (empty allow = deny all for
// the orchestrator role, allow all for execution roles).
type RolePolicy struct {
	AllowedTools []string `yaml:"allowed_tools" json:"allowed_tools"`
	DeniedTools  []string `yaml:"denied_tools" json:"denied_tools"`
}

// Override widens or narrows a role's tool lists for one project.
type Override struct {
	Project string   `yaml:"project" json:"project"`
	Role    string   `yaml:"role" json:"role"`
	Allow   []string `yaml:"allow" json:"allow"`
	Deny    []string `yaml:"deny" json:"deny"`
}

// Config is the declarative policy surface, hot-reloadable.
type Config struct {
	Roles     map[string]RolePolicy `yaml:"roles" json:"roles"`
	Overrides []Override            `yaml:"overrides" json:"overrides"`
	FileRules []FileRule            `yaml:"file_rules" json:"file_rules"`

	// CacheTTL bounds per-worker staleness of the read-mostly snapshot.
	// Writes invalidate the cache explicitly; the TTL is a backstop.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// Enforcer evaluates the (role, tool) matrix. Thread-safe; Replace swaps
// the whole configuration under the write lock (hot reload).
type Enforcer struct {
	mu     sync.RWMutex
	roles  map[string]RolePolicy
	sink   audit.Sink
	logger *slog.Logger

	generation uint64 // Bumped on every Replace; cached views revalidate against it.
}

// NewEnforcer creates an Enforcer from the config. Overrides are applied
// at construction; an override that would grant the orchestrator role a
// tool from the base exclusion set fails loudly.
func NewEnforcer(cfg Config, sink audit.Sink, logger *slog.Logger) (*Enforcer, error) {
	if sink == nil {
		sink = audit.NopSink{}
	}
	roles, err := compile(cfg)
	if err != nil {
		return nil, err
	}
	return &Enforcer{
		roles:  roles,
		sink:   sink,
		logger: logger,
	}, nil
}

// compile merges base defaults and overrides into the effective matrix.
func compile(cfg Config) (map[string]RolePolicy, error) {
	roles := make(map[string]RolePolicy, len(cfg.Roles)+1)
	for name, rp := range cfg.Roles {
		roles[name] = RolePolicy{
			AllowedTools: append([]string(nil), rp.AllowedTools...),
			DeniedTools:  append([]string(nil), rp.DeniedTools...),
		}
	}

	// The orchestrator base allow list is always present; config may add
	// denials but starts from the coordination-only set.
	orch := roles[RoleOrchestrator]
	orch.AllowedTools = mergeUnique(orchestratorBaseAllow, orch.AllowedTools)
	roles[RoleOrchestrator] = orch

	for _, ov := range cfg.Overrides {
		if ov.Role == RoleOrchestrator {
			for _, tool := range ov.Allow {
				if baseExclusions[tool] {
					return nil, fmt.Errorf("%w: cannot grant %q to the orchestrator role (base exclusion)",
						ErrInvalidOverride, tool)
				}
			}
		}
		rp := roles[ov.Role]
		rp.AllowedTools = mergeUnique(rp.AllowedTools, ov.Allow)
		rp.DeniedTools = mergeUnique(rp.DeniedTools, ov.Deny)
		roles[ov.Role] = rp
	}

	return roles, nil
}

// Replace swaps the effective matrix (hot reload). Cached views become
// stale immediately: the generation counter is bumped, not the TTL waited
// out.
func (e *Enforcer) Replace(cfg Config) error {
	roles, err := compile(cfg)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.roles = roles
	e.generation++
	e.mu.Unlock()
	e.logger.Info("dispatcher policy replaced", slog.Int("roles", len(roles)))
	return nil
}

// Generation returns the current config generation for cache validation.
func (e *Enforcer) Generation() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.generation
}

// CheckTool returns nil if the role may invoke the tool directly.
// Denials produce exactly one audit entry and are never downgraded to a
// warning. Evaluation is deny-first, then allow-list; for the orchestrator
// role an empty allow match means deny (default-deny matrix).
func (e *Enforcer) CheckTool(ctx context.Context, agentID, role, tool string) error {
	e.mu.RLock()
	rp, bound := e.roles[role]
	e.mu.RUnlock()

	err := evaluate(rp, bound, role, tool)
	if err != nil {
		_ = e.sink.Record(ctx, audit.Event{
			Actor:   agentID,
			Action:  audit.ActionPolicyViolation,
			Subject: tool,
			Result:  "denied",
			Detail:  fmt.Sprintf("role=%s", role),
			Error:   err.Error(),
		})
		e.logger.WarnContext(ctx, "dispatcher boundary violation",
			slog.String("agent_id", agentID),
			slog.String("role", role),
			slog.String("tool", tool),
		)
	}
	return err
}

func evaluate(rp RolePolicy, bound bool, role, tool string) error {
	for _, d := range rp.DeniedTools {
		if d == tool {
			return fmt.Errorf("%w: tool %q is explicitly denied for role %q", ErrPolicyDenied, tool, role)
		}
	}

	// Orchestrator: allow list is authoritative, default-deny.
	if role == RoleOrchestrator {
		for _, a := range rp.AllowedTools {
			if a == tool {
				return nil
			}
		}
		return fmt.Errorf("%w: orchestrator role may delegate but not invoke %q directly", ErrPolicyDenied, tool)
	}

	// Execution roles: non-empty allow list is authoritative; an unbound
	// role or empty allow list permits all tools not denied.
	if bound && len(rp.AllowedTools) > 0 {
		for _, a := range rp.AllowedTools {
			if a == tool {
				return nil
			}
		}
		return fmt.Errorf("%w: tool %q is not in the allow list for role %q", ErrPolicyDenied, tool, role)
	}
	return nil
}

func mergeUnique(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, s := range base {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range extra {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
