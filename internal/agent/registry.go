// Package agent manages the fleet: a registry of known agents with
// health tracking, and a worker loop that drains an agent's mailbox and
// executes assigned subtasks.
package agent

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrNoAvailableAgent is returned when no healthy agent matches the
// requested role and capabilities.
var ErrNoAvailableAgent = errors.New("no healthy agent with matching role and capabilities")

// Tier groups agents by function within the fleet.
type Tier string

const (
	TierCore    Tier = "core"    // Orchestration and review.
	TierDomain  Tier = "domain"  // Specialist execution.
	TierSupport Tier = "support" // Auxiliary services.
)

// Agent is one registered fleet member. Registration is durable: an
// agent that stops heartbeating is marked unhealthy, never removed.
type Agent struct {
	ID            string    `json:"id"`
	Role          string    `json:"role"`
	Tier          Tier      `json:"tier"`
	Capabilities  []string  `json:"capabilities"`
	Healthy       bool      `json:"healthy"`
	ActiveTasks   int       `json:"active_tasks"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Registry tracks the fleet roster.
type Registry struct {
	mu           sync.RWMutex
	agents       map[string]*Agent
	heartbeatTTL time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

const defaultHeartbeatTTL = 90 * time.Second

// NewRegistry creates a fleet registry. A zero ttl uses the default.
func NewRegistry(heartbeatTTL time.Duration, logger *slog.Logger) *Registry {
	if heartbeatTTL <= 0 {
		heartbeatTTL = defaultHeartbeatTTL
	}
	return &Registry{
		agents:       make(map[string]*Agent),
		heartbeatTTL: heartbeatTTL,
		logger:       logger,
		now:          time.Now,
	}
}

// Register adds or refreshes an agent. Re-registration of a known ID
// updates role and capabilities and restores health.
func (r *Registry) Register(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	existing, known := r.agents[a.ID]
	if known {
		existing.Role = a.Role
		existing.Tier = a.Tier
		existing.Capabilities = append([]string(nil), a.Capabilities...)
		existing.Healthy = true
		existing.LastHeartbeat = now
	} else {
		cp := a
		cp.Capabilities = append([]string(nil), a.Capabilities...)
		cp.Healthy = true
		cp.RegisteredAt = now
		cp.LastHeartbeat = now
		r.agents[a.ID] = &cp
	}
	r.logger.Info("agent registered",
		slog.String("agent_id", a.ID),
		slog.String("role", a.Role),
		slog.String("tier", string(a.Tier)),
		slog.Bool("rejoin", known),
	)
}

// Heartbeat refreshes liveness and load for an agent. Unknown IDs are
// ignored; agents must register first.
func (r *Registry) Heartbeat(agentID string, activeTasks int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return
	}
	a.LastHeartbeat = r.now().UTC()
	a.ActiveTasks = activeTasks
	a.Healthy = true
}

// Get returns a copy of the agent record.
func (r *Registry) Get(agentID string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	if !ok {
		return Agent{}, false
	}
	cp := *a
	cp.Capabilities = append([]string(nil), a.Capabilities...)
	return cp, true
}

// List returns the full roster sorted by ID.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		cp := *a
		cp.Capabilities = append([]string(nil), a.Capabilities...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Route picks the least-loaded healthy agent for a role that has all the
// required capabilities.
func (r *Registry) Route(role string, capabilities []string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Agent
	for _, a := range r.agents {
		if !a.Healthy || a.Role != role {
			continue
		}
		if !hasAll(a.Capabilities, capabilities) {
			continue
		}
		if best == nil || a.ActiveTasks < best.ActiveTasks {
			best = a
		}
	}
	if best == nil {
		return Agent{}, ErrNoAvailableAgent
	}
	cp := *best
	cp.Capabilities = append([]string(nil), best.Capabilities...)
	return cp, nil
}

// SweepStale marks agents whose heartbeat aged past the TTL as
// unhealthy and returns their IDs. Run periodically by the scheduler.
func (r *Registry) SweepStale() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().UTC().Add(-r.heartbeatTTL)
	var stale []string
	for id, a := range r.agents {
		if a.Healthy && a.LastHeartbeat.Before(cutoff) {
			a.Healthy = false
			stale = append(stale, id)
			r.logger.Warn("agent marked unhealthy",
				slog.String("agent_id", id),
				slog.Time("last_heartbeat", a.LastHeartbeat),
			)
		}
	}
	sort.Strings(stale)
	return stale
}

func hasAll(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[c] = true
	}
	for _, c := range want {
		if !set[c] {
			return false
		}
	}
	return true
}
