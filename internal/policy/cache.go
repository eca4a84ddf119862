package policy

import (
	"context"
	"sync"
	"time"
)

// decision caches one allowed (role, tool) verdict.
type decision struct {
	expiresAt  time.Time
	generation uint64
}

// CachedEnforcer memoizes allowed CheckTool verdicts per (role, tool)
// with a TTL backstop. Denials are never cached: every violation must
// reach the inner enforcer so it lands in the audit trail. A config
// Replace bumps the enforcer generation, so every cached verdict from
// before the reload is discarded on next lookup — workers never observe
// a decision older than the TTL or the reload, whichever comes first.
type CachedEnforcer struct {
	inner *Enforcer
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]decision
	now     func() time.Time
}

const defaultCacheTTL = 30 * time.Second

// NewCachedEnforcer wraps an Enforcer. A zero ttl uses the default.
func NewCachedEnforcer(inner *Enforcer, ttl time.Duration) *CachedEnforcer {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedEnforcer{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[string]decision),
		now:     time.Now,
	}
}

// CheckTool serves allowed verdicts from cache when a fresh one for
// (role, tool) exists. A denial always goes through the inner enforcer,
// which audits it.
func (c *CachedEnforcer) CheckTool(ctx context.Context, agentID, role, tool string) error {
	key := role + "\x00" + tool
	gen := c.inner.Generation()

	c.mu.Lock()
	d, ok := c.entries[key]
	if ok && d.generation == gen && c.now().Before(d.expiresAt) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	err := c.inner.CheckTool(ctx, agentID, role, tool)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.entries[key] = decision{expiresAt: c.now().Add(c.ttl), generation: gen}
	c.mu.Unlock()
	return nil
}

// Invalidate drops every cached verdict. Called by the hot-reload path
// after a successful config swap.
func (c *CachedEnforcer) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]decision)
	c.mu.Unlock()
}
