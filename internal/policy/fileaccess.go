package policy

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jkaninda/kundi/internal/audit"
)

// Tier is the file access level attached to a path pattern.
type Tier string

const (
	// TierZeroAccess blocks every operation, including reads.
	TierZeroAccess Tier = "zero_access"
	// TierReadOnly permits reads and blocks writes and deletes.
	TierReadOnly Tier = "read_only"
	// TierNoDelete permits reads and writes and blocks deletes.
	TierNoDelete Tier = "no_delete"
)

// FileOp is the requested file operation.
type FileOp string

const (
	FileOpRead   FileOp = "read"
	FileOpWrite  FileOp = "write"
	FileOpDelete FileOp = "delete"
)

// FileRule maps a glob pattern to an access tier. Rules are evaluated in
// declaration order; the first matching rule wins, so the most restrictive
// patterns should come first.
type FileRule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Tier    Tier   `yaml:"tier" json:"tier"`
}

// FileGuard evaluates path operations against the tier rules.
type FileGuard struct {
	rules  []FileRule
	sink   audit.Sink
	logger *slog.Logger
}

// NewFileGuard validates the rules and builds a guard. Unknown tiers and
// malformed glob patterns are construction errors, not runtime surprises.
func NewFileGuard(rules []FileRule, sink audit.Sink, logger *slog.Logger) (*FileGuard, error) {
	if sink == nil {
		sink = audit.NopSink{}
	}
	for _, r := range rules {
		switch r.Tier {
		case TierZeroAccess, TierReadOnly, TierNoDelete:
		default:
			return nil, fmt.Errorf("%w: unknown file access tier %q", ErrInvalidOverride, r.Tier)
		}
		if _, err := filepath.Match(r.Pattern, "probe"); err != nil {
			return nil, fmt.Errorf("%w: bad pattern %q: %v", ErrInvalidOverride, r.Pattern, err)
		}
	}
	return &FileGuard{rules: append([]FileRule(nil), rules...), sink: sink, logger: logger}, nil
}

// CheckFile returns nil if the operation is permitted on the path.
// Paths with no matching rule are unrestricted. Denials produce one
// audit entry.
func (g *FileGuard) CheckFile(ctx context.Context, agentID, path string, op FileOp) error {
	tier, matched := g.tierFor(path)
	if !matched {
		return nil
	}
	if allowed(tier, op) {
		return nil
	}
	err := fmt.Errorf("%w: %s on %q blocked by tier %s", ErrPolicyDenied, op, path, tier)
	_ = g.sink.Record(ctx, audit.Event{
		Actor:   agentID,
		Action:  audit.ActionPolicyViolation,
		Subject: path,
		Result:  "denied",
		Detail:  fmt.Sprintf("op=%s tier=%s", op, tier),
		Error:   err.Error(),
	})
	g.logger.WarnContext(ctx, "file access blocked",
		slog.String("agent_id", agentID),
		slog.String("path", path),
		slog.String("op", string(op)),
		slog.String("tier", string(tier)),
	)
	return err
}

func (g *FileGuard) tierFor(path string) (Tier, bool) {
	clean := filepath.ToSlash(filepath.Clean(path))
	for _, r := range g.rules {
		if matchPath(r.Pattern, clean) {
			return r.Tier, true
		}
	}
	return "", false
}

// matchPath extends filepath.Match with a directory-prefix form: a
// pattern ending in "/**" matches every path under that directory.
func matchPath(pattern, path string) bool {
	if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
		return path == dir || strings.HasPrefix(path, dir+"/")
	}
	ok, _ := filepath.Match(pattern, path)
	return ok
}

func allowed(tier Tier, op FileOp) bool {
	switch tier {
	case TierZeroAccess:
		return false
	case TierReadOnly:
		return op == FileOpRead
	case TierNoDelete:
		return op != FileOpDelete
	default:
		return false
	}
}
