package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ValidateDAG checks that the subtask specifications form a valid DAG:
// no out-of-range indices, no self-references, and no cycles. Validation
// runs before any subtask is persisted or dispatched, so a bad plan
// leaves no partial state behind.
func ValidateDAG(specs []SubtaskSpec) error {
	n := len(specs)
	for i, spec := range specs {
		for _, dep := range spec.DependsOn {
			if dep < 0 || dep >= n {
				return fmt.Errorf("subtask %d: dependency index %d out of range [0, %d)", i, dep, n)
			}
			if dep == i {
				return fmt.Errorf("subtask %d: self-dependency", i)
			}
		}
	}

	// Detect cycles using DFS with coloring.
	const (
		white = 0 // Not visited.
		gray  = 1 // In current path.
		black = 2 // Fully processed.
	)
	colors := make([]int, n)

	var dfs func(node int) error
	dfs = func(node int) error {
		colors[node] = gray
		for _, dep := range specs[node].DependsOn {
			switch colors[dep] {
			case gray:
				return fmt.Errorf("cycle detected involving subtasks %d and %d", node, dep)
			case white:
				if err := dfs(dep); err != nil {
					return err
				}
			}
		}
		colors[node] = black
		return nil
	}

	for i := range specs {
		if colors[i] == white {
			if err := dfs(i); err != nil {
				return err
			}
		}
	}

	return nil
}

// ResolveDependencies maps spec indices to actual subtask UUIDs.
// specs and ids must have the same length.
func ResolveDependencies(specs []SubtaskSpec, ids []uuid.UUID) map[int][]uuid.UUID {
	deps := make(map[int][]uuid.UUID, len(specs))
	for i, spec := range specs {
		if len(spec.DependsOn) == 0 {
			continue
		}
		resolved := make([]uuid.UUID, len(spec.DependsOn))
		for j, idx := range spec.DependsOn {
			resolved[j] = ids[idx]
		}
		deps[i] = resolved
	}
	return deps
}

// FilterReady returns pending subtasks whose dependencies are all in the
// completed set and whose retry backoff, if any, has elapsed by now.
// Pure function for testing; order of candidates is preserved.
func FilterReady(candidates []Subtask, completed map[uuid.UUID]bool, now time.Time) []Subtask {
	var ready []Subtask
	for _, st := range candidates {
		if st.Status != SubtaskPending {
			continue
		}
		if st.NextAttemptAt != nil && st.NextAttemptAt.After(now) {
			continue
		}
		allMet := true
		for _, dep := range st.DependsOn {
			if !completed[dep] {
				allMet = false
				break
			}
		}
		if allMet {
			ready = append(ready, st)
		}
	}
	return ready
}
