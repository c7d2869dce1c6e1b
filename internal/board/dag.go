package board

import (
	"fmt"

	"github.com/gammazero/toposort"
)

// checkAcyclic validates that adding blockedBy edges for candidateID (not
// yet present in tasks) keeps the whole blocked_by graph a DAG, per
// spec.md §3.1's acyclic-dependency invariant. Grounded on
// internal/scheduler/dag.go's use of gammazero/toposort in the teacher,
// generalized from an explicit task list to the board's blocked_by field.
func checkAcyclic(tasks map[string]*Task, candidateID string, blockedBy []string) error {
	var edges []toposort.Edge
	seen := map[string]bool{candidateID: true}

	addNode := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
	}

	for _, dep := range blockedBy {
		edges = append(edges, toposort.Edge{dep, candidateID})
		addNode(dep)
	}
	if len(blockedBy) == 0 {
		edges = append(edges, toposort.Edge{nil, candidateID})
	}

	for id, t := range tasks {
		addNode(id)
		if len(t.BlockedBy) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, dep := range t.BlockedBy {
			edges = append(edges, toposort.Edge{dep, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCyclicDependency, err)
	}
	found := 0
	for _, id := range sorted {
		if id != nil {
			found++
		}
	}
	if found < len(seen) {
		return ErrCyclicDependency
	}
	return nil
}
