package pipeline

import (
	"errors"
	"fmt"

	"taskgraph/internal/domain"
)

// ErrOpenGraph means an edge points outside the node set. Sanitize rules this
// out, so seeing it is a programming error rather than bad input.
var ErrOpenGraph = errors.New("dependency references unknown task")

const (
	unvisited = iota
	inProgress
	finished
)

type frame struct {
	node int
	edge int
}

// DetectCycles reports, for every task id, whether the task lies on a
// directed cycle of the dependency graph.
//
// The traversal is a three-colour depth-first search driven by an explicit
// stack: roots and edges are taken in declared order, an edge into an
// in-progress node is a back edge, and an edge into a finished node is not
// walked again. Each node also carries a lowlink so that a cycle closed
// through an already finished node (A->B->A found first, then A->C->D->B) is
// still attributed to C and D. Strongly connected components with more than
// one member, and self-loops, are the cycle participants. This is a superset
// of marking only the path between a back edge and its target.
func DetectCycles(tasks []ValidatedTask) (map[string]bool, error) {
	n := len(tasks)
	index := make(map[string]int, n)
	for i, t := range tasks {
		index[t.ID] = i
	}

	adj := make([][]int, n)
	for i, t := range tasks {
		for _, dep := range t.Dependencies {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("%w: %q -> %q", ErrOpenGraph, t.ID, dep)
			}
			adj[i] = append(adj[i], j)
		}
	}

	var (
		color   = make([]int, n)
		order   = make([]int, n)
		low     = make([]int, n)
		onComp  = make([]bool, n)
		inCycle = make([]bool, n)
		comp    = make([]int, 0, n)
		path    = make([]frame, 0, n)
		counter int
	)

	enter := func(v int) {
		color[v] = inProgress
		order[v] = counter
		low[v] = counter
		counter++
		comp = append(comp, v)
		onComp[v] = true
		path = append(path, frame{node: v})
	}

	for root := 0; root < n; root++ {
		if color[root] != unvisited {
			continue
		}
		enter(root)

		for len(path) > 0 {
			top := len(path) - 1
			u := path[top].node

			if path[top].edge < len(adj[u]) {
				v := adj[u][path[top].edge]
				path[top].edge++

				switch color[v] {
				case unvisited:
					enter(v)
				case inProgress:
					if v == u {
						inCycle[u] = true
					}
					low[u] = min(low[u], order[v])
				case finished:
					if onComp[v] {
						low[u] = min(low[u], order[v])
					}
				}
				continue
			}

			color[u] = finished
			path = path[:top]
			if top > 0 {
				parent := path[top-1].node
				low[parent] = min(low[parent], low[u])
			}

			if low[u] != order[u] {
				continue
			}
			start := len(comp) - 1
			for comp[start] != u {
				start--
			}
			members := comp[start:]
			for _, w := range members {
				onComp[w] = false
				if len(members) > 1 {
					inCycle[w] = true
				}
			}
			comp = comp[:start]
		}
	}

	out := make(map[string]bool, n)
	for i, t := range tasks {
		out[t.ID] = inCycle[i]
	}
	return out, nil
}

// Annotate assigns a status to each task from the cycle set. Descriptions
// are left empty for the caller to fill in.
func Annotate(tasks []ValidatedTask, cyclic map[string]bool) []domain.Task {
	out := make([]domain.Task, len(tasks))
	for i, t := range tasks {
		status := domain.StatusOK
		if cyclic[t.ID] {
			status = domain.StatusError
		}
		out[i] = domain.Task{
			ID:           t.ID,
			Priority:     t.Priority,
			Dependencies: append([]string{}, t.Dependencies...),
			Status:       status,
		}
	}
	return out
}
