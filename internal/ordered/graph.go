// Package ordered provides a generic topological sorter over nodes with
// declared "run before" / "run after" constraints. It is shared by pipeline
// phase ordering and per-experiment executable composition.
//
// Determinism is part of the contract: ties are always broken by node
// insertion order, so the same graph linearizes identically on every run.
// Constraints that reference keys absent from the graph are dropped with a
// warning rather than failing the sort, because phases and executables are
// authored independently and may name optional peers.
package ordered

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/vk/benchgrid/internal/ctxlog"
)

// CycleError reports an ordering cycle; Keys holds every key still caught
// in the cycle after all orderable nodes have been emitted.
type CycleError struct {
	Keys []string
}

// Error implements the error interface for CycleError.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among: %s", strings.Join(e.Keys, ", "))
}

// edge records one declared constraint: Before must precede After.
type edge struct {
	Before string
	After  string
}

// Graph is an ordered collection of keyed payloads with before/after
// constraints. Payloads are opaque; two nodes are equal iff their keys are.
type Graph[T any] struct {
	payloads map[string]T
	order    []string
	edges    []edge
}

// New returns an empty graph.
func New[T any]() *Graph[T] {
	return &Graph[T]{payloads: make(map[string]T)}
}

// AddNode inserts a payload under key. Keys must be unique within one graph.
func (g *Graph[T]) AddNode(key string, payload T) error {
	if _, exists := g.payloads[key]; exists {
		return fmt.Errorf("node %q already present in graph", key)
	}
	g.payloads[key] = payload
	g.order = append(g.order, key)
	return nil
}

// Has reports whether key is present.
func (g *Graph[T]) Has(key string) bool {
	_, ok := g.payloads[key]
	return ok
}

// Payload returns the payload stored under key.
func (g *Graph[T]) Payload(key string) (T, bool) {
	p, ok := g.payloads[key]
	return p, ok
}

// Len returns the number of nodes.
func (g *Graph[T]) Len() int {
	return len(g.order)
}

// Keys returns all keys in insertion order.
func (g *Graph[T]) Keys() []string {
	return append([]string(nil), g.order...)
}

// OrderBefore declares that key must appear before other.
func (g *Graph[T]) OrderBefore(key, other string) {
	g.edges = append(g.edges, edge{Before: key, After: other})
}

// OrderAfter declares that key must appear after other.
func (g *Graph[T]) OrderAfter(key, other string) {
	g.edges = append(g.edges, edge{Before: other, After: key})
}

// activeEdges returns the constraints whose endpoints both exist, warning
// about any dropped ones.
func (g *Graph[T]) activeEdges(ctx context.Context) []edge {
	logger := ctxlog.FromContext(ctx)
	var active []edge
	for _, e := range g.edges {
		if !g.Has(e.Before) || !g.Has(e.After) {
			logger.Warn("Ignoring ordering constraint with unresolved reference.",
				"before", e.Before, "after", e.After)
			continue
		}
		if e.Before == e.After {
			logger.Warn("Ignoring self-referential ordering constraint.", "key", e.Before)
			continue
		}
		active = append(active, e)
	}
	return active
}

// TopologicalOrder linearizes the graph and returns the payloads. The order
// satisfies every resolvable constraint; unconstrained nodes keep their
// insertion order relative to each other.
func (g *Graph[T]) TopologicalOrder(ctx context.Context) ([]T, error) {
	keys, err := g.SortedKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(keys))
	for i, k := range keys {
		out[i] = g.payloads[k]
	}
	return out, nil
}

// SortedKeys is TopologicalOrder for callers that only need the keys.
func (g *Graph[T]) SortedKeys(ctx context.Context) ([]string, error) {
	indegree := make(map[string]int, len(g.order))
	successors := make(map[string][]string, len(g.order))
	for _, k := range g.order {
		indegree[k] = 0
	}
	seen := make(map[edge]struct{})
	for _, e := range g.activeEdges(ctx) {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		successors[e.Before] = append(successors[e.Before], e.After)
		indegree[e.After]++
	}

	// Kahn's algorithm with the ready set scanned in insertion order. The
	// repeated scan is quadratic, but graphs here hold phases or commands,
	// never more than a few dozen nodes.
	emitted := make(map[string]bool, len(g.order))
	out := make([]string, 0, len(g.order))
	for len(out) < len(g.order) {
		progressed := false
		for _, k := range g.order {
			if emitted[k] || indegree[k] != 0 {
				continue
			}
			emitted[k] = true
			out = append(out, k)
			for _, succ := range successors[k] {
				indegree[succ]--
			}
			progressed = true
			break
		}
		if !progressed {
			var cycle []string
			for _, k := range g.order {
				if !emitted[k] {
					cycle = append(cycle, k)
				}
			}
			return nil, &CycleError{Keys: cycle}
		}
	}
	return out, nil
}

// Select returns the subgraph of nodes whose keys match any of the glob
// patterns. With includeDependencies, every transitive predecessor of a
// selected node is pulled in as well, so the sub-order remains runnable.
func (g *Graph[T]) Select(ctx context.Context, patterns []string, includeDependencies bool) (*Graph[T], error) {
	selected := make(map[string]bool)
	for _, k := range g.order {
		for _, pat := range patterns {
			ok, err := path.Match(pat, k)
			if err != nil {
				return nil, fmt.Errorf("invalid selection pattern %q: %w", pat, err)
			}
			if ok {
				selected[k] = true
				break
			}
		}
	}

	if includeDependencies {
		predecessors := make(map[string][]string)
		for _, e := range g.activeEdges(ctx) {
			predecessors[e.After] = append(predecessors[e.After], e.Before)
		}
		queue := make([]string, 0, len(selected))
		for k := range selected {
			queue = append(queue, k)
		}
		sort.Strings(queue)
		for len(queue) > 0 {
			k := queue[0]
			queue = queue[1:]
			for _, pred := range predecessors[k] {
				if !selected[pred] {
					selected[pred] = true
					queue = append(queue, pred)
				}
			}
		}
	}

	sub := New[T]()
	for _, k := range g.order {
		if selected[k] {
			_ = sub.AddNode(k, g.payloads[k])
		}
	}
	for _, e := range g.edges {
		if selected[e.Before] && selected[e.After] {
			sub.OrderBefore(e.Before, e.After)
		}
	}
	return sub, nil
}
