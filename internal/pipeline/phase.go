// Package pipeline orders and executes the named phases of a pipeline
// (setup, execute, analyze, archive, ...) for each experiment instance.
// Phases declare "run before"/"run after" constraints instead of positions;
// the linear order is computed once per pipeline invocation and shared by
// every instance.
package pipeline

import (
	"context"

	"github.com/vk/benchgrid/internal/generator"
	"github.com/vk/benchgrid/internal/ordered"
)

// Body is the work of one phase for one experiment instance. Bodies are
// external-collaborator calls; the runner only orders them, times them, and
// propagates their failures.
type Body func(ctx context.Context, run *Run, inst *generator.ExperimentInstance) error

// Phase is one named step of a pipeline with its ordering constraints.
type Phase struct {
	Name      string
	Pipeline  string
	RunBefore []string
	RunAfter  []string
	Body      Body
}

// Filter selects a subset of a pipeline's phases by glob pattern.
type Filter struct {
	// Globs match phase names; empty selects every phase.
	Globs []string
	// IncludeDependencies pulls in transitive predecessors of the matched
	// phases so the sub-order remains runnable.
	IncludeDependencies bool
}

// OrderPhases collects the phases declared for one pipeline, applies the
// filter, and linearizes them.
func OrderPhases(ctx context.Context, phases []*Phase, pipeline string, filter Filter) ([]*Phase, error) {
	g := ordered.New[*Phase]()
	for _, ph := range phases {
		if ph.Pipeline != pipeline {
			continue
		}
		if err := g.AddNode(ph.Name, ph); err != nil {
			return nil, err
		}
	}
	for _, ph := range phases {
		if ph.Pipeline != pipeline {
			continue
		}
		for _, other := range ph.RunBefore {
			g.OrderBefore(ph.Name, other)
		}
		for _, other := range ph.RunAfter {
			g.OrderAfter(ph.Name, other)
		}
	}
	if len(filter.Globs) > 0 {
		sub, err := g.Select(ctx, filter.Globs, filter.IncludeDependencies)
		if err != nil {
			return nil, err
		}
		g = sub
	}
	return g.TopologicalOrder(ctx)
}
