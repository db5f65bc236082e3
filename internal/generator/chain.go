package generator

import (
	"context"
	"fmt"

	"github.com/vk/benchgrid/internal/conf"
	"github.com/vk/benchgrid/internal/ctxlog"
)

// ResolveChains materializes chained experiments: for every generated
// instance whose block declares chains, each namespace-glob match is cloned
// as a child with an explicit execution order and a controlled subset of
// inherited variables. Children land in the returned slice after all the
// root instances; their working directories nest under the parent.
func (g *Generator) ResolveChains(ctx context.Context, instances []*ExperimentInstance) ([]*ExperimentInstance, error) {
	logger := ctxlog.FromContext(ctx)
	out := append([]*ExperimentInstance(nil), instances...)

	for _, parent := range instances {
		if parent.Source == nil || len(parent.Source.Chains) == 0 || parent.IsChained() {
			continue
		}
		var before, after []string
		for chainIdx, chain := range parent.Source.Chains {
			matched := false
			for _, target := range instances {
				if target == parent || target.IsChained() {
					continue
				}
				if !target.MatchesNamespace(chain.Pattern) {
					continue
				}
				matched = true
				child := cloneAsChild(parent, target, chain, chainIdx)
				out = append(out, child)
				if chain.Order == conf.ChainBeforeRoot {
					before = append(before, child.FullName())
				} else {
					after = append(after, child.FullName())
				}
			}
			if !matched {
				logger.Warn("Chained experiment pattern matched nothing.",
					"parent", parent.FullName(), "pattern", chain.Pattern)
			}
		}
		parent.ChainOrder = append(before, after...)
	}
	return out, nil
}

// cloneAsChild derives a chained child instance from a chain target.
func cloneAsChild(parent, target *ExperimentInstance, chain conf.Chain, chainIdx int) *ExperimentInstance {
	name := fmt.Sprintf("%s.chain.%d.%s", parent.Name, chainIdx, target.Name)
	vars := target.Variables.Clone()
	for _, n := range chain.InheritVariables {
		if v, ok := parent.Variables.Get(n); ok {
			vars.Set(n, v)
		}
	}
	return &ExperimentInstance{
		Name:        name,
		Namespace:   parent.Namespace,
		Index:       target.Index,
		Variables:   vars,
		Tags:        append([]string(nil), target.Tags...),
		ChainParent: parent.FullName(),
		Order:       chain.Order,
		WorkdirRel:  parent.WorkdirRel + "/chained_experiments/" + name,
		Source:      target.Source,
	}
}
