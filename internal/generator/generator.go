// Package generator expands a merged experiment context into its concrete,
// deterministic set of experiment instances.
//
// Vector variables become expansion axes; matrices and zips bind several
// vectors into one lock-step axis; excludes prune the cartesian product;
// repeats and chained experiments multiply the survivors. The same context
// always yields the same instances in the same order, which is what makes
// experiment indices usable as cache keys.
package generator

import (
	"context"
	"fmt"

	"github.com/vk/benchgrid/internal/conf"
	"github.com/vk/benchgrid/internal/ctxlog"
	"github.com/vk/benchgrid/internal/expander"
	"github.com/vk/benchgrid/internal/value"
)

// Generator expands merged contexts into experiment instances.
type Generator struct {
	exp *expander.Expander
}

// New returns a Generator using the given expander.
func New(exp *expander.Expander) *Generator {
	return &Generator{exp: exp}
}

// axis is one expansion dimension: a set of variable names advanced in
// lock-step over rows of scalar values.
type axis struct {
	names []string
	rows  [][]value.Value
	// pos is the declaration index of the earliest-declared member,
	// used to keep axis order stable across unrelated config edits.
	pos int
}

// Generate expands the merged context into its ordered instance list.
// Errors are scoped to this context; the caller decides whether sibling
// blocks keep generating.
func (g *Generator) Generate(ctx context.Context, c *conf.Context) ([]*ExperimentInstance, error) {
	logger := ctxlog.FromContext(ctx)

	axes, scalarBase, err := g.buildAxes(c)
	if err != nil {
		return nil, fmt.Errorf("experiment block %s: %w", c.Namespace, err)
	}

	total := 1
	for _, a := range axes {
		total *= len(a.rows)
	}
	logger.Debug("Expanding experiment block.",
		"namespace", c.Namespace, "axes", len(axes), "candidates", total)

	var instances []*ExperimentInstance
	index := 0
	for odo := 0; odo < total; odo++ {
		bindings := g.candidateBindings(scalarBase, axes, odo)

		excluded, err := g.isExcluded(c, bindings)
		if err != nil {
			return nil, fmt.Errorf("experiment block %s: %w", c.Namespace, err)
		}
		if excluded {
			continue
		}

		name, err := g.exp.Expand(c.NameTemplate, bindings.Bindings())
		if err != nil {
			return nil, fmt.Errorf("experiment block %s: resolving name template: %w", c.Namespace, err)
		}

		tags, err := g.expandTags(c.Tags, bindings)
		if err != nil {
			return nil, fmt.Errorf("experiment block %s: %w", c.Namespace, err)
		}

		base := &ExperimentInstance{
			Name:         name,
			Namespace:    c.Namespace,
			Index:        index,
			Variables:    bindings,
			Tags:         tags,
			NRepeats:     c.NRepeats,
			IsRepeatBase: c.NRepeats > 0,
			Template:     c.Template,
			Source:       c,
			WorkdirRel:   name,
		}
		index++
		instances = append(instances, base)
		instances = append(instances, materializeRepeats(base, c.NRepeats)...)
	}

	logger.Debug("Experiment block expanded.",
		"namespace", c.Namespace, "instances", len(instances))
	return instances, nil
}

// buildAxes partitions the variable table into scalar bindings and
// expansion axes. Matrix members are zipped into combined axes; remaining
// vectors each form their own axis.
func (g *Generator) buildAxes(c *conf.Context) ([]axis, *conf.VariableTable, error) {
	matrices := append([]conf.Matrix(nil), c.Matrices...)
	for _, ref := range c.ZipRefs {
		z, ok := c.Zips[ref]
		if !ok {
			return nil, nil, fmt.Errorf("reference to undefined zip %q", ref)
		}
		matrices = append(matrices, z)
	}

	inMatrix := make(map[string]bool)
	declIndex := make(map[string]int)
	for i, n := range c.Variables.Names() {
		declIndex[n] = i
	}

	var axes []axis
	for _, m := range matrices {
		a, err := g.matrixAxis(c, m, declIndex)
		if err != nil {
			return nil, nil, err
		}
		for _, n := range m.Variables {
			inMatrix[n] = true
		}
		axes = append(axes, a)
	}

	scalarBase := conf.NewVariableTable()
	for _, n := range c.Variables.Names() {
		v, _ := c.Variables.Get(n)
		switch {
		case inMatrix[n]:
			// Placeholder keeps declaration order; the axis row overwrites it.
			scalarBase.Set(n, v)
		case v.IsVector():
			axes = append(axes, axis{
				names: []string{n},
				rows:  vectorRows(v),
				pos:   declIndex[n],
			})
			scalarBase.Set(n, v)
		default:
			scalarBase.Set(n, v)
		}
	}

	sortAxes(axes)
	return axes, scalarBase, nil
}

// matrixAxis zips the matrix member vectors into one combined axis.
func (g *Generator) matrixAxis(c *conf.Context, m conf.Matrix, declIndex map[string]int) (axis, error) {
	rowsLen := -1
	lengths := make(map[string]int, len(m.Variables))
	pos := -1
	cols := make([][]value.Value, len(m.Variables))
	for i, n := range m.Variables {
		v, ok := c.Variables.Get(n)
		if !ok {
			return axis{}, fmt.Errorf("matrix references undefined variable %q", n)
		}
		var elems []value.Value
		if v.IsVector() {
			elems = v.Elems()
		} else {
			elems = []value.Value{v}
		}
		lengths[n] = len(elems)
		if rowsLen == -1 {
			rowsLen = len(elems)
		} else if rowsLen != len(elems) {
			return axis{}, &AxisMismatchError{Variables: m.Variables, Lengths: lengths}
		}
		cols[i] = elems
		if p, ok := declIndex[n]; ok && (pos == -1 || p < pos) {
			pos = p
		}
	}
	rows := make([][]value.Value, rowsLen)
	for r := 0; r < rowsLen; r++ {
		row := make([]value.Value, len(cols))
		for cI := range cols {
			row[cI] = cols[cI][r]
		}
		rows[r] = row
	}
	return axis{names: m.Variables, rows: rows, pos: pos}, nil
}

// sortAxes orders axes by first declaration, stable for equal positions.
func sortAxes(axes []axis) {
	for i := 1; i < len(axes); i++ {
		for j := i; j > 0 && axes[j].pos < axes[j-1].pos; j-- {
			axes[j], axes[j-1] = axes[j-1], axes[j]
		}
	}
}

func vectorRows(v value.Value) [][]value.Value {
	rows := make([][]value.Value, len(v.Elems()))
	for i, e := range v.Elems() {
		rows[i] = []value.Value{e}
	}
	return rows
}

// candidateBindings materializes the odometer combination for one candidate.
// The last-declared axis varies fastest.
func (g *Generator) candidateBindings(scalarBase *conf.VariableTable, axes []axis, odo int) *conf.VariableTable {
	bindings := scalarBase.Clone()
	rem := odo
	for i := len(axes) - 1; i >= 0; i-- {
		a := axes[i]
		rowIdx := rem % len(a.rows)
		rem /= len(a.rows)
		for j, n := range a.names {
			bindings.Set(n, a.rows[rowIdx][j])
		}
	}
	return bindings
}

// isExcluded evaluates the block's exclude filters against one candidate.
func (g *Generator) isExcluded(c *conf.Context, bindings *conf.VariableTable) (bool, error) {
	for _, ex := range c.Excludes {
		if len(ex.Matrices) > 0 && !candidateInSubProduct(c, ex.Matrices, bindings) {
			continue
		}
		for _, where := range ex.Where {
			drop, err := g.exp.EvaluatePredicate(where, bindings.Bindings())
			if err != nil {
				return false, &FilterError{Expr: where, Err: err}
			}
			if drop {
				return true, nil
			}
		}
	}
	return false, nil
}

// candidateInSubProduct reports whether the candidate lies within the
// zipped sub-product an exclude is scoped to: for each scoped matrix, the
// candidate's bound scalars must line up on a single row of the members'
// original vectors.
func candidateInSubProduct(c *conf.Context, matrices []conf.Matrix, bindings *conf.VariableTable) bool {
	for _, m := range matrices {
		row := -1
		for _, n := range m.Variables {
			bound, ok := bindings.Get(n)
			if !ok {
				return false
			}
			original, ok := c.Variables.Get(n)
			if !ok || !original.IsVector() {
				// Scalars are trivially on every row.
				continue
			}
			idx := -1
			for i, e := range original.Elems() {
				if e.Text() == bound.Text() {
					idx = i
					break
				}
			}
			if idx == -1 {
				return false
			}
			if row == -1 {
				row = idx
			} else if row != idx {
				return false
			}
		}
	}
	return true
}

// expandTags resolves tag templates against the candidate bindings.
func (g *Generator) expandTags(tags []string, bindings *conf.VariableTable) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	out := make([]string, len(tags))
	for i, t := range tags {
		expanded, err := g.exp.Expand(t, bindings.Bindings())
		if err != nil {
			return nil, fmt.Errorf("resolving tag %q: %w", t, err)
		}
		out[i] = expanded
	}
	return out, nil
}

// materializeRepeats clones a base instance into its numbered repeats.
func materializeRepeats(base *ExperimentInstance, n int) []*ExperimentInstance {
	if n <= 0 {
		return nil
	}
	repeats := make([]*ExperimentInstance, n)
	for i := 1; i <= n; i++ {
		r := *base
		r.Name = fmt.Sprintf("%s.%d", base.Name, i)
		r.WorkdirRel = r.Name
		r.Variables = base.Variables.Clone()
		r.IsRepeatBase = false
		r.RepeatIndex = i
		repeats[i-1] = &r
	}
	return repeats
}
