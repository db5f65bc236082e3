// Package conf models one precedence layer of experiment configuration (a
// Context) and the typed merge that folds layers together. Layers stack as
// workspace < application < workload < experiment; merging is shallow and
// rule-per-field, never a recursive deep merge.
package conf

import (
	"github.com/vk/benchgrid/internal/executable"
)

// EnvOp enumerates the environment-variable actions a context may declare.
type EnvOp int

const (
	// EnvSet assigns the variable, replacing any existing value.
	EnvSet EnvOp = iota
	// EnvAppend appends to an existing value.
	EnvAppend
	// EnvPrepend prepends to an existing value.
	EnvPrepend
	// EnvUnset removes the variable.
	EnvUnset
)

// EnvAction is one declared environment-variable operation.
type EnvAction struct {
	Op        EnvOp
	Name      string
	Value     string
	Separator string
}

// Matrix is an ordered list of variable names iterated in lock-step rather
// than cross-producted.
type Matrix struct {
	Variables []string
}

// Exclude drops candidate bindings for which Where evaluates true. When the
// exclude carries its own matrix, the filter applies only within that
// sub-product of the candidate space.
type Exclude struct {
	Where    []string
	Matrices []Matrix
}

// ChainOrder places a chained experiment relative to its root.
type ChainOrder int

const (
	// ChainAfterRoot runs the child after the root experiment.
	ChainAfterRoot ChainOrder = iota
	// ChainBeforeRoot runs the child before the root experiment.
	ChainBeforeRoot
)

// Chain declares a chained experiment: a namespace glob selecting template
// or concrete experiments to clone as children of each generated instance.
type Chain struct {
	Pattern          string
	Order            ChainOrder
	InheritVariables []string
}

// Internals holds the executable-level declarations of a context.
type Internals struct {
	// CustomExecutables are extra commands declared inline in configuration.
	CustomExecutables map[string]executable.Executable
	// ExecutableOrder overrides or extends the application's command order.
	ExecutableOrder []string
	// Injections request builtin placement at named relative positions.
	Injections []executable.Injection
}

// Context is one precedence layer of variable, matrix, and executable
// declarations. It is mutable while layers are merged and treated as frozen
// once experiment generation starts.
type Context struct {
	// Namespace identifies the owning scope, e.g. "gromacs.water_bare".
	Namespace string
	// NameTemplate is the experiment-name template, expanded per candidate.
	NameTemplate string

	Variables  *VariableTable
	EnvActions []EnvAction
	Internals  Internals
	Modifiers  []string
	Matrices   []Matrix
	Zips       map[string]Matrix
	ZipRefs    []string
	Excludes   []Exclude
	Tags       []string
	Chains     []Chain

	NRepeats int
	Template bool
}

// NewContext returns an empty context for the given namespace.
func NewContext(namespace string) *Context {
	return &Context{
		Namespace: namespace,
		Variables: NewVariableTable(),
		Zips:      make(map[string]Matrix),
	}
}

// Merge folds the lower-precedence context into the receiver. Rules, one
// per field:
//
//   - NameTemplate, NRepeats, Template: receiver wins when set, otherwise
//     taken from lower.
//   - Variables: lower-layer bindings are inserted first so their
//     declaration order is kept; receiver bindings overwrite values without
//     moving position.
//   - CustomExecutables: key-wise merge, receiver wins per key.
//   - ExecutableOrder: receiver wins wholesale when non-empty.
//   - EnvActions, Injections, Modifiers, Tags, Matrices, ZipRefs, Excludes,
//     Chains: concatenated, lower first.
//   - Zips: key-wise merge, receiver wins per key.
func (c *Context) Merge(lower *Context) {
	if lower == nil {
		return
	}
	if c.NameTemplate == "" {
		c.NameTemplate = lower.NameTemplate
	}
	if c.NRepeats == 0 {
		c.NRepeats = lower.NRepeats
	}
	if !c.Template {
		c.Template = lower.Template
	}

	merged := lower.Variables.Clone()
	for _, n := range c.Variables.Names() {
		v, _ := c.Variables.Get(n)
		merged.Set(n, v)
	}
	c.Variables = merged

	if lower.Internals.CustomExecutables != nil {
		mergedExecs := make(map[string]executable.Executable, len(lower.Internals.CustomExecutables))
		for k, v := range lower.Internals.CustomExecutables {
			mergedExecs[k] = v
		}
		for k, v := range c.Internals.CustomExecutables {
			mergedExecs[k] = v
		}
		c.Internals.CustomExecutables = mergedExecs
	}
	if len(c.Internals.ExecutableOrder) == 0 {
		c.Internals.ExecutableOrder = append([]string(nil), lower.Internals.ExecutableOrder...)
	}
	c.Internals.Injections = append(append([]executable.Injection(nil), lower.Internals.Injections...), c.Internals.Injections...)

	c.EnvActions = append(append([]EnvAction(nil), lower.EnvActions...), c.EnvActions...)
	c.Modifiers = append(append([]string(nil), lower.Modifiers...), c.Modifiers...)
	c.Tags = append(append([]string(nil), lower.Tags...), c.Tags...)
	c.Matrices = append(append([]Matrix(nil), lower.Matrices...), c.Matrices...)
	c.ZipRefs = append(append([]string(nil), lower.ZipRefs...), c.ZipRefs...)
	c.Excludes = append(append([]Exclude(nil), lower.Excludes...), c.Excludes...)
	c.Chains = append(append([]Chain(nil), lower.Chains...), c.Chains...)

	for k, v := range lower.Zips {
		if _, exists := c.Zips[k]; !exists {
			c.Zips[k] = v
		}
	}
}
