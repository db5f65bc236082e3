// Package executable models the commands an experiment runs and composes
// them, together with injected builtins, into a single ordered command list.
package executable

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/benchgrid/internal/ordered"
	"github.com/vk/benchgrid/internal/value"
)

// BuiltinPrefix namespaces builtin command fragments in the execution graph,
// keeping them from colliding with application executable names.
const BuiltinPrefix = "builtin::"

// Executable is one named command an application declares. Template holds
// the raw command lines; variable references inside them are resolved when
// the experiment script is rendered.
type Executable struct {
	Name            string
	Template        []string
	UseMPI          bool
	Redirect        string
	OutputCapture   string
	RunInBackground bool

	// VariableOverrides shadow instance bindings for this executable only.
	VariableOverrides map[string]value.Value
}

// Builtin is a reusable named command fragment contributed by an
// application, modifier, or package manager. Its position in the command
// list is declared relative to other nodes via RunBefore/RunAfter.
type Builtin struct {
	Name      string
	Template  []string
	RunBefore []string
	RunAfter  []string
}

// QualifiedName returns the builtin's graph key.
func (b Builtin) QualifiedName() string {
	if strings.HasPrefix(b.Name, BuiltinPrefix) {
		return b.Name
	}
	return BuiltinPrefix + b.Name
}

// Position declares which side of an anchor an injected fragment lands on.
type Position int

const (
	// PositionBefore inserts the fragment before its anchor.
	PositionBefore Position = iota
	// PositionAfter inserts the fragment after its anchor.
	PositionAfter
)

// Injection is a late request to place a named builtin relative to an
// anchor node in the executable list.
type Injection struct {
	Name     string
	Position Position
	Anchor   string
}

// Modification wraps a target executable with extra commands contributed by
// a modifier: Prepend entries run immediately before the target, Append
// entries immediately after.
type Modification struct {
	Target  string
	Prepend []Executable
	Append  []Executable
}

// Composition collects everything that contributes commands to one
// experiment and produces the final ordered list.
type Composition struct {
	graph      *ordered.Graph[Executable]
	injections []Injection
}

// NewComposition returns an empty composition.
func NewComposition() *Composition {
	return &Composition{graph: ordered.New[Executable]()}
}

// AddExecutables appends the application's declared executables in their
// declared order: each one is constrained to follow its predecessor so the
// base sequence survives builtin injection.
func (c *Composition) AddExecutables(execs []Executable) error {
	var prev string
	for _, e := range execs {
		if err := c.graph.AddNode(e.Name, e); err != nil {
			return err
		}
		if prev != "" {
			c.graph.OrderAfter(e.Name, prev)
		}
		prev = e.Name
	}
	return nil
}

// AddBuiltin registers a builtin fragment with its declared ordering
// constraints.
func (c *Composition) AddBuiltin(b Builtin) error {
	key := b.QualifiedName()
	exec := Executable{Name: key, Template: b.Template}
	if err := c.graph.AddNode(key, exec); err != nil {
		return err
	}
	for _, other := range b.RunBefore {
		c.graph.OrderBefore(key, other)
	}
	for _, other := range b.RunAfter {
		c.graph.OrderAfter(key, other)
	}
	return nil
}

// Inject records a late placement request for an already-registered node.
// Unknown names or anchors are tolerated at sort time with a warning.
func (c *Composition) Inject(inj Injection) {
	c.injections = append(c.injections, inj)
	switch inj.Position {
	case PositionBefore:
		c.graph.OrderBefore(inj.Name, inj.Anchor)
	case PositionAfter:
		c.graph.OrderAfter(inj.Name, inj.Anchor)
	}
}

// Apply rewrites the composition with a modifier's wrapping commands. The
// wrapped commands inherit ordering through explicit constraints against
// the target.
func (c *Composition) Apply(ctx context.Context, mod Modification) error {
	if !c.graph.Has(mod.Target) {
		// Modifiers are authored independently of applications; a missing
		// target is tolerated the same way unresolved order edges are.
		return nil
	}
	for _, e := range mod.Prepend {
		if err := c.graph.AddNode(e.Name, e); err != nil {
			return fmt.Errorf("modifier prepend for %q: %w", mod.Target, err)
		}
		c.graph.OrderBefore(e.Name, mod.Target)
	}
	for _, e := range mod.Append {
		if err := c.graph.AddNode(e.Name, e); err != nil {
			return fmt.Errorf("modifier append for %q: %w", mod.Target, err)
		}
		c.graph.OrderAfter(e.Name, mod.Target)
	}
	return nil
}

// Order linearizes the composition. It is re-run after every injection, so
// late builtins land at their declared relative positions.
func (c *Composition) Order(ctx context.Context) ([]Executable, error) {
	return c.graph.TopologicalOrder(ctx)
}
