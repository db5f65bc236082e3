// Package registry is the central glue between compiled-in definitions and
// the configuration that references them by name.
//
// Applications, modifiers, and package managers are all Definition values
// produced by an explicit builder: a plain constructor populated by
// ordinary function calls, with the capability differences expressed by a
// typed Kind rather than inheritance. Definitions are immutable once built.
package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vk/benchgrid/internal/conf"
	"github.com/vk/benchgrid/internal/ctxlog"
	"github.com/vk/benchgrid/internal/executable"
	"github.com/vk/benchgrid/internal/pipeline"
)

// Kind classifies a definition.
type Kind int

const (
	// KindApplication declares workloads, executables, and phases.
	KindApplication Kind = iota
	// KindModifier wraps or augments another definition's executables.
	KindModifier
	// KindPackageManager provisions software environments and contributes
	// phases to the setup pipeline.
	KindPackageManager
)

// String renders the kind for logs.
func (k Kind) String() string {
	switch k {
	case KindApplication:
		return "application"
	case KindModifier:
		return "modifier"
	case KindPackageManager:
		return "package_manager"
	}
	return "unknown"
}

// Definition is the resolved, immutable description of one application,
// modifier, or package manager.
type Definition struct {
	name          string
	kind          Kind
	executables   []executable.Executable
	builtins      []executable.Builtin
	phases        []*pipeline.Phase
	modifications []executable.Modification
	context       *conf.Context
}

// Name returns the definition's registry key.
func (d *Definition) Name() string { return d.name }

// Kind returns the definition's capability class.
func (d *Definition) Kind() Kind { return d.kind }

// Executables returns the declared executables in declaration order.
func (d *Definition) Executables() []executable.Executable {
	return append([]executable.Executable(nil), d.executables...)
}

// Builtins returns the declared builtin command fragments.
func (d *Definition) Builtins() []executable.Builtin {
	return append([]executable.Builtin(nil), d.builtins...)
}

// Phases returns the pipeline phases this definition contributes.
func (d *Definition) Phases() []*pipeline.Phase {
	return append([]*pipeline.Phase(nil), d.phases...)
}

// Modifications returns the executable-wrapping rules (modifiers only).
func (d *Definition) Modifications() []executable.Modification {
	return append([]executable.Modification(nil), d.modifications...)
}

// Context returns the raw configuration context declared by the
// definition, or nil.
func (d *Definition) Context() *conf.Context { return d.context }

// Builder assembles a Definition; Build returns the immutable result.
type Builder struct {
	def Definition
}

// NewApplication starts an application definition.
func NewApplication(name string) *Builder {
	return &Builder{def: Definition{name: name, kind: KindApplication}}
}

// NewModifier starts a modifier definition.
func NewModifier(name string) *Builder {
	return &Builder{def: Definition{name: name, kind: KindModifier}}
}

// NewPackageManager starts a package-manager definition.
func NewPackageManager(name string) *Builder {
	return &Builder{def: Definition{name: name, kind: KindPackageManager}}
}

// WithExecutable appends a declared executable.
func (b *Builder) WithExecutable(e executable.Executable) *Builder {
	b.def.executables = append(b.def.executables, e)
	return b
}

// WithBuiltin appends a builtin command fragment.
func (b *Builder) WithBuiltin(bi executable.Builtin) *Builder {
	b.def.builtins = append(b.def.builtins, bi)
	return b
}

// WithPhase appends a contributed pipeline phase.
func (b *Builder) WithPhase(ph *pipeline.Phase) *Builder {
	b.def.phases = append(b.def.phases, ph)
	return b
}

// WithModification appends an executable-wrapping rule.
func (b *Builder) WithModification(m executable.Modification) *Builder {
	b.def.modifications = append(b.def.modifications, m)
	return b
}

// WithContext attaches the definition's declared configuration context.
func (b *Builder) WithContext(c *conf.Context) *Builder {
	b.def.context = c
	return b
}

// Build finalizes the definition.
func (b *Builder) Build() *Definition {
	d := b.def
	return &d
}

// Module is the interface compiled-in definition providers implement to be
// registered at startup.
type Module interface {
	Register(r *Registry)
}

// Registry stores definitions keyed by name, preserving registration order
// for deterministic phase collection.
type Registry struct {
	defs  map[string]*Definition
	order []string
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a definition. A duplicate name is a programmer error
// (mismatch between compiled-in modules), so it panics.
func (r *Registry) Register(def *Definition) {
	if _, exists := r.defs[def.name]; exists {
		panic(fmt.Sprintf("definition with name '%s' already registered", def.name))
	}
	slog.Debug("Registering definition.", "name", def.name, "kind", def.kind.String())
	r.defs[def.name] = def
	r.order = append(r.order, def.name)
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Definitions returns all definitions of the given kind in registration
// order.
func (r *Registry) Definitions(kind Kind) []*Definition {
	var out []*Definition
	for _, n := range r.order {
		if d := r.defs[n]; d.kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// Phases collects every phase contributed to the named pipeline, in
// registration order.
func (r *Registry) Phases(pipelineName string) []*pipeline.Phase {
	var out []*pipeline.Phase
	for _, n := range r.order {
		for _, ph := range r.defs[n].phases {
			if ph.Pipeline == pipelineName {
				out = append(out, ph)
			}
		}
	}
	return out
}

// Validate checks the integrity of the registered definitions: executable
// names must be unique per definition and modifications must name a kind
// that can be modified.
func (r *Registry) Validate(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	for _, n := range r.order {
		d := r.defs[n]
		seen := make(map[string]bool, len(d.executables))
		for _, e := range d.executables {
			if seen[e.Name] {
				return fmt.Errorf("definition %q declares executable %q twice", d.name, e.Name)
			}
			seen[e.Name] = true
		}
		if len(d.modifications) > 0 && d.kind != KindModifier {
			return fmt.Errorf("definition %q declares executable modifications but is a %s", d.name, d.kind)
		}
	}
	logger.Debug("Registry validation passed.", "definitions", len(r.order))
	return nil
}
