package hclconf

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/benchgrid/internal/conf"
	"github.com/vk/benchgrid/internal/executable"
	"github.com/vk/benchgrid/internal/value"
)

// hclFile is the top-level structure of one configuration file.
type hclFile struct {
	Workspace    *hclBody       `hcl:"workspace,block"`
	Applications []*hclLabelled `hcl:"application,block"`
}

// hclLabelled is a named block whose body is decoded in a second pass, so
// application, workload, and experiment can share one body schema.
type hclLabelled struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

// hclBody is the shared body schema of workspace, application, workload,
// and experiment blocks. Nesting blocks that make no sense at a given level
// (a workload inside a workload) are rejected after decoding.
type hclBody struct {
	NameTemplate string   `hcl:"name_template,optional"`
	NRepeats     int      `hcl:"n_repeats,optional"`
	Template     bool     `hcl:"template,optional"`
	Tags         []string `hcl:"tags,optional"`
	Modifiers    []string `hcl:"modifiers,optional"`
	Zips         []string `hcl:"zips,optional"`

	ExecutableOrder []string `hcl:"executable_order,optional"`

	Variables   *hclVariables    `hcl:"variables,block"`
	Env         []*hclEnv        `hcl:"env,block"`
	Matrices    []*hclMatrix     `hcl:"matrix,block"`
	ZipBlocks   []*hclZip        `hcl:"zip,block"`
	Excludes    []*hclExclude    `hcl:"exclude,block"`
	Chains      []*hclChain      `hcl:"chain,block"`
	Executables []*hclExecutable `hcl:"executable,block"`
	Injections  []*hclInject     `hcl:"inject,block"`

	Workloads   []*hclLabelled `hcl:"workload,block"`
	Experiments []*hclLabelled `hcl:"experiment,block"`
}

// hclVariables holds arbitrary attributes; they are read via JustAttributes
// so variable names are not constrained to a fixed schema.
type hclVariables struct {
	Body hcl.Body `hcl:",remain"`
}

type hclEnv struct {
	Set       map[string]string `hcl:"set,optional"`
	Append    map[string]string `hcl:"append,optional"`
	Prepend   map[string]string `hcl:"prepend,optional"`
	Unset     []string          `hcl:"unset,optional"`
	Separator string            `hcl:"separator,optional"`
}

type hclMatrix struct {
	Variables []string `hcl:"variables"`
}

type hclZip struct {
	Name      string   `hcl:"name,label"`
	Variables []string `hcl:"variables"`
}

type hclExclude struct {
	Where    []string     `hcl:"where,optional"`
	Matrices []*hclMatrix `hcl:"matrix,block"`
}

type hclChain struct {
	Pattern          string   `hcl:"pattern"`
	Order            string   `hcl:"order,optional"`
	InheritVariables []string `hcl:"inherit_variables,optional"`
}

type hclExecutable struct {
	Name            string               `hcl:"name,label"`
	Template        []string             `hcl:"template"`
	UseMPI          bool                 `hcl:"use_mpi,optional"`
	Redirect        string               `hcl:"redirect,optional"`
	OutputCapture   string               `hcl:"output_capture,optional"`
	RunInBackground bool                 `hcl:"run_in_background,optional"`
	Variables       map[string]cty.Value `hcl:"variables,optional"`
}

type hclInject struct {
	Name     string `hcl:"name,label"`
	Position string `hcl:"position,optional"`
	Anchor   string `hcl:"relative_to,optional"`
}

// decodeVariables reads the free-form attribute set of a variables block in
// declaration order.
func decodeVariables(block *hclVariables, table *conf.VariableTable) error {
	if block == nil {
		return nil
	}
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return fmt.Errorf("reading variables block: %w", diags)
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	// JustAttributes returns a map; source position restores declaration
	// order, which later fixes axis ordering and name rendering.
	sort.Slice(names, func(i, j int) bool {
		ri, rj := attrs[names[i]].Range, attrs[names[j]].Range
		if ri.Filename != rj.Filename {
			return ri.Filename < rj.Filename
		}
		return ri.Start.Byte < rj.Start.Byte
	})
	for _, name := range names {
		ctyVal, diags := attrs[name].Expr.Value(nil)
		if diags.HasErrors() {
			return fmt.Errorf("evaluating variable %q: %w", name, diags)
		}
		v, err := value.FromCty(ctyVal)
		if err != nil {
			return fmt.Errorf("variable %q: %w", name, err)
		}
		table.Set(name, v)
	}
	return nil
}

func envActions(blocks []*hclEnv) []conf.EnvAction {
	var out []conf.EnvAction
	for _, b := range blocks {
		out = append(out, envPairs(conf.EnvSet, b.Set, b.Separator)...)
		out = append(out, envPairs(conf.EnvAppend, b.Append, b.Separator)...)
		out = append(out, envPairs(conf.EnvPrepend, b.Prepend, b.Separator)...)
		for _, name := range b.Unset {
			out = append(out, conf.EnvAction{Op: conf.EnvUnset, Name: name})
		}
	}
	return out
}

func envPairs(op conf.EnvOp, m map[string]string, sep string) []conf.EnvAction {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]conf.EnvAction, 0, len(names))
	for _, n := range names {
		out = append(out, conf.EnvAction{Op: op, Name: n, Value: m[n], Separator: sep})
	}
	return out
}

func chainOrder(s string) (conf.ChainOrder, error) {
	switch s {
	case "", "after":
		return conf.ChainAfterRoot, nil
	case "before":
		return conf.ChainBeforeRoot, nil
	}
	return 0, fmt.Errorf("chain order must be \"before\" or \"after\", got %q", s)
}

func injectPosition(s string) (executable.Position, error) {
	switch s {
	case "", "after":
		return executable.PositionAfter, nil
	case "before":
		return executable.PositionBefore, nil
	}
	return 0, fmt.Errorf("inject position must be \"before\" or \"after\", got %q", s)
}

// newContext turns one decoded body into a configuration context.
func newContext(namespace string, body *hclBody) (*conf.Context, error) {
	c := conf.NewContext(namespace)
	c.NameTemplate = body.NameTemplate
	c.NRepeats = body.NRepeats
	c.Template = body.Template
	c.Tags = append(c.Tags, body.Tags...)
	c.Modifiers = append(c.Modifiers, body.Modifiers...)
	c.ZipRefs = append(c.ZipRefs, body.Zips...)

	if err := decodeVariables(body.Variables, c.Variables); err != nil {
		return nil, err
	}
	c.EnvActions = envActions(body.Env)

	for _, m := range body.Matrices {
		c.Matrices = append(c.Matrices, conf.Matrix{Variables: m.Variables})
	}
	for _, z := range body.ZipBlocks {
		if _, exists := c.Zips[z.Name]; exists {
			return nil, fmt.Errorf("zip %q declared twice in %s", z.Name, namespace)
		}
		c.Zips[z.Name] = conf.Matrix{Variables: z.Variables}
	}
	for _, e := range body.Excludes {
		ex := conf.Exclude{Where: e.Where}
		for _, m := range e.Matrices {
			ex.Matrices = append(ex.Matrices, conf.Matrix{Variables: m.Variables})
		}
		c.Excludes = append(c.Excludes, ex)
	}
	for _, ch := range body.Chains {
		order, err := chainOrder(ch.Order)
		if err != nil {
			return nil, fmt.Errorf("chain %q: %w", ch.Pattern, err)
		}
		c.Chains = append(c.Chains, conf.Chain{
			Pattern:          ch.Pattern,
			Order:            order,
			InheritVariables: ch.InheritVariables,
		})
	}

	c.Internals.ExecutableOrder = append(c.Internals.ExecutableOrder, body.ExecutableOrder...)
	for _, e := range body.Executables {
		exec, err := newExecutable(e)
		if err != nil {
			return nil, err
		}
		if c.Internals.CustomExecutables == nil {
			c.Internals.CustomExecutables = make(map[string]executable.Executable)
		}
		if _, exists := c.Internals.CustomExecutables[e.Name]; exists {
			return nil, fmt.Errorf("executable %q declared twice in %s", e.Name, namespace)
		}
		c.Internals.CustomExecutables[e.Name] = exec
	}
	for _, inj := range body.Injections {
		pos, err := injectPosition(inj.Position)
		if err != nil {
			return nil, fmt.Errorf("inject %q: %w", inj.Name, err)
		}
		c.Internals.Injections = append(c.Internals.Injections, executable.Injection{
			Name:     inj.Name,
			Position: pos,
			Anchor:   inj.Anchor,
		})
	}
	return c, nil
}

func newExecutable(e *hclExecutable) (executable.Executable, error) {
	exec := executable.Executable{
		Name:            e.Name,
		Template:        e.Template,
		UseMPI:          e.UseMPI,
		Redirect:        e.Redirect,
		OutputCapture:   e.OutputCapture,
		RunInBackground: e.RunInBackground,
	}
	if len(e.Variables) > 0 {
		exec.VariableOverrides = make(map[string]value.Value, len(e.Variables))
		for name, cv := range e.Variables {
			v, err := value.FromCty(cv)
			if err != nil {
				return executable.Executable{}, fmt.Errorf("executable %q variable %q: %w", e.Name, name, err)
			}
			exec.VariableOverrides[name] = v
		}
	}
	return exec, nil
}

// decodeBody decodes a labelled block's body against the shared schema.
func decodeBody(raw hcl.Body) (*hclBody, error) {
	var body hclBody
	if diags := gohcl.DecodeBody(raw, nil, &body); diags.HasErrors() {
		return nil, fmt.Errorf("decoding block body: %w", diags)
	}
	return &body, nil
}
