// Package expander implements the recursive template and formula resolution
// engine. Templates reference variables as {name} or {name:format_spec};
// resolved text that parses under a restricted arithmetic/boolean grammar is
// evaluated and replaced by its result.
//
// Expansion never mutates its input bindings. Unbound names pass through as
// literal {name} tokens by default so they can be resolved by the shell or a
// later expansion context; that tolerance can be switched off per expander.
package expander

import (
	"strings"

	"github.com/vk/benchgrid/internal/value"
)

// Bindings maps variable names to their raw values.
type Bindings map[string]value.Value

// Expander resolves templates against variable bindings. The zero value is
// ready to use; DisablePassthrough turns unbound references into errors.
type Expander struct {
	DisablePassthrough bool
}

// New returns an Expander with passthrough enabled.
func New() *Expander {
	return &Expander{}
}

// options collects the per-call knobs; see the With* Option constructors.
type options struct {
	noExpand    map[string]struct{}
	extraVars   Bindings
	passes      int
	noOuterEval bool
}

// Option adjusts a single Expand call.
type Option func(*options)

// WithNoExpand leaves tokens for the named variables untouched.
func WithNoExpand(names ...string) Option {
	return func(o *options) {
		if o.noExpand == nil {
			o.noExpand = make(map[string]struct{}, len(names))
		}
		for _, n := range names {
			o.noExpand[n] = struct{}{}
		}
	}
}

// WithExtraVars adds fallback bindings consulted after the primary ones.
func WithExtraVars(extra Bindings) Option {
	return func(o *options) { o.extraVars = extra }
}

// WithPasses caps the number of substitution passes instead of running to a
// fixed point. Passes beyond the fixed point each reveal one escape level,
// which is how callers expose literal braces in rendered scripts.
func WithPasses(n int) Option {
	return func(o *options) { o.passes = n }
}

// Expand resolves every variable reference in text to a final value. With no
// pass cap it substitutes until a fixed point and then strips one escape
// level from any \{ \} sequences.
func (e *Expander) Expand(text string, bindings Bindings, opts ...Option) (string, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	r := &resolver{
		exp:      e,
		bindings: bindings,
		opts:     &o,
		memo:     make(map[string]string),
	}

	if o.passes <= 0 {
		out, err := r.expandFull(text, !o.noOuterEval)
		if err != nil {
			return "", err
		}
		return unescapeOnce(out), nil
	}

	out := text
	for i := 0; i < o.passes; i++ {
		next, changed, err := r.expandOnce(out, !o.noOuterEval)
		if err != nil {
			return "", err
		}
		if !changed {
			// Nothing left to substitute: this pass reveals one escape
			// level instead, matching the rendered-script convention.
			if !hasEscapes(next) {
				return next, nil
			}
			next = unescapeOnce(next)
		}
		out = next
	}
	return out, nil
}

// ExpandVarName expands exactly the value bound to name, with no format-spec
// wrapping. Unbound names fall back to the literal {name} token.
func (e *Expander) ExpandVarName(name string, bindings Bindings, opts ...Option) (string, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	r := &resolver{
		exp:      e,
		bindings: bindings,
		opts:     &o,
		memo:     make(map[string]string),
	}
	out, found, err := r.resolve(name)
	if err != nil {
		return "", err
	}
	if !found {
		if e.DisablePassthrough {
			return "", &PassthroughError{Name: name}
		}
		return "{" + name + "}", nil
	}
	return out, nil
}

// EvaluatePredicate expands formula against the bindings and evaluates the
// result as a boolean. A formula that does not parse under the restricted
// grammar is an error: predicates have no textual fallback.
func (e *Expander) EvaluatePredicate(formula string, bindings Bindings, opts ...Option) (bool, error) {
	opts = append(opts, func(o *options) { o.noOuterEval = true })
	expanded, err := e.Expand(formula, bindings, opts...)
	if err != nil {
		return false, err
	}
	v, ok, err := evalFormula(expanded)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, &EvalError{Formula: expanded, Reason: "not a valid predicate expression"}
	}
	return truthy(v), nil
}

// resolver carries the state of one outer Expand call: the memo guarantees
// each variable is evaluated at most once, and the stack doubles as the
// cycle detector.
type resolver struct {
	exp      *Expander
	bindings Bindings
	opts     *options
	memo     map[string]string
	stack    []string
}

// maxPasses bounds fixed-point iteration; an acyclic binding set converges
// in at most one pass per variable.
func (r *resolver) maxPasses() int {
	return len(r.bindings) + len(r.opts.extraVars) + 2
}

// expandFull substitutes to a fixed point without touching escapes.
func (r *resolver) expandFull(text string, allowEval bool) (string, error) {
	out := text
	for i := 0; i < r.maxPasses(); i++ {
		next, changed, err := r.expandOnce(out, allowEval)
		if err != nil {
			return "", err
		}
		if !changed {
			return next, nil
		}
		out = next
	}
	return out, nil
}

// expandOnce performs a single substitution pass and, when the whole result
// parses as a formula, evaluates it.
func (r *resolver) expandOnce(text string, allowEval bool) (string, bool, error) {
	segs := scan(text)
	var b strings.Builder
	changed := false
	for _, s := range segs {
		if !s.isToken {
			b.WriteString(s.literal)
			continue
		}
		if _, skip := r.opts.noExpand[s.name]; skip {
			b.WriteString(rebuildToken(s))
			continue
		}
		resolved, found, err := r.resolve(s.name)
		if err != nil {
			return "", false, err
		}
		if !found {
			if r.exp.DisablePassthrough {
				return "", false, &PassthroughError{Name: s.name}
			}
			b.WriteString(rebuildToken(s))
			continue
		}
		if s.spec != "" {
			resolved = applySpec(s.spec, resolved)
		}
		b.WriteString(resolved)
		changed = true
	}
	out := b.String()

	if allowEval {
		if v, ok, err := evalFormula(out); err != nil {
			return "", false, err
		} else if ok {
			rendered := renderEvalValue(v)
			if rendered != out {
				return rendered, true, nil
			}
		}
	}
	if !changed && out == text {
		return text, false, nil
	}
	return out, changed || out != text, nil
}

// resolve produces the fully-expanded value of one variable, memoized per
// outer call. The found flag is false for unbound names (passthrough).
func (r *resolver) resolve(name string) (string, bool, error) {
	for i, n := range r.stack {
		if n == name {
			chain := append(append([]string{}, r.stack[i:]...), name)
			return "", false, &CycleError{Chain: chain}
		}
	}
	if v, ok := r.memo[name]; ok {
		return v, true, nil
	}

	raw, ok := r.bindings[name]
	if !ok && r.opts.extraVars != nil {
		raw, ok = r.opts.extraVars[name]
	}
	if !ok {
		return "", false, nil
	}

	r.stack = append(r.stack, name)
	expanded, err := r.expandFull(raw.Text(), true)
	r.stack = r.stack[:len(r.stack)-1]
	if err != nil {
		return "", false, err
	}
	r.memo[name] = expanded
	return expanded, true, nil
}

// rebuildToken re-renders a token segment verbatim.
func rebuildToken(s segment) string {
	if s.spec != "" {
		return "{" + s.name + ":" + s.spec + "}"
	}
	return "{" + s.name + "}"
}
