package expander

import (
	"fmt"
	"strings"
)

// CycleError reports a variable that transitively resolves to itself. Chain
// holds the full reference path, first and last entries being the same name.
type CycleError struct {
	Chain []string
}

// Error implements the error interface for CycleError.
func (e *CycleError) Error() string {
	return fmt.Sprintf("expansion cycle detected: %s", strings.Join(e.Chain, " -> "))
}

// PassthroughError reports a reference to an unbound variable when
// passthrough has been disabled.
type PassthroughError struct {
	Name string
}

// Error implements the error interface for PassthroughError.
func (e *PassthroughError) Error() string {
	return fmt.Sprintf("undefined variable %q (passthrough disabled)", e.Name)
}

// EvalError reports a formula that parsed under the expression grammar but
// failed to evaluate.
type EvalError struct {
	Formula string
	Reason  string
}

// Error implements the error interface for EvalError.
func (e *EvalError) Error() string {
	return fmt.Sprintf("cannot evaluate %q: %s", e.Formula, e.Reason)
}
