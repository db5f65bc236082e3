package generator

import (
	"fmt"
	"sort"
	"strings"
)

// AxisMismatchError reports matrix member vectors of unequal length.
type AxisMismatchError struct {
	Variables []string
	Lengths   map[string]int
}

// Error implements the error interface for AxisMismatchError.
func (e *AxisMismatchError) Error() string {
	parts := make([]string, 0, len(e.Lengths))
	for _, v := range e.Variables {
		parts = append(parts, fmt.Sprintf("%s=%d", v, e.Lengths[v]))
	}
	sort.Strings(parts)
	return fmt.Sprintf("matrix axes have mismatched lengths: %s", strings.Join(parts, ", "))
}

// FilterError reports an exclude or success predicate that could not be
// evaluated.
type FilterError struct {
	Expr string
	Err  error
}

// Error implements the error interface for FilterError.
func (e *FilterError) Error() string {
	return fmt.Sprintf("cannot evaluate filter %q: %v", e.Expr, e.Err)
}

// Unwrap exposes the underlying evaluation error.
func (e *FilterError) Unwrap() error {
	return e.Err
}
