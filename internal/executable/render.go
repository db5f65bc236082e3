package executable

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/benchgrid/internal/ctxlog"
	"github.com/vk/benchgrid/internal/expander"
)

// RenderScript expands an ordered executable list into concrete script
// lines. Per-executable variable overrides shadow the instance bindings;
// unresolved references pass through so the shell can pick them up.
func RenderScript(ctx context.Context, exp *expander.Expander, execs []Executable, bindings expander.Bindings) ([]string, error) {
	logger := ctxlog.FromContext(ctx)
	var lines []string
	for _, e := range execs {
		eb := bindings
		if len(e.VariableOverrides) > 0 {
			eb = make(expander.Bindings, len(bindings)+len(e.VariableOverrides))
			for k, v := range bindings {
				eb[k] = v
			}
			for k, v := range e.VariableOverrides {
				eb[k] = v
			}
		}
		for _, tmpl := range e.Template {
			line, err := exp.Expand(commandLine(e, tmpl), eb)
			if err != nil {
				return nil, fmt.Errorf("rendering executable %q: %w", e.Name, err)
			}
			lines = append(lines, line)
		}
		logger.Debug("Rendered executable.", "name", e.Name, "lines", len(e.Template))
	}
	return lines, nil
}

// commandLine decorates one raw template line with the executable's MPI
// prefix, redirection, and backgrounding.
func commandLine(e Executable, tmpl string) string {
	var b strings.Builder
	if e.UseMPI {
		b.WriteString("{mpi_command} ")
	}
	b.WriteString(tmpl)
	if e.Redirect != "" {
		capture := e.OutputCapture
		if capture == "" {
			capture = ">>"
		}
		fmt.Fprintf(&b, " %s %s", capture, e.Redirect)
	}
	if e.RunInBackground {
		b.WriteString(" &")
	}
	return b.String()
}
