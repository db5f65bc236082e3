// Package timers is a modifier that brackets an application's execute
// command with wall-clock timestamps.
package timers

import (
	"github.com/vk/benchgrid/internal/executable"
	"github.com/vk/benchgrid/internal/registry"
)

// Module registers the timers modifier.
type Module struct{}

// Register implements registry.Module.
func (m *Module) Register(r *registry.Registry) {
	r.Register(registry.NewModifier("timers").
		WithModification(executable.Modification{
			Target: "execute",
			Prepend: []executable.Executable{{
				Name:     "timer_start",
				Template: []string{"date '+%s.%N' > {experiment_run_dir}/start_time"},
			}},
			Append: []executable.Executable{{
				Name:     "timer_stop",
				Template: []string{"date '+%s.%N' > {experiment_run_dir}/stop_time"},
			}},
		}).
		Build())
}
