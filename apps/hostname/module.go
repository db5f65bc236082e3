// Package hostname is the smallest useful application definition: it runs
// hostname across the allocated ranks, which makes it the standard smoke
// test for a new workspace.
package hostname

import (
	"github.com/vk/benchgrid/internal/conf"
	"github.com/vk/benchgrid/internal/executable"
	"github.com/vk/benchgrid/internal/registry"
	"github.com/vk/benchgrid/internal/value"
)

// Module registers the hostname application.
type Module struct{}

// Register implements registry.Module.
func (m *Module) Register(r *registry.Registry) {
	r.Register(registry.NewApplication("hostname").
		WithExecutable(executable.Executable{
			Name:     "execute",
			Template: []string{"hostname"},
			UseMPI:   true,
			Redirect: "{experiment_run_dir}/hostname.out",
		}).
		WithContext(defaults()).
		Build())
}

// defaults is the lowest configuration layer for every hostname experiment.
func defaults() *conf.Context {
	c := conf.NewContext("hostname")
	c.Variables.Set("n_nodes", value.Int(1))
	c.Variables.Set("processes_per_node", value.Int(1))
	c.Variables.Set("n_ranks", value.Str("{n_nodes}*{processes_per_node}"))
	c.Variables.Set("mpi_command", value.Str("mpirun -n {n_ranks}"))
	return c
}
