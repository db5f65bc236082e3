// Package stream defines the STREAM memory bandwidth benchmark.
package stream

import (
	"github.com/vk/benchgrid/internal/conf"
	"github.com/vk/benchgrid/internal/executable"
	"github.com/vk/benchgrid/internal/registry"
	"github.com/vk/benchgrid/internal/value"
)

// Module registers the stream application.
type Module struct{}

// Register implements registry.Module.
func (m *Module) Register(r *registry.Registry) {
	r.Register(registry.NewApplication("stream").
		WithExecutable(executable.Executable{
			Name:     "execute",
			Template: []string{"{stream_path}"},
			Redirect: "{experiment_run_dir}/stream.out",
		}).
		WithBuiltin(executable.Builtin{
			Name:      "cpu_info",
			Template:  []string{"lscpu >> {experiment_run_dir}/cpu_info.out"},
			RunBefore: []string{"execute"},
		}).
		WithContext(defaults()).
		Build())
}

func defaults() *conf.Context {
	c := conf.NewContext("stream")
	c.Variables.Set("stream_path", value.Str("stream_c.exe"))
	c.Variables.Set("n_threads", value.Int(4))
	c.EnvActions = append(c.EnvActions, conf.EnvAction{
		Op:    conf.EnvSet,
		Name:  "OMP_NUM_THREADS",
		Value: "{n_threads}",
	})
	return c
}
