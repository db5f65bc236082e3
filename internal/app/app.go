// Package app wires configuration, the definition registry, and the
// pipeline runner into one application lifecycle.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/benchgrid/internal/conf"
	"github.com/vk/benchgrid/internal/ctxlog"
	"github.com/vk/benchgrid/internal/hclconf"
	"github.com/vk/benchgrid/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *registry.Registry
	contexts []*conf.Context
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
// Startup failures are programmer or configuration errors, so it panics;
// callers recover at the process boundary.
func NewApp(outW io.Writer, appConfig *Config, modules ...registry.Module) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	if len(modules) == 0 {
		modules = coreModules
	}
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All definition modules registered.", "count", len(modules))

	if err := reg.Validate(ctx); err != nil {
		panic(err)
	}

	cfg, err := hclconf.Load(ctx, appConfig.WorkspacePath)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	contexts, err := hclconf.Resolve(ctx, cfg)
	if err != nil {
		panic(fmt.Errorf("failed to resolve configuration: %w", err))
	}
	logger.Debug("Configuration resolved into experiment contexts.", "count", len(contexts))

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		contexts: contexts,
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}
