package app

import (
	"errors"
	"fmt"
)

// knownPipelines are the pipelines the core phases populate. Compiled-in
// definitions may contribute extra phases to any of them.
var knownPipelines = []string{"setup", "execute", "analyze", "archive"}

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	WorkspacePath string // directory with .hcl files, experiments, inventory

	Pipeline                 string
	Phases                   []string // glob filter over phase names
	IncludePhaseDependencies bool

	LogFormat   string
	LogLevel    string
	WorkerCount int
	DryRun      bool
	DisableLock bool
}

// NewConfig validates the raw configuration.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.WorkspacePath == "" {
		return nil, errors.New("WorkspacePath is a required configuration field and cannot be empty")
	}
	valid := false
	for _, p := range knownPipelines {
		if cfg.Pipeline == p {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("unknown pipeline %q", cfg.Pipeline)
	}
	return &cfg, nil
}
