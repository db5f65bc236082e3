package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/vk/benchgrid/internal/cmdrunner"
	"github.com/vk/benchgrid/internal/expander"
	"github.com/vk/benchgrid/internal/workspace"
)

// Run carries the shared services of one pipeline invocation. Everything
// here is either immutable or internally synchronized; phase bodies for
// different instances may touch it concurrently.
type Run struct {
	ID        string
	Pipeline  string
	StartedAt time.Time
	DryRun    bool

	Root      string
	Expander  *expander.Expander
	Commands  *cmdrunner.Runner
	Inventory *workspace.Inventory
	Software  *workspace.SoftwareCache
}

// NewRun assembles the shared state for one pipeline invocation.
func NewRun(pipeline string, root string, exp *expander.Expander, cmds *cmdrunner.Runner, inv *workspace.Inventory, sw *workspace.SoftwareCache) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Pipeline:  pipeline,
		StartedAt: time.Now(),
		Root:      root,
		Expander:  exp,
		Commands:  cmds,
		Inventory: inv,
		Software:  sw,
	}
}
