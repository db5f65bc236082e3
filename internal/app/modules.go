package app

import (
	"github.com/vk/benchgrid/apps/envmodules"
	"github.com/vk/benchgrid/apps/hostname"
	"github.com/vk/benchgrid/apps/stream"
	"github.com/vk/benchgrid/apps/timers"
	"github.com/vk/benchgrid/internal/registry"
)

// coreModules is the definitive list of all definitions that are compiled
// into the benchgrid binary.
var coreModules = []registry.Module{
	&hostname.Module{},
	&stream.Module{},
	&timers.Module{},
	&envmodules.Module{},
}
