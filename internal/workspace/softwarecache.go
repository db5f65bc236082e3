package workspace

import "sync"

// SoftwareCache remembers which software environments have already been
// provisioned during this run, so instances sharing an environment name do
// not shell out to the package manager more than once. It is constructed
// once per run and passed to the components that need it; there is no
// process-wide singleton.
type SoftwareCache struct {
	mu   sync.Mutex
	done map[string]bool
}

// NewSoftwareCache returns an empty cache.
func NewSoftwareCache() *SoftwareCache {
	return &SoftwareCache{done: make(map[string]bool)}
}

// BeginProvision marks the named environment as provisioned and reports
// whether this caller is the first to do so. Only the first caller should
// invoke the package manager.
func (c *SoftwareCache) BeginProvision(env string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done[env] {
		return false
	}
	c.done[env] = true
	return true
}

// Provisioned reports whether the named environment has been handled.
func (c *SoftwareCache) Provisioned(env string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done[env]
}
