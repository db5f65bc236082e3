// Package workspace owns the on-disk state shared across experiment
// instances: the cooperative lock protecting configuration and logs, the
// inventory index used to skip redundant setup work, and the per-run
// software-environment cache.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vk/benchgrid/internal/ctxlog"
)

// ErrLockHeld is returned when the cooperative lock stays held past the
// acquisition deadline.
var ErrLockHeld = errors.New("workspace: lock held by another process")

// Lock is a cooperative advisory file lock over a workspace directory.
// Disabling it is an explicit speed-over-safety trade and is refused when
// the directory is writable by other principals.
type Lock struct {
	path     string
	disabled bool
	held     bool
}

// NewLock prepares a lock for the workspace directory. With disable set,
// the directory permissions are checked before the escape hatch is honored.
func NewLock(dir string, disable bool) (*Lock, error) {
	if disable {
		if err := refuseSharedDir(dir); err != nil {
			return nil, err
		}
	}
	return &Lock{path: filepath.Join(dir, ".benchgrid.lock"), disabled: disable}, nil
}

// refuseSharedDir rejects lock disabling on group/world-writable
// directories owned by a different principal.
func refuseSharedDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("workspace: cannot stat %s: %w", dir, err)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	sharedWritable := info.Mode().Perm()&0o022 != 0
	if sharedWritable && int(st.Uid) != os.Getuid() {
		return fmt.Errorf("workspace: refusing to disable locking: %s is group/world-writable and owned by uid %d", dir, st.Uid)
	}
	return nil
}

// Acquire takes the lock, polling until the context deadline. It is a
// no-op when locking is disabled.
func (l *Lock) Acquire(ctx context.Context) error {
	if l.disabled {
		return nil
	}
	logger := ctxlog.FromContext(ctx)
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			l.held = true
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("workspace: acquiring lock: %w", err)
		}
		logger.Debug("Workspace lock busy, retrying.", "path", l.path)
		select {
		case <-ctx.Done():
			return ErrLockHeld
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Release drops the lock if held.
func (l *Lock) Release() error {
	if l.disabled || !l.held {
		return nil
	}
	l.held = false
	return os.Remove(l.path)
}
