package compiler

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/toolgate/pkg/domain"
	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long Watch waits after the last change before rebuilding.
const DefaultSettle = 100 * time.Millisecond

// BuildFunc receives the outcome of every rebuild.
type BuildFunc func(*domain.Artifact, error)

// Watch builds dir into out once, then again after every settled change to a
// definition or documentation file, until ctx is done.
func (c *Compiler) Watch(ctx context.Context, dir, out string, settle time.Duration, onBuild BuildFunc) error {
	if settle <= 0 {
		settle = DefaultSettle
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	outAbs, _ := filepath.Abs(out)
	rebuild := func() {
		a, err := c.Build(ctx, dir, out)
		if onBuild != nil {
			onBuild(a, err)
		}
	}
	rebuild()

	timer := time.NewTimer(settle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			if !relevant(ev, outAbs) {
				continue
			}
			c.logger.Debug("Definition changed", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(settle)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("Watcher error", "err", err)

		case <-timer.C:
			c.logger.Info("Change detected, rebuilding", "dir", dir)
			rebuild()
		}
	}
}

// relevant filters events down to definition and documentation edits.
func relevant(ev fsnotify.Event, outAbs string) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	if abs, err := filepath.Abs(ev.Name); err == nil && abs == outAbs {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".yaml", ".yml", ".md":
		return true
	}
	// Directory removals and renames change the tool set.
	return ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}
