package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Registry serves manifest snapshots to the pipeline. The active set is
// swapped atomically on reload; a request holds one snapshot for its whole
// lifetime, so a mid-request reload never changes its view.
type Registry struct {
	path   string
	logger *slog.Logger
	set    atomic.Pointer[Set]

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewRegistry loads the manifest file (or the builtin set when path is
// empty) and returns a registry serving it.
func NewRegistry(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	set, err := Load(path)
	if err != nil {
		return nil, err
	}
	r := &Registry{path: path, logger: logger}
	r.set.Store(&set)
	return r, nil
}

// Current returns the active manifest set.
func (r *Registry) Current() Set {
	return *r.set.Load()
}

// Reload re-reads the manifest file. On error the previous set stays active;
// a serving process never loses its manifests to a bad edit.
func (r *Registry) Reload() error {
	set, err := Load(r.path)
	if err != nil {
		r.logger.Error("manifest reload failed, keeping previous set", "path", r.path, "error", err)
		return err
	}
	r.set.Store(&set)
	r.logger.Info("manifest reloaded", "path", r.path, "verticals", len(set))
	return nil
}

// Watch starts a filesystem watcher that reloads on writes to the manifest
// file. No-op for the builtin set. Stop with Close or by cancelling ctx.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("manifest watcher: %w", err)
	}
	// Watch the directory: editors typically replace the file, which drops
	// a watch on the file itself.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("manifest watch %s: %w", r.path, err)
	}
	watchCtx, cancel := context.WithCancel(ctx)
	r.watcher = watcher
	r.cancel = cancel

	go r.watchLoop(watchCtx)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context) {
	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	target := filepath.Clean(r.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() { _ = r.Reload() })
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("manifest watcher error", "error", err)
		}
	}
}

// Close stops the watcher if one is running.
func (r *Registry) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
