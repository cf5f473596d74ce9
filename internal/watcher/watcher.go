package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/reposync/internal/config"
)

// Loader reads the current configuration.
type Loader func() (*config.Config, error)

// ReloadFunc applies a freshly loaded configuration.
type ReloadFunc func(ctx context.Context, cfg *config.Config) error

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the quiet period after the last event before reloading.
	// Default: 200ms
	DebounceWindow time.Duration
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{DebounceWindow: 200 * time.Millisecond}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = DefaultOptions().DebounceWindow
	}
	return o
}

// ConfigWatcher calls a ReloadFunc each time the watched config file settles after a change.
// A config that fails to load or apply is logged and the previous one stays in effect.
type ConfigWatcher struct {
	path     string
	load     Loader
	onReload ReloadFunc
	opts     Options

	fsWatcher *fsnotify.Watcher
	trigger   chan struct{}
	ready     chan struct{}
	stopCh    chan struct{}

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool

	reloads  atomic.Uint64
	failures atomic.Uint64
}

// NewConfigWatcher creates a watcher for the config file at path.
func NewConfigWatcher(path string, load Loader, onReload ReloadFunc, opts Options) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	return &ConfigWatcher{
		path:      abs,
		load:      load,
		onReload:  onReload,
		opts:      opts.WithDefaults(),
		fsWatcher: fsw,
		trigger:   make(chan struct{}, 1),
		ready:     make(chan struct{}),
		stopCh:    make(chan struct{}),
	}, nil
}

// Path returns the watched config file.
func (w *ConfigWatcher) Path() string {
	return w.path
}

// Ready is closed once the watch is registered.
func (w *ConfigWatcher) Ready() <-chan struct{} {
	return w.ready
}

// Reloads returns the number of configurations applied successfully.
func (w *ConfigWatcher) Reloads() uint64 {
	return w.reloads.Load()
}

// Failures returns the number of reloads that failed to load or apply.
func (w *ConfigWatcher) Failures() uint64 {
	return w.failures.Load()
}

// Start watches until Stop is called or ctx is cancelled.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch config directory: %w", err)
	}
	close(w.ready)

	slog.Debug("config_watch_started", slog.String("path", w.path))

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config_watch_error", slog.String("error", err.Error()))
		case <-w.trigger:
			w.reload(ctx)
		}
	}
}

// handleEvent schedules a reload for changes to the config file. Chmod is ignored.
func (w *ConfigWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.opts.DebounceWindow, func() {
		select {
		case w.trigger <- struct{}{}:
		default: // a reload is already pending
		}
	})
}

func (w *ConfigWatcher) reload(ctx context.Context) {
	cfg, err := w.load()
	if err != nil {
		w.failures.Add(1)
		slog.Warn("config_reload_failed",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}

	if err := w.onReload(ctx, cfg); err != nil {
		w.failures.Add(1)
		slog.Warn("config_apply_failed",
			slog.String("path", w.path),
			slog.String("error", err.Error()))
		return
	}

	w.reloads.Add(1)
	slog.Info("config_reloaded",
		slog.String("path", w.path),
		slog.Int("repositories", len(cfg.Repositories)))
}

// Stop stops the watcher and releases resources.
// Safe to call multiple times.
func (w *ConfigWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.stopCh)
	return w.fsWatcher.Close()
}
