// 配置文件变更监听器。
//
// 轮询配置文件的修改时间，防抖后重新加载并回调，
// 服务端据此在运行时切换生成器/评审器后端。
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadFunc 在配置成功重新加载后调用
type ReloadFunc func(prev, next *Config)

// Watcher watches a configuration file and reloads it on change.
type Watcher struct {
	mu sync.Mutex

	path          string
	loader        *Loader
	pollInterval  time.Duration
	debounceDelay time.Duration
	logger        *zap.Logger

	current  *Config
	lastMod  time.Time
	handlers []ReloadFunc

	running bool
	stop    chan struct{}
	done    chan struct{}
}

// WatcherOption configures the Watcher
type WatcherOption func(*Watcher)

// WithPollInterval sets how often the file is stat'ed
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.pollInterval = d }
}

// WithDebounceDelay sets how long the file must stay unchanged before reloading
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounceDelay = d }
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// NewWatcher creates a watcher for path. current is the configuration already
// in effect; reloads are diffed against it.
func NewWatcher(path string, current *Config, opts ...WatcherOption) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	w := &Watcher{
		path:          abs,
		loader:        NewLoader().WithConfigPath(abs),
		pollInterval:  time.Second,
		debounceDelay: 200 * time.Millisecond,
		logger:        zap.NewNop(),
		current:       current,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))

	if info, err := os.Stat(abs); err == nil {
		w.lastMod = info.ModTime()
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat path %s: %w", abs, err)
	}
	return w, nil
}

// OnReload registers a handler
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, fn)
}

// Current returns the last successfully loaded configuration
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Path returns the absolute path being watched
func (w *Watcher) Path() string { return w.path }

// Start begins polling. It returns immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("watcher already running")
	}
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(ctx, w.stop, w.done)

	w.logger.Info("config watcher started",
		zap.String("path", w.path),
		zap.Duration("poll_interval", w.pollInterval))
	return nil
}

// Stop stops polling and waits for the loop to exit
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	done := w.done
	w.mu.Unlock()
	<-done
	w.logger.Info("config watcher stopped")
}

// IsRunning reports whether the watcher is polling
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var pendingSince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case now := <-ticker.C:
			if w.modified() {
				pendingSince = now
				continue
			}
			if !pendingSince.IsZero() && now.Sub(pendingSince) >= w.debounceDelay {
				pendingSince = time.Time{}
				w.Reload()
			}
		}
	}
}

// modified records and reports a newer modification time
func (w *Watcher) modified() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if info.ModTime().After(w.lastMod) {
		w.lastMod = info.ModTime()
		return true
	}
	return false
}

// Reload loads and validates the file, then notifies handlers. An invalid
// file is logged and the previous configuration stays in effect.
func (w *Watcher) Reload() bool {
	next, err := w.loader.Load()
	if err == nil {
		err = next.Validate()
	}
	if err != nil {
		w.logger.Warn("config reload rejected", zap.Error(err))
		return false
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	handlers := append([]ReloadFunc(nil), w.handlers...)
	w.mu.Unlock()

	w.logger.Info("config reloaded", zap.String("path", w.path))
	for _, h := range handlers {
		h(prev, next)
	}
	return true
}

// ChangedBackends returns the alpha/beta entries whose settings differ
// between prev and next, keyed by label.
func ChangedBackends(prev, next *Config) map[string]BackendConfig {
	changed := make(map[string]BackendConfig)
	if next == nil {
		return changed
	}
	var before BackendsConfig
	if prev != nil {
		before = prev.Backends
	}
	if before.Alpha != next.Backends.Alpha {
		changed["alpha"] = next.Backends.Alpha
	}
	if before.Beta != next.Backends.Beta {
		changed["beta"] = next.Backends.Beta
	}
	return changed
}
