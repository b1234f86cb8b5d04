package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeCallback is invoked with the newly loaded config after every
// debounced reload.
type ChangeCallback func(newCfg *Config)

// Reloader watches a YAML config file and swaps in a freshly parsed Config
// whenever it changes, mirroring the teacher's pkg/config.Reloader: an
// fsnotify watcher on the file's directory (to survive atomic renames),
// debounced through a single timer, publishing into an atomic.Pointer so
// readers never race the writer.
type Reloader struct {
	configPath    string
	current       atomic.Pointer[Config]
	callbacks     []ChangeCallback
	cbMu          sync.RWMutex
	debounceDelay time.Duration

	watcher *fsnotify.Watcher

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReloader builds a Reloader for configPath. Call Load (or Start, which
// calls Load itself) before GetConfig.
func NewReloader(configPath string) *Reloader {
	return &Reloader{
		configPath:    configPath,
		debounceDelay: time.Second,
	}
}

// SetDebounceDelay overrides the default one-second reload debounce.
func (r *Reloader) SetDebounceDelay(d time.Duration) {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()
	r.debounceDelay = d
}

// OnChange registers a callback run after every successful reload.
func (r *Reloader) OnChange(cb ChangeCallback) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// GetConfig returns the most recently loaded config, or nil before the
// first Load.
func (r *Reloader) GetConfig() *Config {
	return r.current.Load()
}

// Load performs the initial synchronous parse.
func (r *Reloader) Load() error {
	cfg, err := LoadFromFile(r.configPath)
	if err != nil {
		return fmt.Errorf("config: initial load: %w", err)
	}
	r.current.Store(cfg)
	return nil
}

// Start loads the config and begins watching its directory for changes.
// Watching the directory, not the file, survives the atomic rename most
// editors and config-management tools use to write a file in place.
func (r *Reloader) Start() error {
	if r.ctx != nil {
		return fmt.Errorf("config: reloader already started")
	}
	if err := r.Load(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	r.watcher = watcher

	dir := filepath.Dir(r.configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.wg.Add(1)
	go r.watch()
	return nil
}

// Stop stops watching and releases the fsnotify watcher.
func (r *Reloader) Stop() error {
	if r.ctx == nil {
		return nil
	}
	r.cancel()
	if r.watcher != nil {
		r.watcher.Close()
	}
	r.debounceMu.Lock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceMu.Unlock()
	r.wg.Wait()
	return nil
}

func (r *Reloader) watch() {
	defer r.wg.Done()
	base := filepath.Base(r.configPath)
	for {
		select {
		case <-r.ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				r.scheduleReload()
			}
		case _, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (r *Reloader) scheduleReload() {
	r.debounceMu.Lock()
	defer r.debounceMu.Unlock()
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceTimer = time.AfterFunc(r.debounceDelay, r.reload)
}

func (r *Reloader) reload() {
	if _, err := os.Stat(r.configPath); err != nil {
		return
	}
	cfg, err := LoadFromFile(r.configPath)
	if err != nil {
		return
	}
	r.current.Store(cfg)
	r.notify(cfg)
}

func (r *Reloader) notify(cfg *Config) {
	r.cbMu.RLock()
	callbacks := make([]ChangeCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.cbMu.RUnlock()
	for _, cb := range callbacks {
		go cb(cfg)
	}
}
