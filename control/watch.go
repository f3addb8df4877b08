// control/watch.go
// Author: momentics <momentics@gmail.com>
//
// Config file watching: reloads and re-validates the file on change and
// hands the new snapshot to registered hooks.

package control

import (
	"fmt"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watcher keeps the latest valid Config for a file and notifies hooks.
type Watcher struct {
	mu    sync.RWMutex
	v     *viper.Viper
	cfg   *Config
	hooks []func(*Config)
	errs  []func(error)
}

// Watch loads path and starts watching it. Invalid updates are reported
// through OnError and leave the current snapshot untouched.
func Watch(path string) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("watch: empty config path")
	}
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	w := &Watcher{v: v, cfg: cfg}
	v.OnConfigChange(func(fsnotify.Event) { w.reload() })
	v.WatchConfig()
	return w, nil
}

// Current returns the latest valid snapshot.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// OnReload registers a hook called with each new valid snapshot.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hooks = append(w.hooks, fn)
}

// OnError registers a hook called when a changed file fails to load.
func (w *Watcher) OnError(fn func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errs = append(w.errs, fn)
}

func (w *Watcher) reload() {
	cfg, err := decode(w.v)
	w.mu.Lock()
	if err == nil {
		w.cfg = cfg
	}
	hooks := slices.Clone(w.hooks)
	errs := slices.Clone(w.errs)
	w.mu.Unlock()

	if err != nil {
		for _, fn := range errs {
			fn(err)
		}
		return
	}
	for _, fn := range hooks {
		fn(cfg)
	}
}
