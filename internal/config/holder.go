// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/voxlabs/voxgate/internal/log"
)

// Holder holds configuration with atomic reloading. Reads always see a
// complete configuration; a failed reload keeps the previous one.
type Holder struct {
	mu      sync.RWMutex
	current Config
	loader  *Loader
	path    string
	logger  zerolog.Logger

	listenerMu sync.RWMutex
	listeners  []chan<- Config
}

// NewHolder creates a holder seeded with initial. path may be empty, which
// disables file watching.
func NewHolder(initial Config, loader *Loader, path string) *Holder {
	return &Holder{
		current: initial,
		loader:  loader,
		path:    path,
		logger:  log.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// RegisterListener adds a channel that receives every successfully applied
// configuration. Sends are non-blocking; a full channel drops the update.
func (h *Holder) RegisterListener(ch chan<- Config) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

// Reload rebuilds the configuration from disk and environment. On validation
// failure the old configuration stays in place.
func (h *Holder) Reload(_ context.Context) error {
	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().Err(err).Str("event", "config.reload_failed").Msg("failed to reload configuration")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	h.current = newCfg
	h.mu.Unlock()

	h.logger.Info().Str("event", "config.reloaded").Msg("configuration reloaded")
	h.notify(newCfg)
	return nil
}

func (h *Holder) notify(cfg Config) {
	h.listenerMu.RLock()
	defer h.listenerMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().Str("event", "config.listener_full").Msg("dropping config update for slow listener")
		}
	}
}

// StartWatcher watches the config file and reloads on change. It returns
// immediately; the watch loop runs until ctx is cancelled. Editors replace
// files rather than writing in place, so the parent directory is watched and
// events are debounced.
func (h *Holder) StartWatcher(ctx context.Context) error {
	if h.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	go func() {
		defer func() {
			if err := watcher.Close(); err != nil {
				h.logger.Debug().Err(err).Msg("close config watcher")
			}
		}()

		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(h.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(250*time.Millisecond, func() {
					if err := h.Reload(ctx); err != nil {
						h.logger.Warn().Err(err).Str("event", "config.watch_reload_failed").Msg("file change reload failed")
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				h.logger.Warn().Err(err).Str("event", "config.watch_error").Msg("config watcher error")
			}
		}
	}()

	h.logger.Info().Str("event", "config.watching").Str("path", h.path).Msg("watching config file for changes")
	return nil
}
