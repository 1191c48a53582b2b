// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tunegate/internal/log"
)

const defaultDebounce = 500 * time.Millisecond

// Holder serves the current configuration and swaps it atomically on reload.
// A reload that fails to load or validate keeps the previous configuration.
type Holder struct {
	current  atomic.Pointer[Config]
	loader   *Loader
	logger   zerolog.Logger
	debounce time.Duration

	mu        sync.Mutex
	listeners []func(Config)
}

// NewHolder wraps an already-loaded initial configuration.
func NewHolder(initial Config, loader *Loader) *Holder {
	h := &Holder{
		loader:   loader,
		logger:   log.WithComponent("config"),
		debounce: defaultDebounce,
	}
	h.current.Store(&initial)
	return h
}

// Get returns the current configuration.
func (h *Holder) Get() Config {
	return *h.current.Load()
}

// OnReload registers fn to run after every successful reload, in registration order.
func (h *Holder) OnReload(fn func(Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Reload loads and validates the configuration and swaps it in.
func (h *Holder) Reload() error {
	h.logger.Info().Str("event", "config.reload_start").Msg("reloading configuration")

	next, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "config.reload_failed").
			Msg("failed to load new configuration, keeping current")
		return fmt.Errorf("reload config: %w", err)
	}

	prev := h.current.Swap(&next)
	h.logChanges(*prev, next)

	h.mu.Lock()
	listeners := append([]func(Config){}, h.listeners...)
	h.mu.Unlock()
	for _, fn := range listeners {
		fn(next)
	}

	h.logger.Info().Str("event", "config.reload_success").Msg("configuration reloaded successfully")
	return nil
}

// Watch reloads on changes to the loader's file until ctx is done.
// It is a no-op when no file is configured. The directory is watched so
// editors that replace the file by rename are still observed.
func (h *Holder) Watch(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().
			Str("event", "config.watcher_disabled").
			Msg("config file watcher disabled (using ENV-only configuration)")
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	h.logger.Info().
		Str("event", "config.watcher_started").
		Str(log.FieldPath, path).
		Msg("watching config file for changes")

	target := filepath.Clean(path)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str("event", "config.watcher_stopped").Msg("config watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug().
				Str("event", "config.file_changed").
				Str("op", event.Op.String()).
				Msg("config file changed")
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(h.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				_ = h.Reload()
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Error().
				Err(err).
				Str("event", "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

func (h *Holder) logChanges(prev, next Config) {
	if prev.Log.Level != next.Log.Level {
		h.logger.Info().Str("old", prev.Log.Level).Str("new", next.Log.Level).Msg("log level changed")
	}
	if !slices.Equal(prev.Resolver.Mirrors, next.Resolver.Mirrors) {
		h.logger.Info().Strs("new", next.Resolver.Mirrors).Msg("mirror pool changed")
	}
	if !slices.Equal(prev.Fetcher.AllowedHosts, next.Fetcher.AllowedHosts) {
		h.logger.Info().Strs("new", next.Fetcher.AllowedHosts).Msg("fetcher allow-list changed")
	}
}
