// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch reloads the absim config file when it changes on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/absim/services/abtest/config"
	"github.com/fsnotify/fsnotify"
)

// ErrAlreadyRunning is returned by Run when the watcher is already active.
var ErrAlreadyRunning = errors.New("config watcher already running")

// ReloadHandler receives each successfully loaded file.
type ReloadHandler func(config.File)

// ErrorHandler receives load failures. The previous configuration stays in
// effect.
type ErrorHandler func(error)

// Options configures a ConfigWatcher.
type Options struct {
	// Debounce is how long to wait after the last event before reloading.
	// Editors often emit several events per save. Default: 200ms.
	Debounce time.Duration

	// OnError is called when the changed file fails to load or validate.
	// Default: log at Warn.
	OnError ErrorHandler

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{Debounce: 200 * time.Millisecond}
}

// ConfigWatcher watches one YAML file.
//
// # Description
//
// The parent directory is watched rather than the file itself so that
// atomic saves (write to temp, rename over) are seen. Events for other files
// in the directory are ignored. After a quiet period of Options.Debounce the
// file is reloaded with config.LoadFromFile and passed to the handler.
//
// # Thread Safety
//
// Run may be called once at a time. The handlers are called from the Run
// goroutine, one at a time.
type ConfigWatcher struct {
	path     string
	onReload ReloadHandler
	onError  ErrorHandler
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// New creates a watcher for path. It does not touch the filesystem until Run.
func New(path string, onReload ReloadHandler, opts Options) (*ConfigWatcher, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	if onReload == nil {
		return nil, errors.New("reload handler is nil")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if opts.Debounce <= 0 {
		opts.Debounce = DefaultOptions().Debounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	w := &ConfigWatcher{
		path:     abs,
		onReload: onReload,
		onError:  opts.OnError,
		debounce: opts.Debounce,
		logger:   opts.Logger,
	}
	if w.onError == nil {
		w.onError = func(err error) {
			w.logger.Warn("config reload rejected", "path", w.path, "error", err)
		}
	}
	return w, nil
}

// Path returns the absolute path being watched.
func (w *ConfigWatcher) Path() string {
	return w.path
}

// Run watches until ctx is done. It returns nil on cancellation and an error
// if the watch cannot be established or the event stream fails.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("watching config file", "path", w.path)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("config file event", "op", event.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("config watcher: %w", err)

		case <-timer.C:
			w.reload()
		}
	}
}

// relevant reports whether event may have changed the file's contents.
func (w *ConfigWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *ConfigWatcher) reload() {
	f, err := config.LoadFromFile(w.path)
	if err != nil {
		w.onError(err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
	w.onReload(f)
}
