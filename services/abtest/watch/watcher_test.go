// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/absim/services/abtest/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietOptions() Options {
	return Options{
		Debounce: 20 * time.Millisecond,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func writeConfig(t *testing.T, path string, lift float64) {
	t.Helper()
	f := config.DefaultFile()
	f.Experiment.Lift = lift
	require.NoError(t, config.Save(path, f))
}

// startWatcher runs w until the test ends and returns Run's result channel.
func startWatcher(t *testing.T, w *ConfigWatcher) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errc:
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return errc
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", func(config.File) {}, Options{})
	assert.Error(t, err)

	_, err = New("absim.yaml", nil, Options{})
	assert.Error(t, err)

	w, err := New("absim.yaml", func(config.File) {}, Options{})
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(w.Path()))
	assert.Equal(t, DefaultOptions().Debounce, w.debounce)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absim.yaml")
	writeConfig(t, path, 0.05)

	reloaded := make(chan config.File, 16)
	w, err := New(path, func(f config.File) { reloaded <- f }, quietOptions())
	require.NoError(t, err)
	startWatcher(t, w)

	// The watch is established asynchronously; keep saving until it is seen.
	var got config.File
	require.Eventually(t, func() bool {
		writeConfig(t, path, 0.3)
		select {
		case got = <-reloaded:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0.3, got.Experiment.Lift)
}

func TestWatcher_InvalidFileReportsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absim.yaml")
	writeConfig(t, path, 0.05)

	reloaded := make(chan config.File, 16)
	errs := make(chan error, 16)
	opts := quietOptions()
	opts.OnError = func(err error) { errs <- err }

	w, err := New(path, func(f config.File) { reloaded <- f }, opts)
	require.NoError(t, err)
	startWatcher(t, w)

	var got error
	require.Eventually(t, func() bool {
		require.NoError(t, os.WriteFile(path, []byte("experiment:\n  base_conversion_rate: 2\n"), 0640))
		select {
		case got = <-errs:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, got, config.ErrConfiguration)
	assert.Empty(t, reloaded)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "absim.yaml")
	writeConfig(t, path, 0.05)

	reloaded := make(chan config.File, 16)
	w, err := New(path, func(f config.File) { reloaded <- f }, quietOptions())
	require.NoError(t, err)
	startWatcher(t, w)

	other := filepath.Join(dir, "other.yaml")
	for i := 0; i < 10; i++ {
		writeConfig(t, other, 0.9)
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, reloaded)
}

func TestWatcher_RunTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absim.yaml")
	writeConfig(t, path, 0.05)

	w, err := New(path, func(config.File) {}, quietOptions())
	require.NoError(t, err)
	startWatcher(t, w)

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.running
	}, 5*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, w.Run(context.Background()), ErrAlreadyRunning)
}

func TestWatcher_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "absim.yaml")
	w, err := New(path, func(config.File) {}, quietOptions())
	require.NoError(t, err)

	assert.Error(t, w.Run(context.Background()))
}

func TestWatcher_StopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absim.yaml")
	writeConfig(t, path, 0.05)

	w, err := New(path, func(config.File) {}, quietOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
