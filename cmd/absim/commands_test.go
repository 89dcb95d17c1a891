// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/absim/services/abtest/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig saves a small, quiet, seeded config and returns its path.
func writeTestConfig(t *testing.T, mutate func(*config.File)) string {
	t.Helper()
	f := config.DefaultFile()
	f.Experiment.DailyUsers = 2400
	f.Experiment.ExperimentLengthHours = 5
	f.Experiment.Seed = 11
	f.Logging.Level = "error"
	f.Telemetry.MetricExporter = "none"
	if mutate != nil {
		mutate(&f)
	}
	path := filepath.Join(t.TempDir(), "absim.yaml")
	require.NoError(t, config.Save(path, f))
	return path
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, CLIExitSuccess, exitCode(nil))
	assert.Equal(t, CLIExitSuccess, exitCode(fmt.Errorf("run: %w", context.Canceled)))
	assert.Equal(t, CLIExitFindings, exitCode(&config.ConfigurationError{Field: "lift"}))
	assert.Equal(t, CLIExitError, exitCode(errors.New("disk full")))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, context.Background(), "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "absim dev"), out)
}

func TestRun_CSV(t *testing.T) {
	path := writeTestConfig(t, nil)
	out, err := execute(t, context.Background(), "--config", path, "run", "--format", "csv")
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 6)
	assert.Equal(t, csvHeader, records[0])
	for i, rec := range records[1:] {
		assert.Equal(t, fmt.Sprint(i+1), rec[1])
	}
}

func TestRun_JSONIsReproducible(t *testing.T) {
	path := writeTestConfig(t, nil)

	decode := func() runOutput {
		out, err := execute(t, context.Background(), "--config", path, "run", "--format", "json")
		require.NoError(t, err)
		var doc runOutput
		require.NoError(t, json.Unmarshal([]byte(out), &doc))
		return doc
	}

	first, second := decode(), decode()
	require.Len(t, first.Points, 5)
	require.NotNil(t, first.Summary)
	assert.Equal(t, 5, first.Summary.Tallies.ElapsedHours)
	assert.Positive(t, first.Summary.RequiredPerArm)

	for i := range first.Points {
		assert.Equal(t, first.Points[i].Tallies, second.Points[i].Tallies)
		assert.Equal(t, first.Points[i].SignedNegLog10P, second.Points[i].SignedNegLog10P)
	}
}

func TestRun_FlagOverrides(t *testing.T) {
	path := writeTestConfig(t, nil)
	out, err := execute(t, context.Background(), "--config", path,
		"run", "--format", "json", "--hours", "3", "--allocation", "fixed", "--summary=false")
	require.NoError(t, err)

	var doc runOutput
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Len(t, doc.Points, 3)
	assert.Nil(t, doc.Summary)
}

func TestRun_TableHidesBurnIn(t *testing.T) {
	path := writeTestConfig(t, func(f *config.File) { f.Experiment.BurnInHours = 2 })
	out, err := execute(t, context.Background(), "--config", path, "run", "--hide-burn-in")
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "HOUR")
	assert.NotContains(t, out, "burn-in")
	assert.Equal(t, "3", strings.Fields(lines[1])[0])
	assert.Contains(t, out, "Summary after 5 hours")
}

func TestRun_Errors(t *testing.T) {
	path := writeTestConfig(t, nil)

	_, err := execute(t, context.Background(), "--config", path, "run", "--format", "xml")
	assert.ErrorContains(t, err, "unknown --format")

	_, err = execute(t, context.Background(), "--config", path, "run", "--confidence", "1")
	assert.ErrorContains(t, err, "--confidence")

	_, err = execute(t, context.Background(), "--config", path, "run", "--allocation", "bogus")
	assert.ErrorIs(t, err, config.ErrConfiguration)
	assert.Equal(t, CLIExitFindings, exitCode(err))

	_, err = execute(t, context.Background(), "--config", path, "--log-level", "loud", "run")
	assert.ErrorContains(t, err, "--log-level")
}

func TestRun_LazyConfigurationError(t *testing.T) {
	path := writeTestConfig(t, func(f *config.File) {
		f.Experiment.BaseConversionRate = 0.5
		f.Experiment.Lift = 1.5
	})
	out, err := execute(t, context.Background(), "--config", path, "run", "--format", "csv")
	require.Error(t, err)

	ce, ok := config.AsConfigurationError(err)
	require.True(t, ok)
	assert.Equal(t, 1, ce.Hour)
	assert.Empty(t, out)
}

func TestRun_MissingExplicitConfig(t *testing.T) {
	_, err := execute(t, context.Background(), "--config", filepath.Join(t.TempDir(), "nope.yaml"), "run")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// -----------------------------------------------------------------------------
// config
// -----------------------------------------------------------------------------

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "absim.yaml")

	out, err := execute(t, context.Background(), "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	_, err = execute(t, context.Background(), "config", "init", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, context.Background(), "config", "init", "--force", path)
	require.NoError(t, err)

	out, err = execute(t, context.Background(), "config", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, path+": ok")
}

func TestConfigValidate_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("experiment:\n  treatment_share: 3\n"), 0640))

	_, err := execute(t, context.Background(), "--config", path, "config", "validate")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfiguration)
	assert.Contains(t, err.Error(), "treatment_share")
}

func TestConfigShow(t *testing.T) {
	path := writeTestConfig(t, func(f *config.File) { f.Experiment.Lift = 0.125 })

	out, err := execute(t, context.Background(), "--config", path, "config", "show", "--json")
	require.NoError(t, err)
	var f config.File
	require.NoError(t, json.Unmarshal([]byte(out), &f))
	assert.Equal(t, 0.125, f.Experiment.Lift)

	out, err = execute(t, context.Background(), "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "lift: 0.125")
}

func TestInteractiveCommandsNeedTerminal(t *testing.T) {
	if isTerminal(os.Stdin) || isTerminal(os.Stdout) {
		t.Skip("test needs non-terminal stdin and stdout")
	}
	path := writeTestConfig(t, nil)

	_, err := execute(t, context.Background(), "--config", path, "watch")
	assert.ErrorIs(t, err, errNotTerminal)

	_, err = execute(t, context.Background(), "config", "edit", path)
	assert.ErrorIs(t, err, errNotTerminal)
}

// -----------------------------------------------------------------------------
// serve
// -----------------------------------------------------------------------------

func TestServe_StopsOnCancel(t *testing.T) {
	path := writeTestConfig(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := execute(t, ctx, "--config", path, "serve", "--addr", "127.0.0.1:0", "--start")
		errc <- err
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServe_WatchNeedsFile(t *testing.T) {
	dir := t.TempDir()
	c := &cli{configPath: filepath.Join(dir, "missing.yaml")}
	_, err := c.newReloader(nil, nil)
	assert.ErrorContains(t, err, "--watch needs a config file")
}
