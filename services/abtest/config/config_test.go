// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/absim/services/abtest/playback"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// ExperimentConfig.Validate
// -----------------------------------------------------------------------------

func TestDefaultExperiment_Valid(t *testing.T) {
	require.NoError(t, DefaultExperiment().Validate())
}

func TestExperimentConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *ExperimentConfig)
		wantField string
	}{
		{"negative daily users", func(c *ExperimentConfig) { c.DailyUsers = -1 }, "daily_users"},
		{"NaN daily users", func(c *ExperimentConfig) { c.DailyUsers = math.NaN() }, "daily_users"},
		{"huge daily users", func(c *ExperimentConfig) { c.DailyUsers = 1e13 }, "daily_users"},
		{"negative std dev", func(c *ExperimentConfig) { c.DailyUsersStdDev = -0.1 }, "daily_users_std_dev"},
		{"base rate above one", func(c *ExperimentConfig) { c.BaseConversionRate = 1.01 }, "base_conversion_rate"},
		{"base rate negative", func(c *ExperimentConfig) { c.BaseConversionRate = -0.01 }, "base_conversion_rate"},
		{"infinite lift", func(c *ExperimentConfig) { c.Lift = math.Inf(1) }, "lift"},
		{"share above one", func(c *ExperimentConfig) { c.TreatmentShare = 1.5 }, "treatment_share"},
		{"NaN novelty", func(c *ExperimentConfig) { c.NoveltyMagnitude = math.NaN() }, "novelty_magnitude"},
		{"negative novelty duration", func(c *ExperimentConfig) { c.NoveltyDurationHours = -3 }, "novelty_duration_hours"},
		{"zero length", func(c *ExperimentConfig) { c.ExperimentLengthHours = 0 }, "experiment_length_hours"},
		{"negative burn-in", func(c *ExperimentConfig) { c.BurnInHours = -1 }, "burn_in_hours"},
		{"unknown allocation", func(c *ExperimentConfig) { c.Allocation = "weighted" }, "allocation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultExperiment()
			tt.mutate(&c)

			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration))

			ce, ok := AsConfigurationError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantField, ce.Field)
			assert.NotEmpty(t, ce.Reason)
			assert.Zero(t, ce.Hour)
		})
	}
}

func TestExperimentConfig_ValidEdges(t *testing.T) {
	c := DefaultExperiment()
	c.DailyUsers = 0
	c.DailyUsersStdDev = 0
	c.BaseConversionRate = 1
	c.TreatmentShare = 0
	c.Lift = -1
	c.NoveltyMagnitude = -0.5
	c.ExperimentLengthHours = 1
	c.Allocation = AllocationFixed
	assert.NoError(t, c.Validate())
}

func TestExperimentConfig_IsBurnIn(t *testing.T) {
	c := DefaultExperiment()
	c.BurnInHours = 3
	assert.True(t, c.IsBurnIn(1))
	assert.True(t, c.IsBurnIn(3))
	assert.False(t, c.IsBurnIn(4))

	c.BurnInHours = 0
	assert.False(t, c.IsBurnIn(1))
}

func TestConfigurationError_Message(t *testing.T) {
	eager := &ConfigurationError{Field: "lift", Value: 2.0, Reason: "must be a finite number"}
	assert.Contains(t, eager.Error(), "lift=2")
	assert.NotContains(t, eager.Error(), "hour")

	lazy := &ConfigurationError{Field: "treatment_rate", Value: 1.2, Reason: "must be <= 1", Hour: 5}
	assert.Contains(t, lazy.Error(), "(hour 5)")
}

// -----------------------------------------------------------------------------
// File loading
// -----------------------------------------------------------------------------

func TestSaveLoad_DefaultsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "absim.yaml")
	require.NoError(t, Save(path, DefaultFile()))

	got, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultFile(), got)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absim.yaml")
	doc := `
experiment:
  lift: 0.2
  seed: 42
playback:
  tiers:
    - up_to_hours: 10
      interval: 1s
  tail: 5ms
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.2, got.Experiment.Lift)
	assert.Equal(t, uint64(42), got.Experiment.Seed)
	assert.Equal(t, DefaultExperiment().DailyUsers, got.Experiment.DailyUsers)
	assert.Equal(t, []playback.Tier{{UpToHours: 10, Interval: time.Second}}, got.Playback.Tiers)
	assert.Equal(t, 5*time.Millisecond, got.Playback.Tail)
	assert.Equal(t, DefaultFile().Server, got.Server)
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLoad_DefaultMissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	got, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultFile(), got)
}

func TestLoad_InvalidValueIsConfigurationError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("experiment:\n  treatment_share: 2\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	ce, ok := AsConfigurationError(err)
	require.True(t, ok)
	assert.Equal(t, "treatment_share", ce.Field)
}

func TestLoad_BadPlaybackRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absim.yaml")
	doc := "playback:\n  tiers:\n    - up_to_hours: 10\n      interval: 1s\n    - up_to_hours: 5\n      interval: 1s\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	_, err := Load(path)
	assert.ErrorIs(t, err, playback.ErrInvalidPolicy)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("experiment: [unclosed"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ABSIM_DAILY_USERS", "500")
	t.Setenv("ABSIM_LIFT", "-0.1")
	t.Setenv("ABSIM_SEED", "7")
	t.Setenv("ABSIM_ALLOCATION", "fixed")
	t.Setenv("ABSIM_EXPERIMENT_LENGTH_HOURS", "24")
	t.Setenv("ABSIM_LOG_LEVEL", "debug")
	t.Setenv("ABSIM_LOG_JSON", "1")
	t.Setenv("ABSIM_ADDR", ":9999")
	t.Setenv("ABSIM_BURN_IN_HOURS", "not-a-number")

	got, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 500.0, got.Experiment.DailyUsers)
	assert.Equal(t, -0.1, got.Experiment.Lift)
	assert.Equal(t, uint64(7), got.Experiment.Seed)
	assert.Equal(t, AllocationFixed, got.Experiment.Allocation)
	assert.Equal(t, 24, got.Experiment.ExperimentLengthHours)
	assert.Equal(t, "debug", got.Logging.Level)
	assert.True(t, got.Logging.JSON)
	assert.Equal(t, ":9999", got.Server.Addr)
	assert.Equal(t, 0, got.Experiment.BurnInHours, "unparsable env values are ignored")
}

func TestFile_ValidateSections(t *testing.T) {
	f := DefaultFile()
	f.Telemetry.MetricExporter = "graphite"
	err := f.Validate()
	require.Error(t, err)
	ce, ok := AsConfigurationError(err)
	require.True(t, ok)
	assert.Equal(t, "metric_exporter", ce.Field)

	f = DefaultFile()
	f.Logging.Level = "verbose"
	assert.Error(t, f.Validate())
}
