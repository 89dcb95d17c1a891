// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package form

import (
	"testing"

	"github.com/AleutianAI/absim/services/abtest/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFields_RoundTripDefaults(t *testing.T) {
	cfg := config.DefaultExperiment()
	cfg.Seed = 42
	cfg.NoveltyMagnitude = -0.25

	got, err := FromConfig(cfg).Config()
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestFields_TrimsWhitespace(t *testing.T) {
	f := FromConfig(config.DefaultExperiment())
	f.Lift = "  0.1 "
	f.ExperimentLengthHours = " 48"
	f.Seed = ""

	got, err := f.Config()
	require.NoError(t, err)
	assert.Equal(t, 0.1, got.Lift)
	assert.Equal(t, 48, got.ExperimentLengthHours)
	assert.Zero(t, got.Seed)
}

func TestFields_Errors(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Fields)
		field string
	}{
		{"not a number", func(f *Fields) { f.DailyUsers = "lots" }, "daily_users"},
		{"rate out of range", func(f *Fields) { f.BaseConversionRate = "1.5" }, "base_conversion_rate"},
		{"fractional hours", func(f *Fields) { f.ExperimentLengthHours = "1.5" }, "experiment_length_hours"},
		{"zero hours", func(f *Fields) { f.ExperimentLengthHours = "0" }, "experiment_length_hours"},
		{"negative burn-in", func(f *Fields) { f.BurnInHours = "-1" }, "burn_in_hours"},
		{"negative seed", func(f *Fields) { f.Seed = "-3" }, "seed"},
		{"unknown allocation", func(f *Fields) { f.Allocation = "round-robin" }, "allocation"},
		{"nan lift", func(f *Fields) { f.Lift = "NaN" }, "lift"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := FromConfig(config.DefaultExperiment())
			tt.edit(&f)

			_, err := f.Config()
			require.Error(t, err)
			assert.ErrorIs(t, err, config.ErrConfiguration)
			ce, ok := config.AsConfigurationError(err)
			require.True(t, ok)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "10000", formatFloat(10000))
	assert.Equal(t, "0.05", formatFloat(0.05))
	assert.Equal(t, "-0.5", formatFloat(-0.5))
}

func TestBuild(t *testing.T) {
	f := FromConfig(config.DefaultExperiment())
	form := f.build(Options{Title: "checkout"})
	require.NotNil(t, form)
}
