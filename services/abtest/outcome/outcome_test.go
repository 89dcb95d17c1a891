// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package outcome

import (
	"errors"
	"testing"

	"github.com/AleutianAI/absim/services/abtest/config"
	"github.com/AleutianAI/absim/services/abtest/traffic"
	"github.com/AleutianAI/absim/services/abtest/variate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingVariate captures the probabilities passed to Binomial.
type recordingVariate struct {
	probs []float64
}

func (r *recordingVariate) Normal(mean, stdDev float64) float64 { return mean }

func (r *recordingVariate) Binomial(n int64, p float64) int64 {
	r.probs = append(r.probs, p)
	return 0
}

func TestNoveltyMultiplier(t *testing.T) {
	cfg := config.DefaultExperiment()
	cfg.NoveltyMagnitude = 0.5
	cfg.NoveltyDurationHours = 10

	tests := []struct {
		hour int
		want float64
	}{
		{0, 1.5},
		{1, 1.45},
		{5, 1.25},
		{10, 1.0},
		{11, 1.0},
		{500, 1.0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, NoveltyMultiplier(cfg, tt.hour), 1e-12, "hour %d", tt.hour)
	}
}

func TestNoveltyMultiplier_NegativeMagnitude(t *testing.T) {
	cfg := config.DefaultExperiment()
	cfg.NoveltyMagnitude = -0.4
	cfg.NoveltyDurationHours = 4

	assert.InDelta(t, 0.6, NoveltyMultiplier(cfg, 0), 1e-12)
	assert.InDelta(t, 0.9, NoveltyMultiplier(cfg, 3), 1e-12)
	assert.InDelta(t, 1.0, NoveltyMultiplier(cfg, 4), 1e-12)
}

func TestNoveltyMultiplier_ZeroDuration(t *testing.T) {
	cfg := config.DefaultExperiment()
	cfg.NoveltyMagnitude = 0.3
	cfg.NoveltyDurationHours = 0

	assert.InDelta(t, 1.3, NoveltyMultiplier(cfg, 0), 1e-12)
	assert.Equal(t, 1.0, NoveltyMultiplier(cfg, 1))
	assert.Equal(t, 1.0, NoveltyMultiplier(cfg, 100))
}

func TestNextHour_UsesLiftAndNovelty(t *testing.T) {
	cfg := config.DefaultExperiment()
	cfg.BaseConversionRate = 0.1
	cfg.Lift = 0.2
	cfg.NoveltyMagnitude = 1
	cfg.NoveltyDurationHours = 2

	v := &recordingVariate{}
	_, err := NextHour(cfg, 0, traffic.Trials{Control: 10, Treatment: 10}, v)
	require.NoError(t, err)
	require.Len(t, v.probs, 2)
	assert.InDelta(t, 0.1, v.probs[0], 1e-12)
	assert.InDelta(t, 0.24, v.probs[1], 1e-12)

	v = &recordingVariate{}
	_, err = NextHour(cfg, 5, traffic.Trials{Control: 10, Treatment: 10}, v)
	require.NoError(t, err)
	assert.InDelta(t, 0.12, v.probs[1], 1e-12)
}

func TestNextHour_RateAboveOneIsLazyConfigurationError(t *testing.T) {
	cfg := config.DefaultExperiment()
	cfg.BaseConversionRate = 0.6
	cfg.Lift = 1.0

	_, err := NextHour(cfg, 6, traffic.Trials{Control: 5, Treatment: 5}, variate.NewSampler(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrConfiguration))

	ce, ok := config.AsConfigurationError(err)
	require.True(t, ok)
	assert.Equal(t, TreatmentRateField, ce.Field)
	assert.Equal(t, 7, ce.Hour)
	assert.InDelta(t, 1.2, ce.Value.(float64), 1e-12)
}

func TestNextHour_NegativeRateIsLazyConfigurationError(t *testing.T) {
	cfg := config.DefaultExperiment()
	cfg.Lift = -1.5

	_, err := NextHour(cfg, 0, traffic.Trials{Control: 5, Treatment: 5}, variate.NewSampler(1))
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestNextHour_NoveltyPushesRateOutOfRangeOnlyEarly(t *testing.T) {
	cfg := config.DefaultExperiment()
	cfg.BaseConversionRate = 0.5
	cfg.Lift = 0.5
	cfg.NoveltyMagnitude = 1
	cfg.NoveltyDurationHours = 10

	s := variate.NewSampler(2)
	trials := traffic.Trials{Control: 10, Treatment: 10}

	_, err := NextHour(cfg, 0, trials, s)
	assert.Error(t, err, "0.5*1.5*2 = 1.5 exceeds one")

	_, err = NextHour(cfg, 10, trials, s)
	assert.NoError(t, err, "0.5*1.5*1 = 0.75 is valid")
}

func TestNextHour_Bounds(t *testing.T) {
	cfg := config.DefaultExperiment()
	s := variate.NewSampler(11)

	for h := 0; h < 500; h++ {
		trials := traffic.NextHour(cfg, h, s)
		got, err := NextHour(cfg, h, trials, s)
		require.NoError(t, err)
		require.LessOrEqual(t, got.Control, trials.Control)
		require.LessOrEqual(t, got.Treatment, trials.Treatment)
		require.GreaterOrEqual(t, got.Control, int64(0))
		require.GreaterOrEqual(t, got.Treatment, int64(0))
	}
}
