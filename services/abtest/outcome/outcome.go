// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package outcome samples per-arm conversions for one simulated hour,
// applying the configured lift and the decaying novelty boost.
package outcome

import (
	"math"

	"github.com/AleutianAI/absim/services/abtest/config"
	"github.com/AleutianAI/absim/services/abtest/traffic"
	"github.com/AleutianAI/absim/services/abtest/variate"
)

// TreatmentRateField names the derived rate in lazy configuration errors.
const TreatmentRateField = "treatment_rate"

// Successes is the number of conversions in each arm for one hour.
type Successes struct {
	Control   int64 `json:"control"`
	Treatment int64 `json:"treatment"`
}

// NoveltyMultiplier returns the factor applied to the treatment lift at
// elapsedHours.
//
// The boost decays linearly from 1+NoveltyMagnitude at hour 0 to 1 at
// NoveltyDurationHours and stays at 1 afterwards. A zero duration applies
// the full boost at hour 0 only.
func NoveltyMultiplier(cfg config.ExperimentConfig, elapsedHours int) float64 {
	elapsed := float64(elapsedHours)
	duration := cfg.NoveltyDurationHours

	if elapsed > duration {
		return 1
	}
	if duration == 0 {
		return 1 + cfg.NoveltyMagnitude
	}
	return 1 + cfg.NoveltyMagnitude*(duration-elapsed)/duration
}

// TreatmentRate returns the effective treatment conversion probability at
// elapsedHours. The result is not clamped.
func TreatmentRate(cfg config.ExperimentConfig, elapsedHours int) float64 {
	return cfg.BaseConversionRate * (1 + cfg.Lift) * NoveltyMultiplier(cfg, elapsedHours)
}

// NextHour samples conversions for the trials of one hour.
//
// # Inputs
//
//   - cfg: Validated experiment configuration.
//   - elapsedHours: Completed hours before this one (0 for the first step).
//   - trials: Arm sizes from the traffic model.
//   - v: Variate source owned by the calling run.
//
// # Outputs
//
//   - Successes: Conversions per arm, never more than the arm's trials.
//   - error: *config.ConfigurationError when the effective treatment rate is
//     NaN, infinite or outside [0, 1]. Control is sampled first, so the
//     variate stream has advanced when this is returned.
func NextHour(cfg config.ExperimentConfig, elapsedHours int, trials traffic.Trials, v variate.Variate) (Successes, error) {
	control := v.Binomial(trials.Control, cfg.BaseConversionRate)

	rate := TreatmentRate(cfg, elapsedHours)
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 || rate > 1 {
		reason := "must be within [0, 1]"
		if math.IsNaN(rate) || math.IsInf(rate, 0) {
			reason = "must be a finite number"
		}
		return Successes{}, &config.ConfigurationError{
			Field:  TreatmentRateField,
			Value:  rate,
			Reason: reason,
			Hour:   elapsedHours + 1,
		}
	}

	return Successes{
		Control:   control,
		Treatment: v.Binomial(trials.Treatment, rate),
	}, nil
}
