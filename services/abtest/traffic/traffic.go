// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package traffic generates hourly user arrivals and splits them between the
// control and treatment arms.
package traffic

import (
	"math"

	"github.com/AleutianAI/absim/services/abtest/config"
	"github.com/AleutianAI/absim/services/abtest/variate"
)

// Trials is the number of users assigned to each arm in one hour.
type Trials struct {
	Control   int64 `json:"control"`
	Treatment int64 `json:"treatment"`
}

// Total returns the users that arrived in the hour.
func (t Trials) Total() int64 {
	return t.Control + t.Treatment
}

// HourlyMean returns the expected users per hour.
func HourlyMean(cfg config.ExperimentConfig) float64 {
	return cfg.DailyUsers / 24
}

// HourlyStdDev returns the per-hour standard deviation. Day-level variance
// is split evenly across 24 independent hours.
func HourlyStdDev(cfg config.ExperimentConfig) float64 {
	return math.Sqrt(cfg.DailyUsersStdDev * cfg.DailyUsersStdDev / 24)
}

// HourlyCap returns the largest user count one hour may produce: twice the
// hourly mean, floored.
func HourlyCap(cfg config.ExperimentConfig) int64 {
	return int64(math.Floor(cfg.DailyUsers / 12))
}

// NextHour draws the arrivals for one simulated hour.
//
// # Description
//
// The user count is a rounded Normal(dailyUsers/24, sqrt(sd^2/24)) draw
// clamped to [0, floor(dailyUsers/12)]. Users are split binomially with
// probability TreatmentShare under random allocation, or deterministically
// as round(users*TreatmentShare) under fixed allocation.
//
// # Inputs
//
//   - cfg: Validated experiment configuration.
//   - elapsedHours: Completed hours before this one. Arrivals are stationary,
//     so the value does not change the distribution.
//   - v: Variate source owned by the calling run.
//
// # Outputs
//
//   - Trials: Non-negative arm counts.
func NextHour(cfg config.ExperimentConfig, elapsedHours int, v variate.Variate) Trials {
	_ = elapsedHours

	users := int64(math.Round(v.Normal(HourlyMean(cfg), HourlyStdDev(cfg))))
	users = min(max(users, 0), HourlyCap(cfg))

	var treatment int64
	switch cfg.Allocation {
	case config.AllocationFixed:
		treatment = int64(math.Round(float64(users) * cfg.TreatmentShare))
		treatment = min(max(treatment, 0), users)
	default:
		treatment = v.Binomial(users, cfg.TreatmentShare)
	}

	return Trials{
		Control:   users - treatment,
		Treatment: treatment,
	}
}
