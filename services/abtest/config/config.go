// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the experiment parameters and the on-disk
// configuration document for the simulator.
//
// ExperimentConfig is a plain value. The controller copies it under its lock
// and reads it fresh at every step, so a Configure call during a run takes
// effect from the next simulated hour.
package config

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

// Allocation modes for splitting hourly users between arms.
const (
	// AllocationRandom assigns each user to treatment independently with
	// probability TreatmentShare.
	AllocationRandom = "random"

	// AllocationFixed assigns exactly round(users*TreatmentShare) users to
	// treatment each hour.
	AllocationFixed = "fixed"
)

const (
	// MaxDailyUsers bounds DailyUsers and its standard deviation so hourly
	// counts stay well inside int64.
	MaxDailyUsers = 1e12

	// MaxExperimentLengthHours bounds the number of steps in one run.
	MaxExperimentLengthHours = 1_000_000
)

// =============================================================================
// Validator
// =============================================================================

var configValidate *validator.Validate

func init() {
	configValidate = validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their YAML names so errors match the config file.
	configValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = configValidate.RegisterValidation("finite", validateFinite)
}

// validateFinite rejects NaN and infinite floats.
func validateFinite(fl validator.FieldLevel) bool {
	switch fl.Field().Kind() {
	case reflect.Float32, reflect.Float64:
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return true
	}
}

// =============================================================================
// ExperimentConfig
// =============================================================================

// ExperimentConfig describes one simulated A/B experiment.
//
// # Fields
//
//   - DailyUsers: Mean users arriving per day, spread evenly over 24 hours.
//   - DailyUsersStdDev: Day-level standard deviation of arrivals.
//   - BaseConversionRate: Control arm conversion probability.
//   - Lift: Relative change of treatment over control (0.05 = +5%).
//   - TreatmentShare: Fraction of users assigned to treatment.
//   - NoveltyMagnitude: Extra multiplicative boost on lift at hour 0.
//   - NoveltyDurationHours: Hours over which the novelty boost decays to 0.
//     Zero still boosts the first hour by the full NoveltyMagnitude.
//   - ExperimentLengthHours: Number of hourly steps in a run.
//   - BurnInHours: Leading hours flagged as burn-in on published points.
//   - Allocation: "random" or "fixed" arm assignment.
//   - Seed: Variate seed; 0 draws a fresh seed on every start.
type ExperimentConfig struct {
	DailyUsers            float64 `json:"daily_users" yaml:"daily_users" validate:"finite,gte=0,lte=1e12"`
	DailyUsersStdDev      float64 `json:"daily_users_std_dev" yaml:"daily_users_std_dev" validate:"finite,gte=0,lte=1e12"`
	BaseConversionRate    float64 `json:"base_conversion_rate" yaml:"base_conversion_rate" validate:"finite,gte=0,lte=1"`
	Lift                  float64 `json:"lift" yaml:"lift" validate:"finite"`
	TreatmentShare        float64 `json:"treatment_share" yaml:"treatment_share" validate:"finite,gte=0,lte=1"`
	NoveltyMagnitude      float64 `json:"novelty_magnitude" yaml:"novelty_magnitude" validate:"finite"`
	NoveltyDurationHours  float64 `json:"novelty_duration_hours" yaml:"novelty_duration_hours" validate:"finite,gte=0"`
	ExperimentLengthHours int     `json:"experiment_length_hours" yaml:"experiment_length_hours" validate:"gte=1,lte=1000000"`
	BurnInHours           int     `json:"burn_in_hours" yaml:"burn_in_hours" validate:"gte=0"`
	Allocation            string  `json:"allocation" yaml:"allocation" validate:"oneof=random fixed"`
	Seed                  uint64  `json:"seed" yaml:"seed"`
}

// DefaultExperiment returns a one-week experiment with 10,000 daily users, a
// 10% base rate and a +5% lift on an even split.
func DefaultExperiment() ExperimentConfig {
	return ExperimentConfig{
		DailyUsers:            10_000,
		DailyUsersStdDev:      1_000,
		BaseConversionRate:    0.10,
		Lift:                  0.05,
		TreatmentShare:        0.5,
		NoveltyMagnitude:      0,
		NoveltyDurationHours:  0,
		ExperimentLengthHours: 168,
		BurnInHours:           0,
		Allocation:            AllocationRandom,
	}
}

// Validate checks every field against its domain.
//
// # Outputs
//
//   - error: nil, or a *ConfigurationError for the first violating field.
func (c ExperimentConfig) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fromFieldError(verrs[0])
	}
	return fmt.Errorf("validate experiment: %w", err)
}

// IsBurnIn reports whether the step labelled hour (1-based) falls inside the
// burn-in window.
func (c ExperimentConfig) IsBurnIn(hour int) bool {
	return hour <= c.BurnInHours
}

// fromFieldError converts a validator failure into a ConfigurationError.
func fromFieldError(fe validator.FieldError) *ConfigurationError {
	return &ConfigurationError{
		Field:  fe.Field(),
		Value:  fe.Value(),
		Reason: describeTag(fe.Tag(), fe.Param()),
	}
}

func describeTag(tag, param string) string {
	switch tag {
	case "finite":
		return "must be a finite number"
	case "gte":
		return "must be >= " + param
	case "gt":
		return "must be > " + param
	case "lte":
		return "must be <= " + param
	case "oneof":
		return "must be one of [" + strings.ReplaceAll(param, " ", ", ") + "]"
	case "required":
		return "is required"
	default:
		return fmt.Sprintf("failed %q", tag)
	}
}
