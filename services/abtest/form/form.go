// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package form provides an interactive terminal editor for experiment
// parameters.
//
// # Description
//
// Fields holds every ExperimentConfig parameter as text so huh inputs can
// bind to it directly. Parsing and validation live on Fields and are usable
// without a terminal.
package form

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/absim/services/abtest/config"
	"github.com/charmbracelet/huh"
)

// ErrAborted is returned by Edit when the user cancels the form.
var ErrAborted = errors.New("form aborted")

// Fields is the text form of an ExperimentConfig.
type Fields struct {
	DailyUsers            string
	DailyUsersStdDev      string
	BaseConversionRate    string
	Lift                  string
	TreatmentShare        string
	NoveltyMagnitude      string
	NoveltyDurationHours  string
	ExperimentLengthHours string
	BurnInHours           string
	Allocation            string
	Seed                  string
}

// FromConfig formats cfg for editing.
func FromConfig(cfg config.ExperimentConfig) Fields {
	return Fields{
		DailyUsers:            formatFloat(cfg.DailyUsers),
		DailyUsersStdDev:      formatFloat(cfg.DailyUsersStdDev),
		BaseConversionRate:    formatFloat(cfg.BaseConversionRate),
		Lift:                  formatFloat(cfg.Lift),
		TreatmentShare:        formatFloat(cfg.TreatmentShare),
		NoveltyMagnitude:      formatFloat(cfg.NoveltyMagnitude),
		NoveltyDurationHours:  formatFloat(cfg.NoveltyDurationHours),
		ExperimentLengthHours: strconv.Itoa(cfg.ExperimentLengthHours),
		BurnInHours:           strconv.Itoa(cfg.BurnInHours),
		Allocation:            cfg.Allocation,
		Seed:                  strconv.FormatUint(cfg.Seed, 10),
	}
}

// Config parses and validates the fields.
//
// Outputs:
//
//	config.ExperimentConfig - The parsed configuration.
//	error - *config.ConfigurationError naming the first bad field.
func (f Fields) Config() (config.ExperimentConfig, error) {
	var cfg config.ExperimentConfig
	var err error

	floats := []struct {
		field string
		raw   string
		dst   *float64
	}{
		{"daily_users", f.DailyUsers, &cfg.DailyUsers},
		{"daily_users_std_dev", f.DailyUsersStdDev, &cfg.DailyUsersStdDev},
		{"base_conversion_rate", f.BaseConversionRate, &cfg.BaseConversionRate},
		{"lift", f.Lift, &cfg.Lift},
		{"treatment_share", f.TreatmentShare, &cfg.TreatmentShare},
		{"novelty_magnitude", f.NoveltyMagnitude, &cfg.NoveltyMagnitude},
		{"novelty_duration_hours", f.NoveltyDurationHours, &cfg.NoveltyDurationHours},
	}
	for _, fl := range floats {
		if *fl.dst, err = parseFloat(fl.field, fl.raw); err != nil {
			return config.ExperimentConfig{}, err
		}
	}

	if cfg.ExperimentLengthHours, err = parseInt("experiment_length_hours", f.ExperimentLengthHours); err != nil {
		return config.ExperimentConfig{}, err
	}
	if cfg.BurnInHours, err = parseInt("burn_in_hours", f.BurnInHours); err != nil {
		return config.ExperimentConfig{}, err
	}
	if cfg.Seed, err = parseSeed(f.Seed); err != nil {
		return config.ExperimentConfig{}, err
	}
	cfg.Allocation = strings.TrimSpace(f.Allocation)

	if err := cfg.Validate(); err != nil {
		return config.ExperimentConfig{}, err
	}
	return cfg, nil
}

// Options configures Edit.
type Options struct {
	// Title is shown above the first group.
	Title string

	// Accessible switches huh to its line-based prompt mode.
	Accessible bool
}

// Edit runs the interactive form seeded with cfg.
//
// Description:
//
//	Each input validates its own text as it is typed. After submission the
//	whole configuration is validated once more so cross-field constraints
//	surface as a *config.ConfigurationError.
//
// Outputs:
//
//	config.ExperimentConfig - The edited configuration.
//	error - ErrAborted on cancel, or a validation or terminal error.
func Edit(ctx context.Context, cfg config.ExperimentConfig, opts Options) (config.ExperimentConfig, error) {
	f := FromConfig(cfg)
	form := f.build(opts)
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return cfg, ErrAborted
		}
		return cfg, fmt.Errorf("run form: %w", err)
	}
	return f.Config()
}

func (f *Fields) build(opts Options) *huh.Form {
	title := opts.Title
	if title == "" {
		title = "Experiment"
	}

	traffic := huh.NewGroup(
		huh.NewNote().Title(title).Description("Traffic and allocation"),
		floatInput("Daily users", "Mean users per day across both arms", "daily_users", &f.DailyUsers),
		floatInput("Daily users std dev", "Day-to-day spread of traffic", "daily_users_std_dev", &f.DailyUsersStdDev),
		floatInput("Treatment share", "Fraction of users in treatment, 0 to 1", "treatment_share", &f.TreatmentShare),
		huh.NewSelect[string]().
			Title("Allocation").
			Options(
				huh.NewOption("random (binomial split)", "random"),
				huh.NewOption("fixed (deterministic split)", "fixed"),
			).
			Value(&f.Allocation),
	)

	effect := huh.NewGroup(
		floatInput("Base conversion rate", "Control conversion probability", "base_conversion_rate", &f.BaseConversionRate),
		floatInput("Lift", "Relative treatment change, e.g. 0.05", "lift", &f.Lift),
		floatInput("Novelty magnitude", "Extra lift multiplier at hour 0", "novelty_magnitude", &f.NoveltyMagnitude),
		floatInput("Novelty duration (hours)", "Hours for the novelty effect to fade", "novelty_duration_hours", &f.NoveltyDurationHours),
	)

	run := huh.NewGroup(
		intInput("Experiment length (hours)", "experiment_length_hours", &f.ExperimentLengthHours),
		intInput("Burn-in (hours)", "burn_in_hours", &f.BurnInHours),
		huh.NewInput().
			Title("Seed").
			Description("0 draws fresh entropy per run").
			Value(&f.Seed).
			Validate(func(s string) error {
				_, err := parseSeed(s)
				return err
			}),
	)

	return huh.NewForm(traffic, effect, run).
		WithAccessible(opts.Accessible).
		WithShowHelp(true)
}

func floatInput(title, desc, field string, value *string) *huh.Input {
	return huh.NewInput().
		Title(title).
		Description(desc).
		Value(value).
		Validate(func(s string) error {
			_, err := parseFloat(field, s)
			return err
		})
}

func intInput(title, field string, value *string) *huh.Input {
	return huh.NewInput().
		Title(title).
		Value(value).
		Validate(func(s string) error {
			_, err := parseInt(field, s)
			return err
		})
}

func parseFloat(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, &config.ConfigurationError{Field: field, Value: raw, Reason: "must be a number"}
	}
	return v, nil
}

func parseInt(field, raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &config.ConfigurationError{Field: field, Value: raw, Reason: "must be a whole number"}
	}
	return v, nil
}

func parseSeed(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, &config.ConfigurationError{Field: "seed", Value: raw, Reason: "must be a non-negative integer"}
	}
	return v, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
