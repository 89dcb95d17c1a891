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
	"fmt"
	"time"

	"github.com/AleutianAI/absim/services/abtest/config"
	"github.com/AleutianAI/absim/services/abtest/engine"
	"github.com/AleutianAI/absim/services/abtest/playback"
	"github.com/AleutianAI/absim/services/abtest/stats"
	"github.com/spf13/cobra"
)

// runOptions are the flags of `absim run`.
type runOptions struct {
	format     string
	realtime   bool
	hideBurnIn bool
	summary    bool
	confidence float64

	// Overrides applied over the loaded experiment when the flag is set.
	hours      int
	seed       uint64
	lift       float64
	dailyUsers float64
	allocation string
}

func (c *cli) newRunCmd() *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one experiment and print its significance series",
		Long: `Run one experiment to completion and print one record per hour.

Without --realtime the run is not paced and finishes as fast as it can be
computed. With --realtime the playback policy from the config file decides
the delay between hours. Ctrl+C stops the run and prints what was computed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runExperiment(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.format, "format", "f", FormatTable, "Output format: table, json, csv")
	f.BoolVar(&opts.realtime, "realtime", false, "Pace hours with the configured playback policy")
	f.BoolVar(&opts.hideBurnIn, "hide-burn-in", false, "Omit burn-in hours from the output")
	f.BoolVar(&opts.summary, "summary", true, "Print a summary after the table")
	f.Float64Var(&opts.confidence, "confidence", stats.DefaultConfidence, "Summary interval level in (0, 1)")
	f.IntVar(&opts.hours, "hours", 0, "Override experiment_length_hours")
	f.Uint64Var(&opts.seed, "seed", 0, "Override seed (0 = fresh entropy)")
	f.Float64Var(&opts.lift, "lift", 0, "Override lift")
	f.Float64Var(&opts.dailyUsers, "daily-users", 0, "Override daily_users")
	f.StringVar(&opts.allocation, "allocation", "", "Override allocation: random or fixed")
	return cmd
}

// experimentFromFlags overlays the changed flags onto base.
func experimentFromFlags(cmd *cobra.Command, base config.ExperimentConfig, opts runOptions) config.ExperimentConfig {
	f := cmd.Flags()
	if f.Changed("hours") {
		base.ExperimentLengthHours = opts.hours
	}
	if f.Changed("seed") {
		base.Seed = opts.seed
	}
	if f.Changed("lift") {
		base.Lift = opts.lift
	}
	if f.Changed("daily-users") {
		base.DailyUsers = opts.dailyUsers
	}
	if f.Changed("allocation") {
		base.Allocation = opts.allocation
	}
	return base
}

func (c *cli) runExperiment(cmd *cobra.Command, opts runOptions) error {
	w, err := newPointWriter(c.out, opts.format)
	if err != nil {
		return err
	}
	if opts.confidence <= 0 || opts.confidence >= 1 {
		return fmt.Errorf("--confidence must be in (0, 1), got %v", opts.confidence)
	}

	cfg := experimentFromFlags(cmd, c.settings.Experiment, opts)
	if err := cfg.Validate(); err != nil {
		return err
	}

	policy := playback.Instant()
	if opts.realtime {
		policy = c.settings.Playback
	}

	log := c.logger.Slog()
	log.Debug("Run starting", "hours", cfg.ExperimentLengthHours, "seed", cfg.Seed, "realtime", opts.realtime)
	started := time.Now()

	points, runErr := engine.Run(cmd.Context(), cfg, func(pt engine.OutputPoint) {
		if opts.hideBurnIn && pt.BurnIn {
			return
		}
		if err := w.WritePoint(pt); err != nil {
			log.Warn("Failed to write point", "hour", pt.Hour, "error", err)
		}
	}, engine.WithLogger(log), engine.WithPolicy(policy))

	var summary *stats.Summary
	if opts.summary && len(points) > 0 {
		s := stats.Summarize(points[len(points)-1].Tallies, opts.confidence)
		s.RequiredPerArm = stats.RequiredSampleSize(cfg.BaseConversionRate, cfg.Lift, 1-opts.confidence, engine.DefaultPower)
		summary = &s
	}
	if err := w.Close(summary); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	log.Debug("Run finished", "points", len(points), "elapsed", time.Since(started))
	return runErr
}
