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
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/absim/pkg/logging"
	"github.com/AleutianAI/absim/services/abtest/engine"
	"github.com/AleutianAI/absim/services/abtest/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// errNotTerminal is returned by interactive commands without a TTY.
var errNotTerminal = errors.New("this command needs an interactive terminal")

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type watchOptions struct {
	start      bool
	hideBurnIn bool
	title      string
}

func (c *cli) newWatchCmd() *cobra.Command {
	opts := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show a live terminal chart of the significance series",
		Long: `Show the signed -log10(p) series as a live chart, paced by the
playback policy from the config file.

Keys: s start or restart, x stop, b toggle burn-in, tab summary,
? help, q quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !isTerminal(os.Stdout) {
				return errNotTerminal
			}
			return c.watch(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.start, "start", false, "Start a run immediately")
	f.BoolVar(&opts.hideBurnIn, "hide-burn-in", false, "Start with burn-in hours hidden")
	f.StringVar(&opts.title, "title", "absim", "Chart title")
	return cmd
}

func (c *cli) watch(cmd *cobra.Command, opts watchOptions) error {
	// Console logs would draw over the chart; only the file sink stays on.
	fileLogger := logging.New(logging.Config{
		Level:   c.level,
		LogDir:  c.settings.Logging.Dir,
		Service: logging.DefaultService,
		Quiet:   true,
	})
	defer fileLogger.Close()
	log := fileLogger.Slog()

	ctrl := engine.NewController(
		engine.WithLogger(log),
		engine.WithPolicy(c.settings.Playback),
	)
	defer ctrl.Close()

	exp := c.settings.Experiment
	if err := ctrl.Configure(exp); err != nil {
		return err
	}

	model := tui.NewModel(ctrl, tui.Config{
		Title:       opts.title,
		Hours:       exp.ExperimentLengthHours,
		BurnInHours: exp.BurnInHours,
		HideBurnIn:  opts.hideBurnIn,
		AutoStart:   opts.start,
	})

	p := tea.NewProgram(model,
		tea.WithAltScreen(),
		tea.WithContext(cmd.Context()),
		tea.WithOutput(c.out),
	)
	unsubscribe := tui.Subscribe(ctrl, p)
	defer unsubscribe()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run chart: %w", err)
	}
	return nil
}
