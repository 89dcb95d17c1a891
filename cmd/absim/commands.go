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
	"io"
	"runtime"

	"github.com/AleutianAI/absim/pkg/logging"
	"github.com/AleutianAI/absim/services/abtest/config"
	"github.com/spf13/cobra"
)

// cli carries state shared by every subcommand.
type cli struct {
	out    io.Writer
	errOut io.Writer

	// --- Global flags ---
	configPath string
	logLevel   string
	logJSON    bool

	// Populated by setup.
	settings config.File
	level    logging.Level
	logger   *logging.Logger
}

// newRootCmd builds the command tree writing to out and errOut.
func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "absim",
		Short: "Simulate streaming A/B tests hour by hour",
		Long: `absim simulates an A/B test one hour at a time, evaluates Welch's
t-test on the running tallies after every hour, and publishes the signed
-log10(p) series to a table, an HTTP API, or a live terminal chart.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: c.teardown,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "",
		"Config file (default: ./"+config.DefaultFileName+" if present)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides the config file)")
	root.PersistentFlags().BoolVar(&c.logJSON, "log-json", false, "Write console logs as JSON")

	root.AddCommand(
		c.newRunCmd(),
		c.newServeCmd(),
		c.newWatchCmd(),
		c.newConfigCmd(),
		c.newVersionCmd(),
	)
	return root
}

// setup loads the merged configuration and builds the logger.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	settings, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.settings = settings
	return c.initLogger()
}

// initLogger builds the logger from flags over c.settings.Logging.
func (c *cli) initLogger() error {
	levelName := c.settings.Logging.Level
	if c.logLevel != "" {
		levelName = c.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	c.level = level
	c.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  c.settings.Logging.Dir,
		Service: logging.DefaultService,
		JSON:    c.logJSON || c.settings.Logging.JSON,
		Output:  c.errOut,
	})
	return nil
}

func (c *cli) teardown(*cobra.Command, []string) {
	if c.logger != nil {
		_ = c.logger.Close()
	}
}

func (c *cli) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// No config needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(c.out, "absim %s (commit %s, %s %s/%s)\n",
				version, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
