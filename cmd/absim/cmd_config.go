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
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/AleutianAI/absim/services/abtest/config"
	"github.com/AleutianAI/absim/services/abtest/form"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (c *cli) newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect, validate, create and edit the config file",
		// Subcommands load the file themselves so a broken file can still be
		// validated or replaced.
		PersistentPreRunE: func(*cobra.Command, []string) error {
			c.settings = config.DefaultFile()
			return c.initLogger()
		},
	}
	cmd.AddCommand(
		c.newConfigShowCmd(),
		c.newConfigValidateCmd(),
		c.newConfigInitCmd(),
		c.newConfigEditCmd(),
	)
	return cmd
}

// targetPath picks the file a config subcommand operates on.
func (c *cli) targetPath(args []string) string {
	switch {
	case len(args) > 0:
		return args[0]
	case c.configPath != "":
		return c.configPath
	default:
		return config.DefaultFileName
	}
}

func (c *cli) newConfigShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (defaults, file, environment)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := config.Load(c.configPath)
			if err != nil {
				return err
			}
			if asJSON {
				encoder := json.NewEncoder(c.out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(f)
			}
			data, err := yaml.Marshal(f)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = c.out.Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func (c *cli) newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Check a config file without applying environment overrides",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.targetPath(args)
			if _, err := config.LoadFromFile(path); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(c.out, "%s: ok\n", path)
			return nil
		},
	}
}

func (c *cli) newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file with the default settings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.targetPath(args)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.DefaultFile()); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func (c *cli) newConfigEditCmd() *cobra.Command {
	var accessible bool
	cmd := &cobra.Command{
		Use:   "edit [path]",
		Short: "Edit the experiment section interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !accessible && !isTerminal(os.Stdin) {
				return errNotTerminal
			}
			path := c.targetPath(args)

			f, err := config.LoadFromFile(path)
			if errors.Is(err, fs.ErrNotExist) {
				f, err = config.DefaultFile(), nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			exp, err := form.Edit(cmd.Context(), f.Experiment, form.Options{Title: path, Accessible: accessible})
			if errors.Is(err, form.ErrAborted) {
				fmt.Fprintln(c.out, "aborted, nothing written")
				return nil
			}
			if err != nil {
				return err
			}

			f.Experiment = exp
			if err := config.Save(path, f); err != nil {
				return err
			}
			c.logger.Info("Config saved", "path", path)
			fmt.Fprintf(c.out, "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&accessible, "accessible", false, "Use plain line prompts instead of the full-screen form")
	return cmd
}
