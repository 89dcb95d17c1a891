// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AleutianAI/absim/services/abtest/playback"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is loaded from the working directory when no path is given.
const DefaultFileName = "absim.yaml"

// File is the on-disk configuration document.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type File struct {
	// Experiment contains the simulated experiment parameters.
	Experiment ExperimentConfig `json:"experiment" yaml:"experiment"`

	// Playback contains the step cadence.
	Playback playback.Policy `json:"playback" yaml:"playback"`

	// Logging contains log output settings.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Server contains HTTP API settings.
	Server ServerConfig `json:"server" yaml:"server"`

	// Telemetry contains OpenTelemetry exporter settings.
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `json:"json" yaml:"json"`
	Dir   string `json:"dir" yaml:"dir"`
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Addr      string  `json:"addr" yaml:"addr" validate:"required"`
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit" validate:"finite,gte=0"`
	Burst     int     `json:"burst" yaml:"burst" validate:"gte=0"`
}

// TelemetryConfig contains OpenTelemetry exporter settings.
type TelemetryConfig struct {
	TraceExporter  string `json:"trace_exporter" yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter string `json:"metric_exporter" yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint   string `json:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// DefaultFile returns the configuration used when no file is present.
func DefaultFile() File {
	return File{
		Experiment: DefaultExperiment(),
		Playback:   playback.Default(),
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Addr:      ":8088",
			RateLimit: 5,
			Burst:     10,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}

// Load builds a File with priority: env > file > defaults.
//
// # Inputs
//
//   - path: YAML file to read. Empty means DefaultFileName in the working
//     directory, which is skipped silently if absent. An explicit path that
//     does not exist is an error.
//
// # Outputs
//
//   - File: Merged configuration.
//   - error: Non-nil if the file is unreadable, unparsable or invalid.
func Load(path string) (File, error) {
	f := DefaultFile()

	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}

	if err := loadFile(path, &f); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			err = nil
		}
		if err != nil {
			return f, fmt.Errorf("load config file: %w", err)
		}
	}

	applyEnvOverrides(&f)

	if err := f.Validate(); err != nil {
		return f, err
	}
	return f, nil
}

// LoadFromFile reads path over the defaults without applying environment
// overrides. Used by the hot-reload watcher.
func LoadFromFile(path string) (File, error) {
	f := DefaultFile()
	if err := loadFile(path, &f); err != nil {
		return f, fmt.Errorf("load config file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return f, err
	}
	return f, nil
}

func loadFile(path string, f *File) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Save writes f as YAML to path, creating parent directories.
func Save(path string, f File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks every section.
func (f File) Validate() error {
	if err := f.Experiment.Validate(); err != nil {
		return err
	}
	if err := f.Playback.Validate(); err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	for _, section := range []any{f.Logging, f.Server, f.Telemetry} {
		if err := configValidate.Struct(section); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				return fromFieldError(verrs[0])
			}
			return err
		}
	}
	return nil
}

// applyEnvOverrides reads ABSIM_* variables. Unparsable values are ignored.
func applyEnvOverrides(f *File) {
	floats := map[string]*float64{
		"ABSIM_DAILY_USERS":            &f.Experiment.DailyUsers,
		"ABSIM_DAILY_USERS_STD_DEV":    &f.Experiment.DailyUsersStdDev,
		"ABSIM_BASE_CONVERSION_RATE":   &f.Experiment.BaseConversionRate,
		"ABSIM_LIFT":                   &f.Experiment.Lift,
		"ABSIM_TREATMENT_SHARE":        &f.Experiment.TreatmentShare,
		"ABSIM_NOVELTY_MAGNITUDE":      &f.Experiment.NoveltyMagnitude,
		"ABSIM_NOVELTY_DURATION_HOURS": &f.Experiment.NoveltyDurationHours,
		"ABSIM_RATE_LIMIT":             &f.Server.RateLimit,
	}
	for key, dst := range floats {
		if v := os.Getenv(key); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = parsed
			}
		}
	}

	ints := map[string]*int{
		"ABSIM_EXPERIMENT_LENGTH_HOURS": &f.Experiment.ExperimentLengthHours,
		"ABSIM_BURN_IN_HOURS":           &f.Experiment.BurnInHours,
		"ABSIM_BURST":                   &f.Server.Burst,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				*dst = parsed
			}
		}
	}

	if v := os.Getenv("ABSIM_SEED"); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			f.Experiment.Seed = parsed
		}
	}

	strs := map[string]*string{
		"ABSIM_ALLOCATION":      &f.Experiment.Allocation,
		"ABSIM_LOG_LEVEL":       &f.Logging.Level,
		"ABSIM_LOG_DIR":         &f.Logging.Dir,
		"ABSIM_ADDR":            &f.Server.Addr,
		"ABSIM_TRACE_EXPORTER":  &f.Telemetry.TraceExporter,
		"ABSIM_METRIC_EXPORTER": &f.Telemetry.MetricExporter,
		"ABSIM_OTLP_ENDPOINT":   &f.Telemetry.OTLPEndpoint,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	if v := os.Getenv("ABSIM_LOG_JSON"); v != "" {
		f.Logging.JSON = v == "true" || v == "1"
	}
}
