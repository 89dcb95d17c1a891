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
)

// ErrConfiguration is the sentinel matched by every *ConfigurationError.
var ErrConfiguration = errors.New("invalid experiment configuration")

// ConfigurationError reports an out-of-domain configuration value.
//
// # Description
//
// Raised eagerly by Validate (Hour == 0) when a field is outside its
// domain, and lazily by the outcome model (Hour > 0) when the effective
// treatment conversion rate for a step leaves [0, 1]. Lazy errors halt the
// run that produced them. Neither kind is retried.
//
// # Fields
//
//   - Field: YAML name of the offending field.
//   - Value: The rejected value.
//   - Reason: Human-readable constraint that was violated.
//   - Hour: 1-based step label for lazy errors, 0 for eager validation.
type ConfigurationError struct {
	Field  string `json:"field"`
	Value  any    `json:"value"`
	Reason string `json:"reason"`
	Hour   int    `json:"hour,omitempty"`
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	if e.Hour > 0 {
		return fmt.Sprintf("%v: %s=%v %s (hour %d)", ErrConfiguration, e.Field, e.Value, e.Reason, e.Hour)
	}
	return fmt.Sprintf("%v: %s=%v %s", ErrConfiguration, e.Field, e.Value, e.Reason)
}

// Unwrap lets errors.Is(err, ErrConfiguration) match.
func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// AsConfigurationError extracts a *ConfigurationError from err's chain.
func AsConfigurationError(err error) (*ConfigurationError, bool) {
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
