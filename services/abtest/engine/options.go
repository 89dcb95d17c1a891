// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"log/slog"

	"github.com/AleutianAI/absim/services/abtest/playback"
	"github.com/AleutianAI/absim/services/abtest/variate"
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPolicy sets the initial playback policy. Default: playback.Default().
// An invalid policy is ignored.
func WithPolicy(p playback.Policy) Option {
	return func(c *Controller) {
		if p.Validate() == nil {
			c.policy = p.Clone()
		}
	}
}

// WithVariateFactory replaces the source of randomness for new runs. The
// factory receives the configured seed (0 meaning unseeded) on every Start.
func WithVariateFactory(f func(seed uint64) variate.Variate) Option {
	return func(c *Controller) {
		if f != nil {
			c.newVariate = f
		}
	}
}

func defaultVariate(seed uint64) variate.Variate {
	return variate.NewSampler(seed)
}
