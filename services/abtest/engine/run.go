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
	"context"

	"github.com/AleutianAI/absim/services/abtest/config"
)

// Run executes one experiment to completion on a private controller.
//
// # Inputs
//
//   - ctx: Cancels the run. The points published so far are returned with
//     ctx.Err().
//   - cfg: Experiment configuration.
//   - onPoint: Optional callback for each point as it is published.
//   - opts: Controller options; pass WithPolicy(playback.Instant()) for a
//     batch run without delays.
//
// # Outputs
//
//   - []OutputPoint: Every point of the run in hour order.
//   - error: A *config.ConfigurationError (eager or lazy) or ctx.Err().
func Run(ctx context.Context, cfg config.ExperimentConfig, onPoint func(OutputPoint), opts ...Option) ([]OutputPoint, error) {
	c := NewController(opts...)
	if err := c.Configure(cfg); err != nil {
		return nil, err
	}
	if onPoint != nil {
		c.OnPoint(onPoint)
	}
	if err := c.Start(); err != nil {
		return nil, err
	}

	select {
	case <-c.Done():
		c.Close()
	case <-ctx.Done():
		c.Close()
		return c.Points(), ctx.Err()
	}
	return c.Points(), c.Err()
}
