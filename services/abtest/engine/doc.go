// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine drives a simulated A/B experiment one hour at a time.
//
// # Overview
//
// A Controller owns the run state of at most one experiment. Each step
// draws hourly traffic, samples conversions, folds them into the running
// tallies, re-evaluates the significance test and publishes an OutputPoint
// to every subscriber:
//
//	traffic.NextHour -> outcome.NextHour -> Accumulator.ApplyHour
//	    -> stats.Evaluate -> OnPoint subscribers
//
// # Lifecycle
//
//	Idle --Start--> Running --Stop--> Stopped
//	                   |  \--lazy config error--> Stopped (Err set)
//	                   \--last hour--> Completed
//
// Start from any state discards the previous run and begins a fresh one.
//
// # Concurrency
//
// One goroutine drives one run. A step, including subscriber delivery,
// finishes before the next delay starts. Subscribers are called without the
// controller lock held and may call any Controller method. When a run is
// superseded by Start, the new run waits for the old goroutine to exit
// before its first step, so points from consecutive runs never interleave.
//
// # Cadence
//
// The delay before each step comes from the playback.Policy, evaluated
// against the elapsed hours after every step. SetPolicy takes effect at the
// next scheduling decision.
package engine
