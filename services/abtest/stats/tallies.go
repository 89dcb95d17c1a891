// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stats

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// ErrInvalidCounts indicates an hour with negative counts or more successes
// than trials in an arm.
var ErrInvalidCounts = errors.New("invalid hourly counts")

// -----------------------------------------------------------------------------
// Tallies
// -----------------------------------------------------------------------------

// Tallies are the running sufficient statistics of a run.
//
// Invariant: 0 <= successes <= trials for each arm.
type Tallies struct {
	ElapsedHours       int   `json:"elapsed_hours"`
	ControlTrials      int64 `json:"control_trials"`
	ControlSuccesses   int64 `json:"control_successes"`
	TreatmentTrials    int64 `json:"treatment_trials"`
	TreatmentSuccesses int64 `json:"treatment_successes"`
}

// ControlRate returns the observed control conversion rate, 0 with no trials.
func (t Tallies) ControlRate() float64 {
	return rate(t.ControlSuccesses, t.ControlTrials)
}

// TreatmentRate returns the observed treatment conversion rate, 0 with no
// trials.
func (t Tallies) TreatmentRate() float64 {
	return rate(t.TreatmentSuccesses, t.TreatmentTrials)
}

func rate(successes, trials int64) float64 {
	if trials <= 0 {
		return 0
	}
	return float64(successes) / float64(trials)
}

// HourCounts are the trials and successes produced by one simulated hour.
type HourCounts struct {
	ControlTrials      int64 `json:"control_trials"`
	ControlSuccesses   int64 `json:"control_successes"`
	TreatmentTrials    int64 `json:"treatment_trials"`
	TreatmentSuccesses int64 `json:"treatment_successes"`
}

// Validate reports whether the hour can be folded into a tally.
func (h HourCounts) Validate() error {
	if h.ControlTrials < 0 || h.ControlSuccesses < 0 || h.TreatmentTrials < 0 || h.TreatmentSuccesses < 0 {
		return fmt.Errorf("%w: negative count in %+v", ErrInvalidCounts, h)
	}
	if h.ControlSuccesses > h.ControlTrials {
		return fmt.Errorf("%w: control successes %d exceed trials %d", ErrInvalidCounts, h.ControlSuccesses, h.ControlTrials)
	}
	if h.TreatmentSuccesses > h.TreatmentTrials {
		return fmt.Errorf("%w: treatment successes %d exceed trials %d", ErrInvalidCounts, h.TreatmentSuccesses, h.TreatmentTrials)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Accumulator
// -----------------------------------------------------------------------------

// Accumulator folds hourly counts into append-only running tallies.
//
// Thread Safety: Not safe for concurrent use. The controller serializes
// access under its own lock.
type Accumulator struct {
	tallies Tallies
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// ApplyHour adds one hour of counts and advances ElapsedHours by one.
//
// Outputs:
//   - error: ErrInvalidCounts (wrapped) if h would break the tally
//     invariant. The tallies are left unchanged in that case.
func (a *Accumulator) ApplyHour(h HourCounts) error {
	if err := h.Validate(); err != nil {
		return err
	}
	a.tallies.ElapsedHours++
	a.tallies.ControlTrials += h.ControlTrials
	a.tallies.ControlSuccesses += h.ControlSuccesses
	a.tallies.TreatmentTrials += h.TreatmentTrials
	a.tallies.TreatmentSuccesses += h.TreatmentSuccesses
	return nil
}

// Tallies returns a snapshot of the running totals.
func (a *Accumulator) Tallies() Tallies {
	return a.tallies
}

// Reset zeroes every tally.
func (a *Accumulator) Reset() {
	a.tallies = Tallies{}
}
