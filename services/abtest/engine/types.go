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
	"fmt"

	"github.com/AleutianAI/absim/services/abtest/stats"
)

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

// State is the controller lifecycle state.
type State int

const (
	// StateIdle is the initial state before any Start.
	StateIdle State = iota

	// StateRunning means a run goroutine is stepping.
	StateRunning

	// StateStopped means the run was stopped by the caller or halted by a
	// configuration error.
	StateStopped

	// StateCompleted means the run reached ExperimentLengthHours.
	StateCompleted
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name for JSON and YAML.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the state ends a run.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateCompleted
}

// StateChange describes one lifecycle transition.
type StateChange struct {
	RunID string `json:"run_id"`
	From  State  `json:"from"`
	To    State  `json:"to"`

	// Hour is the number of completed hours at the time of the change.
	Hour int `json:"hour"`

	// Err is set when a configuration error halted the run.
	Err error `json:"-"`
}

// -----------------------------------------------------------------------------
// OutputPoint
// -----------------------------------------------------------------------------

// OutputPoint is published once per completed step.
type OutputPoint struct {
	RunID string `json:"run_id"`

	// Hour is the 1-based label of the step.
	Hour int `json:"hour"`

	// SignedNegLog10P is sign * -log10(p); positive favors treatment.
	SignedNegLog10P float64 `json:"signed_neg_log10_p"`

	PValue float64 `json:"p_value"`
	Sign   int     `json:"sign"`

	// BurnIn flags hours inside the configured burn-in window.
	BurnIn bool `json:"burn_in"`

	// Tallies is a snapshot of the running totals after this step.
	Tallies stats.Tallies `json:"tallies"`
}
