// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package abtest

import (
	"fmt"
	"time"

	"github.com/AleutianAI/absim/services/abtest/engine"
	"github.com/AleutianAI/absim/services/abtest/playback"
	"github.com/AleutianAI/absim/services/abtest/stats"
)

// =============================================================================
// Responses
// =============================================================================

// ErrorResponse is the body of every 4xx/5xx reply.
type ErrorResponse struct {
	Error string `json:"error"`

	// Field and Reason are set for configuration errors.
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason,omitempty"`
	Value  string `json:"value,omitempty"`
	Hour   int    `json:"hour,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

// RunResponse is returned by POST /start and POST /stop.
type RunResponse struct {
	RunID string `json:"run_id"`
	State string `json:"state"`
	Seed  uint64 `json:"seed"`
}

// TalliesResponse is returned by GET /tallies.
type TalliesResponse struct {
	RunID   string         `json:"run_id"`
	State   string         `json:"state"`
	Seed    uint64         `json:"seed"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Tallies stats.Tallies  `json:"tallies"`
	Summary stats.Summary  `json:"summary"`
}

// PointsResponse is returned by GET /points.
type PointsResponse struct {
	RunID  string               `json:"run_id"`
	State  string               `json:"state"`
	Points []engine.OutputPoint `json:"points"`
}

// =============================================================================
// Playback policy
// =============================================================================

// PolicyBody is the JSON form of playback.Policy with duration strings
// ("250ms", "1s").
type PolicyBody struct {
	Tiers []TierBody `json:"tiers"`
	Tail  string     `json:"tail"`
}

// TierBody is the JSON form of playback.Tier.
type TierBody struct {
	UpToHours int    `json:"up_to_hours"`
	Interval  string `json:"interval"`
}

func policyBody(p playback.Policy) PolicyBody {
	body := PolicyBody{
		Tiers: make([]TierBody, 0, len(p.Tiers)),
		Tail:  p.Tail.String(),
	}
	for _, t := range p.Tiers {
		body.Tiers = append(body.Tiers, TierBody{UpToHours: t.UpToHours, Interval: t.Interval.String()})
	}
	return body
}

// Policy parses the body into a playback.Policy. The result is not validated.
func (b PolicyBody) Policy() (playback.Policy, error) {
	var p playback.Policy

	if b.Tail != "" {
		d, err := time.ParseDuration(b.Tail)
		if err != nil {
			return p, fmt.Errorf("%w: tail: %v", playback.ErrInvalidPolicy, err)
		}
		p.Tail = d
	}

	for i, t := range b.Tiers {
		d, err := time.ParseDuration(t.Interval)
		if err != nil {
			return p, fmt.Errorf("%w: tier %d interval: %v", playback.ErrInvalidPolicy, i, err)
		}
		p.Tiers = append(p.Tiers, playback.Tier{UpToHours: t.UpToHours, Interval: d})
	}
	return p, nil
}

// =============================================================================
// Stream frames
// =============================================================================

// Frame types sent on /stream.
const (
	FrameHello = "hello"
	FramePoint = "point"
	FrameState = "state"
)

// Frame is one WebSocket message.
//
// A hello frame carries the current state and every point published so far
// in the current run. Point frames follow in hour order; state frames report
// lifecycle transitions.
type Frame struct {
	Type  string `json:"type"`
	RunID string `json:"run_id,omitempty"`
	State string `json:"state,omitempty"`

	// From is the previous state of a state frame.
	From string `json:"from,omitempty"`

	// Hour is the completed hours at a state change.
	Hour int `json:"hour,omitempty"`

	Error string `json:"error,omitempty"`

	Point  *engine.OutputPoint  `json:"point,omitempty"`
	Points []engine.OutputPoint `json:"points,omitempty"`
}

func pointFrame(pt engine.OutputPoint) Frame {
	return Frame{Type: FramePoint, RunID: pt.RunID, Point: &pt}
}

func stateFrame(sc engine.StateChange) Frame {
	f := Frame{
		Type:  FrameState,
		RunID: sc.RunID,
		State: sc.To.String(),
		From:  sc.From.String(),
		Hour:  sc.Hour,
	}
	if sc.Err != nil {
		f.Error = sc.Err.Error()
	}
	return f
}
