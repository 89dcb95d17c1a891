// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package playback defines the cadence at which simulated hours are released.
//
// Early hours are noisy and are played slowly; the long tail is compressed.
// The controller asks the policy for the next delay after every step, so a
// replaced policy takes effect at the next scheduling decision.
package playback

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPolicy indicates a malformed tier table.
var ErrInvalidPolicy = errors.New("invalid playback policy")

// Tier applies Interval while elapsed hours are at most UpToHours.
type Tier struct {
	UpToHours int           `json:"up_to_hours" yaml:"up_to_hours"`
	Interval  time.Duration `json:"interval" yaml:"interval"`
}

// Policy maps elapsed hours to the delay before the next step.
//
// Tiers are checked in order; the first tier whose UpToHours is >= the
// elapsed hours wins. Tail applies past the last tier.
type Policy struct {
	Tiers []Tier        `json:"tiers" yaml:"tiers"`
	Tail  time.Duration `json:"tail" yaml:"tail"`
}

// Default returns the standard cadence: 250ms per hour through hour 24,
// 175ms through hour 48, then 100ms.
func Default() Policy {
	return Policy{
		Tiers: []Tier{
			{UpToHours: 24, Interval: 250 * time.Millisecond},
			{UpToHours: 48, Interval: 175 * time.Millisecond},
		},
		Tail: 100 * time.Millisecond,
	}
}

// Instant returns a policy with no delay between steps, for headless runs.
func Instant() Policy {
	return Policy{}
}

// Interval returns the delay to wait before the step that follows
// elapsedHours completed hours.
func (p Policy) Interval(elapsedHours int) time.Duration {
	for _, t := range p.Tiers {
		if elapsedHours <= t.UpToHours {
			return t.Interval
		}
	}
	return p.Tail
}

// Validate checks that tiers are strictly ascending and no interval is
// negative.
func (p Policy) Validate() error {
	if p.Tail < 0 {
		return fmt.Errorf("%w: tail interval %v is negative", ErrInvalidPolicy, p.Tail)
	}
	prev := -1
	for i, t := range p.Tiers {
		if t.Interval < 0 {
			return fmt.Errorf("%w: tier %d interval %v is negative", ErrInvalidPolicy, i, t.Interval)
		}
		if t.UpToHours <= prev {
			return fmt.Errorf("%w: tier %d up_to_hours %d must exceed %d", ErrInvalidPolicy, i, t.UpToHours, prev)
		}
		prev = t.UpToHours
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate a shared tier table.
func (p Policy) Clone() Policy {
	out := Policy{Tail: p.Tail}
	if p.Tiers != nil {
		out.Tiers = make([]Tier, len(p.Tiers))
		copy(out.Tiers, p.Tiers)
	}
	return out
}

// MarshalYAML writes the interval as a duration string ("250ms").
func (t Tier) MarshalYAML() (any, error) {
	return struct {
		UpToHours int    `yaml:"up_to_hours"`
		Interval  string `yaml:"interval"`
	}{t.UpToHours, t.Interval.String()}, nil
}

// MarshalYAML writes the tail as a duration string. Decoding needs no
// counterpart: yaml.v3 parses duration strings into time.Duration fields.
func (p Policy) MarshalYAML() (any, error) {
	return struct {
		Tiers []Tier `yaml:"tiers"`
		Tail  string `yaml:"tail"`
	}{p.Tiers, p.Tail.String()}, nil
}
