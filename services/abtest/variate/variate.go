// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package variate draws the binomial and normal random variates that drive
// traffic and outcome generation.
//
// A Sampler owns its generator. It is not safe for concurrent use; the
// simulation engine gives each run its own Sampler and touches it only from
// the stepping goroutine.
package variate

import (
	"math"
	"math/rand/v2"
)

// NormalApproxThreshold is the trial count at and above which Binomial
// switches from exact Bernoulli sampling to the Normal approximation.
const NormalApproxThreshold = 50

// pcgStream is the fixed PCG stream selector mixed with the seed.
const pcgStream = 0x9e3779b97f4a7c15

// Variate is the sampling surface consumed by the traffic and outcome models.
type Variate interface {
	// Binomial returns the number of successes among n Bernoulli(p) trials.
	Binomial(n int64, p float64) int64

	// Normal returns a Normal(mean, stdDev) draw.
	Normal(mean, stdDev float64) float64
}

// Sampler is the default Variate backed by a seeded PCG generator.
type Sampler struct {
	rng       *rand.Rand
	seed      uint64
	threshold int64
}

// NewSampler creates a Sampler seeded with seed.
//
// A zero seed draws a fresh seed from the runtime's entropy source, so two
// zero-seeded samplers produce independent streams. Any other seed gives a
// reproducible stream.
func NewSampler(seed uint64) *Sampler {
	if seed == 0 {
		seed = rand.Uint64() | 1
	}
	return &Sampler{
		rng:       rand.New(rand.NewPCG(seed, seed^pcgStream)),
		seed:      seed,
		threshold: NormalApproxThreshold,
	}
}

// Seed returns the effective seed, useful for reproducing a zero-seeded run.
func (s *Sampler) Seed() uint64 {
	return s.seed
}

// Binomial returns the number of successes among n independent Bernoulli(p)
// trials.
//
// The boundaries are deterministic: p <= 0 (or NaN) yields 0 and p >= 1
// yields n without consuming randomness. Below NormalApproxThreshold every
// trial is sampled; at or above it a Normal(np, sqrt(np(1-p))) draw is rounded
// and clamped to [0, n].
func (s *Sampler) Binomial(n int64, p float64) int64 {
	if n <= 0 || p <= 0 || math.IsNaN(p) {
		return 0
	}
	if p >= 1 {
		return n
	}

	if n < s.threshold {
		var k int64
		for i := int64(0); i < n; i++ {
			if s.rng.Float64() < p {
				k++
			}
		}
		return k
	}

	mean := float64(n) * p
	sd := math.Sqrt(mean * (1 - p))
	k := int64(math.Round(s.Normal(mean, sd)))
	return min(max(k, 0), n)
}

// Normal returns mean + stdDev*Z for a standard normal Z. A non-positive or
// NaN stdDev returns mean exactly.
func (s *Sampler) Normal(mean, stdDev float64) float64 {
	if !(stdDev > 0) {
		return mean
	}
	return mean + stdDev*s.rng.NormFloat64()
}
