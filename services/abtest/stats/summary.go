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
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultConfidence is used when a caller passes a level outside (0, 1).
const DefaultConfidence = 0.95

// ConfidenceInterval represents a statistical confidence interval.
type ConfidenceInterval struct {
	// Lower is the lower bound.
	Lower float64 `json:"lower"`

	// Upper is the upper bound.
	Upper float64 `json:"upper"`

	// Level is the confidence level (e.g., 0.95).
	Level float64 `json:"level"`

	// Center is the point estimate.
	Center float64 `json:"center"`
}

// Contains returns true if the interval contains the value.
func (ci ConfidenceInterval) Contains(v float64) bool {
	return v >= ci.Lower && v <= ci.Upper
}

// Width returns the interval width.
func (ci ConfidenceInterval) Width() float64 {
	return ci.Upper - ci.Lower
}

// Summary is the on-demand readout of a run.
type Summary struct {
	Tallies Tallies `json:"tallies"`

	// ControlRate and TreatmentRate are the observed conversion rates.
	ControlRate   float64 `json:"control_rate"`
	TreatmentRate float64 `json:"treatment_rate"`

	// ObservedLift is TreatmentRate/ControlRate - 1, or 0 when ControlRate
	// is 0.
	ObservedLift float64 `json:"observed_lift"`

	// Test is the current significance result.
	Test Result `json:"test"`

	// SignedNegLog10P is the plotted value for Test.
	SignedNegLog10P float64 `json:"signed_neg_log10_p"`

	// Difference is the Welch interval for TreatmentRate - ControlRate.
	Difference ConfidenceInterval `json:"difference"`

	// RequiredPerArm is the per-arm sample size needed to detect the
	// configured lift. Zero when not computed.
	RequiredPerArm int `json:"required_per_arm,omitempty"`
}

// Summarize computes observed rates, lift, the current test and a Welch
// confidence interval for the rate difference.
//
// Inputs:
//   - t: Running tallies.
//   - confidence: Interval level in (0, 1). Other values use
//     DefaultConfidence.
//
// Outputs:
//   - Summary: Always finite. Degenerate tallies give a point interval.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func Summarize(t Tallies, confidence float64) Summary {
	if !(confidence > 0 && confidence < 1) {
		confidence = DefaultConfidence
	}

	pc := t.ControlRate()
	pt := t.TreatmentRate()

	lift := 0.0
	if pc > 0 {
		lift = pt/pc - 1
	}

	res := Evaluate(t)
	return Summary{
		Tallies:         t,
		ControlRate:     pc,
		TreatmentRate:   pt,
		ObservedLift:    lift,
		Test:            res,
		SignedNegLog10P: SignedNegLog10P(res),
		Difference:      differenceCI(t, pt-pc, confidence),
	}
}

// differenceCI returns the Welch interval for p2-p1, or a point interval at
// diff when the standard error cannot be formed.
func differenceCI(t Tallies, diff, level float64) ConfidenceInterval {
	w, ok := welch(t)
	if !ok {
		return ConfidenceInterval{Lower: diff, Upper: diff, Level: level, Center: diff}
	}

	tCrit := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: w.df}.Quantile(1 - (1-level)/2)
	margin := tCrit * w.se
	return ConfidenceInterval{
		Lower:  w.diff - margin,
		Upper:  w.diff + margin,
		Level:  level,
		Center: w.diff,
	}
}

// RequiredSampleSize estimates users per arm for a two-proportion z-test.
//
// Description:
//
//	Uses the pooled-variance normal approximation
//	n = (z_a*sqrt(2*pbar*(1-pbar)) + z_b*sqrt(p1(1-p1)+p2(1-p2)))^2 / (p2-p1)^2
//	with p1 = base and p2 = base*(1+lift).
//
// Inputs:
//   - base: Control conversion rate in (0, 1).
//   - lift: Relative effect to detect.
//   - alpha: Two-sided significance level (e.g., 0.05).
//   - power: Desired power (e.g., 0.8).
//
// Outputs:
//   - int: Required users per arm. math.MaxInt32 when the effect is zero or
//     the inputs leave the valid range.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func RequiredSampleSize(base, lift, alpha, power float64) int {
	p1 := base
	p2 := base * (1 + lift)
	if p1 <= 0 || p1 >= 1 || p2 <= 0 || p2 >= 1 || p1 == p2 {
		return math.MaxInt32
	}
	if !(alpha > 0 && alpha < 1) || !(power > 0 && power < 1) {
		return math.MaxInt32
	}

	zAlpha := distuv.UnitNormal.Quantile(1 - alpha/2)
	zPower := distuv.UnitNormal.Quantile(power)

	pBar := (p1 + p2) / 2
	num := zAlpha*math.Sqrt(2*pBar*(1-pBar)) + zPower*math.Sqrt(p1*(1-p1)+p2*(1-p2))
	n := num * num / ((p2 - p1) * (p2 - p1))

	if n >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Ceil(n))
}
