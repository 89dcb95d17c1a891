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

// MinPValue is the floor applied to p-values so -log10(p) stays finite.
const MinPValue = 1e-300

// Result is the outcome of one significance evaluation.
type Result struct {
	// Sign is +1 when treatment converts better, -1 when worse, 0 when equal
	// or when the test is degenerate.
	Sign int `json:"sign"`

	// PValue is the two-sided p-value in [MinPValue, 1].
	PValue float64 `json:"p_value"`

	// TStatistic is (p2-p1)/se, 0 when degenerate.
	TStatistic float64 `json:"t_statistic"`

	// DegreesOfFreedom is the Welch-Satterthwaite df, 0 when degenerate.
	DegreesOfFreedom float64 `json:"degrees_of_freedom"`
}

// degenerate is returned whenever the statistic cannot be formed.
var degenerate = Result{Sign: 0, PValue: 1}

// Degenerate reports whether r is the no-information fallback.
func (r Result) Degenerate() bool {
	return r.Sign == 0 && r.PValue == 1 && r.DegreesOfFreedom == 0
}

// Evaluate runs a two-sided Welch t-test on the arm conversion rates.
//
// # Description
//
// Per-user outcomes are Bernoulli, so each arm's variance is p(1-p). The
// p-value is 2*S(|t|) where S is the Student-t survival function with
// Welch-Satterthwaite degrees of freedom. Fewer than two trials in an arm,
// a zero or non-finite standard error, or non-finite df all produce the
// fallback Result{Sign: 0, PValue: 1}.
//
// # Inputs
//
//   - t: Running tallies. Must satisfy the tally invariant.
//
// # Outputs
//
//   - Result: Never an error; degenerate data yields the fallback.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func Evaluate(t Tallies) Result {
	w, ok := welch(t)
	if !ok {
		return degenerate
	}

	tStat := w.diff / w.se
	survival := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: w.df}.Survival(math.Abs(tStat))
	p := 2 * survival
	if math.IsNaN(p) {
		return degenerate
	}
	p = min(max(p, MinPValue), 1)

	sign := 0
	switch {
	case w.diff > 0:
		sign = 1
	case w.diff < 0:
		sign = -1
	}

	return Result{
		Sign:             sign,
		PValue:           p,
		TStatistic:       tStat,
		DegreesOfFreedom: w.df,
	}
}

// SignedNegLog10P maps a result onto the plotted axis: sign * -log10(p).
// Positive values favor treatment. The fallback maps to 0.
func SignedNegLog10P(r Result) float64 {
	if r.Sign == 0 {
		return 0
	}
	v := float64(r.Sign) * -math.Log10(r.PValue)
	if v == 0 {
		// p == 1 gives -0; keep it out of JSON and CSV.
		return 0
	}
	return v
}

// welchTerms holds the pieces shared by the test and the interval.
type welchTerms struct {
	diff float64
	se   float64
	df   float64
}

func welch(t Tallies) (welchTerms, bool) {
	if t.ControlTrials < 2 || t.TreatmentTrials < 2 {
		return welchTerms{}, false
	}

	n1 := float64(t.ControlTrials)
	n2 := float64(t.TreatmentTrials)
	p1 := float64(t.ControlSuccesses) / n1
	p2 := float64(t.TreatmentSuccesses) / n2

	v1 := p1 * (1 - p1) / n1
	v2 := p2 * (1 - p2) / n2

	se := math.Sqrt(v1 + v2)
	if se == 0 || math.IsNaN(se) || math.IsInf(se, 0) {
		return welchTerms{}, false
	}

	df := (v1 + v2) * (v1 + v2) / (v1*v1/(n1-1) + v2*v2/(n2-1))
	if math.IsNaN(df) || math.IsInf(df, 0) || df <= 0 {
		return welchTerms{}, false
	}

	return welchTerms{diff: p2 - p1, se: se, df: df}, true
}
