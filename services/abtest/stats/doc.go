// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats accumulates per-arm tallies and evaluates the sequential
// two-proportion significance test.
//
// # Overview
//
// The Accumulator folds one hour of counts at a time into Tallies. Evaluate
// recomputes a two-sided Welch t-test from the current Tallies after every
// hour; it never fails, returning Result{Sign: 0, PValue: 1} when the data
// cannot support a test. Summarize adds observed rates, observed lift and a
// confidence interval for the rate difference.
//
// # Plotting
//
// SignedNegLog10P folds direction into significance: a value above
// -log10(0.05) ≈ 1.301 is a significant win for treatment, below -1.301 a
// significant loss.
//
// # Distribution Functions
//
// Student-t tail probabilities and quantiles come from
// gonum.org/v1/gonum/stat/distuv. The survival function is used directly for
// the two-sided p-value so tiny p-values keep their precision.
package stats
