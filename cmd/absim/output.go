// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/AleutianAI/absim/services/abtest/engine"
	"github.com/AleutianAI/absim/services/abtest/stats"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess  = 0 // Operation completed successfully
	CLIExitFindings = 1 // Invalid configuration
	CLIExitError    = 2 // Operation failed
)

// Output formats for `absim run`.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
)

// pointWriter emits one record per published point.
//
// WritePoint is called from the stepping goroutine, one point at a time.
// Close is called once after the run with the final summary, which may be
// nil.
type pointWriter interface {
	WritePoint(pt engine.OutputPoint) error
	Close(summary *stats.Summary) error
}

func newPointWriter(w io.Writer, format string) (pointWriter, error) {
	switch format {
	case FormatTable, "":
		return &tableWriter{w: w}, nil
	case FormatJSON:
		return &jsonWriter{w: w}, nil
	case FormatCSV:
		return &csvWriter{w: csv.NewWriter(w)}, nil
	default:
		return nil, fmt.Errorf("unknown --format %q (want table, json or csv)", format)
	}
}

// -----------------------------------------------------------------------------
// Table
// -----------------------------------------------------------------------------

type tableWriter struct {
	w      io.Writer
	header bool
}

const tableRow = "%6s  %12s  %12s  %10s  %10s  %8s  %s\n"

func (t *tableWriter) WritePoint(pt engine.OutputPoint) error {
	if !t.header {
		t.header = true
		if _, err := fmt.Fprintf(t.w, tableRow, "HOUR", "CONTROL", "TREATMENT", "P", "SIGNED", "SIGN", "FLAGS"); err != nil {
			return err
		}
	}
	flags := ""
	if pt.BurnIn {
		flags = "burn-in"
	}
	tl := pt.Tallies
	_, err := fmt.Fprintf(t.w, tableRow,
		strconv.Itoa(pt.Hour),
		fmt.Sprintf("%d/%d", tl.ControlSuccesses, tl.ControlTrials),
		fmt.Sprintf("%d/%d", tl.TreatmentSuccesses, tl.TreatmentTrials),
		fmt.Sprintf("%.4g", pt.PValue),
		fmt.Sprintf("%+.4f", pt.SignedNegLog10P),
		fmt.Sprintf("%+d", pt.Sign),
		flags,
	)
	return err
}

func (t *tableWriter) Close(s *stats.Summary) error {
	if s == nil {
		return nil
	}
	_, err := fmt.Fprintf(t.w, `
Summary after %d hours
  control      %d/%d (%.5f)
  treatment    %d/%d (%.5f)
  lift         %+.2f%%
  difference   %+.5f, %.0f%% CI [%+.5f, %+.5f]
  p-value      %.4g (t=%.3f, df=%.1f)
  needed       %d per arm
`,
		s.Tallies.ElapsedHours,
		s.Tallies.ControlSuccesses, s.Tallies.ControlTrials, s.ControlRate,
		s.Tallies.TreatmentSuccesses, s.Tallies.TreatmentTrials, s.TreatmentRate,
		s.ObservedLift*100,
		s.Difference.Center, s.Difference.Level*100, s.Difference.Lower, s.Difference.Upper,
		s.Test.PValue, s.Test.TStatistic, s.Test.DegreesOfFreedom,
		s.RequiredPerArm,
	)
	return err
}

// -----------------------------------------------------------------------------
// JSON
// -----------------------------------------------------------------------------

// runOutput is the document written by --format json.
type runOutput struct {
	Points  []engine.OutputPoint `json:"points"`
	Summary *stats.Summary       `json:"summary,omitempty"`
}

type jsonWriter struct {
	w      io.Writer
	points []engine.OutputPoint
}

func (j *jsonWriter) WritePoint(pt engine.OutputPoint) error {
	j.points = append(j.points, pt)
	return nil
}

func (j *jsonWriter) Close(s *stats.Summary) error {
	out := runOutput{Points: j.points, Summary: s}
	if out.Points == nil {
		out.Points = []engine.OutputPoint{}
	}
	encoder := json.NewEncoder(j.w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

// -----------------------------------------------------------------------------
// CSV
// -----------------------------------------------------------------------------

var csvHeader = []string{
	"run_id", "hour", "signed_neg_log10_p", "p_value", "sign", "burn_in",
	"control_trials", "control_successes", "treatment_trials", "treatment_successes",
}

type csvWriter struct {
	w      *csv.Writer
	header bool
}

func (c *csvWriter) WritePoint(pt engine.OutputPoint) error {
	if !c.header {
		c.header = true
		if err := c.w.Write(csvHeader); err != nil {
			return err
		}
	}
	tl := pt.Tallies
	if err := c.w.Write([]string{
		pt.RunID,
		strconv.Itoa(pt.Hour),
		strconv.FormatFloat(pt.SignedNegLog10P, 'g', -1, 64),
		strconv.FormatFloat(pt.PValue, 'g', -1, 64),
		strconv.Itoa(pt.Sign),
		strconv.FormatBool(pt.BurnIn),
		strconv.FormatInt(tl.ControlTrials, 10),
		strconv.FormatInt(tl.ControlSuccesses, 10),
		strconv.FormatInt(tl.TreatmentTrials, 10),
		strconv.FormatInt(tl.TreatmentSuccesses, 10),
	}); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// Close flushes; CSV output carries no summary.
func (c *csvWriter) Close(*stats.Summary) error {
	c.w.Flush()
	return c.w.Error()
}
