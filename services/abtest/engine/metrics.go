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
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/absim/services/abtest/stats"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for simulation steps.
var (
	tracer = otel.Tracer("absim.engine")
	meter  = otel.Meter("absim.engine")
)

// Metrics for simulation steps and runs.
var (
	stepLatency     metric.Float64Histogram
	stepsTotal      metric.Int64Counter
	usersTotal      metric.Int64Counter
	conversionTotal metric.Int64Counter
	significance    metric.Float64Gauge
	runsTotal       metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		stepLatency, err = meter.Float64Histogram(
			"absim_step_duration_seconds",
			metric.WithDescription("Duration of one simulated hour"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stepsTotal, err = meter.Int64Counter(
			"absim_steps_total",
			metric.WithDescription("Total simulated hours"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		usersTotal, err = meter.Int64Counter(
			"absim_users_total",
			metric.WithDescription("Simulated users by arm"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		conversionTotal, err = meter.Int64Counter(
			"absim_conversions_total",
			metric.WithDescription("Simulated conversions by arm"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		significance, err = meter.Float64Gauge(
			"absim_signed_neg_log10_p",
			metric.WithDescription("Latest signed -log10(p) of the running test"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runsTotal, err = meter.Int64Counter(
			"absim_runs_total",
			metric.WithDescription("Simulation runs by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startStepSpan creates a span for one simulated hour.
func startStepSpan(ctx context.Context, runID string, hour int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Controller.step",
		trace.WithAttributes(
			attribute.String("absim.run_id", runID),
			attribute.Int("absim.hour", hour),
		),
	)
}

// setStepSpanResult records the step outcome on its span.
func setStepSpanResult(span trace.Span, pt OutputPoint, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.Float64("absim.p_value", pt.PValue),
		attribute.Int("absim.sign", pt.Sign),
		attribute.Bool("absim.burn_in", pt.BurnIn),
	)
}

// recordStepMetrics records metrics for a completed step.
func recordStepMetrics(ctx context.Context, duration time.Duration, pt OutputPoint, hourly stats.HourCounts) {
	if err := initMetrics(); err != nil {
		return
	}

	control := metric.WithAttributes(attribute.String("arm", "control"))
	treatment := metric.WithAttributes(attribute.String("arm", "treatment"))

	stepLatency.Record(ctx, duration.Seconds())
	stepsTotal.Add(ctx, 1)
	usersTotal.Add(ctx, hourly.ControlTrials, control)
	usersTotal.Add(ctx, hourly.TreatmentTrials, treatment)
	conversionTotal.Add(ctx, hourly.ControlSuccesses, control)
	conversionTotal.Add(ctx, hourly.TreatmentSuccesses, treatment)
	significance.Record(ctx, pt.SignedNegLog10P)
}

// recordRun counts a run lifecycle event.
func recordRun(ctx context.Context, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	runsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}
