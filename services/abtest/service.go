// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package abtest exposes a simulation controller over HTTP.
//
// # Routes
//
// All routes live under /v1/abtest:
//
//	GET  /health     liveness and controller state
//	GET  /config     installed ExperimentConfig
//	PUT  /config     replace fields of the ExperimentConfig
//	GET  /playback   cadence policy
//	PUT  /playback   replace the cadence policy
//	POST /start      begin a fresh run
//	POST /stop       stop the current run
//	GET  /tallies    running tallies, state and summary
//	GET  /points     published points of the current run
//	GET  /stream     WebSocket: hello, then point and state frames
//
// Mutating routes share one token bucket. A ConfigurationError maps to 400
// with the offending field and reason.
package abtest

import (
	"log/slog"
	"sync"

	"github.com/AleutianAI/absim/services/abtest/engine"
	"github.com/AleutianAI/absim/services/abtest/telemetry"
	"golang.org/x/time/rate"
)

// Service binds one engine.Controller to the HTTP API and the point stream.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	ctrl    *engine.Controller
	hub     *Hub
	logger  *slog.Logger
	metrics *telemetry.Metrics
	limiter *rate.Limiter

	closeOnce   sync.Once
	unsubscribe []func()
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger. Default: slog.Default().
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables HTTP request metrics.
func WithMetrics(m *telemetry.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithRateLimit limits mutating requests to rps with the given burst.
// rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) ServiceOption {
	return func(s *Service) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewService subscribes a stream hub to ctrl and returns the Service.
// Call Close to detach it.
func NewService(ctrl *engine.Controller, opts ...ServiceOption) *Service {
	s := &Service{
		ctrl:   ctrl,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.hub = newHub(s.logger, s.metrics)
	s.unsubscribe = append(s.unsubscribe,
		ctrl.OnPoint(s.hub.publishPoint),
		ctrl.OnStateChange(s.hub.publishState),
	)
	return s
}

// Controller returns the controller served by s.
func (s *Service) Controller() *engine.Controller {
	return s.ctrl
}

// Close unsubscribes from the controller and disconnects stream clients.
// The controller itself is left running.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		for _, u := range s.unsubscribe {
			u()
		}
		s.hub.close()
	})
}
