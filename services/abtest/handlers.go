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
	"net/http"
	"strconv"

	"github.com/AleutianAI/absim/services/abtest/config"
	"github.com/AleutianAI/absim/services/abtest/engine"
	"github.com/AleutianAI/absim/services/abtest/stats"
	"github.com/gin-gonic/gin"
)

func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", State: s.ctrl.State().String()})
}

func (s *Service) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Config())
}

// handlePutConfig overlays the request body on the installed configuration,
// so omitted fields keep their current values.
func (s *Service) handlePutConfig(c *gin.Context) {
	cfg := s.ctrl.Config()
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	if err := s.ctrl.Configure(cfg); err != nil {
		s.respondError(c, err)
		return
	}

	s.logger.Info("experiment reconfigured over http", "state", s.ctrl.State().String())
	c.JSON(http.StatusOK, s.ctrl.Config())
}

func (s *Service) handleGetPlayback(c *gin.Context) {
	c.JSON(http.StatusOK, policyBody(s.ctrl.Policy()))
}

func (s *Service) handlePutPlayback(c *gin.Context) {
	var body PolicyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	p, err := body.Policy()
	if err == nil {
		err = s.ctrl.SetPolicy(p)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, policyBody(s.ctrl.Policy()))
}

func (s *Service) handleStart(c *gin.Context) {
	if err := s.ctrl.Start(); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.runResponse())
}

func (s *Service) handleStop(c *gin.Context) {
	s.ctrl.Stop()
	c.JSON(http.StatusOK, s.runResponse())
}

// handleTallies returns tallies plus a summary. The optional "confidence"
// query parameter sets the interval level (default 0.95).
func (s *Service) handleTallies(c *gin.Context) {
	confidence := stats.DefaultConfidence
	if raw := c.Query("confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || !(v > 0 && v < 1) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "confidence must be a number in (0, 1)"})
			return
		}
		confidence = v
	}

	resp := TalliesResponse{
		RunID:   s.ctrl.RunID(),
		State:   s.ctrl.State().String(),
		Seed:    s.ctrl.Seed(),
		Tallies: s.ctrl.CurrentTallies(),
		Summary: s.ctrl.Summary(confidence),
	}
	if err := s.ctrl.Err(); err != nil {
		e := errorBody(err)
		resp.Error = &e
	}
	c.JSON(http.StatusOK, resp)
}

// handlePoints returns the current run's points. The optional "since" query
// parameter returns only hours after it.
func (s *Service) handlePoints(c *gin.Context) {
	since := 0
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "since must be a non-negative integer"})
			return
		}
		since = v
	}

	points := s.ctrl.Points()
	runID := s.ctrl.RunID()
	if len(points) > 0 {
		runID = points[0].RunID
	}

	out := make([]engine.OutputPoint, 0, len(points))
	for _, pt := range points {
		if pt.Hour > since {
			out = append(out, pt)
		}
	}
	c.JSON(http.StatusOK, PointsResponse{RunID: runID, State: s.ctrl.State().String(), Points: out})
}

func (s *Service) runResponse() RunResponse {
	return RunResponse{
		RunID: s.ctrl.RunID(),
		State: s.ctrl.State().String(),
		Seed:  s.ctrl.Seed(),
	}
}

// respondError maps ConfigurationError to 400 and everything else to 500.
func (s *Service) respondError(c *gin.Context, err error) {
	if _, ok := config.AsConfigurationError(err); ok {
		c.JSON(http.StatusBadRequest, errorBody(err))
		return
	}
	s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
}

func errorBody(err error) ErrorResponse {
	body := ErrorResponse{Error: err.Error()}
	if ce, ok := config.AsConfigurationError(err); ok {
		body.Field = ce.Field
		body.Reason = ce.Reason
		body.Hour = ce.Hour
		if ce.Value != nil {
			body.Value = fmt.Sprint(ce.Value)
		}
	}
	return body
}
