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
	"github.com/AleutianAI/absim/services/abtest/telemetry"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// BasePath is the route group for the API.
const BasePath = "/v1/abtest"

// ServiceName is the otelgin server name.
const ServiceName = "absim"

// Router builds a gin engine with recovery, tracing, request metrics, the API
// routes and, when the Prometheus exporter is active, GET /metrics.
func (s *Service) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))
	if s.metrics != nil {
		router.Use(telemetry.GinMiddleware(s.metrics))
	}

	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	s.RegisterRoutes(router)
	return router
}

// RegisterRoutes mounts the API under BasePath.
func (s *Service) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group(BasePath)
	{
		v1.GET("/health", s.handleHealth)
		v1.GET("/config", s.handleGetConfig)
		v1.GET("/playback", s.handleGetPlayback)
		v1.GET("/tallies", s.handleTallies)
		v1.GET("/points", s.handlePoints)
		v1.GET("/stream", s.handleStream)

		mutating := v1.Group("", s.rateLimit())
		{
			mutating.PUT("/config", s.handlePutConfig)
			mutating.PUT("/playback", s.handlePutPlayback)
			mutating.POST("/start", s.handleStart)
			mutating.POST("/stop", s.handleStop)
		}
	}
}
