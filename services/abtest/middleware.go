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
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// rateLimit rejects requests with 429 once the shared token bucket is empty.
// A Retry-After header gives the wait in whole seconds.
func (s *Service) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		r := s.limiter.Reserve()
		if r.OK() && r.Delay() == 0 {
			c.Next()
			return
		}
		delay := r.Delay()
		r.Cancel()

		if s.metrics != nil {
			s.metrics.RateLimited.Add(c.Request.Context(), 1,
				metric.WithAttributes(attribute.String("route", c.FullPath())))
		}
		if r.OK() {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
		}
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
	}
}
