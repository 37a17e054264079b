// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/synthome-dev/synthome/pkg/metrics"
)

var (
	httpRequestCounter = metrics.NewCounterVec(
		"http_request",
		"HTTP requests by route, method and status",
		[]string{"route", "method", "status"},
	)
	httpRequestDuration = metrics.NewHistogramVec(
		"http_request_duration",
		"HTTP request latency by route and method",
		[]string{"route", "method"},
	)
)

func HandleMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// FullPath is empty for 404s; bucket those together instead of
		// exploding the label space with raw request paths.
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestCounter.Inc(route, c.Request.Method, strconv.Itoa(c.Writer.Status()))
		httpRequestDuration.ObserveSince(start, route, c.Request.Method)
	}
}
