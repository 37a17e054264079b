// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/synthome-dev/synthome/pkg/logger/log"
)

func HandleLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		duration := time.Since(startTime)
		statusCode := c.Writer.Status()
		method := c.Request.Method
		path := c.Request.URL.Path
		clientIP := c.ClientIP()
		userAgent := c.Request.UserAgent()

		log.GlobalLogger().Infof(
			"Request: Method=%s | Path=%s | Status=%d | IP=%s | Duration=%v | UserAgent=%s",
			method,
			path,
			statusCode,
			clientIP,
			duration,
			userAgent,
		)
	}
}
