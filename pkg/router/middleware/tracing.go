// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	"github.com/synthome-dev/synthome/pkg/trace"
)

func HandleTracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		operation := c.Request.Method + " " + c.Request.URL.Path

		// Continue the caller's trace when the headers carry one,
		// otherwise start a fresh root span.
		var span opentracing.Span
		ctx, err := trace.ExtractHeader(c.Request.Context(), c.Request.Header, operation)
		if err == nil {
			span, _ = trace.SpanFromContext(ctx)
		}
		if span == nil {
			span, ctx = trace.StartSpanFromContext(c.Request.Context(), operation)
		}
		defer func() {
			ext.HTTPStatusCode.Set(span, uint16(c.Writer.Status()))
			if c.Writer.Status() >= 500 {
				ext.Error.Set(span, true)
			}
			span.Finish()
		}()

		ext.SpanKindRPCServer.Set(span)
		ext.HTTPMethod.Set(span, c.Request.Method)
		ext.HTTPUrl.Set(span, c.Request.URL.String())

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
