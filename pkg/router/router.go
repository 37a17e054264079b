// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package router

import (
	"github.com/gin-gonic/gin"

	"github.com/synthome-dev/synthome/pkg/config"
	"github.com/synthome-dev/synthome/pkg/logger/log"
	"github.com/synthome-dev/synthome/pkg/router/middleware"
)

var (
	groupRegisters []GroupRegister
)

func RegisterGroup(group GroupRegister) {
	groupRegisters = append(groupRegisters, group)
}

func InitRouter(engine *gin.Engine, cfg *config.Config) error {
	g := engine.Group("/v1")
	g.Use(middleware.HandleMetrics())

	// Decide whether to enable logging middleware based on configuration
	if cfg.Middleware.IsLoggingEnabled() {
		log.Info("HTTP request logging middleware enabled")
		g.Use(middleware.HandleLogging())
	} else {
		log.Info("HTTP request logging middleware disabled")
	}

	// Error handling middleware is always enabled
	g.Use(middleware.HandleErrors())

	// Decide whether to enable tracing middleware based on configuration
	if cfg.Middleware.IsTracingEnabled() {
		log.Info("Distributed tracing middleware enabled")
		g.Use(middleware.HandleTracing())
	} else {
		log.Info("Distributed tracing middleware disabled")
	}

	// CORS middleware is always enabled
	g.Use(middleware.CorsMiddleware())

	for _, group := range groupRegisters {
		err := group(g)
		if err != nil {
			return err
		}
	}
	return nil
}

type RouterRegister func(engine *gin.Engine) error

type GroupRegister func(group *gin.RouterGroup) error
