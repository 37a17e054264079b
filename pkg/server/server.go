// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package server

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/synthome-dev/synthome/pkg/clientsets"
	"github.com/synthome-dev/synthome/pkg/config"
	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/logger/log"
	"github.com/synthome-dev/synthome/pkg/router"
	"github.com/synthome-dev/synthome/pkg/trace"
)

func InitServer(ctx context.Context) error {
	return InitServerWithPreInitFunc(ctx, nil)
}

// InitServerWithPreInitFunc loads configuration, initializes the
// process-wide clients, runs the caller's preInit wiring, and serves
// the registered route groups. Blocks until the listener fails.
func InitServerWithPreInitFunc(ctx context.Context, preInit func(ctx context.Context, cfg *config.Config) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if err := log.InitGlobalLogger(cfg.GetLogConfig()); err != nil {
		return err
	}
	if cfg.Trace.IsEnabled() {
		if err := trace.InitTracer(cfg.Trace.GetServiceName()); err != nil {
			return err
		}
	}
	if err := clientsets.InitClientSets(ctx, cfg); err != nil {
		return err
	}
	if preInit != nil {
		if err := preInit(ctx, cfg); err != nil {
			return errors.NewError().WithCode(errors.CodeInitializeError).WithMessage("PreInit Error").WithError(err)
		}
	}

	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())
	if err := router.InitRouter(ginEngine, cfg); err != nil {
		return err
	}
	InitHealthServer(cfg.GetHttpPort() + 1)

	return ginEngine.Run(fmt.Sprintf(":%d", cfg.GetHttpPort()))
}
