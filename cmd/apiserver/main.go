// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/synthome-dev/synthome/pkg/bootstrap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.StartAPIServer(ctx); err != nil {
		panic(err)
	}
}
