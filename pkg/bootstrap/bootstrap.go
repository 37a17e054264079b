// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package bootstrap

import (
	"context"

	"github.com/synthome-dev/synthome/pkg/api"
	"github.com/synthome-dev/synthome/pkg/clientsets"
	"github.com/synthome-dev/synthome/pkg/config"
	"github.com/synthome-dev/synthome/pkg/gateway"
	"github.com/synthome-dev/synthome/pkg/jobqueue"
	"github.com/synthome-dev/synthome/pkg/jobs"
	"github.com/synthome-dev/synthome/pkg/logger/log"
	"github.com/synthome-dev/synthome/pkg/operations"
	"github.com/synthome-dev/synthome/pkg/orchestrator"
	"github.com/synthome-dev/synthome/pkg/router"
	"github.com/synthome-dev/synthome/pkg/server"
	"github.com/synthome-dev/synthome/pkg/trace"
	"github.com/synthome-dev/synthome/pkg/webhook"
	"github.com/synthome-dev/synthome/pkg/worker"
)

// StartAPIServer wires and runs the public API process: plan admission,
// execution status, and the provider callback ingress. Blocks until the
// listener fails.
func StartAPIServer(ctx context.Context) error {
	return server.InitServerWithPreInitFunc(ctx, func(ctx context.Context, cfg *config.Config) error {
		sets := clientsets.Get()
		queue := jobqueue.NewPGStore(queueConfig(cfg.Queue))
		orch := orchestrator.New(nil, queue)
		gw := gateway.New(nil, queue, sets.Catalog, sets.Transfer, orch)

		execHandler := api.NewExecutionHandler(orch, nil, queue)
		callbackHandler := gateway.NewHandler(gw, sets.Providers, cfg.Webhook.GetCallbackToken())
		router.RegisterGroup(execHandler.RegisterRoutes)
		router.RegisterGroup(callbackHandler.RegisterRoutes)

		// Re-emit work dropped by a crash before taking traffic
		if recovered, err := orch.RecoverPending(ctx); err != nil {
			log.GlobalLogger().Warnf("startup recovery failed: %v", err)
		} else if recovered > 0 {
			log.GlobalLogger().Infof("startup recovery swept %d executions", recovered)
		}
		return nil
	})
}

// StartWorker wires and runs the worker process: ticket consumption,
// the provider poller, webhook delivery, and queue maintenance. Blocks
// until the context is cancelled.
func StartWorker(ctx context.Context) error {
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
	sets := clientsets.Get()

	queue := jobqueue.NewPGStore(queueConfig(cfg.Queue))
	orch := orchestrator.New(nil, queue)
	gw := gateway.New(nil, queue, sets.Catalog, sets.Transfer, orch)

	services := &operations.Services{
		Providers:     sets.Providers,
		Catalog:       sets.Catalog,
		Store:         sets.Store,
		Transfer:      sets.Transfer,
		Media:         sets.Media,
		PublicURL:     cfg.PublicURL,
		CallbackToken: cfg.Webhook.GetCallbackToken(),
	}
	handlers := operations.NewRegistry(services)
	pool := worker.New(queue, nil, handlers, orch, sets.Catalog, cfg.Worker)

	poller := gateway.NewPoller(gw, sets.Providers)
	dispatcher := webhook.NewDispatcher(queue, nil, webhook.NewSender(cfg.Webhook))

	if _, err := jobs.Start(ctx,
		&jobs.TimeoutSweepJob{Queue: queue},
		&jobs.CleanupJob{Queue: queue, Retention: cfg.Queue.GetRetention()},
		&jobs.ProviderPollJob{Poller: poller},
		&jobs.RecoveryJob{Orchestrator: orch},
	); err != nil {
		return err
	}

	server.InitHealthServer(cfg.GetHttpPort() + 1)

	go dispatcher.Run(ctx)
	pool.Run(ctx)
	return nil
}

// queueConfig folds the `queue:` block over the queue package defaults
func queueConfig(cfg *config.QueueConfig) *jobqueue.QueueConfig {
	qc := jobqueue.DefaultQueueConfig()
	qc.VisibilityTimeout = cfg.GetVisibilityTimeout()
	qc.DefaultMaxAttempts = cfg.GetMaxRetries()
	qc.ExpireAfter = cfg.GetExpireIn()
	qc.RetentionPeriod = cfg.GetRetention()
	return qc
}
