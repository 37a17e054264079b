// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package jobs

import (
	"context"
	"time"

	"github.com/synthome-dev/synthome/pkg/jobqueue"
	"github.com/synthome-dev/synthome/pkg/logger/log"
)

// TimeoutSweepJob requeues tickets whose visibility window lapsed and
// archives tickets past their expiry bound. This is what turns a
// crashed worker's claimed tickets back into deliverable ones.
type TimeoutSweepJob struct {
	Queue jobqueue.Queue
}

func (j *TimeoutSweepJob) Name() string     { return "queue-timeout-sweep" }
func (j *TimeoutSweepJob) Schedule() string { return "@every 1m" }

func (j *TimeoutSweepJob) Run(ctx context.Context) error {
	requeued, err := j.Queue.HandleTimeouts(ctx)
	if err != nil {
		return err
	}
	expired, err := j.Queue.ExpireStale(ctx)
	if err != nil {
		return err
	}
	if requeued > 0 || expired > 0 {
		log.GlobalLogger().Infof("queue sweep requeued %d and expired %d tickets", requeued, expired)
	}
	return nil
}

// CleanupJob removes terminal tickets older than the retention window
type CleanupJob struct {
	Queue     jobqueue.Queue
	Retention time.Duration
}

func (j *CleanupJob) Name() string     { return "queue-cleanup" }
func (j *CleanupJob) Schedule() string { return "@every 1h" }

func (j *CleanupJob) Run(ctx context.Context) error {
	removed, err := j.Queue.Cleanup(ctx, j.Retention)
	if err != nil {
		return err
	}
	if removed > 0 {
		log.GlobalLogger().Infof("queue cleanup removed %d tickets", removed)
	}
	return nil
}
