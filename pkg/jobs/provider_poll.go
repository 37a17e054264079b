// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package jobs

import (
	"context"

	"github.com/synthome-dev/synthome/pkg/gateway"
	"github.com/synthome-dev/synthome/pkg/logger/log"
)

// ProviderPollJob drives the poll pass for jobs parked on providers
// without webhook support. The per-row cadence lives on the job rows;
// the sweep just runs often enough not to add latency on top of it.
type ProviderPollJob struct {
	Poller *gateway.Poller
}

func (j *ProviderPollJob) Name() string     { return "provider-poll" }
func (j *ProviderPollJob) Schedule() string { return "@every 15s" }

func (j *ProviderPollJob) Run(ctx context.Context) error {
	settled, err := j.Poller.PollOnce(ctx)
	if err != nil {
		return err
	}
	if settled > 0 {
		log.GlobalLogger().Infof("poll pass settled %d jobs", settled)
	}
	return nil
}
