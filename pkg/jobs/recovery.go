// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package jobs

import (
	"context"

	"github.com/synthome-dev/synthome/pkg/logger/log"
	"github.com/synthome-dev/synthome/pkg/orchestrator"
)

// RecoveryJob re-runs readiness evaluation over every non-terminal
// execution, picking up work dropped between a transition and its
// reaction, for example when a process died mid-sweep.
type RecoveryJob struct {
	Orchestrator *orchestrator.Orchestrator
}

func (j *RecoveryJob) Name() string     { return "execution-recovery" }
func (j *RecoveryJob) Schedule() string { return "@every 5m" }

func (j *RecoveryJob) Run(ctx context.Context) error {
	recovered, err := j.Orchestrator.RecoverPending(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		log.GlobalLogger().Debugf("recovery pass swept %d executions", recovered)
	}
	return nil
}
