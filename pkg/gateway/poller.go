// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package gateway

import (
	"context"
	"time"

	"github.com/synthome-dev/synthome/pkg/database/model"
	"github.com/synthome-dev/synthome/pkg/logger/log"
	"github.com/synthome-dev/synthome/pkg/operations"
	"github.com/synthome-dev/synthome/pkg/provider"
)

const (
	defaultPollBatch    = 50
	defaultPollInterval = 5 * time.Second
)

// Poller drives completion for jobs parked on providers without webhook
// support, and doubles as the safety net for lost callbacks. Each pass
// claims the due rows and asks the provider directly.
type Poller struct {
	gw       *Gateway
	registry *provider.Registry
	batch    int
	interval time.Duration
}

// NewPoller creates a poller over the gateway's store and the given
// provider registry.
func NewPoller(gw *Gateway, registry *provider.Registry) *Poller {
	return &Poller{
		gw:       gw,
		registry: registry,
		batch:    defaultPollBatch,
		interval: defaultPollInterval,
	}
}

// WithBatch overrides the per-pass row limit
func (p *Poller) WithBatch(batch int) *Poller {
	if batch > 0 {
		p.batch = batch
	}
	return p
}

// WithInterval overrides the per-job re-poll cadence
func (p *Poller) WithInterval(interval time.Duration) *Poller {
	if interval > 0 {
		p.interval = interval
	}
	return p
}

// PollOnce runs one poll pass and reports how many jobs reached a
// terminal state. Per-job errors push the job's next poll time forward
// instead of aborting the pass.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	jobs, err := p.gw.facade.GetExecutionJob().ListPollable(ctx, time.Now(), p.batch)
	if err != nil {
		return 0, err
	}

	settled := 0
	executions := make(map[string]*model.Execution, len(jobs))
	for _, job := range jobs {
		execution, ok := executions[job.ExecutionID]
		if !ok {
			execution, err = p.gw.facade.GetExecution().Get(ctx, job.ExecutionID)
			if err != nil {
				log.GlobalLogger().Warnf("load execution %s: %v", job.ExecutionID, err)
				p.pushNextPoll(ctx, job)
				continue
			}
			executions[job.ExecutionID] = execution
		}

		done, err := p.pollJob(ctx, job, execution)
		if err != nil {
			log.GlobalLogger().Warnf("poll job %s of execution %s: %v", job.JobID, job.ExecutionID, err)
			p.pushNextPoll(ctx, job)
			continue
		}
		if done {
			settled++
		}
	}
	return settled, nil
}

// pollJob asks the provider for one job's status and settles or
// reschedules it. Reports whether the job reached a terminal state.
func (p *Poller) pollJob(ctx context.Context, job *model.ExecutionJob, execution *model.Execution) (bool, error) {
	m, err := p.gw.catalog.Get(job.ModelID)
	if err != nil {
		// The row references a model this deployment no longer carries;
		// polling can never settle it.
		return true, p.gw.Fail(ctx, job.ID, errorMessage(err))
	}
	prov, err := p.registry.Get(m.Provider)
	if err != nil {
		return true, p.gw.Fail(ctx, job.ID, errorMessage(err))
	}

	ref := &provider.JobRef{
		ProviderJobID: job.ProviderJobID,
		ModelID:       job.ModelID,
		APIKey:        p.registry.ResolveKey(m.Provider, operations.APIKeyOverrides(execution)),
	}

	status, err := prov.GetJobStatus(ctx, ref)
	if err != nil {
		return false, err
	}

	switch status.Status {
	case provider.StatusCompleted:
		raw, err := prov.GetRawJobResponse(ctx, ref)
		if err != nil {
			return false, err
		}
		outputs, err := prov.ParseOutputs(m, raw)
		if err != nil {
			return true, p.gw.Fail(ctx, job.ID, errorMessage(err))
		}
		if err := p.gw.Complete(ctx, job.ID, outputs); err != nil {
			return false, err
		}
		return true, nil

	case provider.StatusFailed:
		errMsg := status.Error
		if errMsg == "" {
			errMsg = "provider reported failure"
		}
		return true, p.gw.Fail(ctx, job.ID, errMsg)

	default:
		p.pushNextPoll(ctx, job)
		return false, nil
	}
}

func (p *Poller) pushNextPoll(ctx context.Context, job *model.ExecutionJob) {
	if err := p.gw.facade.GetExecutionJob().UpdateNextPoll(ctx, job.ID, time.Now().Add(p.interval)); err != nil {
		log.GlobalLogger().Warnf("reschedule poll of job %s: %v", job.JobID, err)
	}
}
