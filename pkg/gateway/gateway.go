// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package gateway

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/synthome-dev/synthome/pkg/database"
	"github.com/synthome-dev/synthome/pkg/database/model"
	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/jobqueue"
	"github.com/synthome-dev/synthome/pkg/logger/log"
	"github.com/synthome-dev/synthome/pkg/media"
	"github.com/synthome-dev/synthome/pkg/provider"
	"github.com/synthome-dev/synthome/pkg/storage"
)

// Reactor is the orchestrator surface invoked after a terminal job
// transition.
type Reactor interface {
	CheckAndEmitDependentJobs(ctx context.Context, executionID, terminalJobID string) error
}

// Gateway turns provider completion signals, whether pushed through a
// callback or pulled by the poller, into terminal job transitions. Both
// ingresses funnel into Complete/Fail, so the dedup and reaction logic
// lives in exactly one place.
type Gateway struct {
	facade   database.FacadeInterface
	queue    jobqueue.Queue
	catalog  *provider.Catalog
	transfer *storage.Transfer
	reactor  Reactor
}

// New creates a gateway. A nil facade falls back to the process-wide
// default; a nil transfer leaves outputs at their provider-hosted URLs.
func New(facade database.FacadeInterface, queue jobqueue.Queue, catalog *provider.Catalog, transfer *storage.Transfer, reactor Reactor) *Gateway {
	if facade == nil {
		facade = database.GetFacade()
	}
	return &Gateway{
		facade:   facade,
		queue:    queue,
		catalog:  catalog,
		transfer: transfer,
		reactor:  reactor,
	}
}

// Complete finishes a waiting job with the provider's outputs. The
// outputs are re-homed into the object store before the transition is
// written so the stored result never points at an expiring URL.
// Idempotent: a job already out of processing is left untouched, which
// settles the webhook-versus-poll race in favor of the first writer.
func (g *Gateway) Complete(ctx context.Context, jobRecordID string, outputs []media.MediaOutput) error {
	job, err := g.facade.GetExecutionJob().Get(ctx, jobRecordID)
	if err != nil {
		return errors.NewError().WithCode(errors.CodeDatabaseError).
			WithError(err).WithMessage("load job record")
	}
	if job == nil {
		return errors.NewError().WithCode(errors.RequestDataNotExisted).
			WithMessagef("job record '%s' not found", jobRecordID)
	}
	if job.Status != model.JobStatusProcessing {
		log.GlobalLogger().Infof("job %s of execution %s is already %s, dropping duplicate completion", job.JobID, job.ExecutionID, job.Status)
		return nil
	}

	if g.transfer != nil {
		rehomed, err := g.transfer.RehomeOutputs(ctx, job.ExecutionID, job.JobID, outputs)
		if err != nil {
			// Provider URLs are still live; the caller retries or the
			// poller picks the job up again.
			return err
		}
		outputs = rehomed
	}

	raw, err := media.NewResult(outputs...).Marshal()
	if err != nil {
		return errors.NewError().WithCode(errors.InternalError).
			WithError(err).WithMessage("encode job result")
	}

	won, err := g.facade.GetExecutionJob().Complete(ctx, jobRecordID, raw)
	if err != nil {
		return errors.NewError().WithCode(errors.CodeDatabaseError).
			WithError(err).WithMessage("complete job")
	}
	if !won {
		return nil
	}

	log.GlobalLogger().Infof("job %s of execution %s completed via %s", job.JobID, job.ExecutionID, job.WaitingStrategy)

	g.react(ctx, job)
	execution, err := g.facade.GetExecution().Get(ctx, job.ExecutionID)
	if err != nil {
		log.GlobalLogger().Warnf("load execution %s: %v", job.ExecutionID, err)
		return nil
	}
	g.enqueueJobWebhook(ctx, job, execution)
	g.recordUsage(ctx, job, execution)
	return nil
}

// Fail writes the failed transition for a waiting job and cascades.
// Idempotent the same way Complete is.
func (g *Gateway) Fail(ctx context.Context, jobRecordID, errMsg string) error {
	job, err := g.facade.GetExecutionJob().Get(ctx, jobRecordID)
	if err != nil {
		return errors.NewError().WithCode(errors.CodeDatabaseError).
			WithError(err).WithMessage("load job record")
	}
	if job == nil {
		return errors.NewError().WithCode(errors.RequestDataNotExisted).
			WithMessagef("job record '%s' not found", jobRecordID)
	}
	if job.Status != model.JobStatusProcessing {
		return nil
	}

	won, err := g.facade.GetExecutionJob().Fail(ctx, jobRecordID, errMsg)
	if err != nil {
		return errors.NewError().WithCode(errors.CodeDatabaseError).
			WithError(err).WithMessage("fail job")
	}
	if won {
		log.GlobalLogger().Warnf("job %s of execution %s failed at provider: %s", job.JobID, job.ExecutionID, errMsg)
		g.react(ctx, job)
	}
	return nil
}

func (g *Gateway) react(ctx context.Context, job *model.ExecutionJob) {
	if g.reactor == nil {
		return
	}
	if err := g.reactor.CheckAndEmitDependentJobs(ctx, job.ExecutionID, job.JobID); err != nil {
		log.GlobalLogger().Errorf("react to job %s of execution %s: %v", job.JobID, job.ExecutionID, err)
	}
}

// enqueueJobWebhook schedules a per-job delivery when the plan asked
// for one and the execution has a webhook address.
func (g *Gateway) enqueueJobWebhook(ctx context.Context, job *model.ExecutionJob, execution *model.Execution) {
	if g.queue == nil || execution == nil || execution.Webhook == "" {
		return
	}
	var params map[string]interface{}
	if len(job.Params) > 0 {
		if err := json.Unmarshal(job.Params, &params); err != nil {
			return
		}
	}
	if send, ok := params["sendJobWebhook"].(bool); !ok || !send {
		return
	}

	raw, err := json.Marshal(&jobqueue.WebhookDeliveryPayload{
		ExecutionID: job.ExecutionID,
		JobRecordID: job.ID,
		JobID:       job.JobID,
	})
	if err != nil {
		log.GlobalLogger().Errorf("marshal job webhook payload of %s: %v", job.JobID, err)
		return
	}
	_, err = g.queue.EnqueueWithOptions(ctx, &jobqueue.EnqueueOptions{
		Topic:       jobqueue.TopicJobWebhookDelivery,
		Payload:     raw,
		MaxAttempts: jobqueue.WebhookDeliveryMaxAttempts,
	})
	if err != nil {
		log.GlobalLogger().Errorf("enqueue job webhook of %s: %v", job.JobID, err)
	}
}

// errorMessage prefers the module error message over the full error
// rendering, which carries a stack.
func errorMessage(err error) string {
	if cErr, ok := err.(*errors.Error); ok && cErr.Message != "" {
		return cErr.Message
	}
	return err.Error()
}

// recordUsage writes the once-per-job usage row, guarded by the
// action_logged flip so a callback racing the poller never double-counts.
func (g *Gateway) recordUsage(ctx context.Context, job *model.ExecutionJob, execution *model.Execution) {
	won, err := g.facade.GetExecutionJob().MarkActionLogged(ctx, job.ID)
	if err != nil {
		log.GlobalLogger().Warnf("mark job %s action logged: %v", job.JobID, err)
		return
	}
	if !won {
		return
	}

	record := &model.UsageRecord{
		ID:          uuid.New().String(),
		ExecutionID: job.ExecutionID,
		JobRecordID: job.ID,
		JobID:       job.JobID,
		Operation:   job.Operation,
		ModelID:     job.ModelID,
	}
	if execution != nil {
		record.OrganizationID = execution.OrganizationID
		record.APIKeyID = execution.APIKeyID
	}
	if g.catalog != nil && job.ModelID != "" {
		if m, err := g.catalog.Get(job.ModelID); err == nil {
			record.Provider = m.Provider
		}
	}
	if _, err := g.facade.GetUsageRecord().CreateIfAbsent(ctx, record); err != nil {
		log.GlobalLogger().Warnf("record usage of job %s: %v", job.JobID, err)
	}
}
