// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package worker

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/synthome-dev/synthome/pkg/config"
	"github.com/synthome-dev/synthome/pkg/database"
	"github.com/synthome-dev/synthome/pkg/database/model"
	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/jobqueue"
	"github.com/synthome-dev/synthome/pkg/logger/log"
	"github.com/synthome-dev/synthome/pkg/media"
	"github.com/synthome-dev/synthome/pkg/operations"
	"github.com/synthome-dev/synthome/pkg/provider"
	"github.com/synthome-dev/synthome/pkg/utils/goroutineUtil"
)

// Reactor is the orchestrator surface invoked after a terminal job
// transition.
type Reactor interface {
	CheckAndEmitDependentJobs(ctx context.Context, executionID, terminalJobID string) error
}

// Pool consumes operation tickets and drives the handlers. Slots
// coordinate only through the job rows and the queue; there is no
// shared in-process state between tickets.
type Pool struct {
	queue    jobqueue.Queue
	facade   database.FacadeInterface
	handlers *operations.Registry
	reactor  Reactor
	catalog  *provider.Catalog

	topics       []string
	concurrency  int
	pollInterval time.Duration
	workerID     string
}

// New creates a worker pool. An empty topic list consumes every
// operation topic.
func New(queue jobqueue.Queue, facade database.FacadeInterface, handlers *operations.Registry, reactor Reactor, catalog *provider.Catalog, cfg *config.WorkerConfig) *Pool {
	if facade == nil {
		facade = database.GetFacade()
	}

	var topics []string
	if cfg != nil {
		for _, topic := range cfg.Topics {
			if !jobqueue.IsValidTopic(topic) {
				log.GlobalLogger().Warnf("ignoring unknown worker topic '%s'", topic)
				continue
			}
			topics = append(topics, topic)
		}
	}
	if len(topics) == 0 {
		topics = jobqueue.OperationTopics()
	}

	return &Pool{
		queue:        queue,
		facade:       facade,
		handlers:     handlers,
		reactor:      reactor,
		catalog:      catalog,
		topics:       topics,
		concurrency:  cfg.GetConcurrency(),
		pollInterval: cfg.GetPollInterval(),
		workerID:     uuid.New().String()[:8],
	}
}

// Run starts every slot and blocks until the context is cancelled
func (p *Pool) Run(ctx context.Context) {
	log.GlobalLogger().Infof("worker %s consuming %d topics with %d slots", p.workerID, len(p.topics), p.concurrency)

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		slot := fmt.Sprintf("%s-%d", p.workerID, i)
		go func() {
			defer wg.Done()
			p.consume(ctx, slot)
		}()
	}
	wg.Wait()
}

// consume claims tickets until the context ends. An empty queue or a
// claim error waits one poll interval.
func (p *Pool) consume(ctx context.Context, slot string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ticket, err := p.queue.Claim(ctx, p.topics, slot)
		if err != nil {
			log.GlobalLogger().Errorf("worker %s claim: %v", slot, err)
			ticket = nil
		}
		if ticket == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}

		p.process(ctx, slot, ticket)
	}
}

// process runs one ticket with panic isolation so a crashing handler
// only costs the ticket, not the slot
func (p *Pool) process(ctx context.Context, slot string, ticket *jobqueue.Ticket) {
	defer goroutineUtil.RecoverFunc(func(r any) {
		p.retryTicket(ctx, ticket, fmt.Errorf("handler panic: %v", r))
	})()
	p.handle(ctx, slot, ticket)
}

// handle runs one claimed ticket end to end
func (p *Pool) handle(ctx context.Context, slot string, ticket *jobqueue.Ticket) {
	payload, err := jobqueue.ParseJobPayload(ticket.Payload)
	if err == nil && payload.JobRecordID == "" {
		err = stderrors.New("payload carries no job record id")
	}
	if err != nil {
		log.GlobalLogger().Errorf("worker %s: ticket %s payload is invalid: %v", slot, ticket.ID, err)
		if _, failErr := p.queue.Fail(ctx, ticket.ID, "invalid payload"); failErr != nil {
			log.GlobalLogger().Warnf("fail ticket %s: %v", ticket.ID, failErr)
		}
		return
	}

	job, err := p.facade.GetExecutionJob().Get(ctx, payload.JobRecordID)
	if err != nil {
		p.retryTicket(ctx, ticket, err)
		return
	}
	if job == nil {
		log.GlobalLogger().Warnf("worker %s: job record %s no longer exists", slot, payload.JobRecordID)
		p.ack(ctx, ticket)
		return
	}
	if job.Status != model.JobStatusProcessing {
		// Duplicate delivery after the job already reached a terminal
		// state; the row is the authority.
		log.GlobalLogger().Infof("worker %s: job %s is %s, dropping duplicate ticket", slot, payload.JobID, job.Status)
		p.ack(ctx, ticket)
		return
	}

	execution, err := p.facade.GetExecution().Get(ctx, payload.ExecutionID)
	if err != nil {
		p.retryTicket(ctx, ticket, err)
		return
	}

	opJob := &operations.Job{
		ExecutionID: payload.ExecutionID,
		JobRecordID: payload.JobRecordID,
		JobID:       payload.JobID,
		Operation:   payload.Operation,
		Params:      payload.Params,
		Execution:   execution,
		Progress: func(stage string, percent int) {
			progress := model.ExtType{"stage": stage, "percent": percent}
			if err := p.facade.GetExecutionJob().UpdateProgress(ctx, payload.JobRecordID, progress); err != nil {
				log.GlobalLogger().Warnf("update progress of job %s: %v", payload.JobID, err)
			}
		},
	}

	handler, err := p.handlers.Get(payload.Operation)
	if err != nil {
		p.failJob(ctx, ticket, opJob, err)
		return
	}

	log.GlobalLogger().Infof("worker %s: running job %s (%s) of execution %s", slot, payload.JobID, payload.Operation, payload.ExecutionID)

	result, err := handler.Run(ctx, opJob)
	switch {
	case err != nil:
		p.failJob(ctx, ticket, opJob, err)
	case result != nil && result.Async != nil:
		p.parkJob(ctx, ticket, opJob, result.Async)
	default:
		p.completeJob(ctx, ticket, opJob, execution, result)
	}
}

// completeJob writes the completed transition and runs the post-completion
// actions once, on the transition winner.
func (p *Pool) completeJob(ctx context.Context, ticket *jobqueue.Ticket, job *operations.Job, execution *model.Execution, result *operations.Result) {
	var outputs []media.MediaOutput
	if result != nil {
		outputs = result.Outputs
	}
	raw, err := media.NewResult(outputs...).Marshal()
	if err != nil {
		p.failJob(ctx, ticket, job, errors.NewError().WithCode(errors.InternalError).
			WithError(err).WithMessage("encode job result"))
		return
	}

	won, err := p.facade.GetExecutionJob().Complete(ctx, job.JobRecordID, raw)
	if err != nil {
		p.retryTicket(ctx, ticket, err)
		return
	}
	if won {
		log.GlobalLogger().Infof("job %s of execution %s completed", job.JobID, job.ExecutionID)
		p.react(ctx, job)
		p.enqueueJobWebhook(ctx, job, execution)
		p.recordUsage(ctx, job, execution)
	}
	p.ack(ctx, ticket)
}

// parkJob stores the continuation descriptor of an async start. The
// provider job is already running, so the write must land before the
// ack or redelivery would start a second provider job.
func (p *Pool) parkJob(ctx context.Context, ticket *jobqueue.Ticket, job *operations.Job, async *operations.AsyncStart) {
	err := p.facade.GetExecutionJob().MarkWaiting(ctx, job.JobRecordID, async.WaitingStrategy, async.ProviderJobID, async.ModelID, async.NextPollAt)
	if err != nil {
		if stderrors.Is(err, database.ErrJobNotFound) {
			// Raced with a completion callback; the row already moved on
			p.ack(ctx, ticket)
			return
		}
		p.retryTicket(ctx, ticket, err)
		return
	}
	log.GlobalLogger().Infof("job %s of execution %s waiting on provider job %s (%s)",
		job.JobID, job.ExecutionID, async.ProviderJobID, async.WaitingStrategy)
	p.ack(ctx, ticket)
}

// failJob writes the failed transition. Operation failures never retry
// the ticket; the job row is the authority.
func (p *Pool) failJob(ctx context.Context, ticket *jobqueue.Ticket, job *operations.Job, cause error) {
	msg := errorMessage(cause)
	won, err := p.facade.GetExecutionJob().Fail(ctx, job.JobRecordID, msg)
	if err != nil {
		p.retryTicket(ctx, ticket, err)
		return
	}
	if won {
		log.GlobalLogger().Warnf("job %s of execution %s failed: %s", job.JobID, job.ExecutionID, msg)
		p.react(ctx, job)
	}
	p.ack(ctx, ticket)
}

func (p *Pool) react(ctx context.Context, job *operations.Job) {
	if p.reactor == nil {
		return
	}
	if err := p.reactor.CheckAndEmitDependentJobs(ctx, job.ExecutionID, job.JobID); err != nil {
		log.GlobalLogger().Errorf("react to job %s of execution %s: %v", job.JobID, job.ExecutionID, err)
	}
}

// enqueueJobWebhook schedules a per-job delivery when the plan asked
// for one and the execution has a webhook address.
func (p *Pool) enqueueJobWebhook(ctx context.Context, job *operations.Job, execution *model.Execution) {
	if execution == nil || execution.Webhook == "" {
		return
	}
	if send, ok := job.Params["sendJobWebhook"].(bool); !ok || !send {
		return
	}

	raw, err := json.Marshal(&jobqueue.WebhookDeliveryPayload{
		ExecutionID: job.ExecutionID,
		JobRecordID: job.JobRecordID,
		JobID:       job.JobID,
	})
	if err != nil {
		log.GlobalLogger().Errorf("marshal job webhook payload of %s: %v", job.JobID, err)
		return
	}
	_, err = p.queue.EnqueueWithOptions(ctx, &jobqueue.EnqueueOptions{
		Topic:       jobqueue.TopicJobWebhookDelivery,
		Payload:     raw,
		MaxAttempts: jobqueue.WebhookDeliveryMaxAttempts,
	})
	if err != nil {
		log.GlobalLogger().Errorf("enqueue job webhook of %s: %v", job.JobID, err)
	}
}

// recordUsage writes the once-per-job usage row, guarded by the
// action_logged flip so redeliveries never double-count.
func (p *Pool) recordUsage(ctx context.Context, job *operations.Job, execution *model.Execution) {
	won, err := p.facade.GetExecutionJob().MarkActionLogged(ctx, job.JobRecordID)
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
		JobRecordID: job.JobRecordID,
		JobID:       job.JobID,
		Operation:   job.Operation,
	}
	if execution != nil {
		record.OrganizationID = execution.OrganizationID
		record.APIKeyID = execution.APIKeyID
	}
	if modelID, ok := job.Params["modelId"].(string); ok && modelID != "" {
		record.ModelID = modelID
		if p.catalog != nil {
			if m, err := p.catalog.Get(modelID); err == nil {
				record.Provider = m.Provider
			}
		}
	}
	if _, err := p.facade.GetUsageRecord().CreateIfAbsent(ctx, record); err != nil {
		log.GlobalLogger().Warnf("record usage of job %s: %v", job.JobID, err)
	}
}

func (p *Pool) ack(ctx context.Context, ticket *jobqueue.Ticket) {
	if err := p.queue.Complete(ctx, ticket.ID); err != nil {
		log.GlobalLogger().Warnf("ack ticket %s: %v", ticket.ID, err)
	}
}

// retryTicket hands the ticket back to the queue's retry budget after
// an infrastructure error. Once the budget is exhausted nothing will
// deliver the job again, so the job row fails with it.
func (p *Pool) retryTicket(ctx context.Context, ticket *jobqueue.Ticket, cause error) {
	log.GlobalLogger().Errorf("ticket %s hit an infrastructure error: %v", ticket.ID, cause)
	redeliver, err := p.queue.Fail(ctx, ticket.ID, errorMessage(cause))
	if err != nil {
		log.GlobalLogger().Warnf("fail ticket %s: %v", ticket.ID, err)
		return
	}
	if redeliver {
		return
	}
	p.failExhausted(ctx, ticket, cause)
}

// failExhausted settles the job row behind a ticket the queue gave up
// on, so the execution can still reach a terminal state.
func (p *Pool) failExhausted(ctx context.Context, ticket *jobqueue.Ticket, cause error) {
	payload, err := jobqueue.ParseJobPayload(ticket.Payload)
	if err != nil || payload.JobRecordID == "" {
		log.GlobalLogger().Errorf("ticket %s exhausted its attempts but carries no usable job reference: %v", ticket.ID, err)
		return
	}

	msg := errorMessage(cause)
	won, err := p.facade.GetExecutionJob().Fail(ctx, payload.JobRecordID, msg)
	if err != nil {
		log.GlobalLogger().Errorf("fail job %s after ticket %s exhausted its attempts: %v", payload.JobID, ticket.ID, err)
		return
	}
	if won {
		log.GlobalLogger().Warnf("job %s of execution %s failed, ticket %s exhausted its attempts: %s",
			payload.JobID, payload.ExecutionID, ticket.ID, msg)
		p.react(ctx, &operations.Job{ExecutionID: payload.ExecutionID, JobID: payload.JobID})
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
