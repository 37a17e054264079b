// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/synthome-dev/synthome/pkg/database"
	"github.com/synthome-dev/synthome/pkg/jobqueue"
	"github.com/synthome-dev/synthome/pkg/logger/log"
	"github.com/synthome-dev/synthome/pkg/utils/goroutineUtil"
)

// ExecutionEvent is the body of an execution-level delivery
type ExecutionEvent struct {
	ExecutionID string          `json:"executionId"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// JobEvent is the body of a per-job delivery
type JobEvent struct {
	ExecutionID string          `json:"executionId"`
	JobID       string          `json:"jobId"`
	Operation   string          `json:"operation"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Dispatcher consumes the webhook topics and pushes terminal-state
// notifications to client endpoints. Delivery state lives on the
// execution and job rows, so retried tickets and concurrent dispatchers
// dedupe through the same flip.
type Dispatcher struct {
	queue  jobqueue.Queue
	facade database.FacadeInterface
	sender *Sender

	pollInterval time.Duration
	workerID     string
}

// NewDispatcher creates a dispatcher over the given queue and sender.
// A nil facade falls back to the process-wide default.
func NewDispatcher(queue jobqueue.Queue, facade database.FacadeInterface, sender *Sender) *Dispatcher {
	if facade == nil {
		facade = database.GetFacade()
	}
	return &Dispatcher{
		queue:        queue,
		facade:       facade,
		sender:       sender,
		pollInterval: 2 * time.Second,
		workerID:     "wh-" + uuid.New().String()[:8],
	}
}

// WithPollInterval overrides the idle claim cadence
func (d *Dispatcher) WithPollInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.pollInterval = interval
	}
	return d
}

var webhookTopics = []string{jobqueue.TopicWebhookDelivery, jobqueue.TopicJobWebhookDelivery}

// Run claims delivery tickets until the context ends
func (d *Dispatcher) Run(ctx context.Context) {
	log.GlobalLogger().Infof("webhook dispatcher %s started", d.workerID)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ticket, err := d.queue.Claim(ctx, webhookTopics, d.workerID)
		if err != nil {
			log.GlobalLogger().Errorf("dispatcher %s claim: %v", d.workerID, err)
			ticket = nil
		}
		if ticket == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.pollInterval):
			}
			continue
		}

		d.process(ctx, ticket)
	}
}

// process handles one delivery ticket with panic isolation
func (d *Dispatcher) process(ctx context.Context, ticket *jobqueue.Ticket) {
	defer goroutineUtil.RecoverFunc(func(r any) {
		if _, failErr := d.queue.Fail(ctx, ticket.ID, "dispatcher panic"); failErr != nil {
			log.GlobalLogger().Errorf("fail ticket %s after panic: %v", ticket.ID, failErr)
		}
	})()

	payload, err := jobqueue.ParseWebhookDeliveryPayload(ticket.Payload)
	if err != nil {
		d.retry(ctx, ticket, "invalid payload")
		return
	}

	switch ticket.Topic {
	case jobqueue.TopicWebhookDelivery:
		err = d.deliverExecution(ctx, payload)
	case jobqueue.TopicJobWebhookDelivery:
		err = d.deliverJob(ctx, payload)
	default:
		log.GlobalLogger().Errorf("dispatcher claimed unexpected topic %s", ticket.Topic)
		d.ack(ctx, ticket)
		return
	}

	if err != nil {
		d.retry(ctx, ticket, err.Error())
		return
	}
	d.ack(ctx, ticket)
}

// deliverExecution sends the execution-level notification. Returns nil
// when there is nothing left to deliver.
func (d *Dispatcher) deliverExecution(ctx context.Context, payload *jobqueue.WebhookDeliveryPayload) error {
	execution, err := d.facade.GetExecution().Get(ctx, payload.ExecutionID)
	if err != nil {
		return err
	}
	if execution == nil || execution.Webhook == "" || !execution.IsTerminal() {
		log.GlobalLogger().Warnf("dropping execution webhook ticket for %s, nothing to deliver", payload.ExecutionID)
		return nil
	}
	if execution.WebhookDeliveredAt != nil {
		return nil
	}

	body, err := json.Marshal(&ExecutionEvent{
		ExecutionID: execution.ID,
		Status:      execution.Status,
		Result:      execution.Result,
		Error:       execution.Error,
		CompletedAt: execution.CompletedAt,
	})
	if err != nil {
		return err
	}

	if err := d.sender.Send(ctx, execution.Webhook, body, execution.WebhookSecret); err != nil {
		return err
	}

	if _, err := d.facade.GetExecution().MarkWebhookDelivered(ctx, execution.ID); err != nil {
		// The client got the notification; losing the flip only risks a
		// duplicate on redelivery.
		log.GlobalLogger().Warnf("mark execution %s webhook delivered: %v", execution.ID, err)
	}
	log.GlobalLogger().Infof("delivered execution webhook for %s (%s)", execution.ID, execution.Status)
	return nil
}

// deliverJob sends the per-job notification
func (d *Dispatcher) deliverJob(ctx context.Context, payload *jobqueue.WebhookDeliveryPayload) error {
	job, err := d.facade.GetExecutionJob().Get(ctx, payload.JobRecordID)
	if err != nil {
		return err
	}
	if job == nil || !job.IsTerminal() {
		log.GlobalLogger().Warnf("dropping job webhook ticket for record %s, nothing to deliver", payload.JobRecordID)
		return nil
	}
	if job.WebhookDeliveredAt != nil {
		return nil
	}

	execution, err := d.facade.GetExecution().Get(ctx, job.ExecutionID)
	if err != nil {
		return err
	}
	if execution == nil || execution.Webhook == "" {
		return nil
	}

	body, err := json.Marshal(&JobEvent{
		ExecutionID: job.ExecutionID,
		JobID:       job.JobID,
		Operation:   job.Operation,
		Status:      job.Status,
		Result:      job.Result,
		Error:       job.Error,
		CompletedAt: job.CompletedAt,
	})
	if err != nil {
		return err
	}

	if err := d.sender.Send(ctx, execution.Webhook, body, execution.WebhookSecret); err != nil {
		return err
	}

	if _, err := d.facade.GetExecutionJob().MarkWebhookDelivered(ctx, job.ID); err != nil {
		log.GlobalLogger().Warnf("mark job %s webhook delivered: %v", job.JobID, err)
	}
	log.GlobalLogger().Infof("delivered job webhook for %s of execution %s", job.JobID, job.ExecutionID)
	return nil
}

func (d *Dispatcher) ack(ctx context.Context, ticket *jobqueue.Ticket) {
	if err := d.queue.Complete(ctx, ticket.ID); err != nil {
		log.GlobalLogger().Errorf("complete ticket %s: %v", ticket.ID, err)
	}
}

func (d *Dispatcher) retry(ctx context.Context, ticket *jobqueue.Ticket, msg string) {
	redeliver, err := d.queue.Fail(ctx, ticket.ID, msg)
	if err != nil {
		log.GlobalLogger().Errorf("fail ticket %s: %v", ticket.ID, err)
		return
	}
	if !redeliver {
		log.GlobalLogger().Errorf("webhook delivery %s exhausted its attempts: %s", ticket.ID, msg)
	}
}
