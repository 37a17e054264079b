// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/synthome-dev/synthome/pkg/database"
	"github.com/synthome-dev/synthome/pkg/database/model"
	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/jobqueue"
	"github.com/synthome-dev/synthome/pkg/logger/log"
	"github.com/synthome-dev/synthome/pkg/plan"
)

// TicketSource is the queue surface the orchestrator needs: tickets
// built for same-transaction emission, plus direct enqueue for
// webhook deliveries.
type TicketSource interface {
	BuildTicket(topic string, payload json.RawMessage) *model.QueueTicket
	Enqueue(ctx context.Context, topic string, payload json.RawMessage) (string, error)
	EnqueueWithOptions(ctx context.Context, opts *jobqueue.EnqueueOptions) (string, error)
}

// Orchestrator owns the workflow state machine. Every job and
// execution transition flows through here or through a worker that
// calls back into here.
type Orchestrator struct {
	facade  database.FacadeInterface
	tickets TicketSource
}

// New creates an orchestrator bound to the given facade and queue.
// A nil facade falls back to the process-wide default.
func New(facade database.FacadeInterface, tickets TicketSource) *Orchestrator {
	if facade == nil {
		facade = database.GetFacade()
	}
	return &Orchestrator{
		facade:  facade,
		tickets: tickets,
	}
}

// CreateOptions carries the per-execution settings supplied alongside a plan
type CreateOptions struct {
	Webhook         string            `json:"webhook,omitempty"`
	WebhookSecret   string            `json:"webhookSecret,omitempty"`
	OrganizationID  string            `json:"organizationId,omitempty"`
	APIKeyID        string            `json:"apiKeyId,omitempty"`
	ProviderAPIKeys map[string]string `json:"providerApiKeys,omitempty"`
	BaseExecutionID string            `json:"baseExecutionId,omitempty"`
}

// CreateExecution validates and persists a plan with all its job rows
// in one transaction, then emits every job whose dependencies are
// already satisfied.
func (o *Orchestrator) CreateExecution(ctx context.Context, p *plan.Plan, opts *CreateOptions) (string, error) {
	if p == nil {
		return "", errors.NewError().WithCode(errors.InvalidPlan).
			WithMessage("plan is required")
	}
	if opts == nil {
		opts = &CreateOptions{}
	}

	baseID := opts.BaseExecutionID
	if baseID == "" {
		baseID = p.BaseExecutionID
	}

	vp := *p
	vp.BaseExecutionID = baseID
	if err := vp.Validate(); err != nil {
		return "", err
	}

	if baseID != "" {
		if err := o.checkBaseDependencies(ctx, &vp, baseID); err != nil {
			return "", err
		}
	}

	planRaw, err := json.Marshal(&vp)
	if err != nil {
		return "", errors.NewError().WithCode(errors.InternalError).
			WithError(err).WithMessage("marshal plan")
	}

	execution := &model.Execution{
		ID:              uuid.New().String(),
		Status:          model.ExecutionStatusPending,
		Plan:            planRaw,
		BaseExecutionID: baseID,
		Webhook:         opts.Webhook,
		WebhookSecret:   opts.WebhookSecret,
		OrganizationID:  opts.OrganizationID,
		APIKeyID:        opts.APIKeyID,
	}
	if len(opts.ProviderAPIKeys) > 0 {
		keys := make(model.ExtType, len(opts.ProviderAPIKeys))
		for provider, key := range opts.ProviderAPIKeys {
			keys[provider] = key
		}
		execution.ProviderAPIKeys = keys
	}

	jobs := make([]*model.ExecutionJob, 0, len(vp.Jobs))
	for _, spec := range vp.Jobs {
		paramsRaw := json.RawMessage("{}")
		if spec.Params != nil {
			paramsRaw, err = json.Marshal(spec.Params)
			if err != nil {
				return "", errors.NewError().WithCode(errors.InvalidPlan).
					WithError(err).WithMessagef("marshal params of job '%s'", spec.ID)
			}
		}
		jobs = append(jobs, &model.ExecutionJob{
			ID:           uuid.New().String(),
			ExecutionID:  execution.ID,
			JobID:        spec.ID,
			Operation:    spec.Operation,
			Params:       paramsRaw,
			Dependencies: model.StringList(spec.Dependencies),
			Status:       model.JobStatusPending,
		})
	}

	if err := o.facade.GetExecution().CreateWithJobs(ctx, execution, jobs); err != nil {
		return "", errors.NewError().WithCode(errors.CodeDatabaseError).
			WithError(err).WithMessage("persist execution")
	}

	log.GlobalLogger().Infof("created execution %s with %d jobs", execution.ID, len(jobs))

	if err := o.EmitReadyJobs(ctx, execution.ID); err != nil {
		// The execution row is durable; the recovery sweep retries emission.
		log.GlobalLogger().Errorf("emit ready jobs of execution %s: %v", execution.ID, err)
	}

	return execution.ID, nil
}

// checkBaseDependencies verifies that every dependency pointing
// outside the plan exists in the base execution.
func (o *Orchestrator) checkBaseDependencies(ctx context.Context, p *plan.Plan, baseID string) error {
	base, err := o.facade.GetExecution().Get(ctx, baseID)
	if err != nil {
		return errors.NewError().WithCode(errors.CodeDatabaseError).
			WithError(err).WithMessage("load base execution")
	}
	if base == nil {
		return errors.NewError().WithCode(errors.RequestDataNotExisted).
			WithMessagef("base execution '%s' not found", baseID)
	}

	inPlan := make(map[string]bool, len(p.Jobs))
	for _, spec := range p.Jobs {
		inPlan[spec.ID] = true
	}

	seen := make(map[string]bool)
	external := make([]string, 0)
	for _, spec := range p.Jobs {
		for _, dep := range spec.Dependencies {
			if !inPlan[dep] && !seen[dep] {
				seen[dep] = true
				external = append(external, dep)
			}
		}
	}
	if len(external) == 0 {
		return nil
	}

	rows, err := o.facade.GetExecutionJob().ListByJobIDs(ctx, baseID, external)
	if err != nil {
		return errors.NewError().WithCode(errors.CodeDatabaseError).
			WithError(err).WithMessage("load base execution jobs")
	}
	found := make(map[string]bool, len(rows))
	for _, row := range rows {
		found[row.JobID] = true
	}
	for _, dep := range external {
		if !found[dep] {
			return errors.NewError().WithCode(errors.InvalidPlan).
				WithMessagef("dependency '%s' not found in base execution '%s'", dep, baseID)
		}
	}
	return nil
}

// RecoverPending repairs jobs stranded by a dead queue ticket, then
// re-runs readiness evaluation for every non-terminal execution. Jobs
// holding a live queue ticket are left to the queue's visibility
// timeout.
func (o *Orchestrator) RecoverPending(ctx context.Context) (int, error) {
	if err := o.recoverStranded(ctx); err != nil {
		log.GlobalLogger().Errorf("recover stranded jobs: %v", err)
	}

	executions, err := o.facade.GetExecution().ListNonTerminal(ctx)
	if err != nil {
		return 0, errors.NewError().WithCode(errors.CodeDatabaseError).
			WithError(err).WithMessage("list pending executions")
	}

	recovered := 0
	for _, execution := range executions {
		if err := o.EmitReadyJobs(ctx, execution.ID); err != nil {
			log.GlobalLogger().Errorf("recover execution %s: %v", execution.ID, err)
			continue
		}
		recovered++
	}
	return recovered, nil
}

// Job failure message when a ticket expired without recording an error
const ticketExpiredError = "queue ticket expired before the job finished"

// recoverStranded fails processing jobs whose queue ticket the sweeps
// gave up on: failed at the attempt ceiling or expired. The job row
// takes the ticket's last error, and the readiness pass that follows
// cascades and finalizes the execution.
func (o *Orchestrator) recoverStranded(ctx context.Context) error {
	jobs, err := o.facade.GetExecutionJob().ListStranded(ctx, 0)
	if err != nil {
		return errors.NewError().WithCode(errors.CodeDatabaseError).
			WithError(err).WithMessage("list stranded jobs")
	}

	for _, job := range jobs {
		msg := ticketExpiredError
		ticket, err := o.facade.GetQueueTicket().Get(ctx, job.QueueTicketID)
		if err != nil {
			log.GlobalLogger().Warnf("load ticket %s of stranded job %s: %v", job.QueueTicketID, job.JobID, err)
		}
		if ticket != nil && ticket.ErrorMessage != "" {
			msg = ticket.ErrorMessage
		}

		won, err := o.facade.GetExecutionJob().Fail(ctx, job.ID, msg)
		if err != nil {
			log.GlobalLogger().Errorf("fail stranded job %s of execution %s: %v", job.JobID, job.ExecutionID, err)
			continue
		}
		if won {
			log.GlobalLogger().Warnf("job %s of execution %s stranded by ticket %s: %s",
				job.JobID, job.ExecutionID, job.QueueTicketID, msg)
		}
	}
	return nil
}
