// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/synthome-dev/synthome/pkg/database/model"
	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/jobqueue"
	"github.com/synthome-dev/synthome/pkg/logger/log"
	"github.com/synthome-dev/synthome/pkg/media"
	"github.com/synthome-dev/synthome/pkg/resolver"
	"github.com/synthome-dev/synthome/pkg/utils/goroutineUtil"
)

// EmitReadyJobs evaluates the full job set of an execution, emits
// everything whose dependencies are satisfied, cascades dependency
// failures, and finalizes the execution once all jobs are terminal.
// Safe to re-invoke at any time; used on admission and on recovery.
func (o *Orchestrator) EmitReadyJobs(ctx context.Context, executionID string) error {
	return o.sweep(ctx, executionID)
}

// CheckAndEmitDependentJobs reacts to a terminal job transition. The
// terminal job id is advisory; the sweep evaluates the full pending
// set so cascades reach fixed point within one call.
func (o *Orchestrator) CheckAndEmitDependentJobs(ctx context.Context, executionID, terminalJobID string) error {
	return o.sweep(ctx, executionID)
}

// sweep repeats readiness evaluation until nothing changes. Each pass
// only moves jobs out of pending, so the loop is bounded by the job
// count.
func (o *Orchestrator) sweep(ctx context.Context, executionID string) error {
	execution, err := o.facade.GetExecution().Get(ctx, executionID)
	if err != nil {
		return errors.NewError().WithCode(errors.CodeDatabaseError).
			WithError(err).WithMessage("load execution")
	}
	if execution == nil {
		return errors.NewError().WithCode(errors.RequestDataNotExisted).
			WithMessagef("execution '%s' not found", executionID)
	}
	if execution.IsTerminal() {
		return nil
	}

	for {
		jobs, err := o.facade.GetExecutionJob().ListByExecution(ctx, executionID)
		if err != nil {
			return errors.NewError().WithCode(errors.CodeDatabaseError).
				WithError(err).WithMessage("load execution jobs")
		}

		baseStates, err := o.loadBaseStates(ctx, execution, jobs)
		if err != nil {
			return err
		}

		changed, err := o.sweepPass(ctx, execution, jobs, baseStates)
		if err != nil {
			return err
		}
		if !changed {
			return o.finalize(ctx, execution, jobs)
		}
	}
}

// loadBaseStates batch-loads the rows of dependencies that point into
// the base execution.
func (o *Orchestrator) loadBaseStates(ctx context.Context, execution *model.Execution, jobs []*model.ExecutionJob) (map[string]*model.ExecutionJob, error) {
	if execution.BaseExecutionID == "" {
		return nil, nil
	}

	local := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		local[job.JobID] = true
	}

	seen := make(map[string]bool)
	external := make([]string, 0)
	for _, job := range jobs {
		for _, depID := range job.Dependencies {
			if !local[depID] && !seen[depID] {
				seen[depID] = true
				external = append(external, depID)
			}
		}
	}
	if len(external) == 0 {
		return nil, nil
	}

	rows, err := o.facade.GetExecutionJob().ListByJobIDs(ctx, execution.BaseExecutionID, external)
	if err != nil {
		return nil, errors.NewError().WithCode(errors.CodeDatabaseError).
			WithError(err).WithMessage("load base execution jobs")
	}

	states := make(map[string]*model.ExecutionJob, len(rows))
	for _, row := range rows {
		states[row.JobID] = row
	}
	return states, nil
}

// sweepPass fails pending jobs with failed dependencies, then emits
// the ready ones in parallel. Reports whether anything changed.
func (o *Orchestrator) sweepPass(ctx context.Context, execution *model.Execution, jobs []*model.ExecutionJob, baseStates map[string]*model.ExecutionJob) (bool, error) {
	local := make(map[string]*model.ExecutionJob, len(jobs))
	for _, job := range jobs {
		local[job.JobID] = job
	}
	depState := func(depID string) *model.ExecutionJob {
		if dep, ok := local[depID]; ok {
			return dep
		}
		return baseStates[depID]
	}

	changed := false
	ready := make([]*model.ExecutionJob, 0)

	for _, job := range jobs {
		if job.Status != model.JobStatusPending {
			continue
		}

		failedDep := false
		allCompleted := true
		for _, depID := range job.Dependencies {
			dep := depState(depID)
			if dep == nil {
				allCompleted = false
				continue
			}
			switch dep.Status {
			case model.JobStatusFailed:
				failedDep = true
			case model.JobStatusCompleted:
			default:
				allCompleted = false
			}
		}

		if failedDep {
			won, err := o.facade.GetExecutionJob().Fail(ctx, job.ID, model.DependencyFailedError)
			if err != nil {
				return false, errors.NewError().WithCode(errors.CodeDatabaseError).
					WithError(err).WithMessagef("fail job '%s'", job.JobID)
			}
			if won {
				changed = true
			}
			continue
		}

		if allCompleted {
			ready = append(ready, job)
		}
	}

	if len(ready) == 0 {
		return changed, nil
	}

	emitted, err := o.emitAll(ctx, execution, ready, local, baseStates)
	if err != nil {
		return false, err
	}
	return changed || emitted, nil
}

// emitAll emits ready jobs in parallel. A job that fails resolution is
// marked failed here; its dependents cascade on the next pass.
func (o *Orchestrator) emitAll(ctx context.Context, execution *model.Execution, ready []*model.ExecutionJob, local, baseStates map[string]*model.ExecutionJob) (bool, error) {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		changed  bool
		firstErr error
	)

	for _, job := range ready {
		wg.Add(1)
		go func(job *model.ExecutionJob) {
			defer wg.Done()
			defer goroutineUtil.RecoverFunc(nil)()

			did, err := o.emitJob(ctx, execution, job, local, baseStates)

			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			if did {
				changed = true
			}
		}(job)
	}
	wg.Wait()

	if firstErr != nil {
		return false, firstErr
	}
	return changed, nil
}

// emitJob resolves effective params and flips the job to processing
// together with its ticket insert. Reports whether this call changed
// the job row.
func (o *Orchestrator) emitJob(ctx context.Context, execution *model.Execution, job *model.ExecutionJob, local, baseStates map[string]*model.ExecutionJob) (bool, error) {
	depResults := make(map[string]json.RawMessage, len(job.Dependencies))
	parsed := make(map[string]*media.JobResult, len(job.Dependencies))
	for _, depID := range job.Dependencies {
		dep := local[depID]
		if dep == nil {
			dep = baseStates[depID]
		}
		if dep == nil || dep.Status != model.JobStatusCompleted {
			// Readiness was checked on this snapshot; bail quietly if
			// a racer changed the row since.
			return false, nil
		}

		depResults[depID] = dep.Result
		result, err := media.ParseResult(dep.Result)
		if err != nil {
			return o.failEmit(ctx, job, fmt.Sprintf("dependency '%s' result is malformed", depID))
		}
		if result == nil {
			result = &media.JobResult{}
		}
		parsed[depID] = result
	}

	var params map[string]interface{}
	if len(job.Params) > 0 {
		if err := json.Unmarshal(job.Params, &params); err != nil {
			return o.failEmit(ctx, job, fmt.Sprintf("invalid params: %v", err))
		}
	}

	effective, err := resolver.Resolve(params, parsed)
	if err != nil {
		return o.failEmit(ctx, job, errorMessage(err))
	}

	payload := &jobqueue.JobPayload{
		ExecutionID:  execution.ID,
		JobRecordID:  job.ID,
		JobID:        job.JobID,
		Operation:    job.Operation,
		Params:       effective,
		Dependencies: depResults,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, errors.NewError().WithCode(errors.InternalError).
			WithError(err).WithMessage("marshal job payload")
	}

	ticket := o.tickets.BuildTicket(job.Operation, raw)
	won, err := o.facade.GetExecutionJob().EmitTicket(ctx, job.ID, ticket)
	if err != nil {
		return false, errors.NewError().WithCode(errors.CodeDatabaseError).
			WithError(err).WithMessagef("emit job '%s'", job.JobID)
	}
	if !won {
		return false, nil
	}

	if err := o.facade.GetExecution().MarkProcessing(ctx, execution.ID); err != nil {
		log.GlobalLogger().Warnf("mark execution %s processing: %v", execution.ID, err)
	}

	log.GlobalLogger().Infof("emitted job %s (%s) of execution %s", job.JobID, job.Operation, execution.ID)
	return true, nil
}

// failEmit marks a job failed before it ever reaches a worker
func (o *Orchestrator) failEmit(ctx context.Context, job *model.ExecutionJob, msg string) (bool, error) {
	won, err := o.facade.GetExecutionJob().Fail(ctx, job.ID, msg)
	if err != nil {
		return false, errors.NewError().WithCode(errors.CodeDatabaseError).
			WithError(err).WithMessagef("fail job '%s'", job.JobID)
	}
	if won {
		log.GlobalLogger().Warnf("job %s of execution %s failed before emission: %s", job.JobID, job.ExecutionID, msg)
	}
	return won, nil
}

// finalize writes the execution terminal state once every job is
// terminal, and schedules webhook delivery when one is configured.
func (o *Orchestrator) finalize(ctx context.Context, execution *model.Execution, jobs []*model.ExecutionJob) error {
	if len(jobs) == 0 {
		return nil
	}
	for _, job := range jobs {
		if !job.IsTerminal() {
			return nil
		}
	}

	status, result, errMsg := terminalState(jobs)

	won, err := o.facade.GetExecution().MarkTerminal(ctx, execution.ID, status, result, errMsg)
	if err != nil {
		return errors.NewError().WithCode(errors.CodeDatabaseError).
			WithError(err).WithMessage("finalize execution")
	}
	if !won {
		return nil
	}

	log.GlobalLogger().Infof("execution %s finished with status %s", execution.ID, status)

	if execution.Webhook == "" {
		return nil
	}
	payload, err := json.Marshal(&jobqueue.WebhookDeliveryPayload{ExecutionID: execution.ID})
	if err != nil {
		return errors.NewError().WithCode(errors.InternalError).
			WithError(err).WithMessage("marshal webhook payload")
	}
	_, err = o.tickets.EnqueueWithOptions(ctx, &jobqueue.EnqueueOptions{
		Topic:       jobqueue.TopicWebhookDelivery,
		Payload:     payload,
		MaxAttempts: jobqueue.WebhookDeliveryMaxAttempts,
	})
	if err != nil {
		log.GlobalLogger().Errorf("enqueue webhook delivery of execution %s: %v", execution.ID, err)
	}
	return nil
}

// terminalState derives the execution's terminal status, result and
// error summary from its terminal job set.
func terminalState(jobs []*model.ExecutionJob) (string, json.RawMessage, string) {
	anyFailed := false
	roots := make([]*model.ExecutionJob, 0)
	for _, job := range jobs {
		if job.Status != model.JobStatusFailed {
			continue
		}
		anyFailed = true
		if !job.IsDependencyFailure() {
			roots = append(roots, job)
		}
	}

	if anyFailed {
		switch len(roots) {
		case 0:
			return model.ExecutionStatusFailed, nil, "Execution failed due to dependency errors"
		case 1:
			return model.ExecutionStatusFailed, nil,
				fmt.Sprintf("Job '%s' failed: %s", roots[0].Operation, roots[0].Error)
		default:
			parts := make([]string, len(roots))
			for i, job := range roots {
				parts[i] = fmt.Sprintf("%s (%s)", job.Operation, job.Error)
			}
			return model.ExecutionStatusFailed, nil,
				fmt.Sprintf("%d jobs failed: %s", len(roots), strings.Join(parts, ", "))
		}
	}

	return model.ExecutionStatusCompleted, executionResult(jobs), ""
}

// executionResult picks the result of the most recently completed
// leaf and normalizes it to {url, status} when a URL is extractable.
func executionResult(jobs []*model.ExecutionJob) json.RawMessage {
	dependedOn := make(map[string]bool)
	for _, job := range jobs {
		for _, depID := range job.Dependencies {
			dependedOn[depID] = true
		}
	}

	var leaf *model.ExecutionJob
	for _, job := range jobs {
		if dependedOn[job.JobID] || job.Status != model.JobStatusCompleted {
			continue
		}
		if leaf == nil || completedLater(job, leaf) {
			leaf = job
		}
	}
	if leaf == nil {
		return nil
	}

	result, err := media.ParseResult(leaf.Result)
	if err != nil || result == nil {
		return leaf.Result
	}
	url, ok := result.PrimaryURL()
	if !ok {
		return leaf.Result
	}
	normalized, err := json.Marshal(map[string]string{
		"url":    url,
		"status": model.JobStatusCompleted,
	})
	if err != nil {
		return leaf.Result
	}
	return normalized
}

// completedLater orders completed leaves by completedAt, then job id
func completedLater(a, b *model.ExecutionJob) bool {
	at, bt := a.CompletedAt, b.CompletedAt
	switch {
	case at == nil:
		return false
	case bt == nil:
		return true
	case at.After(*bt):
		return true
	case bt.After(*at):
		return false
	default:
		return a.JobID > b.JobID
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
