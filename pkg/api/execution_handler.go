// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package api

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/synthome-dev/synthome/pkg/database"
	"github.com/synthome-dev/synthome/pkg/database/model"
	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/jobqueue"
	"github.com/synthome-dev/synthome/pkg/model/rest"
	"github.com/synthome-dev/synthome/pkg/orchestrator"
	"github.com/synthome-dev/synthome/pkg/plan"
)

// ExecutionHandler serves the public workflow API: plan submission,
// execution status, and queue ticket inspection.
type ExecutionHandler struct {
	orch   *orchestrator.Orchestrator
	facade database.FacadeInterface
	queue  jobqueue.Queue
}

func NewExecutionHandler(orch *orchestrator.Orchestrator, facade database.FacadeInterface, queue jobqueue.Queue) *ExecutionHandler {
	if facade == nil {
		facade = database.GetFacade()
	}
	return &ExecutionHandler{
		orch:   orch,
		facade: facade,
		queue:  queue,
	}
}

// RegisterRoutes attaches the workflow routes to the given group
func (h *ExecutionHandler) RegisterRoutes(g *gin.RouterGroup) error {
	g.POST("/executions", h.CreateExecution)
	g.GET("/executions/:id", h.GetExecution)
	g.GET("/tickets/:id", h.GetTicket)
	return nil
}

type createExecutionResponse struct {
	ExecutionID string `json:"executionId"`
	Status      string `json:"status"`
}

// executionStatus is the snapshot returned by GET /executions/:id
type executionStatus struct {
	*model.Execution
	Jobs []*model.ExecutionJob `json:"jobs"`
}

// CreateExecution accepts a plan plus submission options in one body.
// The plan decoder tolerates the field aliases clients use, so the body
// is parsed twice: once as a plan, once as options.
func (h *ExecutionHandler) CreateExecution(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		_ = c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessage("failed to read request body").
			WithError(err))
		return
	}

	p, err := plan.Parse(body)
	if err != nil {
		_ = c.Error(err)
		return
	}

	opts := &orchestrator.CreateOptions{}
	if err := json.Unmarshal(body, opts); err != nil {
		_ = c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessage("options are not valid JSON").
			WithError(err))
		return
	}
	if opts.BaseExecutionID == "" {
		opts.BaseExecutionID = p.BaseExecutionID
	}

	executionID, err := h.orch.CreateExecution(c.Request.Context(), p, opts)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, rest.SuccessResp(c, createExecutionResponse{
		ExecutionID: executionID,
		Status:      model.ExecutionStatusProcessing,
	}))
}

// GetExecution returns the execution row together with all its jobs
func (h *ExecutionHandler) GetExecution(c *gin.Context) {
	id := c.Param("id")
	execution, err := h.facade.GetExecution().Get(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(errors.NewError().
			WithCode(errors.CodeDatabaseError).
			WithMessage("failed to load execution").
			WithError(err))
		return
	}
	if execution == nil {
		_ = c.Error(errors.NewError().
			WithCode(errors.RequestDataNotExisted).
			WithMessagef("execution %s not found", id))
		return
	}

	jobs, err := h.facade.GetExecutionJob().ListByExecution(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(errors.NewError().
			WithCode(errors.CodeDatabaseError).
			WithMessage("failed to load execution jobs").
			WithError(err))
		return
	}

	c.JSON(http.StatusOK, rest.SuccessResp(c, executionStatus{
		Execution: execution,
		Jobs:      jobs,
	}))
}

// GetTicket exposes a queue ticket for debugging delivery problems
func (h *ExecutionHandler) GetTicket(c *gin.Context) {
	id := c.Param("id")
	ticket, err := h.queue.GetTicket(c.Request.Context(), id)
	if err != nil {
		if stderrors.Is(err, jobqueue.ErrTicketNotFound) {
			_ = c.Error(errors.NewError().
				WithCode(errors.RequestDataNotExisted).
				WithMessagef("ticket %s not found", id))
			return
		}
		_ = c.Error(errors.NewError().
			WithCode(errors.CodeDatabaseError).
			WithMessage("failed to load ticket").
			WithError(err))
		return
	}

	c.JSON(http.StatusOK, rest.SuccessResp(c, ticket))
}
