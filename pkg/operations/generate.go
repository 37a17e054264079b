// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package operations

import (
	"context"
	"time"

	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/plan"
	"github.com/synthome-dev/synthome/pkg/provider"
)

// Delay before the first poll of a freshly started provider job
const initialPollDelay = 5 * time.Second

// generateHandler starts provider-backed generations: generate,
// generateImage, generateAudio, reframe, lipSync and the background
// removers. Operations with a natural model default carry it so plans
// can omit modelId.
type generateHandler struct {
	services     *Services
	operation    string
	defaultModel string
	forceAsync   bool
}

func newGenerateHandler(services *Services, operation, defaultModel string) *generateHandler {
	return &generateHandler{
		services:     services,
		operation:    operation,
		defaultModel: defaultModel,
		forceAsync: operation == plan.OperationRemoveBackground ||
			operation == plan.OperationRemoveImageBackground,
	}
}

func (h *generateHandler) Operation() string {
	return h.operation
}

func (h *generateHandler) Run(ctx context.Context, job *Job) (*Result, error) {
	modelID := stringParam(job.Params, "modelId")
	if modelID == "" {
		modelID = h.defaultModel
	}
	if modelID == "" {
		return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("operation '%s' requires param 'modelId'", h.operation)
	}

	m, err := h.services.Catalog.Get(modelID)
	if err != nil {
		return nil, err
	}
	if err := h.services.Catalog.ValidateParams(m, job.Params); err != nil {
		return nil, err
	}

	prov, err := h.services.Providers.Get(m.Provider)
	if err != nil {
		return nil, err
	}
	apiKey := h.services.Providers.ResolveKey(m.Provider, APIKeyOverrides(job.Execution))

	strategy := m.Strategy()
	if h.forceAsync && strategy == provider.StrategySync {
		strategy = provider.StrategyPolling
	}
	webhookURL := ""
	if strategy == provider.StrategyWebhook {
		webhookURL = h.services.CallbackURL(m.Provider, job.JobRecordID)
		if webhookURL == "" {
			strategy = provider.StrategyPolling
		}
	}

	providerJobID, err := prov.StartGeneration(ctx, &provider.StartRequest{
		Model:      m,
		Params:     provider.ProviderParams(job.Params),
		WebhookURL: webhookURL,
		APIKey:     apiKey,
	})
	if err != nil {
		return nil, err
	}

	if strategy == provider.StrategySync {
		return h.completeSync(ctx, job, m, prov, providerJobID, apiKey)
	}

	async := &AsyncStart{
		ProviderJobID:   providerJobID,
		ModelID:         m.ID,
		WaitingStrategy: strategy,
	}
	if strategy == provider.StrategyPolling {
		next := time.Now().Add(initialPollDelay)
		async.NextPollAt = &next
	}
	return &Result{Async: async}, nil
}

// completeSync finishes a sync-strategy model in the same run: the
// provider's start call already produced the result.
func (h *generateHandler) completeSync(ctx context.Context, job *Job, m *provider.Model, prov provider.Provider, providerJobID, apiKey string) (*Result, error) {
	transfer, err := h.services.requireTransfer()
	if err != nil {
		return nil, err
	}

	ref := &provider.JobRef{ProviderJobID: providerJobID, ModelID: m.ID, APIKey: apiKey}
	raw, err := prov.GetRawJobResponse(ctx, ref)
	if err != nil {
		return nil, err
	}
	outputs, err := prov.ParseOutputs(m, raw)
	if err != nil {
		return nil, err
	}
	rehomed, err := transfer.RehomeOutputs(ctx, job.ExecutionID, job.JobID, outputs)
	if err != nil {
		return nil, err
	}
	return &Result{Outputs: rehomed}, nil
}
