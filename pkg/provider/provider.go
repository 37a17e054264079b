// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/media"
)

// Normalized provider job statuses
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Waiting strategies for async jobs
const (
	StrategySync    = "sync"
	StrategyWebhook = "webhook"
	StrategyPolling = "polling"
)

// StartRequest starts a generation at an external provider. Params hold
// the model options only; control keys are already stripped.
type StartRequest struct {
	Model      *Model
	Params     map[string]interface{}
	WebhookURL string
	APIKey     string
}

// JobStatus is the normalized status of a provider job
type JobStatus struct {
	Status string
	Error  string
}

// JobRef addresses a running provider job. ModelID is carried because
// some providers route status lookups through the model path.
type JobRef struct {
	ProviderJobID string
	ModelID       string
	APIKey        string
}

// Provider is one external generation service. Implementations
// normalize statuses to the constants above and raw responses to
// MediaOutput slices; the rest of the system never sees provider
// payload shapes.
type Provider interface {
	Name() string
	StartGeneration(ctx context.Context, req *StartRequest) (string, error)
	GetJobStatus(ctx context.Context, ref *JobRef) (*JobStatus, error)
	GetRawJobResponse(ctx context.Context, ref *JobRef) (json.RawMessage, error)
	ParseOutputs(model *Model, raw json.RawMessage) ([]media.MediaOutput, error)
	VerifyCallback(header http.Header, body []byte, secret string) error
}

// Registry holds the configured providers and their deployment-level
// API keys. Per-execution keys override the deployment keys.
type Registry struct {
	mutex     sync.RWMutex
	providers map[string]Provider
	keys      map[string]string
	secrets   map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		keys:      make(map[string]string),
		secrets:   make(map[string]string),
	}
}

func (r *Registry) Register(p Provider) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.providers[p.Name()] = p
}

// SetCredentials records the deployment-level API key and callback
// signing secret for a provider.
func (r *Registry) SetCredentials(name, apiKey, webhookSecret string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.keys[name] = apiKey
	r.secrets[name] = webhookSecret
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("unknown provider '%s'", name)
	}
	return p, nil
}

// ResolveKey returns the API key for a provider, preferring the
// per-execution overrides over the deployment key.
func (r *Registry) ResolveKey(name string, overrides map[string]string) string {
	if key, ok := overrides[name]; ok && key != "" {
		return key
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.keys[name]
}

// CallbackSecret returns the provider's callback signing secret, empty
// when none is configured.
func (r *Registry) CallbackSecret(name string) string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.secrets[name]
}

// Names lists the registered providers
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
