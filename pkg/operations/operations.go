// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package operations

import (
	"context"
	"fmt"
	"time"

	"github.com/synthome-dev/synthome/pkg/database/model"
	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/media"
	"github.com/synthome-dev/synthome/pkg/mediaservice"
	"github.com/synthome-dev/synthome/pkg/plan"
	"github.com/synthome-dev/synthome/pkg/provider"
	"github.com/synthome-dev/synthome/pkg/storage"
)

// Job is one unit of work handed to a handler. Params are the
// effective params, dependency references already substituted.
type Job struct {
	ExecutionID string
	JobRecordID string
	JobID       string
	Operation   string
	Params      map[string]interface{}
	Execution   *model.Execution

	// Progress reports handler progress back to the job row. May be nil.
	Progress func(stage string, percent int)
}

// ReportProgress is the nil-safe progress update handlers call
func (j *Job) ReportProgress(stage string, percent int) {
	if j.Progress != nil {
		j.Progress(stage, percent)
	}
}

// AsyncStart is the continuation descriptor of a handler that started
// a provider job instead of completing. ModelID identifies the catalog
// entry the gateway needs for polls and callback parsing.
type AsyncStart struct {
	ProviderJobID   string
	ModelID         string
	WaitingStrategy string
	NextPollAt      *time.Time
}

// Result of running a handler: either Outputs for a finished job or
// Async for a started provider job, never both.
type Result struct {
	Outputs []media.MediaOutput
	Async   *AsyncStart
}

// Handler runs one operation kind. Returned errors are fatal for the
// job; transient infrastructure errors inside a handler surface the
// same way and rely on queue retries upstream.
type Handler interface {
	Operation() string
	Run(ctx context.Context, job *Job) (*Result, error)
}

// Services are the external collaborators handlers share
type Services struct {
	Providers *provider.Registry
	Catalog   *provider.Catalog
	Store     storage.Store
	Transfer  *storage.Transfer
	Media     *mediaservice.Client

	// PublicURL and CallbackToken form provider callback addresses;
	// leaving PublicURL empty disables webhook waiting.
	PublicURL     string
	CallbackToken string
}

// CallbackURL builds the provider callback address for a job record.
// Empty when the deployment has no public address.
func (s *Services) CallbackURL(providerName, jobRecordID string) string {
	if s.PublicURL == "" || s.CallbackToken == "" {
		return ""
	}
	return fmt.Sprintf("%s/v1/callbacks/%s/%s/%s", s.PublicURL, s.CallbackToken, providerName, jobRecordID)
}

// requireStore reports the object store. Storage is optional at the
// process level, but handlers that must persist rendered bytes cannot
// run without it; they fail the job with a config error instead of
// dereferencing nil.
func (s *Services) requireStore() (storage.Store, error) {
	if s.Store == nil {
		return nil, errors.NewError().WithCode(errors.CodeLackOfConfig).
			WithMessage("object storage is not configured")
	}
	return s.Store, nil
}

// requireTransfer reports the transfer helper, present exactly when the
// store is.
func (s *Services) requireTransfer() (*storage.Transfer, error) {
	if s.Transfer == nil {
		return nil, errors.NewError().WithCode(errors.CodeLackOfConfig).
			WithMessage("object storage is not configured")
	}
	return s.Transfer, nil
}

// APIKeyOverrides extracts the execution's per-provider keys
func APIKeyOverrides(execution *model.Execution) map[string]string {
	if execution == nil || len(execution.ProviderAPIKeys) == 0 {
		return nil
	}
	keys := make(map[string]string, len(execution.ProviderAPIKeys))
	for name, value := range execution.ProviderAPIKeys {
		if key, ok := value.(string); ok {
			keys[name] = key
		}
	}
	return keys
}

// Registry maps operation kinds to their handlers
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry wires every built-in handler against the shared services
func NewRegistry(services *Services) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}

	r.Register(newGenerateHandler(services, plan.OperationGenerate, ""))
	r.Register(newGenerateHandler(services, plan.OperationGenerateImage, ""))
	r.Register(newGenerateHandler(services, plan.OperationGenerateAudio, ""))
	r.Register(newGenerateHandler(services, plan.OperationReframe, "luma/reframe-video"))
	r.Register(newGenerateHandler(services, plan.OperationLipSync, "sync/lipsync-2"))
	r.Register(newGenerateHandler(services, plan.OperationRemoveBackground, "arielreplicate/robust_video_matting"))
	r.Register(newGenerateHandler(services, plan.OperationRemoveImageBackground, "851-labs/background-remover"))
	r.Register(newTranscribeHandler(services))
	r.Register(newMergeHandler(services))
	r.Register(newLayerHandler(services))
	r.Register(newSubtitlesHandler(services))

	return r
}

func (r *Registry) Register(h Handler) {
	r.handlers[h.Operation()] = h
}

func (r *Registry) Get(operation string) (Handler, error) {
	h, ok := r.handlers[operation]
	if !ok {
		return nil, errors.NewError().WithCode(errors.InvalidOperation).WithMessagef("no handler for operation '%s'", operation)
	}
	return h, nil
}

// Param readers. Plans are JSON, so numbers arrive as float64; the
// readers take whatever a decoded document can carry.

func stringParam(params map[string]interface{}, key string) string {
	if value, ok := params[key].(string); ok {
		return value
	}
	return ""
}

func floatParam(params map[string]interface{}, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func boolParam(params map[string]interface{}, key string) bool {
	value, ok := params[key].(bool)
	return ok && value
}

func listParam(params map[string]interface{}, key string) []interface{} {
	if value, ok := params[key].([]interface{}); ok {
		return value
	}
	return nil
}

// requireString reads a mandatory string param
func requireString(params map[string]interface{}, key, operation string) (string, error) {
	value := stringParam(params, key)
	if value == "" {
		return "", errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("operation '%s' requires param '%s'", operation, key)
	}
	return value, nil
}

// evenDimension rounds down to the nearest even value; video encoders
// reject odd frame sizes.
func evenDimension(v int) int {
	if v <= 0 {
		return 0
	}
	return v - v%2
}
