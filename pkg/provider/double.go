// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/synthome-dev/synthome/pkg/media"
)

// FuncProvider is a functional Provider double for tests. Unset
// functions fall back to benign defaults.
type FuncProvider struct {
	ProviderName string
	StartFunc    func(ctx context.Context, req *StartRequest) (string, error)
	StatusFunc   func(ctx context.Context, ref *JobRef) (*JobStatus, error)
	RawFunc      func(ctx context.Context, ref *JobRef) (json.RawMessage, error)
	ParseFunc    func(m *Model, raw json.RawMessage) ([]media.MediaOutput, error)
	VerifyFunc   func(header http.Header, body []byte, secret string) error
}

func (f *FuncProvider) Name() string {
	if f.ProviderName != "" {
		return f.ProviderName
	}
	return "test"
}

func (f *FuncProvider) StartGeneration(ctx context.Context, req *StartRequest) (string, error) {
	if f.StartFunc != nil {
		return f.StartFunc(ctx, req)
	}
	return "test-job-1", nil
}

func (f *FuncProvider) GetJobStatus(ctx context.Context, ref *JobRef) (*JobStatus, error) {
	if f.StatusFunc != nil {
		return f.StatusFunc(ctx, ref)
	}
	return &JobStatus{Status: StatusProcessing}, nil
}

func (f *FuncProvider) GetRawJobResponse(ctx context.Context, ref *JobRef) (json.RawMessage, error) {
	if f.RawFunc != nil {
		return f.RawFunc(ctx, ref)
	}
	return json.RawMessage(`{}`), nil
}

func (f *FuncProvider) ParseOutputs(m *Model, raw json.RawMessage) ([]media.MediaOutput, error) {
	if f.ParseFunc != nil {
		return f.ParseFunc(m, raw)
	}
	return collectOutputs(m, raw)
}

func (f *FuncProvider) VerifyCallback(header http.Header, body []byte, secret string) error {
	if f.VerifyFunc != nil {
		return f.VerifyFunc(header, body, secret)
	}
	return nil
}

func collectOutputs(m *Model, raw json.RawMessage) ([]media.MediaOutput, error) {
	urls := collectURLs(raw)
	return buildOutputs(m, urls), nil
}
