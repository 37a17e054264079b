// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/synthome-dev/synthome/pkg/config"
	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/media"
)

const falDefaultBaseURL = "https://queue.fal.run"

// Fal talks to the fal.ai queue API. Requests are addressed by model
// path plus request id, which is why JobRef carries the model.
type Fal struct {
	client *resty.Client
}

func NewFal(cfg *config.ProviderConfig) *Fal {
	baseURL := falDefaultBaseURL
	timeout := 60 * time.Second
	if cfg != nil {
		if cfg.BaseURL != "" {
			baseURL = cfg.BaseURL
		}
		timeout = cfg.GetTimeout()
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Fal{client: client}
}

func (p *Fal) Name() string {
	return "fal"
}

func (p *Fal) StartGeneration(ctx context.Context, req *StartRequest) (string, error) {
	var result struct {
		RequestID string `json:"request_id"`
	}

	r := p.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Key "+req.APIKey).
		SetBody(req.Params).
		SetResult(&result)
	if req.WebhookURL != "" {
		r.SetQueryParam("fal_webhook", req.WebhookURL)
	}

	resp, err := r.Post("/" + req.Model.ID)
	if err != nil {
		return "", errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessage("fal request failed")
	}
	if resp.IsError() {
		return "", falError(resp)
	}
	if result.RequestID == "" {
		return "", errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessage("fal returned no request id")
	}
	return result.RequestID, nil
}

func (p *Fal) GetJobStatus(ctx context.Context, ref *JobRef) (*JobStatus, error) {
	var result struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Key "+ref.APIKey).
		SetResult(&result).
		Get(fmt.Sprintf("/%s/requests/%s/status", ref.ModelID, ref.ProviderJobID))

	if err != nil {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessage("fal request failed")
	}
	if resp.IsError() {
		return nil, falError(resp)
	}

	switch result.Status {
	case "COMPLETED":
		return &JobStatus{Status: StatusCompleted}, nil
	case "IN_QUEUE", "IN_PROGRESS":
		return &JobStatus{Status: StatusProcessing}, nil
	default:
		errText := result.Error
		if errText == "" {
			errText = fmt.Sprintf("generation ended with status %s", result.Status)
		}
		return &JobStatus{Status: StatusFailed, Error: errText}, nil
	}
}

func (p *Fal) GetRawJobResponse(ctx context.Context, ref *JobRef) (json.RawMessage, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Key "+ref.APIKey).
		Get(fmt.Sprintf("/%s/requests/%s", ref.ModelID, ref.ProviderJobID))

	if err != nil {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessage("fal request failed")
	}
	if resp.IsError() {
		return nil, falError(resp)
	}
	return json.RawMessage(resp.Body()), nil
}

// ParseOutputs normalizes a fal response. Payloads nest artifacts under
// images/video/audio keys depending on the model family.
func (p *Fal) ParseOutputs(m *Model, raw json.RawMessage) ([]media.MediaOutput, error) {
	urls := collectURLs(raw)
	if len(urls) == 0 {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessagef("fal response has no output for model '%s'", m.ID)
	}
	return buildOutputs(m, urls), nil
}

// VerifyCallback checks the shared-secret HMAC carried in
// X-Fal-Signature (hex of HMAC-SHA256 over the body). An empty secret
// accepts the callback unverified.
func (p *Fal) VerifyCallback(header http.Header, body []byte, secret string) error {
	if secret == "" {
		return nil
	}
	signature := header.Get("X-Fal-Signature")
	if signature == "" {
		return errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessage("callback signature header missing")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessage("callback signature mismatch")
	}
	return nil
}

func falError(resp *resty.Response) error {
	detail := strings.TrimSpace(resp.String())
	var body struct {
		Detail interface{} `json:"detail"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Detail != nil {
		detail = fmt.Sprintf("%v", body.Detail)
	}
	if len(detail) > 300 {
		detail = detail[:300]
	}
	return errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessagef("fal returned status %d: %s", resp.StatusCode(), detail)
}
