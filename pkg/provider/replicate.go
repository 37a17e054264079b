// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/synthome-dev/synthome/pkg/config"
	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/media"
)

const (
	replicateDefaultBaseURL = "https://api.replicate.com"

	// Callbacks older than this are rejected to limit replays
	replicateTimestampTolerance = 5 * time.Minute
)

// Replicate talks to the Replicate predictions API. Official models are
// started through their model path; community models through the
// versioned predictions endpoint.
type Replicate struct {
	client *resty.Client
}

func NewReplicate(cfg *config.ProviderConfig) *Replicate {
	baseURL := replicateDefaultBaseURL
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

	return &Replicate{client: client}
}

func (p *Replicate) Name() string {
	return "replicate"
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  interface{}     `json:"error"`
}

func (p *Replicate) StartGeneration(ctx context.Context, req *StartRequest) (string, error) {
	body := map[string]interface{}{
		"input": req.Params,
	}
	path := fmt.Sprintf("/v1/models/%s/predictions", req.Model.ID)
	if req.Model.Version != "" {
		body["version"] = req.Model.Version
		path = "/v1/predictions"
	}
	if req.WebhookURL != "" {
		body["webhook"] = req.WebhookURL
		body["webhook_events_filter"] = []string{"completed"}
	}

	var prediction replicatePrediction
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(req.APIKey).
		SetBody(body).
		SetResult(&prediction).
		Post(path)

	if err != nil {
		return "", errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessage("replicate request failed")
	}
	if resp.IsError() {
		return "", replicateError(resp)
	}
	if prediction.ID == "" {
		return "", errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessage("replicate returned no prediction id")
	}
	return prediction.ID, nil
}

func (p *Replicate) GetJobStatus(ctx context.Context, ref *JobRef) (*JobStatus, error) {
	var prediction replicatePrediction
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(ref.APIKey).
		SetResult(&prediction).
		Get("/v1/predictions/" + ref.ProviderJobID)

	if err != nil {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessage("replicate request failed")
	}
	if resp.IsError() {
		return nil, replicateError(resp)
	}
	return normalizeReplicateStatus(&prediction), nil
}

func (p *Replicate) GetRawJobResponse(ctx context.Context, ref *JobRef) (json.RawMessage, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetAuthToken(ref.APIKey).
		Get("/v1/predictions/" + ref.ProviderJobID)

	if err != nil {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessage("replicate request failed")
	}
	if resp.IsError() {
		return nil, replicateError(resp)
	}
	return json.RawMessage(resp.Body()), nil
}

// ParseOutputs normalizes a prediction payload. Output shapes vary per
// model: a bare URL, an array of URLs, or objects keyed by artifact.
func (p *Replicate) ParseOutputs(m *Model, raw json.RawMessage) ([]media.MediaOutput, error) {
	var prediction replicatePrediction
	if err := json.Unmarshal(raw, &prediction); err != nil {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessage("replicate payload is malformed")
	}
	urls := collectURLs(prediction.Output)
	if len(urls) == 0 {
		// Callback bodies are the prediction itself, but tolerate a
		// bare output fragment.
		urls = collectURLs(raw)
	}
	if len(urls) == 0 {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessagef("replicate prediction has no output for model '%s'", m.ID)
	}
	return buildOutputs(m, urls), nil
}

// VerifyCallback checks the svix-style signature replicate signs
// callbacks with: HMAC-SHA256 over "<id>.<timestamp>.<body>". An empty
// secret accepts the callback unverified.
func (p *Replicate) VerifyCallback(header http.Header, body []byte, secret string) error {
	if secret == "" {
		return nil
	}

	id := header.Get("Webhook-Id")
	timestamp := header.Get("Webhook-Timestamp")
	signatures := header.Get("Webhook-Signature")
	if id == "" || timestamp == "" || signatures == "" {
		return errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessage("callback signature headers missing")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessage("callback timestamp is malformed")
	}
	age := time.Since(time.Unix(ts, 0))
	if age > replicateTimestampTolerance || age < -replicateTimestampTolerance {
		return errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessage("callback timestamp out of tolerance")
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return errors.NewError().WithCode(errors.CodeLackOfConfig).WithMessage("callback signing secret is malformed")
	}

	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.", id, timestamp)
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	// The header carries space-separated "v1,<sig>" entries
	for _, entry := range strings.Fields(signatures) {
		parts := strings.SplitN(entry, ",", 2)
		if len(parts) != 2 {
			continue
		}
		if hmac.Equal([]byte(parts[1]), []byte(expected)) {
			return nil
		}
	}
	return errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessage("callback signature mismatch")
}

func normalizeReplicateStatus(prediction *replicatePrediction) *JobStatus {
	switch prediction.Status {
	case "succeeded":
		return &JobStatus{Status: StatusCompleted}
	case "failed", "canceled":
		return &JobStatus{Status: StatusFailed, Error: replicateErrorText(prediction.Error)}
	default:
		// starting, processing, queued
		return &JobStatus{Status: StatusProcessing}
	}
}

func replicateErrorText(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "generation failed"
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func replicateError(resp *resty.Response) error {
	detail := strings.TrimSpace(resp.String())
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Detail != "" {
		detail = body.Detail
	}
	if len(detail) > 300 {
		detail = detail[:300]
	}
	return errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessagef("replicate returned status %d: %s", resp.StatusCode(), detail)
}
