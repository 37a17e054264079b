// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-resty/resty/v2"

	"github.com/synthome-dev/synthome/pkg/config"
	"github.com/synthome-dev/synthome/pkg/errors"
)

// SignatureHeader carries the HMAC of the request body when the
// execution was created with a webhook secret.
const SignatureHeader = "X-Signature"

// Sender posts webhook payloads to client endpoints. Only a 2xx
// response counts as delivered; everything else is the receiver's
// problem and comes back as an error for the queue to retry.
type Sender struct {
	client *resty.Client
}

func NewSender(cfg *config.WebhookConfig) *Sender {
	return &Sender{
		client: resty.New().SetTimeout(cfg.GetTimeout()),
	}
}

// Send delivers one payload. An empty secret sends unsigned.
func (s *Sender) Send(ctx context.Context, url string, payload []byte, secret string) error {
	req := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload)
	if secret != "" {
		req.SetHeader(SignatureHeader, Signature(payload, secret))
	}

	resp, err := req.Post(url)
	if err != nil {
		return errors.NewError().WithCode(errors.CodeRemoteServiceError).
			WithError(err).WithMessagef("webhook POST %s failed", url)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return errors.NewError().WithCode(errors.CodeRemoteServiceError).
			WithMessagef("webhook POST %s returned %d", url, resp.StatusCode())
	}
	return nil
}

// Signature computes the body signature: sha256= followed by the hex
// HMAC-SHA256 of the payload under the execution's webhook secret.
func Signature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
