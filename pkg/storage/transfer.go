// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/media"
)

// Transfer re-homes remote media into the object store. Provider-hosted
// outputs expire, so every async completion is copied under our keys
// before the job result is persisted.
type Transfer struct {
	store  Store
	client *resty.Client
}

type TransferConfig struct {
	Timeout       time.Duration
	RetryCount    int
	RetryWaitTime time.Duration
}

func DefaultTransferConfig() *TransferConfig {
	return &TransferConfig{
		Timeout:       5 * time.Minute,
		RetryCount:    2,
		RetryWaitTime: 2 * time.Second,
	}
}

func NewTransfer(store Store, cfg *TransferConfig) *Transfer {
	if cfg == nil {
		cfg = DefaultTransferConfig()
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWaitTime)
	return &Transfer{store: store, client: client}
}

// Fetch downloads a remote document into memory. Meant for small
// payloads such as transcripts; media files go through CopyFromURL.
func (t *Transfer) Fetch(ctx context.Context, srcURL string) ([]byte, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		Get(srcURL)
	if err != nil {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessagef("failed to download '%s'", srcURL)
	}
	if resp.IsError() {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessagef("failed to download '%s': status %d", srcURL, resp.StatusCode())
	}
	return resp.Body(), nil
}

// RehomeOutputs copies provider-hosted outputs under the job's
// canonical keys and rewrites their URLs. The first output takes the
// output.<ext> key; further outputs are suffixed with their index.
func (t *Transfer) RehomeOutputs(ctx context.Context, executionID, jobID string, outputs []media.MediaOutput) ([]media.MediaOutput, error) {
	rehomed := make([]media.MediaOutput, len(outputs))
	for i, output := range outputs {
		ext := media.ExtensionForMime(output.MimeType, output.Type)
		name := "output." + ext
		if i > 0 {
			name = fmt.Sprintf("output_%d.%s", i, ext)
		}
		key := ScratchKey(executionID, jobID, name)

		storedURL, contentType, err := t.CopyFromURL(ctx, output.URL, key)
		if err != nil {
			return nil, err
		}
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = output.MimeType
		}
		rehomed[i] = media.MediaOutput{
			Type:     output.Type,
			URL:      storedURL,
			MimeType: contentType,
		}
	}
	return rehomed, nil
}

// CopyFromURL downloads srcURL and stores it under key. It returns the
// stored object's URL and the content type it was stored with.
func (t *Transfer) CopyFromURL(ctx context.Context, srcURL, key string) (string, string, error) {
	resp, err := t.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(srcURL)
	if err != nil {
		return "", "", errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessagef("failed to download '%s'", srcURL)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() >= 400 {
		return "", "", errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessagef("failed to download '%s': status %d", srcURL, resp.StatusCode())
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := media.MimeForExtension(urlExtension(srcURL)); byExt != "" {
			contentType = byExt
		}
	}

	storedURL, err := t.store.Upload(ctx, key, body, resp.RawResponse.ContentLength, contentType)
	if err != nil {
		return "", "", err
	}
	return storedURL, contentType, nil
}

// urlExtension extracts the file extension from a URL path, ignoring
// query strings.
func urlExtension(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return path.Ext(rawURL)
	}
	return path.Ext(parsed.Path)
}
