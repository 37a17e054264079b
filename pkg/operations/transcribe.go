// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package operations

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/logger/log"
	"github.com/synthome-dev/synthome/pkg/media"
	"github.com/synthome-dev/synthome/pkg/mediaservice"
	"github.com/synthome-dev/synthome/pkg/plan"
	"github.com/synthome-dev/synthome/pkg/provider"
	"github.com/synthome-dev/synthome/pkg/storage"
)

const (
	defaultTranscribeModel = "openai/whisper"
	transcribePollAttempts = 60
	transcribePollInterval = 2 * time.Second
)

// transcribeHandler runs the two-phase transcription: extract the
// audio track, hand it to the transcription model, poll inline until
// it finishes, then store the normalized word timings.
type transcribeHandler struct {
	services *Services
}

func newTranscribeHandler(services *Services) *transcribeHandler {
	return &transcribeHandler{services: services}
}

func (h *transcribeHandler) Operation() string {
	return plan.OperationTranscribe
}

func (h *transcribeHandler) Run(ctx context.Context, job *Job) (*Result, error) {
	store, err := h.services.requireStore()
	if err != nil {
		return nil, err
	}

	audioURL := stringParam(job.Params, "audio")
	if audioURL == "" {
		videoURL, err := requireString(job.Params, "video", h.Operation())
		if err != nil {
			return nil, err
		}
		job.ReportProgress("extracting audio", 10)
		extracted, err := h.services.Media.ExtractAudio(ctx, &mediaservice.ExtractAudioRequest{
			URL:    videoURL,
			Format: "mp3",
		})
		if err != nil {
			return nil, err
		}
		audioURL, err = store.UploadBytes(ctx, storage.AudioKey(job.JobRecordID), extracted.Data, "audio/mpeg")
		if err != nil {
			return nil, err
		}
	}

	modelID := stringParam(job.Params, "modelId")
	if modelID == "" {
		modelID = defaultTranscribeModel
	}
	m, err := h.services.Catalog.Get(modelID)
	if err != nil {
		return nil, err
	}
	prov, err := h.services.Providers.Get(m.Provider)
	if err != nil {
		return nil, err
	}
	apiKey := h.services.Providers.ResolveKey(m.Provider, APIKeyOverrides(job.Execution))

	// Transcription model families disagree on the audio param name,
	// so both spellings are sent; schemas ignore the extra one.
	params := provider.ProviderParams(job.Params)
	delete(params, "video")
	params["audio"] = audioURL
	params["audio_url"] = audioURL
	if err := h.services.Catalog.ValidateParams(m, params); err != nil {
		return nil, err
	}

	providerJobID, err := prov.StartGeneration(ctx, &provider.StartRequest{
		Model:  m,
		Params: params,
		APIKey: apiKey,
	})
	if err != nil {
		return nil, err
	}

	job.ReportProgress("transcribing", 40)
	ref := &provider.JobRef{ProviderJobID: providerJobID, ModelID: m.ID, APIKey: apiKey}
	if err := h.waitForCompletion(ctx, prov, ref); err != nil {
		return nil, err
	}

	job.ReportProgress("normalizing transcript", 90)
	raw, err := prov.GetRawJobResponse(ctx, ref)
	if err != nil {
		return nil, err
	}
	words, err := normalizeTranscript(raw)
	if err != nil {
		return nil, err
	}
	doc, err := json.Marshal(words)
	if err != nil {
		return nil, errors.NewError().WithCode(errors.InternalError).WithError(err).WithMessage("failed to encode transcript")
	}

	url, err := store.UploadBytes(ctx, storage.TranscriptKey(job.JobRecordID), doc, "application/json")
	if err != nil {
		return nil, err
	}
	return &Result{Outputs: []media.MediaOutput{{
		Type:     media.TypeTranscript,
		URL:      url,
		MimeType: "application/json",
	}}}, nil
}

func (h *transcribeHandler) waitForCompletion(ctx context.Context, prov provider.Provider, ref *provider.JobRef) error {
	for attempt := 1; attempt <= transcribePollAttempts; attempt++ {
		status, err := prov.GetJobStatus(ctx, ref)
		if err != nil {
			// Transient lookup failures just consume an attempt
			log.GlobalLogger().Warnf("transcription status poll %d failed: %v", attempt, err)
		} else {
			switch status.Status {
			case provider.StatusCompleted:
				return nil
			case provider.StatusFailed:
				return errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessagef("transcription failed: %s", status.Error)
			}
		}

		select {
		case <-ctx.Done():
			return errors.NewError().WithCode(errors.InternalError).WithError(ctx.Err()).WithMessage("transcription interrupted")
		case <-time.After(transcribePollInterval):
		}
	}
	return errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessagef("transcription did not complete after %d polls", transcribePollAttempts)
}

// normalizeTranscript flattens the provider's result into the
// canonical word-timing list. Known shapes: word arrays with
// start/end, whisper segments (with or without nested words), and
// chunk lists timed by [start, end] pairs.
func normalizeTranscript(raw json.RawMessage) ([]media.TranscriptWord, error) {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessage("transcription result is malformed")
	}
	words := wordsFromValue(value)
	if len(words) == 0 {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessage("transcription result has no word timings")
	}
	return words, nil
}

func wordsFromValue(value interface{}) []media.TranscriptWord {
	switch v := value.(type) {
	case []interface{}:
		var words []media.TranscriptWord
		for _, item := range v {
			words = append(words, wordsFromItem(item)...)
		}
		return words
	case map[string]interface{}:
		for _, key := range []string{"output", "words", "segments", "chunks"} {
			if nested, ok := v[key]; ok {
				if words := wordsFromValue(nested); len(words) > 0 {
					return words
				}
			}
		}
	}
	return nil
}

func wordsFromItem(item interface{}) []media.TranscriptWord {
	entry, ok := item.(map[string]interface{})
	if !ok {
		return nil
	}

	// Segments may nest word-level timings; prefer those
	if nested, ok := entry["words"]; ok {
		if words := wordsFromValue(nested); len(words) > 0 {
			return words
		}
	}

	text := stringParam(entry, "word")
	if text == "" {
		text = stringParam(entry, "text")
	}
	start, startOK := floatParam(entry, "start")
	end, endOK := floatParam(entry, "end")
	if !startOK || !endOK {
		if ts, ok := entry["timestamp"].([]interface{}); ok && len(ts) == 2 {
			if s, ok := ts[0].(float64); ok {
				start, startOK = s, true
			}
			if e, ok := ts[1].(float64); ok {
				end, endOK = e, true
			}
		}
	}

	text = strings.TrimSpace(text)
	if text == "" || !startOK || !endOK {
		return nil
	}
	return []media.TranscriptWord{{Word: text, Start: start, End: end}}
}
