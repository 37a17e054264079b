// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package operations

import (
	"context"
	"encoding/json"

	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/media"
	"github.com/synthome-dev/synthome/pkg/mediaservice"
	"github.com/synthome-dev/synthome/pkg/plan"
	"github.com/synthome-dev/synthome/pkg/storage"
)

// subtitlesHandler renders a word-level transcript into styled
// subtitles and burns them into a video.
type subtitlesHandler struct {
	services *Services
}

func newSubtitlesHandler(services *Services) *subtitlesHandler {
	return &subtitlesHandler{services: services}
}

func (h *subtitlesHandler) Operation() string {
	return plan.OperationAddSubtitles
}

func (h *subtitlesHandler) Run(ctx context.Context, job *Job) (*Result, error) {
	store, err := h.services.requireStore()
	if err != nil {
		return nil, err
	}

	videoURL, err := requireString(job.Params, "video", plan.OperationAddSubtitles)
	if err != nil {
		return nil, err
	}

	words, err := h.loadTranscript(ctx, job.Params)
	if err != nil {
		return nil, err
	}

	var style map[string]interface{}
	if raw, ok := job.Params["style"].(map[string]interface{}); ok {
		style = raw
	}

	subtitles, err := h.services.Media.GenerateSubtitles(ctx, &mediaservice.GenerateSubtitlesRequest{
		Transcript: words,
		Style:      style,
	})
	if err != nil {
		return nil, err
	}

	out, err := h.services.Media.BurnSubtitles(ctx, &mediaservice.BurnSubtitlesRequest{
		VideoURL:  videoURL,
		Subtitles: subtitles,
	})
	if err != nil {
		return nil, err
	}

	url, err := store.UploadBytes(ctx, storage.CaptionKey(job.JobRecordID), out.Data, "video/mp4")
	if err != nil {
		return nil, err
	}
	return &Result{Outputs: []media.MediaOutput{{
		Type:     media.TypeVideo,
		URL:      url,
		MimeType: "video/mp4",
	}}}, nil
}

// loadTranscript accepts either a URL to a transcript document, most
// often an upstream transcribe output, or an inline word array.
func (h *subtitlesHandler) loadTranscript(ctx context.Context, params map[string]interface{}) ([]media.TranscriptWord, error) {
	var words []media.TranscriptWord
	switch raw := params["transcript"].(type) {
	case string:
		transfer, err := h.services.requireTransfer()
		if err != nil {
			return nil, err
		}
		doc, err := transfer.Fetch(ctx, raw)
		if err != nil {
			return nil, err
		}
		words, err = media.ParseTranscript(doc)
		if err != nil {
			return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithError(err).WithMessagef("transcript at '%s' is not a word list", raw)
		}
	case []interface{}:
		doc, err := json.Marshal(raw)
		if err != nil {
			return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithError(err).WithMessage("transcript is not serializable")
		}
		words, err = media.ParseTranscript(doc)
		if err != nil {
			return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithError(err).WithMessage("transcript entries need word, start and end fields")
		}
	default:
		return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessage("operation 'addSubtitles' requires a 'transcript' url or word array")
	}

	if len(words) == 0 {
		return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessage("transcript has no words")
	}
	return words, nil
}
