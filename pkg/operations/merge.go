// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package operations

import (
	"context"

	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/media"
	"github.com/synthome-dev/synthome/pkg/mediaservice"
	"github.com/synthome-dev/synthome/pkg/plan"
	"github.com/synthome-dev/synthome/pkg/storage"
)

// Play time of an image segment when the item declares none
const defaultImageDuration = 5.0

// mergeHandler concatenates visual items into one video and mixes
// separate audio items over the result. The target resolution comes
// from the first visual item.
type mergeHandler struct {
	services *Services
}

func newMergeHandler(services *Services) *mergeHandler {
	return &mergeHandler{services: services}
}

func (h *mergeHandler) Operation() string {
	return plan.OperationMerge
}

type mergeItem struct {
	url       string
	mediaType string
	duration  float64
	offset    float64
	volume    float64
	hasVolume bool
}

func (h *mergeHandler) Run(ctx context.Context, job *Job) (*Result, error) {
	store, err := h.services.requireStore()
	if err != nil {
		return nil, err
	}

	rawItems := listParam(job.Params, "items")
	if len(rawItems) == 0 {
		return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessage("operation 'merge' requires a non-empty 'items' array")
	}

	var visuals, audios []mergeItem
	for i, raw := range rawItems {
		item, err := parseMergeItem(i, raw)
		if err != nil {
			return nil, err
		}
		switch item.mediaType {
		case media.TypeVideo, media.TypeImage:
			visuals = append(visuals, *item)
		case media.TypeAudio:
			audios = append(audios, *item)
		default:
			return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("items[%d] has no recognizable media type", i)
		}
	}
	if len(visuals) == 0 {
		return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessage("merge requires at least one video or image item")
	}

	probe, err := h.services.Media.Probe(ctx, visuals[0].url)
	if err != nil {
		return nil, err
	}
	width, height := evenDimension(probe.Width), evenDimension(probe.Height)
	if width == 0 || height == 0 {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessagef("could not determine target resolution from '%s'", visuals[0].url)
	}

	req := &mediaservice.MergeRequest{Width: width, Height: height}
	for _, v := range visuals {
		segment := mediaservice.MergeSegment{URL: v.url, Type: v.mediaType}
		if v.mediaType == media.TypeImage {
			segment.Duration = v.duration
			if segment.Duration <= 0 {
				segment.Duration = defaultImageDuration
			}
		}
		req.Segments = append(req.Segments, segment)
	}
	for _, a := range audios {
		overlay := mediaservice.AudioOverlay{
			URL:      a.url,
			Offset:   a.offset,
			Duration: a.duration,
			Volume:   a.volume,
		}
		if !a.hasVolume {
			overlay.Volume = 1
		}
		req.Audio = append(req.Audio, overlay)
	}

	out, err := h.services.Media.Merge(ctx, req)
	if err != nil {
		return nil, err
	}
	url, err := store.UploadBytes(ctx, storage.JobOutputKey(job.ExecutionID, job.JobID, "mp4"), out.Data, "video/mp4")
	if err != nil {
		return nil, err
	}
	return &Result{Outputs: []media.MediaOutput{{
		Type:     media.TypeVideo,
		URL:      url,
		MimeType: "video/mp4",
	}}}, nil
}

func parseMergeItem(index int, raw interface{}) (*mergeItem, error) {
	entry, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("items[%d] must be an object", index)
	}
	url := stringParam(entry, "url")
	if url == "" {
		url = stringParam(entry, "media")
	}
	if url == "" {
		return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("items[%d] has no url", index)
	}

	item := &mergeItem{url: url, mediaType: stringParam(entry, "type")}
	if item.mediaType == "" {
		item.mediaType = media.TypeForURL(url)
	}
	item.duration, _ = floatParam(entry, "duration")
	item.offset, _ = floatParam(entry, "offset")
	item.volume, item.hasVolume = floatParam(entry, "volume")
	return item, nil
}
