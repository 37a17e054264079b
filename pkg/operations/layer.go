// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package operations

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/media"
	"github.com/synthome-dev/synthome/pkg/mediaservice"
	"github.com/synthome-dev/synthome/pkg/plan"
	"github.com/synthome-dev/synthome/pkg/storage"
)

// Named placement presets as x/y expressions over the canvas (W, H)
// and the scaled overlay (w, h)
var placementPresets = map[string][2]string{
	"top-left":     {"0", "0"},
	"top-right":    {"W-w", "0"},
	"bottom-left":  {"0", "H-h"},
	"bottom-right": {"W-w", "H-h"},
	"center":       {"(W-w)/2", "(H-h)/2"},
	"top":          {"(W-w)/2", "0"},
	"bottom":       {"(W-w)/2", "H-h"},
	"left":         {"0", "(H-h)/2"},
	"right":        {"W-w", "(H-h)/2"},
}

var fractionPattern = regexp.MustCompile(`^\d+(\.\d+)?(/\d+(\.\d+)?)?$`)

// Chroma-key strengths applied when the layer names a color but no
// tuning values
const (
	defaultChromaSimilarity = 0.3
	defaultChromaBlend      = 0.1
)

// layerHandler composites overlay layers onto a base layer. The first
// layer sets the canvas; the output is trimmed to the main layer's
// duration.
type layerHandler struct {
	services *Services
}

func newLayerHandler(services *Services) *layerHandler {
	return &layerHandler{services: services}
}

func (h *layerHandler) Operation() string {
	return plan.OperationLayer
}

type timelineItem struct {
	url       string
	mediaType string
	duration  float64
}

type layerSpec struct {
	url        string
	mediaType  string
	x, y       string
	width      string
	height     string
	chroma     *mediaservice.ChromaKey
	main       bool
	isTimeline bool
	timeline   []timelineItem
}

// probeURL is the address probed for this layer's dimensions
func (s *layerSpec) probeURL() string {
	if s.isTimeline {
		return s.timeline[0].url
	}
	return s.url
}

func (h *layerHandler) Run(ctx context.Context, job *Job) (*Result, error) {
	store, err := h.services.requireStore()
	if err != nil {
		return nil, err
	}

	rawLayers := listParam(job.Params, "layers")
	if len(rawLayers) == 0 {
		return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessage("operation 'layer' requires a non-empty 'layers' array")
	}

	specs := make([]*layerSpec, len(rawLayers))
	for i, raw := range rawLayers {
		spec, err := parseLayerSpec(i, raw)
		if err != nil {
			return nil, err
		}
		specs[i] = spec
	}

	mainIdx, err := mainLayerIndex(job.Params, specs)
	if err != nil {
		return nil, err
	}

	canvasProbe, err := h.services.Media.Probe(ctx, specs[0].probeURL())
	if err != nil {
		return nil, err
	}
	width, height := evenDimension(canvasProbe.Width), evenDimension(canvasProbe.Height)
	if width == 0 || height == 0 {
		return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessagef("could not determine canvas size from '%s'", specs[0].probeURL())
	}

	mainDuration, err := h.mainDuration(ctx, specs, mainIdx, canvasProbe)
	if err != nil {
		return nil, err
	}

	layers := make([]mediaservice.LayerInput, len(specs))
	for i, spec := range specs {
		input := mediaservice.LayerInput{
			URL:       spec.url,
			Type:      spec.mediaType,
			X:         spec.x,
			Y:         spec.y,
			Width:     spec.width,
			Height:    spec.height,
			ChromaKey: spec.chroma,
		}
		if spec.isTimeline {
			stitched, err := h.stitchTimeline(ctx, job, i, spec, width, height, mainDuration)
			if err != nil {
				return nil, err
			}
			input.URL = stitched
			input.Type = media.TypeVideo
		}
		layers[i] = input
	}

	out, err := h.services.Media.Layer(ctx, &mediaservice.LayerRequest{
		Layers:   layers,
		Width:    width,
		Height:   height,
		Duration: mainDuration,
	})
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

// mainDuration determines how long the composition runs. Timeline main
// layers need explicit item durations; anything else is probed.
func (h *layerHandler) mainDuration(ctx context.Context, specs []*layerSpec, mainIdx int, canvasProbe *mediaservice.ProbeResult) (float64, error) {
	spec := specs[mainIdx]
	if spec.isTimeline {
		total := 0.0
		for _, item := range spec.timeline {
			if item.duration <= 0 {
				return 0, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessage("the main layer's timeline items need explicit durations")
			}
			total += item.duration
		}
		return total, nil
	}
	if mainIdx == 0 {
		return canvasProbe.Duration, nil
	}
	probe, err := h.services.Media.Probe(ctx, spec.url)
	if err != nil {
		return 0, err
	}
	return probe.Duration, nil
}

// stitchTimeline renders a timeline layer into one continuous video
// before compositing. Compositing the segments individually re-encodes
// at each boundary and produces visible blinks.
func (h *layerHandler) stitchTimeline(ctx context.Context, job *Job, index int, spec *layerSpec, width, height int, mainDuration float64) (string, error) {
	items := make([]timelineItem, len(spec.timeline))
	copy(items, spec.timeline)

	var specified float64
	unspecified := 0
	for _, item := range items {
		if item.duration > 0 {
			specified += item.duration
		} else {
			unspecified++
		}
	}
	if unspecified > 0 {
		remaining := mainDuration - specified
		if remaining <= 0 {
			return "", errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("layers[%d] timeline durations leave no room within the main layer", index)
		}
		share := remaining / float64(unspecified)
		for i := range items {
			if items[i].duration <= 0 {
				items[i].duration = share
			}
		}
	}

	req := &mediaservice.MergeRequest{Width: width, Height: height}
	for _, item := range items {
		req.Segments = append(req.Segments, mediaservice.MergeSegment{
			URL:      item.url,
			Type:     item.mediaType,
			Duration: item.duration,
		})
	}
	out, err := h.services.Media.Merge(ctx, req)
	if err != nil {
		return "", err
	}
	store, err := h.services.requireStore()
	if err != nil {
		return "", err
	}
	key := storage.ScratchKey(job.ExecutionID, job.JobID, fmt.Sprintf("timeline_%d.mp4", index))
	return store.UploadBytes(ctx, key, out.Data, "video/mp4")
}

func mainLayerIndex(params map[string]interface{}, specs []*layerSpec) (int, error) {
	if raw, ok := floatParam(params, "mainLayer"); ok {
		idx := int(raw)
		if idx < 0 || idx >= len(specs) {
			return 0, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("mainLayer %d is out of range", idx)
		}
		return idx, nil
	}
	for i, spec := range specs {
		if spec.main {
			return i, nil
		}
	}
	return 0, nil
}

func parseLayerSpec(index int, raw interface{}) (*layerSpec, error) {
	entry, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("layers[%d] must be an object", index)
	}

	spec := &layerSpec{main: boolParam(entry, "main")}

	if boolParam(entry, "isTimeline") {
		spec.isTimeline = true
		items := listParam(entry, "timeline")
		if len(items) == 0 {
			return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("layers[%d] is a timeline without items", index)
		}
		for j, rawItem := range items {
			itemMap, ok := rawItem.(map[string]interface{})
			if !ok {
				return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("layers[%d].timeline[%d] must be an object", index, j)
			}
			url := stringParam(itemMap, "media")
			if url == "" {
				url = stringParam(itemMap, "url")
			}
			if url == "" {
				return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("layers[%d].timeline[%d] has no media url", index, j)
			}
			item := timelineItem{url: url, mediaType: stringParam(itemMap, "type")}
			if item.mediaType == "" {
				item.mediaType = media.TypeForURL(url)
			}
			if item.mediaType != media.TypeVideo && item.mediaType != media.TypeImage {
				return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("layers[%d].timeline[%d] has no recognizable media type", index, j)
			}
			item.duration, _ = floatParam(itemMap, "duration")
			spec.timeline = append(spec.timeline, item)
		}
	} else {
		url := stringParam(entry, "url")
		if url == "" {
			url = stringParam(entry, "media")
		}
		if url == "" {
			return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("layers[%d] has no url", index)
		}
		spec.url = url
		spec.mediaType = stringParam(entry, "type")
		if spec.mediaType == "" {
			spec.mediaType = media.TypeForURL(url)
		}
		if spec.mediaType != media.TypeVideo && spec.mediaType != media.TypeImage {
			return nil, errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("layers[%d] has no recognizable media type", index)
		}
	}

	if err := applyPlacement(index, entry, spec); err != nil {
		return nil, err
	}
	if err := applyChromaKey(index, entry, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

func applyPlacement(index int, entry map[string]interface{}, spec *layerSpec) error {
	if pos := stringParam(entry, "position"); pos != "" {
		x, y, width, height, err := parsePosition(pos)
		if err != nil {
			return errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("layers[%d]: %v", index, err)
		}
		spec.x, spec.y, spec.width, spec.height = x, y, width, height
	}
	// Explicit coordinates win over the position shorthand
	if v := exprParam(entry, "x"); v != "" {
		spec.x = v
	}
	if v := exprParam(entry, "y"); v != "" {
		spec.y = v
	}
	if v := exprParam(entry, "width"); v != "" {
		spec.width = v
	}
	if v := exprParam(entry, "height"); v != "" {
		spec.height = v
	}
	return nil
}

func applyChromaKey(index int, entry map[string]interface{}, spec *layerSpec) error {
	color := stringParam(entry, "chromaKeyColor")
	if color == "" {
		return nil
	}

	similarity := defaultChromaSimilarity
	if v, ok := floatParam(entry, "similarity"); ok {
		if v < 0 || v > 1 {
			return errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("layers[%d].similarity must be within [0, 1]", index)
		}
		similarity = v
	}
	blend := defaultChromaBlend
	if v, ok := floatParam(entry, "blend"); ok {
		if v < 0 || v > 1 {
			return errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessagef("layers[%d].blend must be within [0, 1]", index)
		}
		blend = v
	}
	spec.chroma = &mediaservice.ChromaKey{Color: color, Similarity: similarity, Blend: blend}
	return nil
}

// parsePosition expands the placement shorthand: preset names position
// the overlay, "w-<frac>"/"h-<frac>" size it relative to the canvas.
func parsePosition(pos string) (x, y, width, height string, err error) {
	x, y = "0", "0"
	for _, token := range strings.Fields(pos) {
		if preset, ok := placementPresets[token]; ok {
			x, y = preset[0], preset[1]
			continue
		}
		switch {
		case strings.HasPrefix(token, "w-") && fractionPattern.MatchString(token[2:]):
			width = "W*" + token[2:]
		case strings.HasPrefix(token, "h-") && fractionPattern.MatchString(token[2:]):
			height = "H*" + token[2:]
		default:
			return "", "", "", "", fmt.Errorf("unknown position token '%s'", token)
		}
	}
	return x, y, width, height, nil
}

func exprParam(entry map[string]interface{}, key string) string {
	switch v := entry[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}
