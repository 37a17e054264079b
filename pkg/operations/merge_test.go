package operations

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/media"
	"github.com/synthome-dev/synthome/pkg/mediaservice"
	"github.com/synthome-dev/synthome/pkg/plan"
)

func TestMergeConcatenatesAndMixes(t *testing.T) {
	var mergeReq mediaservice.MergeRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mediaservice.ProbeResult{Width: 855, Height: 481, Duration: 12})
	})
	mux.HandleFunc("/merge", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&mergeReq))
		w.Header().Set("Content-Type", "video/mp4")
		w.Write([]byte("merged"))
	})

	services, store := newTestServices(t, nil)
	withMediaService(t, services, mux)

	h := newMergeHandler(services)
	result, err := h.Run(context.Background(), newJob(plan.OperationMerge, map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"url": "https://cdn.test/a.mp4", "type": "video"},
			map[string]interface{}{"url": "https://cdn.test/slide.png"},
			map[string]interface{}{"url": "https://cdn.test/voice.mp3", "offset": 1.5, "volume": 0.5},
			map[string]interface{}{"media": "https://cdn.test/bgm.mp3", "duration": 8.0},
		},
	}))
	require.NoError(t, err)

	// Odd probe dimensions are rounded down to even
	assert.Equal(t, 854, mergeReq.Width)
	assert.Equal(t, 480, mergeReq.Height)

	require.Len(t, mergeReq.Segments, 2)
	assert.Equal(t, media.TypeVideo, mergeReq.Segments[0].Type)
	assert.Zero(t, mergeReq.Segments[0].Duration)
	assert.Equal(t, media.TypeImage, mergeReq.Segments[1].Type)
	assert.Equal(t, defaultImageDuration, mergeReq.Segments[1].Duration)

	require.Len(t, mergeReq.Audio, 2)
	assert.Equal(t, 1.5, mergeReq.Audio[0].Offset)
	assert.Equal(t, 0.5, mergeReq.Audio[0].Volume)
	assert.Equal(t, 8.0, mergeReq.Audio[1].Duration)
	assert.Equal(t, 1.0, mergeReq.Audio[1].Volume)

	require.Len(t, result.Outputs, 1)
	assert.Equal(t, "https://cdn.test/executions/exec-1/v1/output.mp4", result.Outputs[0].URL)
	data, err := store.DownloadBytes(context.Background(), "executions/exec-1/v1/output.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("merged"), data)
}

func TestMergeRejectsBadItems(t *testing.T) {
	services, _ := newTestServices(t, nil)
	h := newMergeHandler(services)

	cases := []struct {
		name     string
		params   map[string]interface{}
		wantText string
	}{
		{"no items", map[string]interface{}{}, "non-empty 'items'"},
		{"item not an object", map[string]interface{}{
			"items": []interface{}{"https://cdn.test/a.mp4"},
		}, "must be an object"},
		{"item without url", map[string]interface{}{
			"items": []interface{}{map[string]interface{}{"type": "video"}},
		}, "has no url"},
		{"unrecognizable type", map[string]interface{}{
			"items": []interface{}{map[string]interface{}{"url": "https://cdn.test/file.bin"}},
		}, "no recognizable media type"},
		{"audio only", map[string]interface{}{
			"items": []interface{}{map[string]interface{}{"url": "https://cdn.test/a.mp3"}},
		}, "at least one video or image"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.Run(context.Background(), newJob(plan.OperationMerge, tc.params))
			require.Error(t, err)
			assert.Equal(t, errors.RequestParameterInvalid, errors.GetCode(err))
			assert.Contains(t, err.Error(), tc.wantText)
		})
	}
}

func TestMergeFailsOnUnprobeableFirstItem(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mediaservice.ProbeResult{})
	})

	services, _ := newTestServices(t, nil)
	withMediaService(t, services, mux)

	h := newMergeHandler(services)
	_, err := h.Run(context.Background(), newJob(plan.OperationMerge, map[string]interface{}{
		"items": []interface{}{map[string]interface{}{"url": "https://cdn.test/a.mp4"}},
	}))
	require.Error(t, err)
	assert.Equal(t, errors.CodeRemoteServiceError, errors.GetCode(err))
	assert.Contains(t, err.Error(), "could not determine target resolution")
}
