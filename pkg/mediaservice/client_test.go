package mediaservice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/media"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(DefaultConfig(server.URL))
}

func TestProbe(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/probe", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "https://cdn/video.mp4", body["url"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"width":1920,"height":1080,"duration":12.5,"hasAudio":true}`))
	})

	result, err := client.Probe(context.Background(), "https://cdn/video.mp4")
	require.NoError(t, err)
	assert.Equal(t, 1920, result.Width)
	assert.Equal(t, 1080, result.Height)
	assert.InDelta(t, 12.5, result.Duration, 0.001)
	assert.True(t, result.HasAudio)
}

func TestMergeReturnsFile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/merge", r.URL.Path)
		var req MergeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Segments, 2)
		require.Equal(t, "image", req.Segments[1].Type)

		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("merged-bytes"))
	})

	out, err := client.Merge(context.Background(), &MergeRequest{
		Segments: []MergeSegment{
			{URL: "https://cdn/a.mp4", Type: "video"},
			{URL: "https://cdn/b.png", Type: "image", Duration: 3},
		},
		Width:  1280,
		Height: 720,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("merged-bytes"), out.Data)
	assert.Equal(t, "video/mp4", out.ContentType)
}

func TestGenerateSubtitles(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/generate-subtitles", r.URL.Path)
		var req GenerateSubtitlesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Transcript, 2)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":"[Script Info]"}`))
	})

	content, err := client.GenerateSubtitles(context.Background(), &GenerateSubtitlesRequest{
		Transcript: []media.TranscriptWord{
			{Word: "hello", Start: 0, End: 0.4},
			{Word: "world", Start: 0.4, End: 0.9},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "[Script Info]", content)
}

func TestServiceErrorSurfacesMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"unsupported codec"}`))
	})

	_, err := client.Layer(context.Background(), &LayerRequest{Width: 100, Height: 100})
	require.Error(t, err)
	assert.Equal(t, errors.CodeRemoteServiceError, errors.GetCode(err))
	assert.Contains(t, err.Error(), "unsupported codec")
	assert.Contains(t, err.Error(), "422")
}

func TestEmptyFileIsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err := client.Convert(context.Background(), &ConvertRequest{URL: "https://cdn/a.png", Type: "image"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty file")
}

func TestUnreachableService(t *testing.T) {
	client := NewClient(DefaultConfig("http://127.0.0.1:1"))
	_, err := client.Probe(context.Background(), "https://cdn/a.mp4")
	require.Error(t, err)
	assert.Equal(t, errors.CodeRemoteServiceError, errors.GetCode(err))
}
