package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthome-dev/synthome/pkg/config"
	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/media"
)

func newFal(t *testing.T, handler http.HandlerFunc) *Fal {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewFal(&config.ProviderConfig{BaseURL: server.URL})
}

func TestFalStartGeneration(t *testing.T) {
	p := newFal(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fal-ai/flux/schnell", r.URL.Path)
		require.Equal(t, "Key fal-test", r.Header.Get("Authorization"))
		require.Equal(t, "https://api.example.com/cb", r.URL.Query().Get("fal_webhook"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "a red fox", body["prompt"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"request_id":"req-1"}`))
	})

	id, err := p.StartGeneration(context.Background(), &StartRequest{
		Model:      &Model{ID: "fal-ai/flux/schnell"},
		Params:     map[string]interface{}{"prompt": "a red fox"},
		WebhookURL: "https://api.example.com/cb",
		APIKey:     "fal-test",
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", id)
}

func TestFalGetJobStatus(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		wantStatus string
	}{
		{"queued maps to processing", `{"status":"IN_QUEUE"}`, StatusProcessing},
		{"in progress maps to processing", `{"status":"IN_PROGRESS"}`, StatusProcessing},
		{"completed maps to completed", `{"status":"COMPLETED"}`, StatusCompleted},
		{"anything else maps to failed", `{"status":"FAILED","error":"worker crashed"}`, StatusFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newFal(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/fal-ai/ltx-video/requests/req-1/status", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tc.body))
			})

			status, err := p.GetJobStatus(context.Background(), &JobRef{
				ProviderJobID: "req-1",
				ModelID:       "fal-ai/ltx-video",
				APIKey:        "k",
			})
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, status.Status)
			if tc.wantStatus == StatusFailed {
				assert.Equal(t, "worker crashed", status.Error)
			}
		})
	}
}

func TestFalGetRawJobResponse(t *testing.T) {
	p := newFal(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/fal-ai/flux/schnell/requests/req-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"images":[{"url":"https://fal.media/a.png","content_type":"image/png"}]}`))
	})

	raw, err := p.GetRawJobResponse(context.Background(), &JobRef{
		ProviderJobID: "req-1",
		ModelID:       "fal-ai/flux/schnell",
		APIKey:        "k",
	})
	require.NoError(t, err)

	outputs, err := p.ParseOutputs(&Model{ID: "fal-ai/flux/schnell", Type: media.TypeImage}, raw)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, "https://fal.media/a.png", outputs[0].URL)
	assert.Equal(t, "image/png", outputs[0].MimeType)
}

func TestFalErrorDetail(t *testing.T) {
	p := newFal(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"detail":"prompt too long"}`))
	})

	_, err := p.GetRawJobResponse(context.Background(), &JobRef{ProviderJobID: "r", ModelID: "m"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeRemoteServiceError, errors.GetCode(err))
	assert.Contains(t, err.Error(), "prompt too long")
}

func TestFalVerifyCallback(t *testing.T) {
	p := &Fal{}
	secret := "fal-shared-secret"
	body := []byte(`{"request_id":"req-1","status":"OK"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	t.Run("valid signature", func(t *testing.T) {
		header := http.Header{}
		header.Set("X-Fal-Signature", signature)
		assert.NoError(t, p.VerifyCallback(header, body, secret))
	})

	t.Run("mismatch", func(t *testing.T) {
		header := http.Header{}
		header.Set("X-Fal-Signature", signature)
		err := p.VerifyCallback(header, []byte(`{}`), secret)
		require.Error(t, err)
	})

	t.Run("missing header", func(t *testing.T) {
		err := p.VerifyCallback(http.Header{}, body, secret)
		require.Error(t, err)
	})

	t.Run("empty secret accepts", func(t *testing.T) {
		assert.NoError(t, p.VerifyCallback(http.Header{}, body, ""))
	})
}
