package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthome-dev/synthome/pkg/config"
	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/media"
)

func newReplicate(t *testing.T, handler http.HandlerFunc) *Replicate {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewReplicate(&config.ProviderConfig{BaseURL: server.URL})
}

func TestReplicateStartGeneration(t *testing.T) {
	t.Run("official model uses model path", func(t *testing.T) {
		p := newReplicate(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/models/wan-video/wan-2.2-t2v-fast/predictions", r.URL.Path)
			require.Equal(t, "Bearer r8_test", r.Header.Get("Authorization"))

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			input := body["input"].(map[string]interface{})
			require.Equal(t, "a red fox", input["prompt"])
			require.Equal(t, "https://api.example.com/cb", body["webhook"])

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"pred-1","status":"starting"}`))
		})

		id, err := p.StartGeneration(context.Background(), &StartRequest{
			Model:      &Model{ID: "wan-video/wan-2.2-t2v-fast"},
			Params:     map[string]interface{}{"prompt": "a red fox"},
			WebhookURL: "https://api.example.com/cb",
			APIKey:     "r8_test",
		})
		require.NoError(t, err)
		assert.Equal(t, "pred-1", id)
	})

	t.Run("versioned model uses predictions endpoint", func(t *testing.T) {
		p := newReplicate(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/predictions", r.URL.Path)
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "abc123", body["version"])

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"pred-2","status":"starting"}`))
		})

		id, err := p.StartGeneration(context.Background(), &StartRequest{
			Model:  &Model{ID: "851-labs/background-remover", Version: "abc123"},
			Params: map[string]interface{}{"image": "https://cdn/in.png"},
			APIKey: "r8_test",
		})
		require.NoError(t, err)
		assert.Equal(t, "pred-2", id)
	})

	t.Run("api error surfaces detail", func(t *testing.T) {
		p := newReplicate(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"detail":"insufficient credit"}`))
		})

		_, err := p.StartGeneration(context.Background(), &StartRequest{
			Model:  &Model{ID: "m"},
			Params: map[string]interface{}{},
		})
		require.Error(t, err)
		assert.Equal(t, errors.CodeRemoteServiceError, errors.GetCode(err))
		assert.Contains(t, err.Error(), "insufficient credit")
	})
}

func TestReplicateGetJobStatus(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		wantStatus string
		wantError  string
	}{
		{"starting maps to processing", `{"id":"p","status":"starting"}`, StatusProcessing, ""},
		{"processing stays processing", `{"id":"p","status":"processing"}`, StatusProcessing, ""},
		{"succeeded maps to completed", `{"id":"p","status":"succeeded"}`, StatusCompleted, ""},
		{"failed carries the error", `{"id":"p","status":"failed","error":"NSFW content detected"}`, StatusFailed, "NSFW content detected"},
		{"canceled maps to failed", `{"id":"p","status":"canceled"}`, StatusFailed, "generation failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newReplicate(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/v1/predictions/p", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tc.body))
			})

			status, err := p.GetJobStatus(context.Background(), &JobRef{ProviderJobID: "p", APIKey: "k"})
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, status.Status)
			assert.Equal(t, tc.wantError, status.Error)
		})
	}
}

func TestReplicateParseOutputs(t *testing.T) {
	p := &Replicate{}
	m := &Model{ID: "m", Type: media.TypeVideo}

	t.Run("single url output", func(t *testing.T) {
		outputs, err := p.ParseOutputs(m, json.RawMessage(`{"id":"p","status":"succeeded","output":"https://replicate.delivery/x.mp4"}`))
		require.NoError(t, err)
		require.Len(t, outputs, 1)
		assert.Equal(t, "https://replicate.delivery/x.mp4", outputs[0].URL)
		assert.Equal(t, "video/mp4", outputs[0].MimeType)
	})

	t.Run("array output", func(t *testing.T) {
		imageModel := &Model{ID: "i", Type: media.TypeImage}
		outputs, err := p.ParseOutputs(imageModel, json.RawMessage(`{"output":["https://r/a.png","https://r/b.png"]}`))
		require.NoError(t, err)
		require.Len(t, outputs, 2)
		assert.Equal(t, media.TypeImage, outputs[0].Type)
	})

	t.Run("no output is an error", func(t *testing.T) {
		_, err := p.ParseOutputs(m, json.RawMessage(`{"id":"p","status":"succeeded"}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no output")
	})

	t.Run("unknown extension falls back to type default", func(t *testing.T) {
		outputs, err := p.ParseOutputs(m, json.RawMessage(`{"output":"https://r/stream"}`))
		require.NoError(t, err)
		assert.Equal(t, "video/mp4", outputs[0].MimeType)
	})
}

func TestReplicateVerifyCallback(t *testing.T) {
	p := &Replicate{}
	key := []byte("replicate-signing-key")
	secret := "whsec_" + base64.StdEncoding.EncodeToString(key)
	body := []byte(`{"id":"pred-1","status":"succeeded"}`)

	sign := func(id, timestamp string) string {
		mac := hmac.New(sha256.New, key)
		fmt.Fprintf(mac, "%s.%s.", id, timestamp)
		mac.Write(body)
		return base64.StdEncoding.EncodeToString(mac.Sum(nil))
	}

	t.Run("valid signature", func(t *testing.T) {
		timestamp := fmt.Sprintf("%d", time.Now().Unix())
		header := http.Header{}
		header.Set("Webhook-Id", "msg_1")
		header.Set("Webhook-Timestamp", timestamp)
		header.Set("Webhook-Signature", "v1,"+sign("msg_1", timestamp))

		assert.NoError(t, p.VerifyCallback(header, body, secret))
	})

	t.Run("one valid signature among several", func(t *testing.T) {
		timestamp := fmt.Sprintf("%d", time.Now().Unix())
		header := http.Header{}
		header.Set("Webhook-Id", "msg_1")
		header.Set("Webhook-Timestamp", timestamp)
		header.Set("Webhook-Signature", "v1,bogus= v1,"+sign("msg_1", timestamp))

		assert.NoError(t, p.VerifyCallback(header, body, secret))
	})

	t.Run("tampered body", func(t *testing.T) {
		timestamp := fmt.Sprintf("%d", time.Now().Unix())
		header := http.Header{}
		header.Set("Webhook-Id", "msg_1")
		header.Set("Webhook-Timestamp", timestamp)
		header.Set("Webhook-Signature", "v1,"+sign("msg_1", timestamp))

		err := p.VerifyCallback(header, []byte(`{"id":"pred-1","status":"failed"}`), secret)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch")
	})

	t.Run("stale timestamp", func(t *testing.T) {
		timestamp := fmt.Sprintf("%d", time.Now().Add(-time.Hour).Unix())
		header := http.Header{}
		header.Set("Webhook-Id", "msg_1")
		header.Set("Webhook-Timestamp", timestamp)
		header.Set("Webhook-Signature", "v1,"+sign("msg_1", timestamp))

		err := p.VerifyCallback(header, body, secret)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "tolerance")
	})

	t.Run("missing headers", func(t *testing.T) {
		err := p.VerifyCallback(http.Header{}, body, secret)
		require.Error(t, err)
	})

	t.Run("empty secret accepts", func(t *testing.T) {
		assert.NoError(t, p.VerifyCallback(http.Header{}, body, ""))
	})
}
