package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthome-dev/synthome/pkg/database/model"
	"github.com/synthome-dev/synthome/pkg/errors"
	"github.com/synthome-dev/synthome/pkg/media"
	"github.com/synthome-dev/synthome/pkg/provider"
)

const testCallbackToken = "cb-token-1"

func newCallbackRouter(t *testing.T, env *gatewayEnv) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	handler := NewHandler(env.gw, env.registry, testCallbackToken)
	require.NoError(t, handler.RegisterRoutes(engine.Group("/v1")))
	return engine
}

func postCallback(engine *gin.Engine, token, providerName, jobRecordID string, body []byte) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost,
		"/v1/callbacks/"+token+"/"+providerName+"/"+jobRecordID, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CompletesJob(t *testing.T) {
	env := newGatewayEnv(t, testModel())
	env.registry.Register(&provider.FuncProvider{
		ProviderName: "testprov",
		ParseFunc: func(m *provider.Model, raw json.RawMessage) ([]media.MediaOutput, error) {
			return []media.MediaOutput{{Type: media.TypeVideo, URL: "https://cdn.example.com/v1.mp4"}}, nil
		},
	})
	engine := newCallbackRouter(t, env)

	execID, row := env.parkJob(t, model.WaitingStrategyWebhook, "test/fast-video", nil, nil)

	rec := postCallback(engine, testCallbackToken, "testprov", row.ID,
		[]byte(`{"status":"succeeded","output":"https://cdn.example.com/v1.mp4"}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	after := env.job(t, row.ID)
	assert.Equal(t, model.JobStatusCompleted, after.Status)
	assert.Equal(t, model.ExecutionStatusCompleted, env.execution(t, execID).Status)
}

func TestHandler_FailedCallbackFailsJob(t *testing.T) {
	env := newGatewayEnv(t, testModel())
	env.registry.Register(&provider.FuncProvider{ProviderName: "testprov"})
	engine := newCallbackRouter(t, env)

	_, row := env.parkJob(t, model.WaitingStrategyWebhook, "test/fast-video", nil, nil)

	rec := postCallback(engine, testCallbackToken, "testprov", row.ID,
		[]byte(`{"status":"failed","error":"NSFW content detected"}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	after := env.job(t, row.ID)
	assert.Equal(t, model.JobStatusFailed, after.Status)
	assert.Equal(t, "NSFW content detected", after.Error)
}

func TestHandler_WrongTokenHidesRoute(t *testing.T) {
	env := newGatewayEnv(t, testModel())
	env.registry.Register(&provider.FuncProvider{ProviderName: "testprov"})
	engine := newCallbackRouter(t, env)

	_, row := env.parkJob(t, model.WaitingStrategyWebhook, "test/fast-video", nil, nil)

	rec := postCallback(engine, "guessed-token", "testprov", row.ID, []byte(`{"status":"succeeded"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, model.JobStatusProcessing, env.job(t, row.ID).Status)
}

func TestHandler_UnknownProvider(t *testing.T) {
	env := newGatewayEnv(t, testModel())
	engine := newCallbackRouter(t, env)

	rec := postCallback(engine, testCallbackToken, "nobody", "j1", []byte(`{}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_RejectsBadSignature(t *testing.T) {
	env := newGatewayEnv(t, testModel())
	env.registry.Register(&provider.FuncProvider{
		ProviderName: "testprov",
		VerifyFunc: func(header http.Header, body []byte, secret string) error {
			return errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessage("bad signature")
		},
	})
	env.registry.SetCredentials("testprov", "", "whsec_abc")
	engine := newCallbackRouter(t, env)

	_, row := env.parkJob(t, model.WaitingStrategyWebhook, "test/fast-video", nil, nil)

	rec := postCallback(engine, testCallbackToken, "testprov", row.ID, []byte(`{"status":"succeeded"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, model.JobStatusProcessing, env.job(t, row.ID).Status)
}

func TestHandler_UnknownJob(t *testing.T) {
	env := newGatewayEnv(t, testModel())
	env.registry.Register(&provider.FuncProvider{ProviderName: "testprov"})
	engine := newCallbackRouter(t, env)

	rec := postCallback(engine, testCallbackToken, "testprov", "gone", []byte(`{"status":"succeeded"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_TerminalJobAcks(t *testing.T) {
	env := newGatewayEnv(t, testModel())
	env.registry.Register(&provider.FuncProvider{ProviderName: "testprov"})
	engine := newCallbackRouter(t, env)

	_, row := env.parkJob(t, model.WaitingStrategyWebhook, "test/fast-video", nil, nil)
	require.NoError(t, env.gw.Complete(context.Background(), row.ID, []media.MediaOutput{
		{Type: media.TypeVideo, URL: "https://cdn.example.com/first.mp4"},
	}))

	// The duplicate delivery is acked so the provider stops retrying,
	// and the stored result is untouched.
	rec := postCallback(engine, testCallbackToken, "testprov", row.ID,
		[]byte(`{"status":"succeeded","output":"https://cdn.example.com/second.mp4"}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	result, err := media.ParseResult(env.job(t, row.ID).Result)
	require.NoError(t, err)
	url, _ := result.PrimaryURL()
	assert.Equal(t, "https://cdn.example.com/first.mp4", url)
}

func TestHandler_EarlyCallbackAsksForRetry(t *testing.T) {
	env := newGatewayEnv(t, testModel())
	env.registry.Register(&provider.FuncProvider{ProviderName: "testprov"})
	engine := newCallbackRouter(t, env)

	// The job is emitted but the worker has not written the continuation
	// yet, so the row carries no model id.
	ctx := context.Background()
	execID, err := env.orch.CreateExecution(ctx, singleGeneratePlan(), nil)
	require.NoError(t, err)
	row, err := env.facade.GetExecutionJob().GetByJobID(ctx, execID, "v1")
	require.NoError(t, err)

	rec := postCallback(engine, testCallbackToken, "testprov", row.ID, []byte(`{"status":"succeeded"}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, model.JobStatusProcessing, env.job(t, row.ID).Status)
}

func TestHandler_UnparseableSuccessFailsJob(t *testing.T) {
	env := newGatewayEnv(t, testModel())
	env.registry.Register(&provider.FuncProvider{
		ProviderName: "testprov",
		ParseFunc: func(m *provider.Model, raw json.RawMessage) ([]media.MediaOutput, error) {
			return nil, errors.NewError().WithCode(errors.CodeRemoteServiceError).WithMessage("no outputs in response")
		},
	})
	engine := newCallbackRouter(t, env)

	_, row := env.parkJob(t, model.WaitingStrategyWebhook, "test/fast-video", nil, nil)

	rec := postCallback(engine, testCallbackToken, "testprov", row.ID, []byte(`{"status":"succeeded"}`))
	assert.Equal(t, http.StatusOK, rec.Code)

	after := env.job(t, row.ID)
	assert.Equal(t, model.JobStatusFailed, after.Status)
	assert.Equal(t, "no outputs in response", after.Error)
}

func TestHandler_EmptyTokenDisablesRoute(t *testing.T) {
	env := newGatewayEnv(t, testModel())
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	handler := NewHandler(env.gw, env.registry, "")
	require.NoError(t, handler.RegisterRoutes(engine.Group("/v1")))

	rec := postCallback(engine, "", "testprov", "j1", []byte(`{}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
