package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/schema-registry/internal/domain/registry"
	httpH "github.com/yungbote/schema-registry/internal/http/handlers"
	"github.com/yungbote/schema-registry/internal/observability"
	"github.com/yungbote/schema-registry/internal/platform/logger"
	"github.com/yungbote/schema-registry/internal/registry/publisher"
)

type fakeRegistry struct {
	publishIn publisher.PublishInput
	deleteIn  publisher.DeleteInput
	approveIn publisher.ApproveInput

	publishRes publisher.PublishResult
	err        error
}

func (f *fakeRegistry) Publish(ctx context.Context, in publisher.PublishInput) (publisher.PublishResult, error) {
	f.publishIn = in
	return f.publishRes, f.err
}

func (f *fakeRegistry) Check(ctx context.Context, in publisher.CheckInput) (publisher.CheckResult, error) {
	return publisher.CheckResult{Status: publisher.StatusSkipped}, f.err
}

func (f *fakeRegistry) Delete(ctx context.Context, in publisher.DeleteInput) (publisher.DeleteResult, error) {
	f.deleteIn = in
	return publisher.DeleteResult{Status: publisher.StatusAccepted}, f.err
}

func (f *fakeRegistry) ApproveFailedSchemaCheck(ctx context.Context, in publisher.ApproveInput) (registry.ApproveCheckResult, error) {
	f.approveIn = in
	return registry.ApproveCheckResult{}, f.err
}

func (f *fakeRegistry) GetVersion(ctx context.Context, ref registry.TargetRef, versionID string) (*registry.VersionDetails, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &registry.VersionDetails{Version: &registry.SchemaVersion{ID: uuid.MustParse(versionID)}}, nil
}

func newTestRouter(t *testing.T, svc *fakeRegistry) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Nop()
	return NewRouter(RouterConfig{
		Log:             log,
		Metrics:         observability.New(),
		HealthHandler:   httpH.NewHealthHandler(nil),
		RegistryHandler: httpH.NewRegistryHandler(log, svc),
	})
}

func do(r *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestPublishRouteBindsInput(t *testing.T) {
	svc := &fakeRegistry{publishRes: publisher.PublishResult{Status: publisher.StatusAccepted}}
	r := newTestRouter(t, svc)

	body := `{"service":{"name":"users","sdl":"type Query { a: String }","url":"http://users"},
		"author":"ada","accept_breaking_changes":true,"context_id":"pr-1",
		"github":{"repository":"acme/api","commit":"abc"},"supports_retry":true}`
	rec := do(r, nethttp.MethodPost, "/api/targets/t-1/schemas/publish", body, map[string]string{
		"X-Registry-Actor":   "u-1",
		"X-Registry-Session": "s-1",
	})

	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	in := svc.publishIn
	require.Equal(t, "t-1", in.Target.TargetID)
	require.Equal(t, "users", in.Service.Name)
	require.Equal(t, "http://users", in.Service.URL)
	require.True(t, in.Force)
	require.True(t, in.SupportsRetry)
	require.Equal(t, "pr-1", in.ContextID)
	require.Equal(t, &publisher.GitHub{Repository: "acme/api", Commit: "abc"}, in.GitHub)
	require.Equal(t, publisher.Actor{ID: "u-1", SessionID: "s-1"}, in.Actor)

	var out struct {
		Result publisher.PublishResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, publisher.StatusAccepted, out.Result.Status)
}

func TestPublishRetryRequested(t *testing.T) {
	svc := &fakeRegistry{publishRes: publisher.PublishResult{Status: publisher.StatusRetryRequested, Message: publisher.RetryMessage}}
	r := newTestRouter(t, svc)

	rec := do(r, nethttp.MethodPost, "/api/targets/t-1/schemas/publish", `{"service":{"sdl":"type Query { a: String }"},"supports_retry":true}`, nil)
	require.Equal(t, nethttp.StatusAccepted, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRegistryErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{"not found", registry.NewError(registry.CodeNotFound, "op", "Target not found.", nil), nethttp.StatusNotFound, "not_found", "Target not found."},
		{"locked", registry.NewError(registry.CodeResourceLocked, "op", publisher.RetryMessage, nil), nethttp.StatusLocked, "resource_locked", publisher.RetryMessage},
		{"validation", registry.NewError(registry.CodeValidation, "op", "Invalid check id.", nil), nethttp.StatusBadRequest, "validation", "Invalid check id."},
		{"unexpected", errors.New("pq: connection reset by peer"), nethttp.StatusInternalServerError, "internal", "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(t, &fakeRegistry{err: tc.err})
			rec := do(r, nethttp.MethodPost, "/api/targets/t-1/schemas/publish", `{"service":{"sdl":"type Query { a: String }"}}`, nil)
			require.Equal(t, tc.status, rec.Code)

			var env struct {
				Error struct {
					Message string `json:"message"`
					Code    string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			require.Equal(t, tc.code, env.Error.Code)
			require.Equal(t, tc.msg, env.Error.Message)
		})
	}
}

func TestMalformedBodyIsRejected(t *testing.T) {
	svc := &fakeRegistry{}
	r := newTestRouter(t, svc)
	rec := do(r, nethttp.MethodPost, "/api/targets/t-1/schemas/check", `{"service":`, nil)
	require.Equal(t, nethttp.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid_request")
}

func TestDeleteAndApproveRoutes(t *testing.T) {
	svc := &fakeRegistry{}
	r := newTestRouter(t, svc)
	headers := map[string]string{"X-Registry-Actor": "reviewer"}

	rec := do(r, nethttp.MethodPost, "/api/targets/t-1/schemas/delete", `{"service_name":"reviews"}`, headers)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	require.Equal(t, "reviews", svc.deleteIn.ServiceName)
	require.Equal(t, "reviewer", svc.deleteIn.Actor.ID)

	checkID := uuid.NewString()
	rec = do(r, nethttp.MethodPost, "/api/targets/t-1/checks/"+checkID+"/approve", `{"comment":"ship it"}`, headers)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	require.Equal(t, checkID, svc.approveIn.CheckID)
	require.Equal(t, "ship it", svc.approveIn.Comment)
	require.Equal(t, "t-1", svc.approveIn.Target.TargetID)

	// No body at all is fine for approvals.
	rec = do(r, nethttp.MethodPost, "/api/targets/t-1/checks/"+checkID+"/approve", "", headers)
	require.Equal(t, nethttp.StatusOK, rec.Code)
}

func TestApproveRejectsMalformedBody(t *testing.T) {
	svc := &fakeRegistry{}
	r := newTestRouter(t, svc)
	path := "/api/targets/t-1/checks/" + uuid.NewString() + "/approve"

	for _, body := range []string{`{"comment":5}`, `{"comment":`, `[]`} {
		rec := do(r, nethttp.MethodPost, path, body, nil)
		require.Equal(t, nethttp.StatusBadRequest, rec.Code, body)
		require.Contains(t, rec.Body.String(), "invalid_request")
	}
	require.Empty(t, svc.approveIn.CheckID, "approval must not run on a bad body")
}

func TestGetVersionAndOperationalRoutes(t *testing.T) {
	r := newTestRouter(t, &fakeRegistry{})
	id := uuid.NewString()

	rec := do(r, nethttp.MethodGet, "/api/targets/t-1/versions/"+id, "", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), id)

	rec = do(r, nethttp.MethodGet, "/healthcheck", "", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	rec = do(r, nethttp.MethodGet, "/metrics", "", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "registry_api_requests_total"))
}
