package web

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/presence/internal/config"
	"github.com/kozaktomas/presence/internal/database"
	"github.com/kozaktomas/presence/internal/database/mock"
	"github.com/kozaktomas/presence/internal/locale"
	"github.com/kozaktomas/presence/internal/metrics"
	"github.com/kozaktomas/presence/internal/verification"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type serverEnv struct {
	server   *Server
	profiles *mock.MockProfileStore
	metrics  *metrics.Metrics
}

func newServerEnv(t *testing.T, apiKey string, withAudit bool, db fakePinger) *serverEnv {
	t.Helper()
	cfg := config.Load()
	cfg.Web.APIKey = apiKey
	cfg.Web.AllowedOrigins = []string{"https://hr.example.com"}

	messages, err := locale.New(cfg.Messages.Languages, "en")
	require.NoError(t, err)

	profiles := mock.NewMockProfileStore()
	m := metrics.New(false)
	opts := []verification.Option{verification.WithMetrics(m)}
	deps := Dependencies{Profiles: profiles, DB: db, Messages: messages, Metrics: m}
	if withAudit {
		audit := mock.NewMockAuditWriter()
		opts = append(opts, verification.WithAudit(audit))
		deps.Audit = audit
	}
	deps.Verifier = verification.NewService(profiles, opts...)

	return &serverEnv{server: NewServer(cfg, deps), profiles: profiles, metrics: m}
}

func (e *serverEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	recorder := httptest.NewRecorder()
	e.server.Router().ServeHTTP(recorder, req)
	return recorder
}

func TestServerHealth(t *testing.T) {
	env := newServerEnv(t, "secret", false, fakePinger{})
	for _, path := range []string{"/health", "/api/v1/health"} {
		recorder := env.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, recorder.Code, path)
		assert.JSONEq(t, `{"status":"ok"}`, recorder.Body.String())
	}

	down := newServerEnv(t, "", false, fakePinger{err: errors.New("connection refused")})
	recorder := down.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}

func TestServerAPIKey(t *testing.T) {
	env := newServerEnv(t, "secret", false, fakePinger{})

	recorder := env.do(http.MethodGet, "/api/v1/profiles", "", nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, recorder.Body.String())

	recorder = env.do(http.MethodGet, "/api/v1/profiles", "", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder = env.do(http.MethodGet, "/api/v1/profiles", "", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestServerLoginFlow(t *testing.T) {
	env := newServerEnv(t, "", true, fakePinger{})
	auth := map[string]string{"X-Request-Id": "req-42"}

	recorder := env.do(http.MethodPost, "/api/v1/biometric/enroll",
		`{"identity_id":"emp-1","embedding":[1,0,0],"device_key":"phone-1"}`, auth)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Contains(t, recorder.Body.String(), `"allowed":true`)

	recorder = env.do(http.MethodPost, "/api/v1/biometric/login",
		`{"embedding":[0.99,0.05,0],"device_key":"phone-1"}`, auth)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	assert.Contains(t, recorder.Body.String(), `"accepted":true`)
	assert.Contains(t, recorder.Body.String(), `"request_id":"req-42"`)
	assert.Equal(t, "nosniff", recorder.Header().Get("X-Content-Type-Options"))

	recorder = env.do(http.MethodGet, "/api/v1/audit?identity=emp-1", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 2, strings.Count(recorder.Body.String(), `"identity_id":"emp-1"`))

	recorder = env.do(http.MethodGet, "/api/v1/profiles/emp-1", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"device_key":"***ne-1"`)
}

func TestServerAuditRouteOptional(t *testing.T) {
	env := newServerEnv(t, "", false, fakePinger{})
	recorder := env.do(http.MethodGet, "/api/v1/audit", "", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestServerMetrics(t *testing.T) {
	env := newServerEnv(t, "", false, fakePinger{})
	env.profiles.AddProfile(database.StoredProfile{IdentityID: "emp-1", Embedding: []float32{1, 0}, Active: true, BiometricEnabled: true, ApprovalStatus: "approved"})

	env.do(http.MethodGet, "/api/v1/profiles/emp-1", "", nil)
	env.do(http.MethodPost, "/api/v1/biometric/login", `{"embedding":[1,0]}`, nil)

	recorder := env.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	body := recorder.Body.String()
	assert.Contains(t, body, `presence_http_requests_total{method="GET",route="/api/v1/profiles/{id}",status="200"} 1`)
	assert.Contains(t, body, `presence_decisions_total{mode="login",outcome="accepted",reason="none"} 1`)
}

func TestServerCORS(t *testing.T) {
	env := newServerEnv(t, "secret", false, fakePinger{})
	recorder := env.do(http.MethodOptions, "/api/v1/biometric/login", "", map[string]string{
		"Origin":                        "https://hr.example.com",
		"Access-Control-Request-Method": http.MethodPost,
	})
	assert.Equal(t, "https://hr.example.com", recorder.Header().Get("Access-Control-Allow-Origin"))
}
