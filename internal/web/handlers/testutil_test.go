package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/presence/internal/config"
	"github.com/kozaktomas/presence/internal/database"
	"github.com/kozaktomas/presence/internal/database/mock"
	"github.com/kozaktomas/presence/internal/locale"
	"github.com/kozaktomas/presence/internal/logging"
	"github.com/kozaktomas/presence/internal/verification"
)

// testEnv wires handlers to a verification service over mock repositories.
type testEnv struct {
	profiles  *mock.MockProfileStore
	audit     *mock.MockAuditWriter
	service   *verification.Service
	messages  *locale.Catalog
	biometric *BiometricHandler
	admin     *ProfilesHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Load()
	messages, err := locale.New(cfg.Messages.Languages, "en")
	require.NoError(t, err)

	env := &testEnv{
		profiles: mock.NewMockProfileStore(),
		audit:    mock.NewMockAuditWriter(),
		messages: messages,
	}
	env.service = verification.NewService(env.profiles, verification.WithAudit(env.audit))
	env.biometric = NewBiometricHandler(env.service, messages, logging.NewNop())
	env.admin = NewProfilesHandler(env.profiles, env.service, logging.NewNop())
	return env
}

func activeProfile(id string, emb []float32, device string) database.StoredProfile {
	return database.StoredProfile{
		IdentityID:       id,
		Embedding:        emb,
		DeviceKey:        device,
		Active:           true,
		BiometricEnabled: true,
		ApprovalStatus:   "approved",
	}
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
