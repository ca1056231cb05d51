package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveDecision(t *testing.T) {
	m := New(false)

	m.ObserveDecision("login", "accepted", "", "embedding", 0.93, true, 2*time.Millisecond)
	m.ObserveDecision("login", "rejected", "no_candidate_found", "", 0, false, time.Millisecond)
	m.ObserveDecision("login", "rejected", "no_candidate_found", "", 0, false, time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Decisions.WithLabelValues("login", "accepted", "none")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Decisions.WithLabelValues("login", "rejected", "no_candidate_found")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.Similarity))
}

func TestObservePopulation(t *testing.T) {
	m := New(false)
	m.ObservePopulation("enroll", 42)
	assert.InDelta(t, 42, testutil.ToFloat64(m.PopulationSize.WithLabelValues("enroll")), 0)
}

func TestStorageError(t *testing.T) {
	m := New(false)
	m.StorageError("list_active")
	m.StorageError("list_active")
	assert.InDelta(t, 2, testutil.ToFloat64(m.StorageErrors.WithLabelValues("list_active")), 0)
}

func TestHandler(t *testing.T) {
	m := New(true)
	m.ObserveDecision("enroll", "blocked", "conflicting_identity", "embedding", 0.99, true, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `presence_decisions_total{mode="enroll",outcome="blocked",reason="conflicting_identity"} 1`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
