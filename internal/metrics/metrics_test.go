package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New()

	m.ObserveDecision("permission", "forbidden")
	m.ObserveDecision("permission", "forbidden")
	m.ObserveChallenge("issue", "ok")
	m.ObserveMail("failed")
	m.ObserveRequest(http.MethodGet, "/health", http.StatusOK, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuthDecisions.WithLabelValues("permission", "forbidden")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResetChallenges.WithLabelValues("issue", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MailDispatch.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/health", "200")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveDecision("admin", "allow")
		m.ObserveChallenge("verify", "invalid")
		m.ObserveMail("sent")
		m.ObserveRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveDecision("admin", "allow")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "authz_auth_decisions_total")
}
