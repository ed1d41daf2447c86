package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trio-stream/internal/session"
)

var _ session.Recorder = (*Metrics)(nil)

func TestRecorder(t *testing.T) {
	m := New()

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.TurnFinished(session.OutcomeComplete)
	m.TurnFinished(session.OutcomeComplete)
	m.TurnFinished(session.OutcomeCanceled)
	m.ConsistencyWarning()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.turns.WithLabelValues(session.OutcomeComplete)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues(session.OutcomeCanceled)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.turns.WithLabelValues(session.OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.warnings))
}

func TestObserveRequest(t *testing.T) {
	m := New()

	m.ObserveRequest(http.MethodPost, "/chats/:chatId/messages", http.StatusAccepted, 10*time.Millisecond, false)
	m.ObserveRequest(http.MethodGet, "/chats/:chatId/events", http.StatusOK, time.Minute, true)
	m.ObserveRequest(http.MethodGet, "", http.StatusNotFound, time.Millisecond, false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodPost, "/chats/:chatId/messages", "202")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "unmatched", "404")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.requestDuration))
}

func TestHandler(t *testing.T) {
	m := New()
	m.SessionOpened()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "trio_sessions_active 1")
}
