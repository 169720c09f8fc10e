package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chargepoint/internal/metrics"
	"chargepoint/internal/repository"
	"chargepoint/internal/station"
)

type fakeJournal struct {
	entries []repository.SessionEntry
	err     error
	limit   int
}

func (j *fakeJournal) Recent(_ context.Context, limit int) ([]repository.SessionEntry, error) {
	j.limit = limit
	return j.entries, j.err
}

func newRouter(registered bool, journal SessionLister) (http.Handler, *station.State) {
	state := station.NewState(2)
	return NewRouter(Routes{
		Health:     HealthHandler(func() bool { return registered }, state),
		Metrics:    metrics.New().Handler(),
		Connectors: ConnectorsHandler(state),
		Sessions:   SessionsHandler(journal, zap.NewNop()),
	}), state
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	h, _ := newRouter(true, &fakeJournal{})
	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"registered":true`)

	h, _ = newRouter(false, &fakeJournal{})
	rec = get(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"offline"`)
}

func TestMetricsExposed(t *testing.T) {
	h, _ := newRouter(true, &fakeJournal{})
	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chargepoint_session_up")
}

func TestConnectors(t *testing.T) {
	h, state := newRouter(true, &fakeJournal{})
	state.SetStatus(2, core.ChargePointStatusFaulted, core.OverCurrentFailure, "")

	rec := get(t, h, "/connectors")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []connectorView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, string(core.ChargePointStatusAvailable), views[0].Status)
	assert.Equal(t, string(core.ChargePointStatusFaulted), views[1].Status)
	assert.Equal(t, string(core.OverCurrentFailure), views[1].ErrorCode)
	assert.Nil(t, views[1].TransactionID)
}

func TestSessions(t *testing.T) {
	journal := &fakeJournal{entries: []repository.SessionEntry{{TransactionID: 3, ConnectorID: 1, IdTag: "TAG"}}}
	h, _ := newRouter(true, journal)

	rec := get(t, h, "/sessions?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, journal.limit)
	assert.Contains(t, rec.Body.String(), `"transaction_id":3`)

	rec = get(t, h, "/sessions?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	journal.err = errors.New("db down")
	rec = get(t, h, "/sessions")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newRouter(true, &fakeJournal{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", strings.NewReader("{}")))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestServerRunAndShutdown(t *testing.T) {
	h, _ := newRouter(true, &fakeJournal{})
	srv := NewServer("127.0.0.1:0", h, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "127.0.0.1:0" }, time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServerDisabledWithoutAddress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, NewServer("", http.NotFoundHandler(), nil).Run(ctx))
}
