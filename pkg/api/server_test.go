package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-siem/pkg/correlation"
	"mini-siem/pkg/events"
	"mini-siem/pkg/orchestrator"
	"mini-siem/pkg/store"
)

type fixedStatus struct{ st orchestrator.Status }

func (f fixedStatus) Status() orchestrator.Status { return f.st }

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()
	now := time.Now()
	for i, ip := range []string{"203.0.113.1", "203.0.113.1", "198.51.100.2"} {
		a := events.Alert{SrcIP: ip, DstIP: "10.0.0.1", Signature: "sig", Severity: events.SeverityHigh, Timestamp: now.Add(-time.Duration(i) * time.Minute)}
		_, err := mem.InsertAlert(ctx, &a)
		require.NoError(t, err)
	}
	st := fixedStatus{orchestrator.Status{Mode: orchestrator.ModeLive, Running: true, Ticks: 3}}
	return New(mem, correlation.NewEngine(), st, nil, nil), mem
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestHealthAndStatus(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = do(t, h, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "live", got["mode"])
	assert.Equal(t, float64(3), got["ticks"])
	th := got["thresholds"].(map[string]interface{})
	assert.Equal(t, float64(10), th["time_window_minutes"])
}

func TestAlertsAndStats(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/v1/alerts?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []events.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	assert.Len(t, alerts, 2)

	rec = do(t, h, http.MethodGet, "/api/v1/alerts?ip=203.0.113.1&minutes=30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	assert.Len(t, alerts, 2)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/alerts?limit=abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/alerts?ip=nope", nil).Code)

	rec = do(t, h, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st events.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.EqualValues(t, 3, st.TotalAlerts)
	assert.EqualValues(t, 2, st.UniqueAddresses)

	rec = do(t, h, http.MethodGet, "/api/v1/detections", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestBlockLifecycle(t *testing.T) {
	s, mem := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/blocks", map[string]string{"ip": "203.0.113.1", "reason": "scanner"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "inserted")

	rec = do(t, h, http.MethodPost, "/api/v1/blocks", map[string]string{"ip": "203.0.113.1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already_present")

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/blocks", map[string]string{"ip": "x"}).Code)

	rec = do(t, h, http.MethodGet, "/api/v1/blocks", nil)
	var list []events.BlockedIP
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "scanner", list[0].Reason)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodDelete, "/api/v1/blocks/203.0.113.1", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/api/v1/blocks/203.0.113.1", nil).Code)
	blocked, err := mem.IsBlocked(context.Background(), "203.0.113.1")
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestThresholds(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPut, "/api/v1/thresholds", map[string]int{"time_window_minutes": 15, "alert_threshold": 8})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"time_window_minutes":15,"alert_threshold":8,"signature_threshold":3}`, rec.Body.String())
	assert.Equal(t, 15*time.Minute, s.engine.Thresholds().TimeWindow)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/v1/thresholds", map[string]int{"alert_threshold": -1}).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPost, "/api/v1/thresholds", nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/blocks", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
