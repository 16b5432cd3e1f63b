package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goodhome/internal/account"
	"goodhome/internal/clock"
	"goodhome/internal/confirm"
	"goodhome/internal/goodhome"
	"goodhome/internal/shadowstate"
	"goodhome/pkg/testutil"
)

func newTestServer(t *testing.T) (*Server, *testutil.MockGoodHome) {
	t.Helper()
	mock := testutil.NewMockGoodHome()
	t.Cleanup(mock.Close)
	mock.AddDevice("d1", "Salon", true, map[string]any{"currentTemp": 19.5, "targetTemp": 20.0, "window": false})

	clk := clock.NewMockClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	a := account.New(account.Config{
		Client: goodhome.Config{
			BaseURL:  mock.URL(),
			Email:    testutil.MockEmail,
			Password: testutil.MockPassword,
			Timeout:  2 * time.Second,
		},
		Policy: confirm.Policy{Attempts: 1, Interval: time.Second},
	}, clk, zap.NewNop())
	t.Cleanup(a.Close)
	require.NoError(t, a.Setup(context.Background()))

	registry := prometheus.NewRegistry()
	registry.MustRegister(goodhome.MetricsCollectors()...)
	return NewServer(a, registry, zap.NewNop(), 8080), mock
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = do(s, http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleSitemap(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, w.Body.String(), "/api/entities")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<h1>GoodHome Bridge API</h1>")

	w = do(s, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleDevices(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp DevicesResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Devices, 1)
	assert.Equal(t, "d1", resp.Devices[0].ID)
	assert.True(t, resp.Status.LastUpdateSuccess)
	assert.Equal(t, 1, resp.Status.Devices)
}

func TestHandleEntities(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/api/entities", "")
	require.Equal(t, http.StatusOK, w.Code)

	var views []EntityView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&views))
	assert.Len(t, views, 19)

	byID := make(map[string]EntityView)
	for _, v := range views {
		byID[v.UniqueID] = v
	}
	sensor := byID["goodhome_d1_temperature"]
	assert.Equal(t, 19.5, sensor.State)
	assert.True(t, sensor.Available)
	assert.Nil(t, byID["goodhome_d1_window"].Pending)
}

func TestHandleCommand(t *testing.T) {
	s, mock := newTestServer(t)

	t.Run("switch", func(t *testing.T) {
		w := do(s, http.MethodPost, "/api/entities/goodhome_d1_window", `{"value": true}`)
		require.Equal(t, http.StatusAccepted, w.Code)

		var resp CommandResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.NotEmpty(t, resp.CommandID)
		assert.Equal(t, "accepted", resp.Status)

		w = do(s, http.MethodGet, "/api/entities", "")
		var views []EntityView
		require.NoError(t, json.NewDecoder(w.Body).Decode(&views))
		for _, v := range views {
			if v.UniqueID == "goodhome_d1_window" {
				assert.Equal(t, map[string]any{"state": true}, v.Pending)
			}
		}

		w = do(s, http.MethodGet, "/api/pending", "")
		var snap shadowstate.Snapshot
		require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
		require.NotEmpty(t, snap.Pending)
		assert.Equal(t, resp.CommandID, snap.Pending[0].CommandID)
	})

	t.Run("climate field", func(t *testing.T) {
		w := do(s, http.MethodPost, "/api/entities/goodhome_climate_d1", `{"field": "temperature", "value": 21.5}`)
		assert.Equal(t, http.StatusAccepted, w.Code)
	})

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown entity", "/api/entities/nope", `{"value": 1}`, http.StatusNotFound},
		{"read-only entity", "/api/entities/goodhome_d1_temperature", `{"value": 1}`, http.StatusMethodNotAllowed},
		{"bad json", "/api/entities/goodhome_d1_window", `{`, http.StatusBadRequest},
		{"invalid value", "/api/entities/goodhome_d1_window", `{"value": "maybe"}`, http.StatusBadRequest},
		{"out of range", "/api/entities/goodhome_climate_d1", `{"field": "temperature", "value": 40}`, http.StatusBadRequest},
		{"unknown option", "/api/entities/goodhome_climate_d1", `{"field": "hvac_mode", "value": "cool"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(s, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}

	t.Run("button failure", func(t *testing.T) {
		mock.SetPatchStatus(http.StatusInternalServerError)
		defer mock.SetPatchStatus(0)
		w := do(s, http.MethodPost, "/api/entities/goodhome_d1_identify", `{"value": "PRESS"}`)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestHandleIdentify(t *testing.T) {
	s, mock := newTestServer(t)

	w := do(s, http.MethodPost, "/api/devices/d1/identify", "")
	assert.Equal(t, http.StatusOK, w.Code)
	patches := testutil.Patches(mock.Requests())
	require.Len(t, patches, 1)
	assert.Equal(t, 1.0, patches[0].Parameters()["ping"])

	w = do(s, http.MethodPost, "/api/devices/d9/identify", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, http.MethodGet, "/api/devices/d1/identify", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "goodhome_login_total")
}
