// Package testutil provides test doubles for the two remote systems the
// bridge talks to: a scripted GoodHome vendor API and a Home Assistant
// websocket server.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Default credentials accepted by MockGoodHome
const (
	MockEmail    = "a@b.com"
	MockPassword = "pw"
	MockUserID   = "U1"
)

// MockGoodHome simulates the GoodHome cloud: login, refresh, the
// socket.io polling handshake, device reads with ETag support and state
// writes. Every request is recorded.
type MockGoodHome struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []RecordedRequest

	email, password string
	userID          string
	validTokens     map[string]bool
	refreshTokens   map[string]bool
	issued          int

	devices    []map[string]any
	version    int
	etags      bool
	lastMod    bool
	applyWrite bool

	handshakeStatus int
	handshakeBody   string
	loginStatus     int
	loginBody       string
	refreshStatus   int
	rotateRefresh   bool
	patchStatus     int
	unauthorized    int
	rejectAll       bool
	forced304       int
	onRequest       func(RecordedRequest)
}

// NewMockGoodHome starts a mock vendor API on a random local port
func NewMockGoodHome() *MockGoodHome {
	m := &MockGoodHome{
		email:         MockEmail,
		password:      MockPassword,
		userID:        MockUserID,
		validTokens:   make(map[string]bool),
		refreshTokens: make(map[string]bool),
		applyWrite:    true,
		rotateRefresh: true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", m.handleLogin)
	mux.HandleFunc("/v1/auth/refresh", m.handleRefresh)
	mux.HandleFunc("/socket.io-v2/", m.handleHandshake)
	mux.HandleFunc("/v1/users/", m.handleListDevices)
	mux.HandleFunc("/v1/devices/", m.handleDevice)
	m.server = httptest.NewServer(m.record(mux))
	return m
}

// URL is the base URL to configure the client with
func (m *MockGoodHome) URL() string {
	return m.server.URL
}

// Close shuts the server down
func (m *MockGoodHome) Close() {
	m.server.Close()
}

// AddDevice registers a device in wire format (with "_id")
func (m *MockGoodHome) AddDevice(id, name string, connected bool, state map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state == nil {
		state = map[string]any{}
	}
	m.devices = append(m.devices, map[string]any{
		"_id":       id,
		"name":      name,
		"type":      "thermostat",
		"connected": connected,
		"state":     state,
	})
	m.version++
}

// AddRawDevice registers a device exactly as given, so tests can omit fields
func (m *MockGoodHome) AddRawDevice(raw map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append(m.devices, raw)
	m.version++
}

// SetDeviceState changes one state key as if the thermostat reported it
func (m *MockGoodHome) SetDeviceState(id, key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d := m.findLocked(id); d != nil {
		d["state"].(map[string]any)[key] = value
		m.version++
	}
}

// SetConnected changes a device's connectivity
func (m *MockGoodHome) SetConnected(id string, connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d := m.findLocked(id); d != nil {
		d["connected"] = connected
		m.version++
	}
}

// DeviceState returns a copy of a device's state
func (m *MockGoodHome) DeviceState(id string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.findLocked(id)
	if d == nil {
		return nil
	}
	out := make(map[string]any)
	for k, v := range d["state"].(map[string]any) {
		out[k] = v
	}
	return out
}

// IssueToken makes token valid without a login, for static-token clients
func (m *MockGoodHome) IssueToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validTokens[token] = true
}

// RevokeTokens invalidates every issued access token, as an expiry would
func (m *MockGoodHome) RevokeTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validTokens = make(map[string]bool)
}

// EnableETags makes device reads carry ETag validators and honor If-None-Match
func (m *MockGoodHome) EnableETags(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.etags = enabled
}

// EnableLastModified makes device reads carry a Last-Modified validator
func (m *MockGoodHome) EnableLastModified(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastMod = enabled
}

// ApplyWrites controls whether PATCHes change the stored device state
func (m *MockGoodHome) ApplyWrites(apply bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyWrite = apply
}

// RotateRefreshTokens controls whether refresh responses carry a new refresh token
func (m *MockGoodHome) RotateRefreshTokens(rotate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotateRefresh = rotate
}

// FailHandshake makes the handshake answer with status (0 restores it)
func (m *MockGoodHome) FailHandshake(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handshakeStatus = status
}

// SetHandshakeBody replaces the handshake payload ("" restores it)
func (m *MockGoodHome) SetHandshakeBody(body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handshakeBody = body
}

// SetLoginStatus forces a login status (0 restores normal behavior)
func (m *MockGoodHome) SetLoginStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginStatus = status
}

// SetLoginBody replaces the successful login payload ("" restores it)
func (m *MockGoodHome) SetLoginBody(body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginBody = body
}

// SetRefreshStatus forces a refresh status (0 restores normal behavior)
func (m *MockGoodHome) SetRefreshStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshStatus = status
}

// SetPatchStatus forces the status of state writes (0 restores normal behavior)
func (m *MockGoodHome) SetPatchStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patchStatus = status
}

// UnauthorizedNext makes the next n device requests answer 401
func (m *MockGoodHome) UnauthorizedNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unauthorized = n
}

// RejectAll makes every device request answer 401
func (m *MockGoodHome) RejectAll(reject bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectAll = reject
}

// ForceNotModified makes the next n device reads answer 304 whatever the validators
func (m *MockGoodHome) ForceNotModified(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forced304 = n
}

// OnRequest registers a hook called after each request is recorded
func (m *MockGoodHome) OnRequest(fn func(RecordedRequest)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRequest = fn
}

// Requests returns every request received so far
func (m *MockGoodHome) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// ResetRequests forgets the recorded requests
func (m *MockGoodHome) ResetRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

func (m *MockGoodHome) findLocked(id string) map[string]any {
	for _, d := range m.devices {
		if d["_id"] == id {
			return d
		}
	}
	return nil
}

func (m *MockGoodHome) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		req := RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   body,
		}
		m.mu.Lock()
		m.requests = append(m.requests, req)
		hook := m.onRequest
		m.mu.Unlock()
		if hook != nil {
			hook(req)
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (m *MockGoodHome) issueLocked() (string, string) {
	m.issued++
	token := fmt.Sprintf("T%d", m.issued)
	refresh := fmt.Sprintf("R%d", m.issued)
	m.validTokens[token] = true
	m.refreshTokens[refresh] = true
	return token, refresh
}

func (m *MockGoodHome) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var creds struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loginStatus != 0 {
		writeJSON(w, m.loginStatus, map[string]string{"error": "forced"})
		return
	}
	if creds.Email != m.email || creds.Password != m.password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	if m.loginBody != "" {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, m.loginBody)
		return
	}

	token, refresh := m.issueLocked()
	writeJSON(w, http.StatusOK, map[string]string{
		"token":         token,
		"id":            m.userID,
		"refresh_token": refresh,
	})
}

func (m *MockGoodHome) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refreshStatus != 0 {
		writeJSON(w, m.refreshStatus, map[string]string{"error": "forced"})
		return
	}
	if !m.refreshTokens[body.RefreshToken] {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid refresh token"})
		return
	}

	token, refresh := m.issueLocked()
	resp := map[string]string{"token": token}
	if m.rotateRefresh {
		delete(m.refreshTokens, body.RefreshToken)
		resp["refresh_token"] = refresh
	}
	writeJSON(w, http.StatusOK, resp)
}

func (m *MockGoodHome) handleHandshake(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	status := m.handshakeStatus
	body := m.handshakeBody
	m.mu.Unlock()

	if status != 0 {
		http.Error(w, "handshake refused", status)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	if r.URL.Query().Get("sid") != "" {
		io.WriteString(w, "ok")
		return
	}
	if body == "" {
		body = `97:0{"sid":"S-` + r.URL.Query().Get("userId") +
			`","upgrades":["websocket"],"pingInterval":25000,"pingTimeout":60000}2:40`
	}
	io.WriteString(w, body)
}

// authorizeLocked applies the scripted 401 behavior and token validation
func (m *MockGoodHome) authorizeLocked(r *http.Request) bool {
	if m.rejectAll {
		return false
	}
	if m.unauthorized > 0 {
		m.unauthorized--
		return false
	}
	return m.validTokens[r.Header.Get("Access-Token")]
}

func (m *MockGoodHome) validatorsLocked(w http.ResponseWriter, r *http.Request) bool {
	if m.forced304 > 0 {
		m.forced304--
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	etag := fmt.Sprintf(`"v%d"`, m.version)
	if m.etags {
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return true
		}
		w.Header().Set("ETag", etag)
	}
	if m.lastMod {
		w.Header().Set("Last-Modified", fmt.Sprintf("Mon, 01 Jan 2024 00:00:%02d GMT", m.version%60))
	}
	return false
}

func (m *MockGoodHome) handleListDevices(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[3] != "devices" {
		http.NotFound(w, r)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.authorizeLocked(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	if parts[2] != m.userID {
		http.NotFound(w, r)
		return
	}
	if m.validatorsLocked(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": m.devices})
}

func (m *MockGoodHome) handleDevice(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 3 {
		http.NotFound(w, r)
		return
	}
	id := parts[2]
	isState := len(parts) == 4 && parts[3] == "state"

	var params map[string]any
	if isState {
		var body struct {
			Parameters map[string]any `json:"parameters"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		params = body.Parameters
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.authorizeLocked(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	device := m.findLocked(id)
	if device == nil {
		http.NotFound(w, r)
		return
	}

	switch {
	case isState && r.Method == http.MethodPatch:
		if m.patchStatus != 0 {
			writeJSON(w, m.patchStatus, map[string]string{"error": "forced"})
			return
		}
		if m.applyWrite {
			state := device["state"].(map[string]any)
			for k, v := range params {
				if k == "ping" {
					continue
				}
				state[k] = v
			}
			if t, ok := params["overrideTemp"]; ok {
				state["targetTemp"] = t
			}
			m.version++
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case !isState && r.Method == http.MethodGet:
		if m.validatorsLocked(w, r) {
			return
		}
		writeJSON(w, http.StatusOK, device)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
