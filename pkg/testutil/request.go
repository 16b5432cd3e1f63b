package testutil

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// RecordedRequest is a request received by MockGoodHome
type RecordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Parameters decodes the "parameters" object of a state write
func (r RecordedRequest) Parameters() map[string]any {
	var body struct {
		Parameters map[string]any `json:"parameters"`
	}
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return nil
	}
	return body.Parameters
}

// FilterRequests returns the requests with method whose path starts with prefix
func FilterRequests(reqs []RecordedRequest, method, prefix string) []RecordedRequest {
	var filtered []RecordedRequest
	for _, r := range reqs {
		if r.Method == method && strings.HasPrefix(r.Path, prefix) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// Patches returns the state writes, oldest first
func Patches(reqs []RecordedRequest) []RecordedRequest {
	var filtered []RecordedRequest
	for _, r := range reqs {
		if r.Method == http.MethodPatch && strings.HasSuffix(r.Path, "/state") {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// Handshakes returns the socket.io polling requests that opened a session
func Handshakes(reqs []RecordedRequest) []RecordedRequest {
	var filtered []RecordedRequest
	for _, r := range reqs {
		if strings.HasPrefix(r.Path, "/socket.io-v2/") && r.Query.Get("sid") == "" {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
