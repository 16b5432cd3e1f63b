// Package goodhome is a client for the GoodHome thermostat cloud API.
//
// Every device call is preceded by the real-time polling handshake the
// backend requires, sends the vendor app's headers, reuses responses through
// ETag/Last-Modified validators and retries exactly once after refreshing the
// session on a 401. Failures are logged and reported as false or empty
// results; no error crosses the exported API.
package goodhome

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goodhome/internal/clock"
)

const (
	// DefaultBaseURL is the production vendor endpoint
	DefaultBaseURL = "https://shkf02.goodhome.com"

	// DefaultTimeout bounds every single HTTP exchange
	DefaultTimeout = 10 * time.Second

	userAgent      = "GoodHome/2010301 CFNetwork/3826.600.41 Darwin/24.6.0"
	acceptLanguage = "fr-FR,fr;q=0.9"
	acceptEncoding = "gzip, deflate, br"

	// tokenLifetime is the vendor's undocumented access token lifetime
	tokenLifetime = 24 * time.Hour
	expiryMargin  = time.Hour

	maxErrorBody = 512
)

// Config describes one GoodHome account
type Config struct {
	BaseURL  string
	Email    string
	Password string

	// UserID and Token allow running from a pre-issued token without credentials
	UserID string
	Token  string

	Timeout time.Duration
}

// Session is a copy of the client's authentication state
type Session struct {
	AccessToken     string
	RefreshToken    string
	UserID          string
	ExpiresAt       time.Time
	StreamSessionID string
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for all requests
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClock replaces the clock used for token expiry and the handshake token
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// Client talks to the GoodHome REST and real-time endpoints for one account.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client
	clock      clock.Clock
	logger     *zap.Logger

	devicesCache *Cache[[]Device]
	deviceCache  *Cache[Device]

	mu      sync.RWMutex
	session Session

	refreshGroup singleflight.Group
}

// NewClient creates a client. No network traffic happens until Login or a
// device call.
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL:      baseURL,
		email:        cfg.Email,
		password:     cfg.Password,
		httpClient:   &http.Client{Timeout: timeout},
		clock:        clock.NewRealClock(),
		logger:       logger,
		devicesCache: NewCache[[]Device](),
		deviceCache:  NewCache[Device](),
		session: Session{
			AccessToken: cfg.Token,
			UserID:      cfg.UserID,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns a copy of the current authentication state
func (c *Client) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// UserID returns the account's user id, known after Login
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.UserID
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.AccessToken
}

// InvalidateCache drops every cached response and validator
func (c *Client) InvalidateCache() {
	c.devicesCache.InvalidateAll()
	c.deviceCache.InvalidateAll()
}

func baseHeaders() http.Header {
	h := make(http.Header)
	h.Set("user-agent", userAgent)
	h.Set("accept-language", acceptLanguage)
	h.Set("accept-encoding", acceptEncoding)
	return h
}

// apiHeaders are the headers of the v1 REST endpoints. The vendor app uses
// an access-token header rather than a bearer authorization.
func (c *Client) apiHeaders() http.Header {
	h := baseHeaders()
	h.Set("accept", "application/json")
	h.Set("access-token", c.token())
	return h
}

func authHeaders() http.Header {
	h := baseHeaders()
	h.Set("accept", "application/json")
	h.Set("content-type", "application/json")
	return h
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (r *response) statusError() error {
	body := strings.TrimSpace(string(r.body))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &HTTPStatusError{Status: r.status, Body: body}
}

func (r *response) decode(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrProtocol, err)
	}
	return nil
}

// send performs one HTTP exchange. It never interprets the status code.
func (c *Client) send(ctx context.Context, op, method, path string, header http.Header, payload any) (*response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		requestTotal.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
	}
	defer resp.Body.Close()
	requestTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	data, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s response: %v", ErrTransport, op, err)
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// readBody undoes the content encoding negotiated by the vendor headers.
// Setting accept-encoding by hand disables the transport's own gzip handling.
func readBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil || len(raw) == 0 {
		return raw, err
	}

	var r io.Reader
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	case "deflate":
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case "br":
		r = brotli.NewReader(bytes.NewReader(raw))
	default:
		return raw, nil
	}
	return io.ReadAll(r)
}
