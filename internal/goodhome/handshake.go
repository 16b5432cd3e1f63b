package goodhome

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	pollAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-_"
	pollTokenLen = 7
	sidMarker    = `"sid":"`
	socketPath   = "/socket.io-v2/"
)

// pollToken encodes the epoch milliseconds of now the way socket.io clients
// build their cache-busting t parameter: 7 base-64 digits, most significant first.
func pollToken(now time.Time) string {
	num := now.UnixMilli()
	var buf [pollTokenLen]byte
	for i := pollTokenLen - 1; i >= 0; i-- {
		buf[i] = pollAlphabet[num%64]
		num /= 64
	}
	return string(buf[:])
}

// extractSID returns the session id embedded in a polling handshake payload
func extractSID(body string) (string, bool) {
	start := strings.Index(body, sidMarker)
	if start < 0 {
		return "", false
	}
	start += len(sidMarker)
	end := strings.IndexByte(body[start:], '"')
	if end < 0 {
		return "", false
	}
	return body[start : start+end], true
}

func (c *Client) handshakeHeaders() http.Header {
	h := baseHeaders()
	h.Set("accept", "*/*")
	h.Set("authorization", "Bearer "+c.token())
	return h
}

// handshakePath keeps the vendor app's parameter order
func (c *Client) handshakePath(sid string) string {
	path := fmt.Sprintf("%s?EIO=3&transport=polling&userId=%s&t=%s",
		socketPath, url.QueryEscape(c.UserID()), pollToken(c.clock.Now()))
	if sid != "" {
		path += "&sid=" + url.QueryEscape(sid)
	}
	return path
}

// Connect opens the real-time polling session the backend requires before
// it honors device REST calls, then sends one keep-alive poll on it.
func (c *Client) Connect(ctx context.Context) bool {
	if err := c.handshake(ctx); err != nil {
		c.logger.Error("Failed to establish GoodHome real-time session", zap.Error(err))
		return false
	}
	c.logger.Debug("Established GoodHome real-time session",
		zap.String("sid", c.Session().StreamSessionID))
	return true
}

func (c *Client) connect(ctx context.Context) (string, error) {
	headers := c.handshakeHeaders()

	resp, err := c.send(ctx, "handshake", http.MethodGet, c.handshakePath(""), headers, nil)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", fmt.Errorf("%w: handshake rejected: %w", ErrProtocol, resp.statusError())
	}

	sid, ok := extractSID(string(resp.body))
	if !ok {
		return "", fmt.Errorf("%w: no session id in handshake response", ErrProtocol)
	}

	c.mu.Lock()
	c.session.StreamSessionID = sid
	c.mu.Unlock()

	// The keep-alive outcome does not matter to the backend's session check
	if _, err := c.send(ctx, "handshake_poll", http.MethodGet, c.handshakePath(sid), headers, nil); err != nil {
		c.logger.Debug("Keep-alive poll failed", zap.Error(err))
	}
	return sid, nil
}
