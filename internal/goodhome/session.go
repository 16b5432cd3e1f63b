package goodhome

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// sharedRefreshTimeout bounds a token exchange shared by several callers
const sharedRefreshTimeout = time.Minute

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token        string `json:"token"`
	ID           string `json:"id"`
	RefreshToken string `json:"refresh_token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

// Login exchanges the configured credentials for a new session.
// There is no retry; the caller decides what to do on false.
func (c *Client) Login(ctx context.Context) bool {
	err := c.login(ctx)
	loginTotal.WithLabelValues(resultLabel(err == nil)).Inc()
	if err != nil {
		c.logger.Error("Failed to log in to GoodHome", zap.Error(err))
		return false
	}
	c.logger.Info("Logged in to GoodHome", zap.String("user_id", c.UserID()))
	return true
}

// CheckLogin logs in like Login but hands the failure back to the caller
// instead of logging it. Credential validation uses it to tell a rejected
// login from an unreachable backend.
func (c *Client) CheckLogin(ctx context.Context) error {
	err := c.login(ctx)
	loginTotal.WithLabelValues(resultLabel(err == nil)).Inc()
	return err
}

func (c *Client) login(ctx context.Context) error {
	if c.email == "" || c.password == "" {
		return fmt.Errorf("%w: email or password not provided", ErrAuthFailure)
	}

	resp, err := c.send(ctx, "login", http.MethodPost, "/v1/auth/login", authHeaders(),
		loginRequest{Email: c.email, Password: c.password})
	if err != nil {
		return err
	}
	if !resp.ok() {
		return fmt.Errorf("%w: login rejected: %w", ErrAuthFailure, resp.statusError())
	}

	var body loginResponse
	if err := resp.decode(&body); err != nil {
		return err
	}
	if body.Token == "" {
		return fmt.Errorf("%w: no token in login response", ErrProtocol)
	}

	expiry := c.clock.Now().Add(tokenLifetime)
	c.mu.Lock()
	c.session.AccessToken = body.Token
	c.session.UserID = body.ID
	c.session.RefreshToken = body.RefreshToken
	c.session.ExpiresAt = expiry
	c.mu.Unlock()
	tokenExpiry.Set(float64(expiry.Unix()))
	return nil
}

// IsTokenNearExpiry reports whether the access token expires within the hour.
// A client that never logged in has no expiry and is never near it.
func (c *Client) IsTokenNearExpiry() bool {
	c.mu.RLock()
	expiry := c.session.ExpiresAt
	c.mu.RUnlock()

	if expiry.IsZero() {
		return false
	}
	return c.clock.Now().After(expiry.Add(-expiryMargin))
}

// RefreshAccessToken renews the access token. Without a refresh token, or
// when the refresh exchange fails for any reason, it falls back to a full
// login. Concurrent callers share a single exchange, which keeps running
// when the caller that started it goes away.
func (c *Client) RefreshAccessToken(ctx context.Context) bool {
	ch := c.refreshGroup.DoChan("refresh", func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedRefreshTimeout)
		defer cancel()
		return c.refresh(refreshCtx), nil
	})
	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		return false
	}
}

func (c *Client) refresh(ctx context.Context) bool {
	c.mu.RLock()
	refreshToken := c.session.RefreshToken
	c.mu.RUnlock()

	if refreshToken == "" {
		c.logger.Warn("No refresh token available, attempting full login")
		refreshTotal.WithLabelValues("fallback").Inc()
		return c.Login(ctx)
	}

	if err := c.exchangeRefreshToken(ctx, refreshToken); err != nil {
		c.logger.Warn("Failed to refresh token, attempting full login", zap.Error(err))
		refreshTotal.WithLabelValues("fallback").Inc()
		return c.Login(ctx)
	}

	refreshTotal.WithLabelValues("success").Inc()
	c.logger.Info("Refreshed GoodHome token")
	return true
}

func (c *Client) exchangeRefreshToken(ctx context.Context, refreshToken string) error {
	resp, err := c.send(ctx, "refresh", http.MethodPost, "/v1/auth/refresh", authHeaders(),
		refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return err
	}
	if !resp.ok() {
		return fmt.Errorf("%w: refresh rejected: %w", ErrAuthFailure, resp.statusError())
	}

	var body refreshResponse
	if err := resp.decode(&body); err != nil {
		return err
	}
	if body.Token == "" {
		return fmt.Errorf("%w: no token in refresh response", ErrProtocol)
	}

	expiry := c.clock.Now().Add(tokenLifetime)
	c.mu.Lock()
	c.session.AccessToken = body.Token
	if body.RefreshToken != "" {
		c.session.RefreshToken = body.RefreshToken
	}
	c.session.ExpiresAt = expiry
	c.mu.Unlock()
	tokenExpiry.Set(float64(expiry.Unix()))
	return nil
}

// EnsureFreshToken refreshes the token ahead of time when it is near expiry.
// It returns false only when a refresh was needed and failed.
func (c *Client) EnsureFreshToken(ctx context.Context) bool {
	if !c.IsTokenNearExpiry() {
		return true
	}
	c.logger.Info("Token near expiry, refreshing proactively",
		zap.Time("expires_at", c.Session().ExpiresAt))
	return c.RefreshAccessToken(ctx)
}

// tokenAge is used in logs when a request is rejected
func (c *Client) tokenAge() time.Duration {
	c.mu.RLock()
	expiry := c.session.ExpiresAt
	c.mu.RUnlock()
	if expiry.IsZero() {
		return 0
	}
	return c.clock.Now().Sub(expiry.Add(-tokenLifetime))
}
