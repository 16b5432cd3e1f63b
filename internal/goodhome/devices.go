package goodhome

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// ListDevices returns every device of the account. The bool is false when
// the list could not be fetched, in which case the slice is nil.
func (c *Client) ListDevices(ctx context.Context) ([]Device, bool) {
	uid := c.UserID()
	path := "/v1/users/" + url.PathEscape(uid) + "/devices"

	devices, err := fetch(ctx, c, "list_devices", path, DevicesKey(uid), c.devicesCache, parseDeviceList)
	if err != nil {
		c.logger.Error("Failed to get devices",
			zap.String("failure", failureClass(err)),
			zap.Error(err))
		return nil, false
	}
	return devices, true
}

// GetDevice returns a single device. The bool is false when the device
// could not be fetched.
func (c *Client) GetDevice(ctx context.Context, deviceID string) (Device, bool) {
	path := "/v1/devices/" + url.PathEscape(deviceID) + "/"

	device, err := fetch(ctx, c, "get_device", path, DeviceKey(deviceID), c.deviceCache, parseDevice)
	if err != nil {
		c.logger.Error("Failed to get device",
			zap.String("device_id", deviceID),
			zap.String("failure", failureClass(err)),
			zap.Error(err))
		return Device{}, false
	}
	return device, true
}

func parseDeviceList(body []byte) ([]Device, error) {
	var list wireDeviceList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%w: failed to decode device list: %v", ErrProtocol, err)
	}
	devices := make([]Device, 0, len(list.Devices))
	for _, d := range list.Devices {
		devices = append(devices, d.normalize())
	}
	return devices, nil
}

func parseDevice(body []byte) (Device, error) {
	var d wireDevice
	if err := json.Unmarshal(body, &d); err != nil {
		return Device{}, fmt.Errorf("%w: failed to decode device: %v", ErrProtocol, err)
	}
	return d.normalize(), nil
}

// handshake runs the real-time session precondition of every device call
func (c *Client) handshake(ctx context.Context) error {
	_, err := c.connect(ctx)
	handshakeTotal.WithLabelValues(resultLabel(err == nil)).Inc()
	if err != nil {
		return fmt.Errorf("failed to establish real-time session: %w", err)
	}
	return nil
}

// reauthenticate handles a 401: refresh the session, then reopen the
// real-time session under the new token.
func (c *Client) reauthenticate(ctx context.Context, op string) error {
	c.logger.Warn("Received 401, refreshing token",
		zap.String("op", op),
		zap.Duration("token_age", c.tokenAge()))
	if !c.RefreshAccessToken(ctx) {
		return fmt.Errorf("%w: token refresh failed after 401", ErrAuthFailure)
	}
	return c.handshake(ctx)
}

// fetch runs one cached GET with the session precondition and a single
// 401-triggered retry.
func fetch[T any](ctx context.Context, c *Client, op, path, key string, cache *Cache[T], parse func([]byte) (T, error)) (T, error) {
	var zero T

	if err := c.handshake(ctx); err != nil {
		return zero, err
	}

	resp, snapshot, cached, err := conditionalGet(ctx, c, op, path, key, cache)
	if err != nil {
		return zero, err
	}
	if cached {
		return snapshot, nil
	}

	if resp.status == http.StatusUnauthorized {
		if err := c.reauthenticate(ctx, op); err != nil {
			return zero, err
		}
		resp, snapshot, cached, err = conditionalGet(ctx, c, op, path, key, cache)
		if err != nil {
			return zero, err
		}
		if cached {
			return snapshot, nil
		}
		if resp.status == http.StatusUnauthorized {
			return zero, fmt.Errorf("%w: %s still unauthorized after refresh", ErrAuthFailure, op)
		}
	}

	if !resp.ok() {
		return zero, fmt.Errorf("%w: %s: %w", ErrProtocol, op, resp.statusError())
	}

	value, err := parse(resp.body)
	if err != nil {
		return zero, err
	}
	cache.Remember(key, cache.Validator(key).merge(resp.header), value)
	return value, nil
}

// conditionalGet sends the stored validators for key. A 304 is served from
// the cache when an entry exists; otherwise the validators are dropped and
// the request is repeated unconditionally.
func conditionalGet[T any](ctx context.Context, c *Client, op, path, key string, cache *Cache[T]) (*response, T, bool, error) {
	var zero T

	headers := c.apiHeaders()
	cache.Validator(key).Apply(headers)

	resp, err := c.send(ctx, op, http.MethodGet, path, headers, nil)
	if err != nil {
		return nil, zero, false, err
	}

	if resp.status == http.StatusNotModified {
		if snapshot, ok := cache.Read(key); ok {
			cacheTotal.WithLabelValues("hit").Inc()
			c.logger.Debug("Serving cached response", zap.String("key", key))
			return resp, snapshot, true, nil
		}

		cacheTotal.WithLabelValues("stale").Inc()
		c.logger.Warn("Received 304 but no cache available, forcing reload", zap.String("key", key))
		cache.Invalidate(key)

		resp, err = c.send(ctx, op, http.MethodGet, path, c.apiHeaders(), nil)
		if err != nil {
			return nil, zero, false, err
		}
		if resp.status == http.StatusNotModified {
			return nil, zero, false, fmt.Errorf("%w: %s answered 304 to an unconditional request", ErrProtocol, op)
		}
	}

	if resp.ok() {
		cacheTotal.WithLabelValues("miss").Inc()
	}
	return resp, zero, false, nil
}
