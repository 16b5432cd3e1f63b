package goodhome

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

type statePatch struct {
	Parameters map[string]any `json:"parameters"`
}

// SetTemperature sets an override temperature. The vendor models this as a
// joint write of the override setpoint and the override mode.
func (c *Client) SetTemperature(ctx context.Context, deviceID string, celsius float64) bool {
	return c.dispatch(ctx, "set_temperature", deviceID, map[string]any{
		KeyOverrideTemp: celsius,
		KeyTargetMode:   int(ModeOverride),
	}, true)
}

// SetMode writes a targetMode code
func (c *Client) SetMode(ctx context.Context, deviceID string, mode TargetMode) bool {
	return c.dispatch(ctx, "set_mode", deviceID, map[string]any{
		KeyTargetMode: int(mode),
	}, true)
}

// SetParameter writes one state parameter. The value is sent as-is: booleans
// stay JSON booleans and numbers stay numbers.
func (c *Client) SetParameter(ctx context.Context, deviceID, name string, value any) bool {
	return c.dispatch(ctx, "set_parameter", deviceID, map[string]any{
		name: value,
	}, true)
}

// IdentifyDevice makes the thermostat beep
func (c *Client) IdentifyDevice(ctx context.Context, deviceID string) bool {
	return c.dispatch(ctx, "identify", deviceID, map[string]any{
		KeyPing: 1,
	}, false)
}

func (c *Client) dispatch(ctx context.Context, command, deviceID string, params map[string]any, invalidate bool) bool {
	err := c.patchState(ctx, command, deviceID, params, invalidate)
	commandTotal.WithLabelValues(command, resultLabel(err == nil)).Inc()
	if err != nil {
		c.logger.Error("Failed to write device state",
			zap.String("command", command),
			zap.String("device_id", deviceID),
			zap.Any("parameters", params),
			zap.String("failure", failureClass(err)),
			zap.Error(err))
		return false
	}
	c.logger.Info("Wrote device state",
		zap.String("command", command),
		zap.String("device_id", deviceID),
		zap.Any("parameters", params))
	return true
}

func (c *Client) patchHeaders() http.Header {
	h := c.apiHeaders()
	h.Set("content-type", "application/json")
	return h
}

// patchState sends a state write with the session precondition and a single
// 401-triggered retry. The device's cache entry is dropped as soon as each
// exchange returns, before its status is looked at.
func (c *Client) patchState(ctx context.Context, command, deviceID string, params map[string]any, invalidate bool) error {
	if err := c.handshake(ctx); err != nil {
		return err
	}

	path := "/v1/devices/" + url.PathEscape(deviceID) + "/state"
	payload := statePatch{Parameters: params}

	send := func() (*response, error) {
		resp, err := c.send(ctx, command, http.MethodPatch, path, c.patchHeaders(), payload)
		if invalidate {
			c.deviceCache.Invalidate(DeviceKey(deviceID))
		}
		return resp, err
	}

	resp, err := send()
	if err != nil {
		return err
	}

	if resp.status == http.StatusUnauthorized {
		if err := c.reauthenticate(ctx, command); err != nil {
			return err
		}
		resp, err = send()
		if err != nil {
			return err
		}
		if resp.status == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s still unauthorized after refresh", ErrAuthFailure, command)
		}
	}

	if !resp.ok() {
		return fmt.Errorf("%w: %s: %w", ErrProtocol, command, resp.statusError())
	}
	return nil
}
