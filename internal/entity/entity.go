// Package entity projects vendor devices onto Home Assistant style
// entities: climate, sensors, binary sensors, switches, numbers, a mode
// select and an identify button. Entities hold no device state of their
// own; they read the coordinator's snapshot on every call. Writable
// entities add a tentative value on top until the write is confirmed.
package entity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"goodhome/internal/clock"
	"goodhome/internal/confirm"
	"goodhome/internal/goodhome"
)

// Platform is the Home Assistant entity domain
type Platform string

const (
	PlatformClimate      Platform = "climate"
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
	PlatformSwitch       Platform = "switch"
	PlatformNumber       Platform = "number"
	PlatformSelect       Platform = "select"
	PlatformButton       Platform = "button"
)

// Temperature limits shared by the climate setpoint and the number entities
const (
	MinTemp  = 7.0
	MaxTemp  = 30.0
	TempStep = 0.5
)

var (
	// ErrOutOfRange is returned for setpoints outside MinTemp..MaxTemp
	ErrOutOfRange = errors.New("value out of range")

	// ErrUnknownOption is returned for modes, presets and options the entity does not offer
	ErrUnknownOption = errors.New("unknown option")

	// ErrInvalidValue is returned when a command value cannot be parsed
	ErrInvalidValue = errors.New("invalid value")

	// ErrCommandFailed is returned when a synchronous command was rejected
	ErrCommandFailed = errors.New("command failed")
)

// Entity is a read-only view of one device aspect
type Entity interface {
	UniqueID() string
	Name() string
	Platform() Platform
	DeviceID() string
	DeviceInfo() DeviceInfo
	Available() bool
	State() any
	Attributes() map[string]any
}

// Commander is implemented by entities that accept writes. field selects
// the attribute for entities with several ("" is the main one). The returned
// id correlates the command with its confirmation events.
type Commander interface {
	Command(ctx context.Context, field string, value any) (string, error)
}

// Pender exposes tentative values still waiting for confirmation
type Pender interface {
	Pending() map[string]any
}

// Reconciler clears kept tentative values once the snapshot reports them
type Reconciler interface {
	Reconcile()
}

// Closer stops any background confirmation work
type Closer interface {
	Close()
}

// DeviceInfo groups the entities of one thermostat
type DeviceInfo struct {
	Identifiers  [][2]string `json:"identifiers"`
	Name         string      `json:"name"`
	Manufacturer string      `json:"manufacturer"`
	Model        string      `json:"model"`
}

func deviceInfo(d goodhome.Device) DeviceInfo {
	return DeviceInfo{
		Identifiers:  [][2]string{{"goodhome", d.ID}},
		Name:         d.Name,
		Manufacturer: "GoodHome",
		Model:        "Thermostat",
	}
}

// Source is the coordinator as seen by the entities
type Source interface {
	confirm.Refresher
}

// Writer is the vendor client as seen by the entities
type Writer interface {
	SetTemperature(ctx context.Context, deviceID string, celsius float64) bool
	SetMode(ctx context.Context, deviceID string, mode goodhome.TargetMode) bool
	SetParameter(ctx context.Context, deviceID, name string, value any) bool
	IdentifyDevice(ctx context.Context, deviceID string) bool
}

// Env carries what entities need to read and write
type Env struct {
	Source    Source
	Writer    Writer
	Clock     clock.Clock
	Logger    *zap.Logger
	Observers []confirm.Observer

	// Policy tunes the confirmation cycle. OnTimeout is chosen per entity
	// and Debounce only applies to the climate setpoint.
	Policy confirm.Policy

	// RatedPower maps device ids to heater wattage for the power sensor
	RatedPower map[string]float64
}

func (e Env) policy(onTimeout confirm.TimeoutAction, debounce bool) confirm.Policy {
	p := e.Policy
	p.OnTimeout = onTimeout
	if !debounce {
		p.Debounce = 0
	} else if p.Debounce <= 0 {
		p.Debounce = confirm.DefaultDebounce
	}
	return p
}

// base carries identity and the snapshot lookup shared by every entity
type base struct {
	uniqueID string
	name     string
	platform Platform
	deviceID string
	info     DeviceInfo
	source   Source
}

func newBase(env Env, d goodhome.Device, platform Platform, uniqueID, name string) base {
	return base{
		uniqueID: uniqueID,
		name:     name,
		platform: platform,
		deviceID: d.ID,
		info:     deviceInfo(d),
		source:   env.Source,
	}
}

func (b base) UniqueID() string       { return b.uniqueID }
func (b base) Name() string           { return b.name }
func (b base) Platform() Platform     { return b.platform }
func (b base) DeviceID() string       { return b.deviceID }
func (b base) DeviceInfo() DeviceInfo { return b.info }

func (b base) device() (goodhome.Device, bool) {
	return b.source.Device(b.deviceID)
}

// state returns the device state, empty when the device is gone
func (b base) state() goodhome.State {
	d, ok := b.device()
	if !ok {
		return goodhome.State{}
	}
	return d.State
}

// Available is the device's connectivity
func (b base) Available() bool {
	d, ok := b.device()
	return ok && d.Connected
}

// raw returns key or nil, for attribute maps
func raw(s goodhome.State, key string) any {
	v, _ := s.Value(key)
	return v
}

func parseFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, t)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: %v is not a number", ErrInvalidValue, v)
}

func parseBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case float64:
		return t == 1, nil
	case int:
		return t == 1, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "on", "true", "1":
			return true, nil
		case "off", "false", "0":
			return false, nil
		}
		return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, t)
	}
	return false, fmt.Errorf("%w: %v is not a boolean", ErrInvalidValue, v)
}

func parseString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %v is not a string", ErrInvalidValue, v)
	}
	return strings.TrimSpace(s), nil
}

func checkRange(v float64) error {
	if v < MinTemp || v > MaxTemp {
		return fmt.Errorf("%w: %.1f not in %.0f..%.0f", ErrOutOfRange, v, MinTemp, MaxTemp)
	}
	return nil
}

func newController[T any](env Env, b base, kind string, p confirm.Policy) *confirm.Controller[T] {
	return confirm.NewController[T](confirm.Config{
		EntityID: b.uniqueID,
		DeviceID: b.deviceID,
		Kind:     kind,
		Policy:   p,
	}, env.Source, env.Clock, env.Logger, env.Observers...)
}
