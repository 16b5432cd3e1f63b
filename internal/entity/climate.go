package entity

import (
	"context"
	"fmt"

	"goodhome/internal/confirm"
	"goodhome/internal/goodhome"
)

// HVAC modes offered by the climate entity
const (
	HVACHeat = "heat"
	HVACOff  = "off"
)

// Climate command fields
const (
	FieldTemperature = "temperature"
	FieldHVACMode    = "hvac_mode"
	FieldPreset      = "preset_mode"
)

// Temperature bands used to color the setpoint
const (
	coldLimit   = 12.5
	mediumLimit = 19.5
)

// Climate is the thermostat itself
type Climate struct {
	base
	writer Writer

	temperature *confirm.Controller[float64]
	hvac        *confirm.Controller[string]
	preset      *confirm.Controller[string]
}

func newClimate(env Env, d goodhome.Device) *Climate {
	b := newBase(env, d, PlatformClimate, "goodhome_climate_"+d.ID, d.Name)
	return &Climate{
		base:        b,
		writer:      env.Writer,
		temperature: newController[float64](env, b, FieldTemperature, env.policy(confirm.AssumeSuccess, true)),
		hvac:        newController[string](env, b, FieldHVACMode, env.policy(confirm.AssumeSuccess, false)),
		preset:      newController[string](env, b, FieldPreset, env.policy(confirm.AssumeSuccess, false)),
	}
}

// mode reads targetMode, treating a missing value as manual comfort
func (c *Climate) mode(s goodhome.State) goodhome.TargetMode {
	code, ok := s.Int(goodhome.KeyTargetMode)
	if !ok {
		return goodhome.ModeManualComfort
	}
	return goodhome.TargetMode(code)
}

// CurrentTemperature is the measured room temperature
func (c *Climate) CurrentTemperature() (float64, bool) {
	return c.state().Float(goodhome.KeyCurrentTemp)
}

// CurrentHumidity is the measured relative humidity
func (c *Climate) CurrentHumidity() (float64, bool) {
	return c.state().Float(goodhome.KeyHumidity)
}

// TargetTemperature is the pending setpoint, or the reported one
func (c *Climate) TargetTemperature() (float64, bool) {
	if v, ok := c.temperature.Tentative(); ok {
		return v, true
	}
	return c.state().Float(goodhome.KeyTargetTemp)
}

// HVACMode is off for the default and antifreeze modes and heat otherwise,
// including when the device is missing from the snapshot.
func (c *Climate) HVACMode() string {
	if v, ok := c.hvac.Tentative(); ok {
		return v
	}
	d, ok := c.device()
	if !ok {
		return HVACHeat
	}
	if c.mode(d.State).Off() {
		return HVACOff
	}
	return HVACHeat
}

// PresetMode maps targetMode onto comfort, eco, manual or away
func (c *Climate) PresetMode() string {
	if v, ok := c.preset.Tentative(); ok {
		return v
	}
	d, ok := c.device()
	if !ok {
		return goodhome.PresetManual
	}
	return c.mode(d.State).Preset()
}

// State is the hvac mode
func (c *Climate) State() any {
	return c.HVACMode()
}

// Attributes returns the vendor details of the thermostat
func (c *Climate) Attributes() map[string]any {
	d, ok := c.device()
	if !ok {
		return map[string]any{}
	}
	s := d.State

	target, ok := s.Float(goodhome.KeyTargetTemp)
	if !ok {
		target = 20
	}
	tempRange, tempColor := "hot", "#FF5722"
	switch {
	case target <= coldLimit:
		tempRange, tempColor = "cold", "#2196F3"
	case target <= mediumLimit:
		tempRange, tempColor = "medium", "#4CAF50"
	}

	code, ok := s.Int(goodhome.KeyTargetMode)
	if !ok {
		code = int(goodhome.ModeDefault)
	}
	var ecoReason any
	if reason := goodhome.TargetMode(code).EcoReason(); reason != "" {
		ecoReason = reason
	}

	windowOpen, _ := s.Bool(goodhome.KeyWindow)
	occupancy, _ := s.Bool(goodhome.KeyOccupancy)

	attrs := map[string]any{
		"humidity":               raw(s, goodhome.KeyHumidity),
		"window_open":            windowOpen,
		"occupancy":              occupancy,
		"duty_cycle":             raw(s, goodhome.KeyDutyCycle),
		"eco_temperature":        raw(s, goodhome.KeyEcoTemp),
		"comfort_temperature":    raw(s, goodhome.KeyComfortTemp),
		"antifreeze_temperature": raw(s, goodhome.KeyAntifreezeTemp),
		"override_temperature":   raw(s, goodhome.KeyOverrideTemp),
		"override_time":          raw(s, goodhome.KeyOverrideTime),
		"self_learning":          raw(s, goodhome.KeySelfLearning),
		"self_learning_improve":  raw(s, goodhome.KeySelfLearningImprove),
		"self_learning_days":     raw(s, goodhome.KeySelfLearningCountDay),
		"eco_reason":             ecoReason,
		"firmware_version":       raw(s, goodhome.KeyFirmwareVersion),
		"hardware_version":       raw(s, goodhome.KeyHardwareVersion),
		"code_name":              raw(s, goodhome.KeyCodeName),
		"room_name":              raw(s, goodhome.KeyRoomName),
		"window_timeout":         raw(s, goodhome.KeyWindowTimeout),
		"fault_system":           raw(s, goodhome.KeyFaultSystem),
		"temperature_range":      tempRange,
		"temperature_color":      tempColor,
	}
	return attrs
}

// SetTemperature shows celsius at once and writes it after the debounce
// window. Only the last value of a burst is sent.
func (c *Climate) SetTemperature(celsius float64) (string, error) {
	if err := checkRange(celsius); err != nil {
		return "", err
	}
	id := c.temperature.Submit(celsius, confirm.Action{
		Dispatch: func(ctx context.Context) bool {
			return c.writer.SetTemperature(ctx, c.deviceID, celsius)
		},
		Match: confirm.TemperatureMatch(goodhome.KeyTargetTemp, celsius),
	})
	return id, nil
}

// SetHVACMode writes manual antifreeze for off and manual comfort for heat
func (c *Climate) SetHVACMode(mode string) (string, error) {
	var code goodhome.TargetMode
	switch mode {
	case HVACOff:
		code = goodhome.ModeManualAntifreeze
	case HVACHeat:
		code = goodhome.ModeManualComfort
	default:
		return "", fmt.Errorf("%w: hvac mode %q", ErrUnknownOption, mode)
	}
	return c.hvac.Submit(mode, c.modeAction(code)), nil
}

// SetPresetMode writes the mode code of preset. Unknown presets write
// manual comfort.
func (c *Climate) SetPresetMode(preset string) (string, error) {
	return c.preset.Submit(preset, c.modeAction(goodhome.PresetMode(preset))), nil
}

func (c *Climate) modeAction(code goodhome.TargetMode) confirm.Action {
	return confirm.Action{
		Dispatch: func(ctx context.Context) bool {
			return c.writer.SetMode(ctx, c.deviceID, code)
		},
		Match: confirm.CodeMatch(goodhome.KeyTargetMode, int(code)),
	}
}

// Command routes a write to the temperature, hvac mode or preset
func (c *Climate) Command(_ context.Context, field string, value any) (string, error) {
	switch field {
	case FieldTemperature:
		v, err := parseFloat(value)
		if err != nil {
			return "", err
		}
		return c.SetTemperature(v)
	case FieldHVACMode, "":
		s, err := parseString(value)
		if err != nil {
			return "", err
		}
		return c.SetHVACMode(s)
	case FieldPreset:
		s, err := parseString(value)
		if err != nil {
			return "", err
		}
		return c.SetPresetMode(s)
	}
	return "", fmt.Errorf("%w: climate field %q", ErrUnknownOption, field)
}

// Pending returns the tentative values by field
func (c *Climate) Pending() map[string]any {
	out := make(map[string]any)
	if v, ok := c.temperature.Tentative(); ok {
		out[FieldTemperature] = v
	}
	if v, ok := c.hvac.Tentative(); ok {
		out[FieldHVACMode] = v
	}
	if v, ok := c.preset.Tentative(); ok {
		out[FieldPreset] = v
	}
	return out
}

// Close stops the confirmation cycles
func (c *Climate) Close() {
	c.temperature.Close()
	c.hvac.Close()
	c.preset.Close()
}
