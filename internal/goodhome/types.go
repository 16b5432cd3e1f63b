package goodhome

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Known keys of the vendor state map. The backend sends more than these and
// unknown keys are kept as-is.
const (
	KeyCurrentTemp          = "currentTemp"          // measured room temperature, °C
	KeyTargetTemp           = "targetTemp"           // effective setpoint, °C
	KeyTargetMode           = "targetMode"           // TargetMode code
	KeyHumidity             = "humidity"             // relative humidity, %
	KeyEcoTemp              = "ecoTemp"              // eco setpoint, °C
	KeyComfortTemp          = "comfTemp"             // comfort setpoint, °C
	KeyAntifreezeTemp       = "antifTemp"            // antifreeze setpoint, °C
	KeyOverrideTemp         = "overrideTemp"         // override setpoint, °C
	KeyOverrideTime         = "overrideTime"         // override expiry
	KeyDutyCycle            = "dutyCycle"            // heating element duty cycle, %
	KeyWindow               = "window"               // open window detection enabled
	KeyWindowTimeout        = "windowTimeOut"        // open window timeout, minutes
	KeyOccupancy            = "occupancyStatus"      // presence sensor enabled
	KeySelfLearning         = "selfLearning"         // self learning enabled
	KeySelfLearningImprove  = "selfLearningImprove"  // self learning is improving
	KeySelfLearningCountDay = "selfLearningCountDay" // days of learning
	KeyNoProg               = "noprog"               // manual mode (no schedule)
	KeyFaultSystem          = "faultSystem"          // fault code, 0 when healthy
	KeyFirmwareVersion      = "fwVer"
	KeyHardwareVersion      = "HwVer"
	KeyCodeName             = "codeName"
	KeyRoomName             = "roomName"
	KeyPing                 = "ping"
)

// State is the open key/value map reported by a thermostat
type State map[string]any

// Device is the normalized vendor device record
type Device struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
	State     State  `json:"state"`
}

// Clone returns a copy whose state map can be modified independently
func (d Device) Clone() Device {
	state := make(State, len(d.State))
	for k, v := range d.State {
		state[k] = v
	}
	d.State = state
	return d
}

// Value returns the raw value stored under key
func (s State) Value(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Float returns key as a number. Numeric strings are accepted.
func (s State) Float(key string) (float64, bool) {
	v, ok := s.Value(key)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Int returns key as an integer. Non-integral numbers are rejected.
func (s State) Int(key string) (int, bool) {
	f, ok := s.Float(key)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// Bool returns key as a boolean using the vendor's loose encoding:
// true, 1, "1" and "true" are on.
func (s State) Bool(key string) (bool, bool) {
	v, ok := s.Value(key)
	if !ok {
		return false, false
	}
	return NormalizeBool(v), true
}

// String returns key formatted as a string
func (s State) String(key string) (string, bool) {
	v, ok := s.Value(key)
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// NormalizeBool maps the vendor's boolean encodings onto a Go bool
func NormalizeBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t == 1
	case int:
		return t == 1
	case json.Number:
		return t.String() == "1"
	case string:
		return t == "1" || strings.EqualFold(t, "true")
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

// wireDevice is a device as sent by the vendor API
type wireDevice struct {
	ID        string         `json:"_id"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Connected *bool          `json:"connected"`
	State     map[string]any `json:"state"`
}

type wireDeviceList struct {
	Devices []wireDevice `json:"devices"`
}

func (w wireDevice) normalize() Device {
	d := Device{
		ID:    w.ID,
		Name:  w.Name,
		Type:  w.Type,
		State: State(w.State),
	}
	if w.Connected != nil {
		d.Connected = *w.Connected
	}
	if d.State == nil {
		d.State = State{}
	}
	return d
}
