package entity

import (
	"goodhome/internal/goodhome"
)

// SensorSpec describes one numeric sensor
type SensorSpec struct {
	Kind        string
	Name        string
	Key         string
	Unit        string
	DeviceClass string
	StateClass  string
}

// Sensors lists the numeric sensors created for every thermostat
var Sensors = []SensorSpec{
	{"temperature", "Temperature", goodhome.KeyCurrentTemp, "°C", "temperature", "measurement"},
	{"target_temperature", "Target Temperature", goodhome.KeyTargetTemp, "°C", "temperature", "measurement"},
	{"humidity", "Humidity", goodhome.KeyHumidity, "%", "humidity", "measurement"},
	{"eco_temp", "Eco Temperature", goodhome.KeyEcoTemp, "°C", "temperature", ""},
	{"comfort_temp", "Comfort Temperature", goodhome.KeyComfortTemp, "°C", "temperature", ""},
	{"duty_cycle", "Duty Cycle", goodhome.KeyDutyCycle, "%", "power_factor", "measurement"},
}

// Sensor reads one numeric state key
type Sensor struct {
	base
	spec SensorSpec
}

func newSensor(env Env, d goodhome.Device, spec SensorSpec) *Sensor {
	return &Sensor{
		base: newBase(env, d, PlatformSensor, "goodhome_"+d.ID+"_"+spec.Kind, d.Name+" "+spec.Name),
		spec: spec,
	}
}

// Spec returns the sensor description
func (s *Sensor) Spec() SensorSpec {
	return s.spec
}

// State is the raw reported value, or nil when missing
func (s *Sensor) State() any {
	return raw(s.state(), s.spec.Key)
}

// Attributes returns the thermostat details shared by all sensors
func (s *Sensor) Attributes() map[string]any {
	d, ok := s.device()
	if !ok {
		return map[string]any{}
	}
	st := d.State
	return map[string]any{
		"firmware_version":      raw(st, goodhome.KeyFirmwareVersion),
		"hardware_version":      raw(st, goodhome.KeyHardwareVersion),
		"code_name":             raw(st, goodhome.KeyCodeName),
		"room_name":             raw(st, goodhome.KeyRoomName),
		"self_learning":         raw(st, goodhome.KeySelfLearning),
		"self_learning_improve": raw(st, goodhome.KeySelfLearningImprove),
		"self_learning_days":    raw(st, goodhome.KeySelfLearningCountDay),
		"antifreeze_temp":       raw(st, goodhome.KeyAntifreezeTemp),
		"override_temp":         raw(st, goodhome.KeyOverrideTemp),
		"override_time":         raw(st, goodhome.KeyOverrideTime),
		"window_timeout":        raw(st, goodhome.KeyWindowTimeout),
		"fault_system":          raw(st, goodhome.KeyFaultSystem),
	}
}

// PowerSensor estimates the heater draw from the duty cycle and the
// configured rating of the device
type PowerSensor struct {
	base
	ratedWatts float64
}

func newPowerSensor(env Env, d goodhome.Device, ratedWatts float64) *PowerSensor {
	return &PowerSensor{
		base:       newBase(env, d, PlatformSensor, "goodhome_"+d.ID+"_power", d.Name+" Power"),
		ratedWatts: ratedWatts,
	}
}

// Spec returns the sensor description
func (p *PowerSensor) Spec() SensorSpec {
	return SensorSpec{Kind: "power", Name: "Power", Key: goodhome.KeyDutyCycle, Unit: "W", DeviceClass: "power", StateClass: "measurement"}
}

// Watts is dutyCycle percent of the rated power
func (p *PowerSensor) Watts() (float64, bool) {
	duty, ok := p.state().Float(goodhome.KeyDutyCycle)
	if !ok {
		return 0, false
	}
	return duty * p.ratedWatts / 100, true
}

// State is the estimated power in watts, or nil without a duty cycle
func (p *PowerSensor) State() any {
	w, ok := p.Watts()
	if !ok {
		return nil
	}
	return w
}

// Attributes returns the rating used for the estimate
func (p *PowerSensor) Attributes() map[string]any {
	return map[string]any{
		"rated_power_watts": p.ratedWatts,
		"duty_cycle":        raw(p.state(), goodhome.KeyDutyCycle),
	}
}

// Binary sensor kinds
const (
	BinaryConnectivity        = "connectivity"
	BinarySelfLearningImprove = "self_learning_improve"
	BinaryProblem             = "problem"
)

// BinarySensor reports connectivity, self learning progress or a fault
type BinarySensor struct {
	base
	kind        string
	deviceClass string
}

func newBinarySensor(env Env, d goodhome.Device, kind, name, deviceClass string) *BinarySensor {
	return &BinarySensor{
		base:        newBase(env, d, PlatformBinarySensor, "goodhome_"+d.ID+"_"+kind, d.Name+" "+name),
		kind:        kind,
		deviceClass: deviceClass,
	}
}

// Kind returns the binary sensor kind
func (b *BinarySensor) Kind() string {
	return b.kind
}

// DeviceClass returns the Home Assistant device class, "" for none
func (b *BinarySensor) DeviceClass() string {
	return b.deviceClass
}

// Available is always true for connectivity, so an offline thermostat
// still reports itself as disconnected.
func (b *BinarySensor) Available() bool {
	if b.kind == BinaryConnectivity {
		return true
	}
	return b.base.Available()
}

// IsOn evaluates the sensor against the snapshot
func (b *BinarySensor) IsOn() bool {
	d, ok := b.device()
	if !ok {
		return false
	}
	switch b.kind {
	case BinaryConnectivity:
		return d.Connected
	case BinarySelfLearningImprove:
		on, _ := d.State.Bool(goodhome.KeySelfLearningImprove)
		return on
	case BinaryProblem:
		fault, ok := d.State.Float(goodhome.KeyFaultSystem)
		return ok && fault != 0
	}
	return false
}

// State is the on/off value
func (b *BinarySensor) State() any {
	return b.IsOn()
}

// Attributes returns the context of the self learning and problem sensors
func (b *BinarySensor) Attributes() map[string]any {
	d, ok := b.device()
	if !ok {
		return map[string]any{}
	}
	switch b.kind {
	case BinarySelfLearningImprove:
		enabled, _ := d.State.Bool(goodhome.KeySelfLearning)
		return map[string]any{
			"self_learning_days":    raw(d.State, goodhome.KeySelfLearningCountDay),
			"self_learning_enabled": enabled,
		}
	case BinaryProblem:
		return map[string]any{"fault_code": raw(d.State, goodhome.KeyFaultSystem)}
	}
	return map[string]any{}
}
