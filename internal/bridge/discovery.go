package bridge

import (
	"goodhome/internal/entity"
	"goodhome/internal/goodhome"
)

// Availability is one entry of the discovery availability list
type Availability struct {
	Topic string `json:"topic"`
}

// Device groups entities in the Home Assistant device registry
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// Origin names the software publishing discovery messages
type Origin struct {
	Name string `json:"name"`
}

// DiscoveryConfig is the retained payload of an entity config topic
type DiscoveryConfig struct {
	Name                string         `json:"name"`
	UniqueID            string         `json:"unique_id"`
	ObjectID            string         `json:"object_id,omitempty"`
	Device              Device         `json:"device"`
	Origin              Origin         `json:"origin"`
	Availability        []Availability `json:"availability"`
	AvailabilityMode    string         `json:"availability_mode"`
	JSONAttributesTopic string         `json:"json_attributes_topic"`
	Icon                string         `json:"icon,omitempty"`

	StateTopic        string `json:"state_topic,omitempty"`
	CommandTopic      string `json:"command_topic,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`
	StateClass        string `json:"state_class,omitempty"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
	PayloadOn         string `json:"payload_on,omitempty"`
	PayloadOff        string `json:"payload_off,omitempty"`
	PayloadPress      string `json:"payload_press,omitempty"`

	// select
	Options []string `json:"options,omitempty"`

	// number
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Step *float64 `json:"step,omitempty"`
	Mode string   `json:"mode,omitempty"`

	// climate
	Modes                   []string `json:"modes,omitempty"`
	PresetModes             []string `json:"preset_modes,omitempty"`
	ModeStateTopic          string   `json:"mode_state_topic,omitempty"`
	ModeStateTemplate       string   `json:"mode_state_template,omitempty"`
	ModeCommandTopic        string   `json:"mode_command_topic,omitempty"`
	PresetModeStateTopic    string   `json:"preset_mode_state_topic,omitempty"`
	PresetModeValueTemplate string   `json:"preset_mode_value_template,omitempty"`
	PresetModeCommandTopic  string   `json:"preset_mode_command_topic,omitempty"`
	TemperatureStateTopic   string   `json:"temperature_state_topic,omitempty"`
	TemperatureStateTmpl    string   `json:"temperature_state_template,omitempty"`
	TemperatureCommandTopic string   `json:"temperature_command_topic,omitempty"`
	CurrentTemperatureTopic string   `json:"current_temperature_topic,omitempty"`
	CurrentTemperatureTmpl  string   `json:"current_temperature_template,omitempty"`
	CurrentHumidityTopic    string   `json:"current_humidity_topic,omitempty"`
	CurrentHumidityTmpl     string   `json:"current_humidity_template,omitempty"`
	MinTemp                 *float64 `json:"min_temp,omitempty"`
	MaxTemp                 *float64 `json:"max_temp,omitempty"`
	TempStep                *float64 `json:"temp_step,omitempty"`
	TemperatureUnit         string   `json:"temperature_unit,omitempty"`
}

// Binary payloads used by switches and binary sensors
const (
	PayloadOn    = "ON"
	PayloadOff   = "OFF"
	PayloadPress = "PRESS"
)

func float(v float64) *float64 {
	return &v
}

// Discovery builds the config message for e
func Discovery(e entity.Entity, t Topics) DiscoveryConfig {
	uid := e.UniqueID()
	info := e.DeviceInfo()
	identifiers := make([]string, 0, len(info.Identifiers))
	for _, id := range info.Identifiers {
		identifiers = append(identifiers, id[0]+"_"+id[1])
	}

	cfg := DiscoveryConfig{
		Name:     e.Name(),
		UniqueID: uid,
		ObjectID: uid,
		Device: Device{
			Identifiers:  identifiers,
			Name:         info.Name,
			Manufacturer: info.Manufacturer,
			Model:        info.Model,
		},
		Origin: Origin{Name: "goodhome-bridge"},
		Availability: []Availability{
			{Topic: t.Status()},
			{Topic: t.Availability(uid)},
		},
		AvailabilityMode:    "all",
		JSONAttributesTopic: t.Attributes(uid),
		StateTopic:          t.State(uid),
	}

	switch v := e.(type) {
	case *entity.Climate:
		state := t.State(uid)
		cfg.StateTopic = ""
		cfg.Modes = []string{entity.HVACHeat, entity.HVACOff}
		cfg.PresetModes = goodhome.Presets()
		cfg.ModeStateTopic = state
		cfg.ModeStateTemplate = "{{ value_json.hvac_mode }}"
		cfg.ModeCommandTopic = t.ClimateCommand(uid, "mode")
		cfg.PresetModeStateTopic = state
		cfg.PresetModeValueTemplate = "{{ value_json.preset_mode }}"
		cfg.PresetModeCommandTopic = t.ClimateCommand(uid, "preset")
		cfg.TemperatureStateTopic = state
		cfg.TemperatureStateTmpl = "{{ value_json.temperature }}"
		cfg.TemperatureCommandTopic = t.ClimateCommand(uid, "temperature")
		cfg.CurrentTemperatureTopic = state
		cfg.CurrentTemperatureTmpl = "{{ value_json.current_temperature }}"
		cfg.CurrentHumidityTopic = state
		cfg.CurrentHumidityTmpl = "{{ value_json.current_humidity }}"
		cfg.MinTemp = float(entity.MinTemp)
		cfg.MaxTemp = float(entity.MaxTemp)
		cfg.TempStep = float(entity.TempStep)
		cfg.TemperatureUnit = "C"
	case *entity.Sensor:
		spec := v.Spec()
		cfg.DeviceClass = spec.DeviceClass
		cfg.StateClass = spec.StateClass
		cfg.UnitOfMeasurement = spec.Unit
	case *entity.PowerSensor:
		spec := v.Spec()
		cfg.DeviceClass = spec.DeviceClass
		cfg.StateClass = spec.StateClass
		cfg.UnitOfMeasurement = spec.Unit
	case *entity.BinarySensor:
		cfg.DeviceClass = v.DeviceClass()
		cfg.PayloadOn = PayloadOn
		cfg.PayloadOff = PayloadOff
	case *entity.Switch:
		cfg.Icon = v.Spec().Icon
		cfg.CommandTopic = t.Command(uid)
		cfg.PayloadOn = PayloadOn
		cfg.PayloadOff = PayloadOff
	case *entity.Number:
		cfg.Icon = v.Spec().Icon
		cfg.CommandTopic = t.Command(uid)
		cfg.DeviceClass = "temperature"
		cfg.UnitOfMeasurement = "°C"
		cfg.Min = float(entity.MinTemp)
		cfg.Max = float(entity.MaxTemp)
		cfg.Step = float(entity.TempStep)
		cfg.Mode = "box"
	case *entity.ModeSelect:
		cfg.Icon = "mdi:thermostat"
		cfg.CommandTopic = t.Command(uid)
		cfg.Options = v.Options()
	case *entity.IdentifyButton:
		cfg.StateTopic = ""
		cfg.Icon = "mdi:lightbulb-on"
		cfg.CommandTopic = t.Command(uid)
		cfg.PayloadPress = PayloadPress
		cfg.DeviceClass = "identify"
	}
	return cfg
}
