package entity

import "goodhome/internal/goodhome"

// Build creates every entity of every device, grouped per device in the
// order climate, sensors, binary sensors, switches, numbers, select, button.
func Build(env Env, devices []goodhome.Device) []Entity {
	var out []Entity
	for _, d := range devices {
		out = append(out, BuildDevice(env, d)...)
	}
	return out
}

// BuildDevice creates the entities of one device
func BuildDevice(env Env, d goodhome.Device) []Entity {
	out := []Entity{newClimate(env, d)}
	for _, spec := range Sensors {
		out = append(out, newSensor(env, d, spec))
	}
	if watts, ok := env.RatedPower[d.ID]; ok && watts > 0 {
		out = append(out, newPowerSensor(env, d, watts))
	}
	out = append(out,
		newBinarySensor(env, d, BinaryConnectivity, "Connectivity", "connectivity"),
		newBinarySensor(env, d, BinarySelfLearningImprove, "Self Learning Improve", ""),
		newBinarySensor(env, d, BinaryProblem, "Problem", "problem"),
	)
	for _, spec := range Switches {
		out = append(out, newSwitch(env, d, spec))
	}
	for _, spec := range Numbers {
		out = append(out, newNumber(env, d, spec))
	}
	out = append(out, newModeSelect(env, d), newIdentifyButton(env, d))
	return out
}
