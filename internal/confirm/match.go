package confirm

import (
	"math"

	"goodhome/internal/goodhome"
)

// TemperatureTolerance is how close a reported temperature must be to count
const TemperatureTolerance = 0.1

// TemperatureMatch matches when key is within TemperatureTolerance of want
func TemperatureMatch(key string, want float64) func(goodhome.Device) bool {
	return func(d goodhome.Device) bool {
		got, ok := d.State.Float(key)
		return ok && math.Abs(got-want) < TemperatureTolerance
	}
}

// CodeMatch matches when key holds the integer code
func CodeMatch(key string, code int) func(goodhome.Device) bool {
	return func(d goodhome.Device) bool {
		got, ok := d.State.Int(key)
		return ok && got == code
	}
}

// BoolMatch matches when key, read with the vendor's boolean encoding, is want
func BoolMatch(key string, want bool) func(goodhome.Device) bool {
	return func(d goodhome.Device) bool {
		got, ok := d.State.Bool(key)
		return ok && got == want
	}
}
