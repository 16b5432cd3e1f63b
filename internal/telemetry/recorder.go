package telemetry

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"goodhome/internal/clock"
	"goodhome/internal/goodhome"
)

// Measurement is the InfluxDB measurement of thermostat points
const Measurement = "thermostat"

// PointWriter queues points without blocking
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Recorder turns coordinator updates into points
type Recorder struct {
	writer     PointWriter
	ratedPower map[string]float64
	clock      clock.Clock
	logger     *zap.Logger
}

// NewRecorder creates a recorder. ratedPower adds power_watts for the
// devices it names.
func NewRecorder(w PointWriter, ratedPower map[string]float64, clk clock.Clock, logger *zap.Logger) *Recorder {
	return &Recorder{writer: w, ratedPower: ratedPower, clock: clk, logger: logger}
}

// OnRefresh writes one point per device, for coordinator.Subscribe
func (r *Recorder) OnRefresh(devices []goodhome.Device) {
	now := r.clock.Now()
	for _, d := range devices {
		r.writer.WritePoint(write.NewPoint(Measurement, Tags(d), Fields(d, r.ratedPower[d.ID]), now))
	}
	r.logger.Debug("Telemetry points queued", zap.Int("devices", len(devices)))
}

// Tags returns the indexed values of a device point
func Tags(d goodhome.Device) map[string]string {
	return map[string]string{
		"device_id": d.ID,
		"name":      d.Name,
	}
}

// Fields returns the readings of d. Missing readings are left out.
// ratedWatts above zero adds the estimated heater draw.
func Fields(d goodhome.Device, ratedWatts float64) map[string]any {
	fields := map[string]any{"connected": d.Connected}
	for _, key := range []string{goodhome.KeyCurrentTemp, goodhome.KeyTargetTemp, goodhome.KeyHumidity, goodhome.KeyDutyCycle} {
		if v, ok := d.State.Float(key); ok {
			fields[key] = v
		}
	}
	if mode, ok := d.State.Int(goodhome.KeyTargetMode); ok {
		fields[goodhome.KeyTargetMode] = mode
	}
	if duty, ok := d.State.Float(goodhome.KeyDutyCycle); ok && ratedWatts > 0 {
		fields["power_watts"] = duty * ratedWatts / 100
	}
	return fields
}
