package entity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goodhome/internal/clock"
	"goodhome/internal/confirm"
	"goodhome/internal/goodhome"
)

type fakeSource struct {
	mu      sync.Mutex
	devices map[string]goodhome.Device
}

func newFakeSource(devices ...goodhome.Device) *fakeSource {
	f := &fakeSource{devices: make(map[string]goodhome.Device)}
	for _, d := range devices {
		f.devices[d.ID] = d
	}
	return f
}

func (f *fakeSource) Refresh(ctx context.Context) bool { return true }

func (f *fakeSource) Device(id string) (goodhome.Device, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[id]
	if !ok {
		return goodhome.Device{}, false
	}
	return d.Clone(), true
}

func (f *fakeSource) set(id, key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.devices[id].Clone()
	d.State[key] = value
	f.devices[id] = d
}

type call struct {
	method string
	params map[string]any
}

// fakeWriter records writes and, when apply is set, reflects them in the source
type fakeWriter struct {
	mu     sync.Mutex
	calls  []call
	source *fakeSource
	apply  bool
	fail   bool
}

func (w *fakeWriter) record(method, deviceID string, params map[string]any) bool {
	w.mu.Lock()
	w.calls = append(w.calls, call{method, params})
	apply, fail := w.apply, w.fail
	w.mu.Unlock()
	if fail {
		return false
	}
	if apply {
		for k, v := range params {
			w.source.set(deviceID, k, v)
		}
	}
	return true
}

func (w *fakeWriter) SetTemperature(ctx context.Context, id string, c float64) bool {
	return w.record("set_temperature", id, map[string]any{goodhome.KeyTargetTemp: c})
}

func (w *fakeWriter) SetMode(ctx context.Context, id string, m goodhome.TargetMode) bool {
	return w.record("set_mode", id, map[string]any{goodhome.KeyTargetMode: float64(m)})
}

func (w *fakeWriter) SetParameter(ctx context.Context, id, name string, v any) bool {
	return w.record("set_parameter", id, map[string]any{name: v})
}

func (w *fakeWriter) IdentifyDevice(ctx context.Context, id string) bool {
	return w.record("identify", id, nil)
}

func (w *fakeWriter) Calls() []call {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]call(nil), w.calls...)
}

type fixture struct {
	clk    *clock.MockClock
	source *fakeSource
	writer *fakeWriter
	events chan confirm.Event
	env    Env
}

func newFixture(t *testing.T, devices ...goodhome.Device) *fixture {
	t.Helper()
	f := &fixture{
		clk:    clock.NewMockClock(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)),
		source: newFakeSource(devices...),
		events: make(chan confirm.Event, 64),
	}
	f.writer = &fakeWriter{source: f.source}
	f.env = Env{
		Source:    f.source,
		Writer:    f.writer,
		Clock:     f.clk,
		Logger:    zap.NewNop(),
		Observers: []confirm.Observer{confirm.ObserverFunc(func(e confirm.Event) { f.events <- e })},
		Policy:    confirm.DefaultPolicy(confirm.Revert),
	}
	return f
}

// done waits for the next terminal event
func (f *fixture) done(t *testing.T) confirm.Event {
	t.Helper()
	for {
		select {
		case e := <-f.events:
			if e.Terminal() {
				return e
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for command outcome")
			return confirm.Event{}
		}
	}
}

func thermostat(state goodhome.State) goodhome.Device {
	return goodhome.Device{ID: "d1", Name: "Salon", Type: "thermostat", Connected: true, State: state}
}

func find[T Entity](t *testing.T, entities []Entity, uniqueID string) T {
	t.Helper()
	for _, e := range entities {
		if e.UniqueID() == uniqueID {
			typed, ok := e.(T)
			require.True(t, ok, "%s has type %T", uniqueID, e)
			return typed
		}
	}
	t.Fatalf("entity %s not built", uniqueID)
	var zero T
	return zero
}

func TestBuild(t *testing.T) {
	f := newFixture(t, thermostat(goodhome.State{}))
	entities := Build(f.env, []goodhome.Device{thermostat(goodhome.State{})})
	require.Len(t, entities, 19)

	ids := make(map[string]Platform)
	for _, e := range entities {
		ids[e.UniqueID()] = e.Platform()
		assert.Equal(t, "d1", e.DeviceID())
		assert.Equal(t, DeviceInfo{
			Identifiers:  [][2]string{{"goodhome", "d1"}},
			Name:         "Salon",
			Manufacturer: "GoodHome",
			Model:        "Thermostat",
		}, e.DeviceInfo())
	}
	assert.Len(t, ids, 19, "unique ids must not collide")

	assert.Equal(t, PlatformClimate, ids["goodhome_climate_d1"])
	assert.Equal(t, PlatformSensor, ids["goodhome_d1_temperature"])
	assert.Equal(t, PlatformSensor, ids["goodhome_d1_duty_cycle"])
	assert.Equal(t, PlatformBinarySensor, ids["goodhome_d1_connectivity"])
	assert.Equal(t, PlatformBinarySensor, ids["goodhome_d1_problem"])
	assert.Equal(t, PlatformSwitch, ids["goodhome_d1_window"])
	assert.Equal(t, PlatformSwitch, ids["goodhome_d1_noprog"])
	assert.Equal(t, PlatformNumber, ids["goodhome_d1_comfTemp"])
	assert.Equal(t, PlatformSelect, ids["goodhome_target_mode_d1"])
	assert.Equal(t, PlatformButton, ids["goodhome_d1_identify"])

	f.env.RatedPower = map[string]float64{"d1": 1500}
	assert.Len(t, Build(f.env, []goodhome.Device{thermostat(goodhome.State{})}), 20)
}

func TestAvailability(t *testing.T) {
	d := thermostat(goodhome.State{})
	d.Connected = false
	f := newFixture(t, d)
	entities := Build(f.env, []goodhome.Device{d})

	for _, e := range entities {
		if e.UniqueID() == "goodhome_d1_connectivity" {
			assert.True(t, e.Available())
			assert.Equal(t, false, e.State())
			continue
		}
		assert.False(t, e.Available(), e.UniqueID())
	}

	gone := newFixture(t)
	for _, e := range Build(gone.env, []goodhome.Device{d}) {
		if e.UniqueID() != "goodhome_d1_connectivity" {
			assert.False(t, e.Available(), e.UniqueID())
		}
	}
}

func TestClimate_ModeProjection(t *testing.T) {
	tests := []struct {
		name   string
		state  goodhome.State
		hvac   string
		preset string
	}{
		{"default is off", goodhome.State{"targetMode": 0.0}, HVACOff, goodhome.PresetManual},
		{"antifreeze is off", goodhome.State{"targetMode": 3.0}, HVACOff, goodhome.PresetManual},
		{"manual comfort", goodhome.State{"targetMode": 1.0}, HVACHeat, goodhome.PresetManual},
		{"override", goodhome.State{"targetMode": 8.0}, HVACHeat, goodhome.PresetManual},
		{"forced comfort", goodhome.State{"targetMode": 9.0}, HVACHeat, goodhome.PresetComfort},
		{"auto comfort", goodhome.State{"targetMode": 60.0}, HVACHeat, goodhome.PresetComfort},
		{"forced eco", goodhome.State{"targetMode": 10.0}, HVACHeat, goodhome.PresetEco},
		{"auto eco", goodhome.State{"targetMode": 61.0}, HVACHeat, goodhome.PresetEco},
		{"long absence", goodhome.State{"targetMode": 5.0}, HVACHeat, goodhome.PresetAway},
		{"short absence", goodhome.State{"targetMode": 12.0}, HVACHeat, goodhome.PresetAway},
		{"eco after absence", goodhome.State{"targetMode": 30.0}, HVACHeat, goodhome.PresetManual},
		{"unknown code", goodhome.State{"targetMode": 42.0}, HVACHeat, goodhome.PresetManual},
		{"missing mode counts as manual comfort", goodhome.State{}, HVACHeat, goodhome.PresetManual},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, thermostat(tt.state))
			c := newClimate(f.env, thermostat(tt.state))
			assert.Equal(t, tt.hvac, c.HVACMode())
			assert.Equal(t, tt.hvac, c.State())
			assert.Equal(t, tt.preset, c.PresetMode())
		})
	}

	t.Run("missing device is heat", func(t *testing.T) {
		f := newFixture(t)
		c := newClimate(f.env, thermostat(nil))
		assert.Equal(t, HVACHeat, c.HVACMode())
		assert.Empty(t, c.Attributes())
	})
}

func TestClimate_Attributes(t *testing.T) {
	tests := []struct {
		target    any
		wantRange string
		wantColor string
	}{
		{12.5, "cold", "#2196F3"},
		{7.0, "cold", "#2196F3"},
		{12.6, "medium", "#4CAF50"},
		{19.5, "medium", "#4CAF50"},
		{19.6, "hot", "#FF5722"},
		{nil, "hot", "#FF5722"}, // missing target reads as 20
	}

	for _, tt := range tests {
		state := goodhome.State{}
		if tt.target != nil {
			state[goodhome.KeyTargetTemp] = tt.target
		}
		f := newFixture(t, thermostat(state))
		attrs := newClimate(f.env, thermostat(state)).Attributes()
		assert.Equal(t, tt.wantRange, attrs["temperature_range"], "target %v", tt.target)
		assert.Equal(t, tt.wantColor, attrs["temperature_color"], "target %v", tt.target)
	}

	state := goodhome.State{
		"targetMode":           61.0,
		"humidity":             48.0,
		"window":               1.0,
		"comfTemp":             21.0,
		"selfLearningCountDay": 4.0,
		"fwVer":                "2.1",
		"windowTimeOut":        30.0,
	}
	f := newFixture(t, thermostat(state))
	attrs := newClimate(f.env, thermostat(state)).Attributes()
	assert.Equal(t, "schedule", attrs["eco_reason"])
	assert.Equal(t, 48.0, attrs["humidity"])
	assert.Equal(t, true, attrs["window_open"])
	assert.Equal(t, false, attrs["occupancy"])
	assert.Equal(t, 21.0, attrs["comfort_temperature"])
	assert.Equal(t, 4.0, attrs["self_learning_days"])
	assert.Equal(t, "2.1", attrs["firmware_version"])
	assert.Equal(t, 30.0, attrs["window_timeout"])
	assert.Nil(t, attrs["eco_temperature"])

	for code, reason := range map[float64]any{2: "manual", 30: "absence", 1: nil} {
		s := goodhome.State{"targetMode": code}
		f := newFixture(t, thermostat(s))
		assert.Equal(t, reason, newClimate(f.env, thermostat(s)).Attributes()["eco_reason"])
	}
}

func TestClimate_SetTemperatureDebounced(t *testing.T) {
	d := thermostat(goodhome.State{goodhome.KeyTargetTemp: 19.0})
	f := newFixture(t, d)
	f.writer.apply = true
	c := newClimate(f.env, d)
	defer c.Close()

	_, err := c.SetTemperature(20)
	require.NoError(t, err)
	_, err = c.SetTemperature(21.5)
	require.NoError(t, err)

	v, ok := c.TargetTemperature()
	require.True(t, ok)
	assert.Equal(t, 21.5, v)
	assert.Equal(t, map[string]any{FieldTemperature: 21.5}, c.Pending())

	f.clk.BlockUntil(2)
	f.clk.Advance(confirm.DefaultDebounce)
	f.clk.BlockUntil(1)
	f.clk.Advance(confirm.DefaultInterval)

	// the superseded command ends first
	assert.Equal(t, confirm.OutcomeSuperseded, f.done(t).Outcome)
	done := f.done(t)
	assert.Equal(t, confirm.OutcomeConfirmed, done.Outcome)
	assert.Equal(t, "goodhome_climate_d1", done.EntityID)

	calls := f.writer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "set_temperature", calls[0].method)
	assert.Equal(t, 21.5, calls[0].params[goodhome.KeyTargetTemp])
	assert.Empty(t, c.Pending())
}

func TestClimate_SetTemperatureOutOfRange(t *testing.T) {
	f := newFixture(t, thermostat(goodhome.State{}))
	c := newClimate(f.env, thermostat(goodhome.State{}))
	defer c.Close()

	_, err := c.SetTemperature(6.5)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = c.SetTemperature(30.5)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, ok := c.temperature.Tentative()
	assert.False(t, ok)
}

func TestClimate_HVACAndPresetWrites(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value any
		code  float64
	}{
		{"off writes antifreeze", FieldHVACMode, "off", 3},
		{"heat writes manual comfort", FieldHVACMode, "heat", 1},
		{"comfort preset", FieldPreset, "comfort", 9},
		{"eco preset", FieldPreset, "eco", 10},
		{"manual preset", FieldPreset, "manual", 1},
		{"away preset", FieldPreset, "away", 5},
		{"unknown preset falls back", FieldPreset, "boost", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := thermostat(goodhome.State{goodhome.KeyTargetMode: 61.0})
			f := newFixture(t, d)
			f.writer.apply = true
			c := newClimate(f.env, d)
			defer c.Close()

			_, err := c.Command(context.Background(), tt.field, tt.value)
			require.NoError(t, err)

			f.clk.BlockUntil(1)
			f.clk.Advance(confirm.DefaultInterval)
			assert.Equal(t, confirm.OutcomeConfirmed, f.done(t).Outcome)

			calls := f.writer.Calls()
			require.Len(t, calls, 1)
			assert.Equal(t, "set_mode", calls[0].method)
			assert.Equal(t, tt.code, calls[0].params[goodhome.KeyTargetMode])
		})
	}

	t.Run("unknown hvac mode", func(t *testing.T) {
		f := newFixture(t, thermostat(goodhome.State{}))
		c := newClimate(f.env, thermostat(goodhome.State{}))
		defer c.Close()

		_, err := c.SetHVACMode("cool")
		assert.ErrorIs(t, err, ErrUnknownOption)
		assert.Empty(t, f.writer.Calls())
	})

	t.Run("unconfirmed mode is assumed", func(t *testing.T) {
		d := thermostat(goodhome.State{goodhome.KeyTargetMode: 61.0})
		f := newFixture(t, d)
		c := newClimate(f.env, d)
		defer c.Close()

		_, err := c.SetHVACMode(HVACOff)
		require.NoError(t, err)
		assert.Equal(t, HVACOff, c.HVACMode())

		for i := 0; i < confirm.DefaultAttempts; i++ {
			f.clk.BlockUntil(1)
			f.clk.Advance(confirm.DefaultInterval)
		}
		assert.Equal(t, confirm.OutcomeAssumed, f.done(t).Outcome)
		assert.Equal(t, HVACHeat, c.HVACMode(), "backend value shows again")
	})
}

func TestSensors(t *testing.T) {
	state := goodhome.State{
		"currentTemp": 19.5,
		"targetTemp":  20.0,
		"humidity":    45.0,
		"dutyCycle":   40.0,
		"antifTemp":   7.0,
		"HwVer":       "B",
	}
	f := newFixture(t, thermostat(state))
	f.env.RatedPower = map[string]float64{"d1": 1500}
	entities := Build(f.env, []goodhome.Device{thermostat(state)})

	temp := find[*Sensor](t, entities, "goodhome_d1_temperature")
	assert.Equal(t, 19.5, temp.State())
	assert.Equal(t, "°C", temp.Spec().Unit)
	assert.Equal(t, "temperature", temp.Spec().DeviceClass)
	assert.Equal(t, "measurement", temp.Spec().StateClass)
	assert.Equal(t, "Salon Temperature", temp.Name())
	assert.Equal(t, 7.0, temp.Attributes()["antifreeze_temp"])
	assert.Equal(t, "B", temp.Attributes()["hardware_version"])

	eco := find[*Sensor](t, entities, "goodhome_d1_eco_temp")
	assert.Nil(t, eco.State())
	assert.Empty(t, eco.Spec().StateClass)

	duty := find[*Sensor](t, entities, "goodhome_d1_duty_cycle")
	assert.Equal(t, "power_factor", duty.Spec().DeviceClass)

	power := find[*PowerSensor](t, entities, "goodhome_d1_power")
	assert.Equal(t, 600.0, power.State())
	assert.Equal(t, "W", power.Spec().Unit)
}

func TestBinarySensors(t *testing.T) {
	state := goodhome.State{
		"selfLearningImprove":  "1",
		"selfLearning":         true,
		"selfLearningCountDay": 3.0,
		"faultSystem":          2.0,
	}
	f := newFixture(t, thermostat(state))
	entities := Build(f.env, []goodhome.Device{thermostat(state)})

	conn := find[*BinarySensor](t, entities, "goodhome_d1_connectivity")
	assert.True(t, conn.IsOn())
	assert.Equal(t, "connectivity", conn.DeviceClass())

	learning := find[*BinarySensor](t, entities, "goodhome_d1_self_learning_improve")
	assert.True(t, learning.IsOn())
	assert.Equal(t, map[string]any{"self_learning_days": 3.0, "self_learning_enabled": true}, learning.Attributes())

	problem := find[*BinarySensor](t, entities, "goodhome_d1_problem")
	assert.True(t, problem.IsOn())
	assert.Equal(t, map[string]any{"fault_code": 2.0}, problem.Attributes())

	healthy := goodhome.State{"faultSystem": 0.0}
	f = newFixture(t, thermostat(healthy))
	problem = find[*BinarySensor](t, Build(f.env, []goodhome.Device{thermostat(healthy)}), "goodhome_d1_problem")
	assert.False(t, problem.IsOn())
}

func TestSwitch(t *testing.T) {
	t.Run("normalizes vendor booleans", func(t *testing.T) {
		for _, v := range []any{true, 1.0, "1", "true"} {
			s := goodhome.State{goodhome.KeyWindow: v}
			f := newFixture(t, thermostat(s))
			sw := newSwitch(f.env, thermostat(s), Switches[0])
			assert.True(t, sw.IsOn(), "%#v", v)
		}
		f := newFixture(t, thermostat(goodhome.State{}))
		assert.False(t, newSwitch(f.env, thermostat(goodhome.State{}), Switches[0]).IsOn())
	})

	t.Run("write sends a JSON boolean and confirms", func(t *testing.T) {
		d := thermostat(goodhome.State{goodhome.KeyNoProg: 0.0})
		f := newFixture(t, d)
		f.writer.apply = true
		sw := newSwitch(f.env, d, Switches[3])
		defer sw.Close()

		_, err := sw.Command(context.Background(), "", "ON")
		require.NoError(t, err)
		assert.True(t, sw.IsOn())

		f.clk.BlockUntil(1)
		f.clk.Advance(confirm.DefaultInterval)
		assert.Equal(t, confirm.OutcomeConfirmed, f.done(t).Outcome)

		calls := f.writer.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, map[string]any{goodhome.KeyNoProg: true}, calls[0].params)
	})

	t.Run("unconfirmed value is kept until reported", func(t *testing.T) {
		d := thermostat(goodhome.State{goodhome.KeyWindow: false})
		f := newFixture(t, d)
		sw := newSwitch(f.env, d, Switches[0])
		defer sw.Close()

		sw.Set(true)
		for i := 0; i < confirm.DefaultAttempts; i++ {
			f.clk.BlockUntil(1)
			f.clk.Advance(confirm.DefaultInterval)
		}
		assert.Equal(t, confirm.OutcomeKept, f.done(t).Outcome)
		assert.True(t, sw.IsOn())

		sw.Reconcile()
		assert.Equal(t, map[string]any{"state": true}, sw.Pending())

		f.source.set("d1", goodhome.KeyWindow, 1.0)
		sw.Reconcile()
		assert.Empty(t, sw.Pending())
		assert.True(t, sw.IsOn())
	})

	t.Run("failed write reverts", func(t *testing.T) {
		d := thermostat(goodhome.State{goodhome.KeyWindow: false})
		f := newFixture(t, d)
		f.writer.fail = true
		sw := newSwitch(f.env, d, Switches[0])
		defer sw.Close()

		sw.Set(true)
		assert.Equal(t, confirm.OutcomeFailed, f.done(t).Outcome)
		assert.False(t, sw.IsOn())
	})

	t.Run("invalid payload", func(t *testing.T) {
		f := newFixture(t, thermostat(goodhome.State{}))
		sw := newSwitch(f.env, thermostat(goodhome.State{}), Switches[0])
		_, err := sw.Command(context.Background(), "", "maybe")
		assert.ErrorIs(t, err, ErrInvalidValue)
	})
}

func TestNumber(t *testing.T) {
	d := thermostat(goodhome.State{goodhome.KeyEcoTemp: 16.0, goodhome.KeyTargetTemp: 19.0})
	f := newFixture(t, d)
	f.writer.apply = true
	n := newNumber(f.env, d, Numbers[1])
	defer n.Close()

	v, ok := n.Value()
	require.True(t, ok)
	assert.Equal(t, 16.0, v)
	assert.Equal(t, "ecoTemp", n.Attributes()["parameter"])
	assert.Equal(t, 19.0, n.Attributes()["target_temp"])

	for _, bad := range []float64{6.9, 30.1} {
		_, err := n.SetValue(bad)
		assert.ErrorIs(t, err, ErrOutOfRange)
	}
	assert.Empty(t, f.writer.Calls(), "rejected values never reach the network")

	_, err := n.Command(context.Background(), "", "17.5")
	require.NoError(t, err)
	f.clk.BlockUntil(1)
	f.clk.Advance(confirm.DefaultInterval)
	assert.Equal(t, confirm.OutcomeConfirmed, f.done(t).Outcome)

	calls := f.writer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{goodhome.KeyEcoTemp: 17.5}, calls[0].params)
}

func TestModeSelect(t *testing.T) {
	t.Run("reads labels", func(t *testing.T) {
		for code, label := range map[float64]string{1: "Manual Comfort", 30: "Auto Eco (absence)", 42: "Default"} {
			s := goodhome.State{goodhome.KeyTargetMode: code}
			f := newFixture(t, thermostat(s))
			assert.Equal(t, label, newModeSelect(f.env, thermostat(s)).CurrentOption())
		}
		f := newFixture(t, thermostat(goodhome.State{}))
		m := newModeSelect(f.env, thermostat(goodhome.State{}))
		assert.Equal(t, "Default", m.CurrentOption())
		assert.Equal(t, goodhome.Options(), m.Options())
	})

	t.Run("writes the code as a parameter", func(t *testing.T) {
		d := thermostat(goodhome.State{goodhome.KeyTargetMode: 1.0})
		f := newFixture(t, d)
		m := newModeSelect(f.env, d)
		defer m.Close()

		_, err := m.SelectOption("Forced Eco")
		require.NoError(t, err)
		assert.Equal(t, "Forced Eco", m.CurrentOption())

		require.Eventually(t, func() bool { return len(f.writer.Calls()) == 1 }, time.Second, time.Millisecond)
		calls := f.writer.Calls()
		assert.Equal(t, "set_parameter", calls[0].method)
		assert.Equal(t, map[string]any{goodhome.KeyTargetMode: 10}, calls[0].params)
	})

	t.Run("unknown option", func(t *testing.T) {
		f := newFixture(t, thermostat(goodhome.State{}))
		m := newModeSelect(f.env, thermostat(goodhome.State{}))
		_, err := m.SelectOption("Turbo")
		assert.ErrorIs(t, err, ErrUnknownOption)
		assert.Empty(t, m.Pending())
	})
}

func TestIdentifyButton(t *testing.T) {
	f := newFixture(t, thermostat(goodhome.State{}))
	b := newIdentifyButton(f.env, thermostat(goodhome.State{}))

	_, err := b.Command(context.Background(), "", nil)
	require.NoError(t, err)
	calls := f.writer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "identify", calls[0].method)

	f.writer.fail = true
	_, err = b.Command(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrCommandFailed)
}
