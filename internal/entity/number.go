package entity

import (
	"context"

	"go.uber.org/zap"

	"goodhome/internal/confirm"
	"goodhome/internal/goodhome"
)

// NumberSpec describes one writable setpoint
type NumberSpec struct {
	Param       string
	Name        string
	Icon        string
	Description string
}

// Numbers lists the writable setpoints of every thermostat
var Numbers = []NumberSpec{
	{goodhome.KeyComfortTemp, "Comfort Temperature", "mdi:home-thermometer", "Setpoint used in comfort mode"},
	{goodhome.KeyEcoTemp, "Eco Temperature", "mdi:leaf", "Setpoint used in energy saving mode"},
	{goodhome.KeyAntifreezeTemp, "Antifreeze Temperature", "mdi:snowflake", "Setpoint used in frost protection mode (off)"},
}

// Number writes one setpoint in MinTemp..MaxTemp
type Number struct {
	base
	spec   NumberSpec
	writer Writer
	ctrl   *confirm.Controller[float64]
	logger *zap.Logger
}

func newNumber(env Env, d goodhome.Device, spec NumberSpec) *Number {
	b := newBase(env, d, PlatformNumber, "goodhome_"+d.ID+"_"+spec.Param, d.Name+" "+spec.Name)
	return &Number{
		base:   b,
		spec:   spec,
		writer: env.Writer,
		ctrl:   newController[float64](env, b, "number", env.policy(confirm.Keep, false)),
		logger: env.Logger,
	}
}

// Spec returns the number description
func (n *Number) Spec() NumberSpec {
	return n.spec
}

// Value is the tentative value, or the reported one
func (n *Number) Value() (float64, bool) {
	if v, ok := n.ctrl.Tentative(); ok {
		return v, true
	}
	return n.state().Float(n.spec.Param)
}

// State is the value, or nil when unknown
func (n *Number) State() any {
	if v, ok := n.Value(); ok {
		return v
	}
	return nil
}

// Attributes returns the parameter and the current temperatures
func (n *Number) Attributes() map[string]any {
	d, ok := n.device()
	if !ok {
		return map[string]any{}
	}
	return map[string]any{
		"parameter":    n.spec.Param,
		"target_temp":  raw(d.State, goodhome.KeyTargetTemp),
		"current_temp": raw(d.State, goodhome.KeyCurrentTemp),
		"description":  n.spec.Description,
	}
}

// SetValue writes v. Values outside the range never reach the network.
func (n *Number) SetValue(v float64) (string, error) {
	if err := checkRange(v); err != nil {
		n.logger.Error("Rejected setpoint",
			zap.String("entity_id", n.uniqueID),
			zap.Float64("value", v),
			zap.Error(err))
		return "", err
	}
	return n.ctrl.Submit(v, confirm.Action{
		Dispatch: func(ctx context.Context) bool {
			return n.writer.SetParameter(ctx, n.deviceID, n.spec.Param, v)
		},
		Match: confirm.TemperatureMatch(n.spec.Param, v),
	}), nil
}

// Command accepts a number or a numeric string
func (n *Number) Command(_ context.Context, _ string, value any) (string, error) {
	v, err := parseFloat(value)
	if err != nil {
		return "", err
	}
	return n.SetValue(v)
}

// Pending returns the tentative value, if any
func (n *Number) Pending() map[string]any {
	if v, ok := n.ctrl.Tentative(); ok {
		return map[string]any{"value": v}
	}
	return map[string]any{}
}

// Reconcile drops a kept value the snapshot now reports
func (n *Number) Reconcile() {
	if d, ok := n.device(); ok {
		n.ctrl.Reconcile(d)
	}
}

// Close stops the confirmation cycle
func (n *Number) Close() {
	n.ctrl.Close()
}
