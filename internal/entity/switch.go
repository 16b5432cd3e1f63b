package entity

import (
	"context"

	"goodhome/internal/confirm"
	"goodhome/internal/goodhome"
)

// SwitchSpec describes one boolean parameter
type SwitchSpec struct {
	Param       string
	Name        string
	Icon        string
	Description string
}

// Switches lists the writable boolean parameters of every thermostat
var Switches = []SwitchSpec{
	{goodhome.KeyWindow, "Open Window Detection", "mdi:window-open-variant",
		"Enable/disable automatic open window detection based on temperature drop"},
	{goodhome.KeyOccupancy, "Presence Sensor", "mdi:account-check",
		"Enable/disable occupancy consideration for heating control"},
	{goodhome.KeySelfLearning, "Self Learning", "mdi:school",
		"Enable/disable auto-learning mode (requires occupancyStatus enabled)"},
	{goodhome.KeyNoProg, "Manual Mode", "mdi:hand-back-right",
		"Manual mode (on) or Auto mode with scheduling (off)"},
}

// Switch toggles one boolean parameter
type Switch struct {
	base
	spec   SwitchSpec
	writer Writer
	ctrl   *confirm.Controller[bool]
}

func newSwitch(env Env, d goodhome.Device, spec SwitchSpec) *Switch {
	b := newBase(env, d, PlatformSwitch, "goodhome_"+d.ID+"_"+spec.Param, d.Name+" "+spec.Name)
	return &Switch{
		base:   b,
		spec:   spec,
		writer: env.Writer,
		ctrl:   newController[bool](env, b, "switch", env.policy(confirm.Keep, false)),
	}
}

// Spec returns the switch description
func (s *Switch) Spec() SwitchSpec {
	return s.spec
}

// IsOn is the tentative value, or the reported one
func (s *Switch) IsOn() bool {
	if v, ok := s.ctrl.Tentative(); ok {
		return v
	}
	on, _ := s.state().Bool(s.spec.Param)
	return on
}

// State is the on/off value
func (s *Switch) State() any {
	return s.IsOn()
}

// Attributes returns the description and related settings
func (s *Switch) Attributes() map[string]any {
	d, ok := s.device()
	if !ok {
		return map[string]any{}
	}
	attrs := map[string]any{"description": s.spec.Description}
	switch s.spec.Param {
	case goodhome.KeyWindow:
		attrs["window_timeout_minutes"] = raw(d.State, goodhome.KeyWindowTimeout)
	case goodhome.KeySelfLearning:
		attrs["self_learning_improve"] = raw(d.State, goodhome.KeySelfLearningImprove)
		attrs["self_learning_days"] = raw(d.State, goodhome.KeySelfLearningCountDay)
	}
	return attrs
}

// Set writes the parameter as a JSON boolean
func (s *Switch) Set(on bool) string {
	return s.ctrl.Submit(on, confirm.Action{
		Dispatch: func(ctx context.Context) bool {
			return s.writer.SetParameter(ctx, s.deviceID, s.spec.Param, on)
		},
		Match: confirm.BoolMatch(s.spec.Param, on),
	})
}

// Command accepts booleans, 0/1 and ON/OFF
func (s *Switch) Command(_ context.Context, _ string, value any) (string, error) {
	on, err := parseBool(value)
	if err != nil {
		return "", err
	}
	return s.Set(on), nil
}

// Pending returns the tentative value, if any
func (s *Switch) Pending() map[string]any {
	if v, ok := s.ctrl.Tentative(); ok {
		return map[string]any{"state": v}
	}
	return map[string]any{}
}

// Reconcile drops a kept value the snapshot now reports
func (s *Switch) Reconcile() {
	if d, ok := s.device(); ok {
		s.ctrl.Reconcile(d)
	}
}

// Close stops the confirmation cycle
func (s *Switch) Close() {
	s.ctrl.Close()
}
