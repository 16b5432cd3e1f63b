package entity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"goodhome/internal/confirm"
	"goodhome/internal/goodhome"
)

// ModeSelect exposes every targetMode code as an option
type ModeSelect struct {
	base
	writer Writer
	ctrl   *confirm.Controller[string]
	logger *zap.Logger
}

func newModeSelect(env Env, d goodhome.Device) *ModeSelect {
	b := newBase(env, d, PlatformSelect, "goodhome_target_mode_"+d.ID, d.Name+" Target Mode")
	return &ModeSelect{
		base:   b,
		writer: env.Writer,
		ctrl:   newController[string](env, b, "select", env.policy(confirm.Keep, false)),
		logger: env.Logger,
	}
}

// Options returns the labels in display order
func (m *ModeSelect) Options() []string {
	return goodhome.Options()
}

// CurrentOption is the tentative option, or the label of the reported
// code. Unknown or missing codes read as Default.
func (m *ModeSelect) CurrentOption() string {
	if v, ok := m.ctrl.Tentative(); ok {
		return v
	}
	code, ok := m.state().Int(goodhome.KeyTargetMode)
	if !ok {
		return goodhome.ModeDefault.Label()
	}
	return goodhome.TargetMode(code).Label()
}

// State is the current option
func (m *ModeSelect) State() any {
	return m.CurrentOption()
}

// Attributes returns the raw code and the related settings
func (m *ModeSelect) Attributes() map[string]any {
	d, ok := m.device()
	if !ok {
		return map[string]any{}
	}
	s := d.State
	return map[string]any{
		"target_mode_value": raw(s, goodhome.KeyTargetMode),
		"target_temp":       raw(s, goodhome.KeyTargetTemp),
		"eco_temp":          raw(s, goodhome.KeyEcoTemp),
		"comfort_temp":      raw(s, goodhome.KeyComfortTemp),
		"antifreeze_temp":   raw(s, goodhome.KeyAntifreezeTemp),
		"override_temp":     raw(s, goodhome.KeyOverrideTemp),
		"manual_mode":       raw(s, goodhome.KeyNoProg),
		"self_learning":     raw(s, goodhome.KeySelfLearning),
		"occupancy_status":  raw(s, goodhome.KeyOccupancy),
	}
}

// SelectOption writes the code of option through the generic parameter
// write. Unknown options are logged and rejected.
func (m *ModeSelect) SelectOption(option string) (string, error) {
	mode, ok := goodhome.ParseTargetMode(option)
	if !ok {
		m.logger.Error("Unknown target mode", zap.String("entity_id", m.uniqueID), zap.String("option", option))
		return "", fmt.Errorf("%w: target mode %q", ErrUnknownOption, option)
	}
	return m.ctrl.Submit(option, confirm.Action{
		Dispatch: func(ctx context.Context) bool {
			return m.writer.SetParameter(ctx, m.deviceID, goodhome.KeyTargetMode, int(mode))
		},
		Match: confirm.CodeMatch(goodhome.KeyTargetMode, int(mode)),
	}), nil
}

// Command accepts an option label
func (m *ModeSelect) Command(_ context.Context, _ string, value any) (string, error) {
	option, err := parseString(value)
	if err != nil {
		return "", err
	}
	return m.SelectOption(option)
}

// Pending returns the tentative option, if any
func (m *ModeSelect) Pending() map[string]any {
	if v, ok := m.ctrl.Tentative(); ok {
		return map[string]any{"option": v}
	}
	return map[string]any{}
}

// Reconcile drops a kept option the snapshot now reports
func (m *ModeSelect) Reconcile() {
	if d, ok := m.device(); ok {
		m.ctrl.Reconcile(d)
	}
}

// Close stops the confirmation cycle
func (m *ModeSelect) Close() {
	m.ctrl.Close()
}
