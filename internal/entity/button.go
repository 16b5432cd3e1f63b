package entity

import (
	"context"

	"goodhome/internal/goodhome"
)

// IdentifyButton makes the thermostat beep
type IdentifyButton struct {
	base
	writer Writer
}

func newIdentifyButton(env Env, d goodhome.Device) *IdentifyButton {
	return &IdentifyButton{
		base:   newBase(env, d, PlatformButton, "goodhome_"+d.ID+"_identify", d.Name+" Identify"),
		writer: env.Writer,
	}
}

// State is always nil; a button has no state
func (b *IdentifyButton) State() any {
	return nil
}

// Attributes is empty
func (b *IdentifyButton) Attributes() map[string]any {
	return map[string]any{}
}

// Press sends the identify ping
func (b *IdentifyButton) Press(ctx context.Context) bool {
	return b.writer.IdentifyDevice(ctx, b.deviceID)
}

// Command presses the button whatever the value
func (b *IdentifyButton) Command(ctx context.Context, _ string, _ any) (string, error) {
	if !b.Press(ctx) {
		return "", ErrCommandFailed
	}
	return "", nil
}
