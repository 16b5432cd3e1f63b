package goodhome

// TargetMode is the vendor heating mode code
type TargetMode int

const (
	ModeDefault          TargetMode = 0  // provisional, returns to the default program
	ModeManualComfort    TargetMode = 1  // manual, comfort setpoint
	ModeManualEco        TargetMode = 2  // manual, eco setpoint
	ModeManualAntifreeze TargetMode = 3  // manual, antifreeze setpoint
	ModeLongAbsence      TargetMode = 5  // holiday timeout
	ModeOverride         TargetMode = 8  // manual override temperature
	ModeForcedComfort    TargetMode = 9  // forced comfort, returns to auto
	ModeForcedEco        TargetMode = 10 // forced eco, returns to auto
	ModeShortAbsence     TargetMode = 12 // override time
	ModeAutoEcoAbsence   TargetMode = 30 // eco after 20+ minutes without presence
	ModeAutoComfort      TargetMode = 60 // schedule, presence period
	ModeAutoEco          TargetMode = 61 // schedule, absence period
	ModeManual           TargetMode = 70
)

var modeLabels = map[TargetMode]string{
	ModeDefault:          "Default",
	ModeManualComfort:    "Manual Comfort",
	ModeManualEco:        "Manual Eco",
	ModeManualAntifreeze: "Manual Antifreeze",
	ModeLongAbsence:      "Long Absence",
	ModeOverride:         "Override",
	ModeForcedComfort:    "Forced Comfort",
	ModeForcedEco:        "Forced Eco",
	ModeShortAbsence:     "Short Absence",
	ModeAutoEcoAbsence:   "Auto Eco (absence)",
	ModeAutoComfort:      "Auto Comfort",
	ModeAutoEco:          "Auto Eco",
	ModeManual:           "Manual",
}

var labelModes = func() map[string]TargetMode {
	m := make(map[string]TargetMode, len(modeLabels))
	for mode, label := range modeLabels {
		m[label] = mode
	}
	return m
}()

// modeOrder is the order in which modes are offered to users
var modeOrder = []TargetMode{
	ModeDefault,
	ModeManualComfort,
	ModeManualEco,
	ModeManualAntifreeze,
	ModeManual,
	ModeOverride,
	ModeForcedComfort,
	ModeForcedEco,
	ModeAutoEcoAbsence,
	ModeAutoComfort,
	ModeAutoEco,
	ModeShortAbsence,
	ModeLongAbsence,
}

// Modes returns every known mode in presentation order
func Modes() []TargetMode {
	return append([]TargetMode(nil), modeOrder...)
}

// Options returns the mode labels in presentation order
func Options() []string {
	out := make([]string, len(modeOrder))
	for i, m := range modeOrder {
		out[i] = modeLabels[m]
	}
	return out
}

// Known reports whether m is part of the vendor enumeration
func (m TargetMode) Known() bool {
	_, ok := modeLabels[m]
	return ok
}

// Label returns the display label for m. Unknown codes read as Default.
func (m TargetMode) Label() string {
	if label, ok := modeLabels[m]; ok {
		return label
	}
	return modeLabels[ModeDefault]
}

// ParseTargetMode returns the mode for a display label
func ParseTargetMode(label string) (TargetMode, bool) {
	m, ok := labelModes[label]
	return m, ok
}

// Off reports whether the mode counts as heating off (default or antifreeze)
func (m TargetMode) Off() bool {
	return m == ModeDefault || m == ModeManualAntifreeze
}

// Preset names exposed by the climate entity
const (
	PresetComfort = "comfort"
	PresetEco     = "eco"
	PresetManual  = "manual"
	PresetAway    = "away"
)

// Presets lists the climate presets in display order
func Presets() []string {
	return []string{PresetComfort, PresetEco, PresetManual, PresetAway}
}

// Preset maps a mode onto a climate preset
func (m TargetMode) Preset() string {
	switch m {
	case ModeForcedComfort, ModeAutoComfort:
		return PresetComfort
	case ModeForcedEco, ModeAutoEco:
		return PresetEco
	case ModeLongAbsence, ModeShortAbsence:
		return PresetAway
	default:
		return PresetManual
	}
}

// PresetMode returns the code written for a preset. Unknown presets fall
// back to manual comfort.
func PresetMode(preset string) TargetMode {
	switch preset {
	case PresetComfort:
		return ModeForcedComfort
	case PresetEco:
		return ModeForcedEco
	case PresetAway:
		return ModeLongAbsence
	default:
		return ModeManualComfort
	}
}

// EcoReason explains why a device is in eco, or "" when it is not
func (m TargetMode) EcoReason() string {
	switch m {
	case ModeManualEco:
		return "manual"
	case ModeAutoEcoAbsence:
		return "absence"
	case ModeAutoEco:
		return "schedule"
	}
	return ""
}
