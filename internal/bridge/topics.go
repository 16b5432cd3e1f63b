package bridge

import (
	"strings"

	"goodhome/internal/entity"
)

// Climate command topic suffixes and the field each one writes
var climateCommands = map[string]string{
	"temperature": entity.FieldTemperature,
	"mode":        entity.FieldHVACMode,
	"preset":      entity.FieldPreset,
}

// Topics builds every topic the bridge uses
type Topics struct {
	DiscoveryPrefix string
	Base            string
}

// Discovery is where Home Assistant reads the entity config
func (t Topics) Discovery(platform entity.Platform, uniqueID string) string {
	return t.DiscoveryPrefix + "/" + string(platform) + "/" + uniqueID + "/config"
}

// Status is the bridge availability topic
func (t Topics) Status() string {
	return t.Base + "/status"
}

// State carries the entity state
func (t Topics) State(uniqueID string) string {
	return t.Base + "/" + uniqueID + "/state"
}

// Attributes carries the entity attributes as JSON
func (t Topics) Attributes(uniqueID string) string {
	return t.Base + "/" + uniqueID + "/attributes"
}

// Availability carries the per-entity availability
func (t Topics) Availability(uniqueID string) string {
	return t.Base + "/" + uniqueID + "/availability"
}

// Command is the main command topic of an entity
func (t Topics) Command(uniqueID string) string {
	return t.Base + "/" + uniqueID + "/set"
}

// ClimateCommand is the command topic of one climate field
func (t Topics) ClimateCommand(uniqueID, suffix string) string {
	return t.Base + "/" + uniqueID + "/" + suffix + "/set"
}

// CommandFilters match every command topic and nothing the bridge
// publishes itself
func (t Topics) CommandFilters() []string {
	return []string{t.Base + "/+/set", t.Base + "/+/+/set"}
}

// ParseCommand splits a command topic into the entity id and the field it
// addresses. ok is false for topics that are not commands.
func (t Topics) ParseCommand(topic string) (uniqueID, field string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.Base+"/")
	if !found {
		return "", "", false
	}
	rest, found = strings.CutSuffix(rest, "/set")
	if !found || rest == "" {
		return "", "", false
	}
	uniqueID, suffix, nested := strings.Cut(rest, "/")
	if !nested {
		return uniqueID, "", true
	}
	field, known := climateCommands[suffix]
	if !known || strings.Contains(suffix, "/") {
		return "", "", false
	}
	return uniqueID, field, true
}
