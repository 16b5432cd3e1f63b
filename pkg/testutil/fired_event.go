package testutil

import (
	"encoding/json"
	"time"
)

// FiredEvent records a fire_event request for verification
type FiredEvent struct {
	Timestamp time.Time
	EventType string
	EventData map[string]any
}

// FilterFiredEvents filters events by type
func FilterFiredEvents(events []FiredEvent, eventType string) []FiredEvent {
	var filtered []FiredEvent
	for _, e := range events {
		if e.EventType == eventType {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

// FindFiredEventWithData finds the most recent event with a matching data
// key/value. Values are compared after a JSON round trip, so numbers
// match as float64.
func FindFiredEventWithData(events []FiredEvent, eventType, key string, value any) *FiredEvent {
	want := normalize(value)
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.EventType != eventType {
			continue
		}
		if got, ok := e.EventData[key]; ok && got == want {
			return &e
		}
	}
	return nil
}

func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
