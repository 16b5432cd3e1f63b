// Package shadowstate records what the bridge believes the thermostats are
// doing: the writes still waiting for confirmation, keyed by entity, and a
// bounded history of how recent writes ended.
package shadowstate

import (
	"sort"
	"sync"

	"goodhome/internal/confirm"
)

// DefaultHistory is the number of finished commands kept
const DefaultHistory = 50

// Tracker implements confirm.Observer
type Tracker struct {
	mu       sync.RWMutex
	pending  map[string]PendingCommand // entity id + kind -> command
	history  []CommandRecord
	limit    int
	metadata StateMetadata
}

// NewTracker creates a tracker keeping the last limit outcomes. A
// non-positive limit uses DefaultHistory.
func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultHistory
	}
	return &Tracker{
		pending: make(map[string]PendingCommand),
		limit:   limit,
	}
}

func key(entityID, kind string) string {
	return entityID + "/" + kind
}

// CommandTransition records e
func (t *Tracker) CommandTransition(e confirm.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(e.EntityID, e.Kind)
	t.metadata.LastUpdated = e.At

	if !e.Terminal() {
		cmd, ok := t.pending[k]
		if !ok || cmd.CommandID != e.CommandID {
			t.metadata.Commands++
			cmd = PendingCommand{
				CommandID: e.CommandID,
				EntityID:  e.EntityID,
				DeviceID:  e.DeviceID,
				Kind:      e.Kind,
				Tentative: e.Tentative,
				IssuedAt:  e.At,
			}
		}
		cmd.Phase = string(e.Phase)
		cmd.Attempts = e.Attempts
		cmd.UpdatedAt = e.At
		t.pending[k] = cmd
		return
	}

	record := CommandRecord{
		CommandID:  e.CommandID,
		EntityID:   e.EntityID,
		DeviceID:   e.DeviceID,
		Kind:       e.Kind,
		Tentative:  e.Tentative,
		Outcome:    string(e.Outcome),
		Attempts:   e.Attempts,
		FinishedAt: e.At,
	}
	if e.Err != nil {
		record.Error = e.Err.Error()
	}
	if cmd, ok := t.pending[k]; ok && cmd.CommandID == e.CommandID {
		record.IssuedAt = cmd.IssuedAt
		if record.Tentative == nil {
			record.Tentative = cmd.Tentative
		}
		delete(t.pending, k)
	}

	t.history = append(t.history, record)
	if len(t.history) > t.limit {
		t.history = append([]CommandRecord(nil), t.history[len(t.history)-t.limit:]...)
	}
}

// Pending returns the commands in flight, oldest first
func (t *Tracker) Pending() []PendingCommand {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]PendingCommand, 0, len(t.pending))
	for _, cmd := range t.pending {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].IssuedAt.Before(out[j].IssuedAt)
	})
	return out
}

// PendingFor returns the commands in flight for one entity
func (t *Tracker) PendingFor(entityID string) []PendingCommand {
	var out []PendingCommand
	for _, cmd := range t.Pending() {
		if cmd.EntityID == entityID {
			out = append(out, cmd)
		}
	}
	return out
}

// Recent returns finished commands, newest first
func (t *Tracker) Recent() []CommandRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]CommandRecord, len(t.history))
	for i, r := range t.history {
		out[len(t.history)-1-i] = r
	}
	return out
}

// Snapshot returns pending and recent commands together
func (t *Tracker) Snapshot() Snapshot {
	s := Snapshot{Pending: t.Pending(), Recent: t.Recent()}
	t.mu.RLock()
	s.Metadata = t.metadata
	t.mu.RUnlock()
	return s
}
