package shadowstate

import "time"

// PendingCommand is a write that has not reached a terminal outcome yet
type PendingCommand struct {
	CommandID string    `json:"command_id"`
	EntityID  string    `json:"entity_id"`
	DeviceID  string    `json:"device_id"`
	Kind      string    `json:"kind"`
	Tentative any       `json:"tentative"`
	Phase     string    `json:"phase"`
	Attempts  int       `json:"attempts"`
	IssuedAt  time.Time `json:"issued_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CommandRecord is a finished command
type CommandRecord struct {
	CommandID  string    `json:"command_id"`
	EntityID   string    `json:"entity_id"`
	DeviceID   string    `json:"device_id"`
	Kind       string    `json:"kind"`
	Tentative  any       `json:"tentative"`
	Outcome    string    `json:"outcome"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Snapshot is what /api/pending serves
type Snapshot struct {
	Pending  []PendingCommand `json:"pending"`
	Recent   []CommandRecord  `json:"recent"`
	Metadata StateMetadata    `json:"metadata"`
}

// StateMetadata contains metadata about the shadow state
type StateMetadata struct {
	LastUpdated time.Time `json:"lastUpdated"`
	Commands    int       `json:"commands"`
}
