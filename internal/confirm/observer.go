package confirm

import "time"

// Phase is the step a command has reached
type Phase string

const (
	PhasePending    Phase = "pending"    // tentative value shown, waiting for debounce
	PhaseDispatched Phase = "dispatched" // write accepted, polling for confirmation
	PhaseDone       Phase = "done"       // terminal, see Outcome
)

// Outcome is how a command ended
type Outcome string

const (
	OutcomeConfirmed  Outcome = "confirmed"
	OutcomeReverted   Outcome = "reverted"
	OutcomeAssumed    Outcome = "assumed"
	OutcomeKept       Outcome = "kept"
	OutcomeFailed     Outcome = "failed"
	OutcomeSuperseded Outcome = "superseded"
)

// Event describes one transition of a command
type Event struct {
	CommandID string
	EntityID  string
	DeviceID  string
	Kind      string
	Tentative any
	Phase     Phase
	Outcome   Outcome // set when Phase is PhaseDone
	Attempts  int
	Err       error
	At        time.Time
}

// Terminal reports whether the command is finished
func (e Event) Terminal() bool {
	return e.Phase == PhaseDone
}

// Observer is told about every command transition. Implementations must not
// block; they are called from the controller's goroutine.
type Observer interface {
	CommandTransition(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

// CommandTransition calls f
func (f ObserverFunc) CommandTransition(e Event) {
	f(e)
}
