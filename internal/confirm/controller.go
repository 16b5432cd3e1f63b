// Package confirm implements optimistic updates for thermostat writes.
//
// A write shows its value immediately, is dispatched to the cloud and is
// then confirmed by polling fresh snapshots until the backend reports it.
// What happens when the backend never does is chosen per entity by Policy.
package confirm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goodhome/internal/clock"
	"goodhome/internal/goodhome"
)

// Defaults used by the entities
const (
	DefaultAttempts = 8
	DefaultInterval = 5 * time.Second
	DefaultDebounce = 3 * time.Second
)

// TimeoutAction is what happens to the tentative value when no poll matched
type TimeoutAction int

const (
	// Revert drops the tentative value so the backend value shows again
	Revert TimeoutAction = iota
	// Keep leaves the tentative value displayed until a snapshot matches it
	Keep
	// AssumeSuccess drops the tentative value and reports the write as applied
	AssumeSuccess
)

func (a TimeoutAction) outcome() Outcome {
	switch a {
	case Keep:
		return OutcomeKept
	case AssumeSuccess:
		return OutcomeAssumed
	default:
		return OutcomeReverted
	}
}

// Policy bounds the confirmation cycle
type Policy struct {
	Attempts  int
	Interval  time.Duration
	Debounce  time.Duration
	OnTimeout TimeoutAction
}

// DefaultPolicy returns the standard poll budget with the given timeout action
func DefaultPolicy(onTimeout TimeoutAction) Policy {
	return Policy{
		Attempts:  DefaultAttempts,
		Interval:  DefaultInterval,
		OnTimeout: onTimeout,
	}
}

// Refresher is the coordinator as seen by the controller
type Refresher interface {
	// Refresh pulls a fresh device list and blocks until it is stored
	Refresh(ctx context.Context) bool

	// Device returns the device from the last stored list
	Device(id string) (goodhome.Device, bool)
}

// Action is one write and the check that tells it was applied
type Action struct {
	Dispatch func(ctx context.Context) bool
	Match    func(goodhome.Device) bool
}

// Config identifies what a controller writes to
type Config struct {
	EntityID string
	DeviceID string
	Kind     string
	Policy   Policy
}

// Controller owns the tentative value of one writable attribute. At most
// one command is being confirmed; a newer Submit supersedes it. Writes go
// out one at a time, so the backend ends up with the newest value.
type Controller[T any] struct {
	cfg       Config
	source    Refresher
	clock     clock.Clock
	logger    *zap.Logger
	observers []Observer

	ctx    context.Context
	cancel context.CancelFunc

	// held for the duration of a Dispatch
	dispatchMu sync.Mutex

	mu           sync.Mutex
	tentative    T
	hasTentative bool
	kept         func(goodhome.Device) bool
	generation   uint64
	commandID    string
	stop         context.CancelFunc
}

// NewController creates a controller. Observers receive every transition in
// addition to the package metrics.
func NewController[T any](cfg Config, source Refresher, clk clock.Clock, logger *zap.Logger, observers ...Observer) *Controller[T] {
	if cfg.Policy.Attempts <= 0 {
		cfg.Policy.Attempts = DefaultAttempts
	}
	if cfg.Policy.Interval <= 0 {
		cfg.Policy.Interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller[T]{
		cfg:       cfg,
		source:    source,
		clock:     clk,
		logger:    logger.With(zap.String("entity_id", cfg.EntityID), zap.String("kind", cfg.Kind)),
		observers: append([]Observer{metricsObserver{}}, observers...),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Tentative returns the value shown in place of the backend value, if any
func (c *Controller[T]) Tentative() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tentative, c.hasTentative
}

// Pending reports whether a command is debouncing or being confirmed
func (c *Controller[T]) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil
}

// Submit shows value at once and runs the write cycle in the background.
// It returns the command id used in events and logs.
func (c *Controller[T]) Submit(value T, a Action) string {
	id := uuid.NewString()

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return ""
	}
	previous := c.commandID
	if c.stop != nil {
		c.stop()
	}
	c.generation++
	gen := c.generation
	ctx, stop := context.WithCancel(c.ctx)
	c.stop = stop
	c.commandID = id
	c.tentative = value
	c.hasTentative = true
	c.kept = nil
	c.mu.Unlock()

	// Finished commands reset commandID, so previous is set only when live
	if previous != "" {
		c.logger.Debug("Command superseded", zap.String("command_id", previous))
		c.emit(Event{CommandID: previous, Phase: PhaseDone, Outcome: OutcomeSuperseded})
	}
	c.emit(Event{CommandID: id, Tentative: value, Phase: PhasePending})

	go c.run(ctx, gen, id, value, a)
	return id
}

// Reconcile drops a kept tentative value once device reports it. It
// returns true when the overlay was cleared.
func (c *Controller[T]) Reconcile(device goodhome.Device) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kept == nil || !c.kept(device) {
		return false
	}
	var zero T
	c.tentative = zero
	c.hasTentative = false
	c.kept = nil
	c.logger.Debug("Kept value reported by backend, clearing overlay")
	return true
}

// Close cancels in-flight work. The controller accepts no further commands.
func (c *Controller[T]) Close() {
	c.cancel()
}

func (c *Controller[T]) run(ctx context.Context, gen uint64, id string, value T, a Action) {
	logger := c.logger.With(zap.String("command_id", id))
	policy := c.cfg.Policy

	if policy.Debounce > 0 {
		if err := clock.Sleep(ctx, c.clock, policy.Debounce); err != nil {
			logger.Debug("Debounce cancelled")
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	// A superseding Submit must not abort a write already on the wire; only
	// Close does. A command superseded while waiting for that write is
	// never sent.
	c.dispatchMu.Lock()
	if ctx.Err() != nil {
		c.dispatchMu.Unlock()
		logger.Debug("Superseded before dispatch")
		return
	}
	dispatched := a.Dispatch(c.ctx)
	c.dispatchMu.Unlock()

	if !dispatched {
		if c.finish(gen, false, nil) {
			logger.Error("Command dispatch failed, reverting")
			c.emit(Event{CommandID: id, Tentative: value, Phase: PhaseDone, Outcome: OutcomeFailed})
		}
		return
	}
	if !c.current(gen) {
		return
	}
	logger.Info("Command dispatched, waiting for confirmation")
	c.emit(Event{CommandID: id, Tentative: value, Phase: PhaseDispatched})

	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err := clock.Sleep(ctx, c.clock, policy.Interval); err != nil {
			return
		}
		if !c.source.Refresh(ctx) {
			logger.Debug("Refresh failed during confirmation", zap.Int("attempt", attempt))
		}
		if ctx.Err() != nil {
			return
		}
		device, ok := c.source.Device(c.cfg.DeviceID)
		if ok && a.Match(device) {
			if c.finish(gen, false, nil) {
				logger.Info("Command confirmed", zap.Int("attempt", attempt))
				c.emit(Event{CommandID: id, Tentative: value, Phase: PhaseDone, Outcome: OutcomeConfirmed, Attempts: attempt})
			}
			return
		}
		logger.Debug("Command not confirmed yet", zap.Int("attempt", attempt))
	}

	keep := policy.OnTimeout == Keep
	var match func(goodhome.Device) bool
	if keep {
		match = a.Match
	}
	if c.finish(gen, keep, match) {
		outcome := policy.OnTimeout.outcome()
		logger.Warn("Command not confirmed within poll budget",
			zap.Int("attempts", policy.Attempts),
			zap.String("outcome", string(outcome)))
		c.emit(Event{
			CommandID: id,
			Tentative: value,
			Phase:     PhaseDone,
			Outcome:   outcome,
			Attempts:  policy.Attempts,
			Err:       goodhome.ErrNotConfirmed,
		})
	}
}

func (c *Controller[T]) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation
}

// finish ends command gen if it is still the current one. The tentative
// value survives only when keep is set.
func (c *Controller[T]) finish(gen uint64, keep bool, match func(goodhome.Device) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	if !keep {
		var zero T
		c.tentative = zero
		c.hasTentative = false
	}
	c.kept = match
	c.commandID = ""
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	return true
}

func (c *Controller[T]) emit(e Event) {
	e.EntityID = c.cfg.EntityID
	e.DeviceID = c.cfg.DeviceID
	e.Kind = c.cfg.Kind
	e.At = c.clock.Now()
	for _, o := range c.observers {
		o.CommandTransition(e)
	}
}
