// Package account owns the single GoodHome session of the process: the
// vendor client, the coordinator that keeps its device list fresh, the
// entities projected from that list and the record of their commands.
package account

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"goodhome/internal/clock"
	"goodhome/internal/confirm"
	"goodhome/internal/coordinator"
	"goodhome/internal/entity"
	"goodhome/internal/goodhome"
	"goodhome/internal/shadowstate"
)

// ErrNotReady is returned by Setup when the first device refresh fails
var ErrNotReady = errors.New("account: first device refresh failed")

// Config holds everything needed to run one account
type Config struct {
	Client goodhome.Config

	RefreshInterval  time.Duration
	ProactiveRefresh bool

	// Policy tunes entity confirmation; OnTimeout is ignored
	Policy confirm.Policy

	// RatedPower maps device ids to heater wattage
	RatedPower map[string]float64
}

// Option customizes an Account
type Option func(*options)

type options struct {
	clientOpts []goodhome.Option
	observers  []confirm.Observer
}

// WithClientOptions forwards options to the vendor client
func WithClientOptions(opts ...goodhome.Option) Option {
	return func(o *options) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// WithObservers adds command observers before any entity exists
func WithObservers(obs ...confirm.Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs...)
	}
}

// Account ties the client, coordinator and entities of one login together
type Account struct {
	cfg     Config
	client  *goodhome.Client
	coord   *coordinator.Coordinator
	tracker *shadowstate.Tracker
	fanout  *fanout
	clock   clock.Clock
	logger  *zap.Logger

	mu       sync.RWMutex
	entities []entity.Entity
	index    map[string]entity.Entity
	closed   bool
}

// New creates an account. Nothing talks to the vendor until Setup.
func New(cfg Config, clk clock.Clock, logger *zap.Logger, opts ...Option) *Account {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	clientOpts := append([]goodhome.Option{goodhome.WithClock(clk)}, o.clientOpts...)
	client := goodhome.NewClient(cfg.Client, logger.Named("goodhome"), clientOpts...)

	var coordOpts []coordinator.Option
	if cfg.ProactiveRefresh {
		coordOpts = append(coordOpts, coordinator.WithProactiveRefresh(client))
	}

	a := &Account{
		cfg:     cfg,
		client:  client,
		coord:   coordinator.New(client, clk, cfg.RefreshInterval, logger.Named("coordinator"), coordOpts...),
		tracker: shadowstate.NewTracker(shadowstate.DefaultHistory),
		fanout:  &fanout{observers: o.observers},
		clock:   clk,
		logger:  logger,
		index:   make(map[string]entity.Entity),
	}
	a.coord.Subscribe(a.reconcile)
	return a
}

// Setup logs in when credentials are configured, runs the first refresh
// and builds the entities. A rejected login is logged and setup carries on
// so a configured static token can still be used.
func (a *Account) Setup(ctx context.Context) error {
	if a.cfg.Client.Email != "" && a.cfg.Client.Password != "" {
		if !a.client.Login(ctx) {
			a.logger.Warn("Login failed, continuing with the configured token")
		}
	}

	if !a.coord.Start(ctx) {
		a.coord.Stop()
		return ErrNotReady
	}

	entities := a.BuildEntities()
	a.logger.Info("Account ready",
		zap.String("user_id", a.client.UserID()),
		zap.Int("devices", len(a.coord.Devices())),
		zap.Int("entities", len(entities)))
	return nil
}

// BuildEntities projects the current snapshot across every platform and
// replaces the previous entity set
func (a *Account) BuildEntities() []entity.Entity {
	env := entity.Env{
		Source:     a.coord,
		Writer:     a.client,
		Clock:      a.clock,
		Logger:     a.logger.Named("entity"),
		Observers:  []confirm.Observer{a.tracker, a.fanout},
		Policy:     a.cfg.Policy,
		RatedPower: a.cfg.RatedPower,
	}
	built := entity.Build(env, a.coord.Devices())

	index := make(map[string]entity.Entity, len(built))
	for _, e := range built {
		index[e.UniqueID()] = e
	}

	a.mu.Lock()
	previous := a.entities
	a.entities = built
	a.index = index
	a.mu.Unlock()

	closeAll(previous)
	return append([]entity.Entity(nil), built...)
}

// Entity looks up an entity by unique id
func (a *Account) Entity(uniqueID string) (entity.Entity, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.index[uniqueID]
	return e, ok
}

// Entities returns every entity in build order
func (a *Account) Entities() []entity.Entity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]entity.Entity(nil), a.entities...)
}

// Identify makes a known device blink
func (a *Account) Identify(ctx context.Context, deviceID string) bool {
	if _, ok := a.coord.Device(deviceID); !ok {
		a.logger.Warn("Identify requested for unknown device", zap.String("device_id", deviceID))
		return false
	}
	return a.client.IdentifyDevice(ctx, deviceID)
}

// Observe registers o for every command transition, including those of
// entities built before the call
func (a *Account) Observe(o confirm.Observer) {
	a.fanout.add(o)
}

// Devices returns the last good device list
func (a *Account) Devices() []goodhome.Device {
	return a.coord.Devices()
}

// Status reports the last refresh cycles
func (a *Account) Status() coordinator.Status {
	return a.coord.Status()
}

// Commands returns pending commands and recent outcomes
func (a *Account) Commands() shadowstate.Snapshot {
	return a.tracker.Snapshot()
}

// Client returns the vendor client
func (a *Account) Client() *goodhome.Client {
	return a.client
}

// Coordinator returns the device list owner
func (a *Account) Coordinator() *coordinator.Coordinator {
	return a.coord
}

// Tracker returns the command record
func (a *Account) Tracker() *shadowstate.Tracker {
	return a.tracker
}

// Close stops refreshing and cancels every pending command
func (a *Account) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	entities := a.entities
	a.mu.Unlock()

	a.coord.Stop()
	closeAll(entities)
	a.logger.Info("Account closed")
}

// reconcile lets kept tentative values go once a refresh reports them
func (a *Account) reconcile([]goodhome.Device) {
	for _, e := range a.Entities() {
		if r, ok := e.(entity.Reconciler); ok {
			r.Reconcile()
		}
	}
}

func closeAll(entities []entity.Entity) {
	for _, e := range entities {
		if c, ok := e.(entity.Closer); ok {
			c.Close()
		}
	}
}

// fanout forwards transitions to observers that may be added late
type fanout struct {
	mu        sync.RWMutex
	observers []confirm.Observer
}

func (f *fanout) add(o confirm.Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, o)
}

func (f *fanout) CommandTransition(e confirm.Event) {
	f.mu.RLock()
	observers := f.observers
	f.mu.RUnlock()
	for _, o := range observers {
		o.CommandTransition(e)
	}
}
