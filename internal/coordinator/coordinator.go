// Package coordinator keeps the last good device list of the account and
// refreshes it on a fixed interval or on demand.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goodhome/internal/clock"
	"goodhome/internal/goodhome"
)

// DefaultInterval is the periodic refresh interval
const DefaultInterval = 60 * time.Second

// pullTimeout bounds a shared pull once it no longer follows its caller
const pullTimeout = 2 * time.Minute

// Listener receives every successful snapshot
type Listener func([]goodhome.Device)

// DeviceSource pulls the account's device list
type DeviceSource interface {
	ListDevices(ctx context.Context) ([]goodhome.Device, bool)
}

// TokenKeeper renews the session ahead of expiry
type TokenKeeper interface {
	EnsureFreshToken(ctx context.Context) bool
}

// Status describes the last refresh cycles
type Status struct {
	LastUpdateSuccess bool      `json:"last_update_success"`
	LastAttempt       time.Time `json:"last_attempt"`
	LastSuccess       time.Time `json:"last_success"`
	Devices           int       `json:"devices"`
	Interval          string    `json:"interval"`
}

// Option customizes a Coordinator
type Option func(*Coordinator)

// WithProactiveRefresh renews the token before each pull when it nears expiry
func WithProactiveRefresh(k TokenKeeper) Option {
	return func(c *Coordinator) {
		c.tokens = k
	}
}

// Coordinator owns the shared device snapshot
type Coordinator struct {
	source   DeviceSource
	tokens   TokenKeeper
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger

	group singleflight.Group

	mu        sync.RWMutex
	devices   []goodhome.Device
	index     map[string]int
	status    Status
	listeners []Listener

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a coordinator. A non-positive interval uses DefaultInterval.
func New(source DeviceSource, clk clock.Clock, interval time.Duration, logger *zap.Logger, opts ...Option) *Coordinator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	c := &Coordinator{
		source:   source,
		clock:    clk,
		interval: interval,
		logger:   logger,
		index:    make(map[string]int),
	}
	c.status.Interval = interval.String()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs the first refresh, then keeps refreshing in the background
// until Stop or ctx is done. It returns the result of the first refresh.
func (c *Coordinator) Start(ctx context.Context) bool {
	ok := c.Refresh(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go c.loop(loopCtx, done)
	return ok
}

// Stop ends the refresh loop and waits for it to exit
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Coordinator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if err := clock.Sleep(ctx, c.clock, c.interval); err != nil {
			return
		}
		c.Refresh(ctx)
	}
}

// Refresh pulls a fresh device list and stores it. Concurrent callers
// share one pull, which outlives the caller that started it; a caller whose
// ctx ends first gets false while the pull carries on for the others. A
// failed pull keeps the previous snapshot.
func (c *Coordinator) Refresh(ctx context.Context) bool {
	ch := c.group.DoChan("refresh", func() (any, error) {
		pullCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pullTimeout)
		defer cancel()
		return c.pull(pullCtx), nil
	})
	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) pull(ctx context.Context) bool {
	if c.tokens != nil && !c.tokens.EnsureFreshToken(ctx) {
		c.logger.Warn("Proactive token refresh failed, pulling with current token")
	}

	devices, ok := c.source.ListDevices(ctx)
	now := c.clock.Now()

	c.mu.Lock()
	c.status.LastAttempt = now
	c.status.LastUpdateSuccess = ok
	if !ok {
		c.mu.Unlock()
		c.logger.Error("Failed to refresh devices, keeping previous snapshot",
			zap.Int("devices", len(c.Devices())))
		return false
	}
	c.devices = devices
	c.index = make(map[string]int, len(devices))
	for i, d := range devices {
		c.index[d.ID] = i
	}
	c.status.LastSuccess = now
	c.status.Devices = len(devices)
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	lastSuccess.Set(float64(now.Unix()))
	c.logger.Debug("Refreshed devices", zap.Int("devices", len(devices)))

	for _, fn := range listeners {
		fn(devices)
	}
	return true
}

// Devices returns the last good snapshot
func (c *Coordinator) Devices() []goodhome.Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]goodhome.Device(nil), c.devices...)
}

// Device returns one device of the last good snapshot
func (c *Coordinator) Device(id string) (goodhome.Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return goodhome.Device{}, false
	}
	return c.devices[i], true
}

// Status returns the outcome of the last cycles
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// LastUpdateSuccess reports whether the last pull succeeded
func (c *Coordinator) LastUpdateSuccess() bool {
	return c.Status().LastUpdateSuccess
}

// Subscribe registers fn to run after every successful refresh. Listeners
// run on the refreshing goroutine and must treat the slice as read-only.
func (c *Coordinator) Subscribe(fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}
