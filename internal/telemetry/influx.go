// Package telemetry writes thermostat readings to InfluxDB after every
// successful refresh.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"goodhome/internal/config"
)

const connectTimeout = 10 * time.Second

var (
	// ErrDisabled is returned by Connect when telemetry is off
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps ping failures
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)

// Client wraps the non-blocking InfluxDB write API
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Connect pings the server and opens a batching write API. Write errors
// are delivered asynchronously and logged.
func Connect(cfg config.InfluxDBConfig, logger *zap.Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(cfg.BatchSize).
			SetFlushInterval(uint(cfg.FlushInterval.Std().Milliseconds())),
	)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go c.handleWriteErrors(c.writeAPI.Errors())

	logger.Info("Connected to InfluxDB",
		zap.String("url", cfg.URL),
		zap.String("bucket", cfg.Bucket))
	return c, nil
}

func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for {
		select {
		case <-c.done:
			return
		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			c.logger.Warn("InfluxDB write failed", zap.Error(err))
		}
	}
}

// WritePoint queues p. It is a no-op after Close.
func (c *Client) WritePoint(p *write.Point) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.writeAPI.WritePoint(p)
}

// Flush sends every queued point
func (c *Client) Flush() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.writeAPI.Flush()
}

// Close flushes pending writes and closes the client
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.writeAPI.Flush()
	close(c.done)
	c.client.Close()
}
