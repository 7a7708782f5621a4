package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/gestionsostenible/console-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds
)

// Client records console usage telemetry in InfluxDB. Writes are
// batched and asynchronous: callers never block on the time-series
// backend, and a nil *Client is a valid no-op tracker, which is how the
// daemon runs when telemetry is disabled.
type Client struct {
	influx   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.AnalyticsConfig

	mu        sync.RWMutex
	connected bool
	onError   func(err error)
}

// Connect opens a batched write session against the configured InfluxDB
// server, pinging it first so a dead backend is reported at startup
// rather than through silently dropped points. Returns ErrDisabled when
// telemetry is off in config.
func Connect(cfg config.AnalyticsConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	// Both values are positive after defaulting; the API takes ms.
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)). //nolint:gosec
		SetFlushInterval(uint(flush) * 1000) //nolint:gosec
	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	switch healthy, err := influx.Ping(ctx); {
	case err != nil:
		influx.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	case !healthy:
		influx.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		influx:    influx,
		writeAPI:  influx.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:       cfg,
		connected: true,
	}
	go c.relayWriteErrors(c.writeAPI.Errors())

	return c, nil
}

// relayWriteErrors forwards async batch failures to the registered
// callback. The channel closes when the write API shuts down.
func (c *Client) relayWriteErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		cb := c.onError
		c.mu.RUnlock()
		if cb != nil {
			cb(err)
		}
	}
}

// Close drains the write buffer and releases the connection.
func (c *Client) Close() error {
	if c == nil || c.influx == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.influx.Close()
	return nil
}

// HealthCheck pings the server with a bounded timeout.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := c.influx.Ping(pingCtx)
	if err != nil {
		return fmt.Errorf("analytics health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("analytics health check failed: server not healthy")
	}
	return nil
}

// IsConnected reports the last known state and is the nil guard for
// every write method.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError registers a callback for async write failures. Writes are
// fire-and-forget, so this callback is the only place they surface.
func (c *Client) SetOnError(cb func(err error)) {
	c.mu.Lock()
	c.onError = cb
	c.mu.Unlock()
}

// Flush blocks until buffered points are written. No-op when nil,
// closed or disconnected.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}
