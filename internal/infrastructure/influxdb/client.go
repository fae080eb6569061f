package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/pimonitor/pimonitor-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds

	millisecondsPerSecond = 1000
)

// SiteTag is the tag carrying the monitor's site id on every point.
const SiteTag = "site"

// Client writes device telemetry to InfluxDB. Points go through the
// batching write API without blocking and carry the site tag.
//
// All methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig

	connected atomic.Bool
	written   atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64

	mu      sync.RWMutex
	onError func(err error)
}

// WriteStats counts points since Connect. Dropped points were offered
// while the client was closed; failed counts rejected batches.
type WriteStats struct {
	Written int64
	Dropped int64
	Failed  int64
}

// Connect pings the server and prepares a batching write API whose points
// are tagged with siteID. Returns ErrDisabled when cfg.Enabled is false.
func Connect(cfg config.InfluxDBConfig, siteID string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	// #nosec G115 -- both values are positive here
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(flushInterval) * millisecondsPerSecond)
	if siteID != "" {
		opts.AddDefaultTag(SiteTag, siteID)
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	switch {
	case err != nil:
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	case !healthy:
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:      cfg,
	}
	c.connected.Store(true)
	go c.handleWriteErrors(c.writeAPI.Errors())

	return c, nil
}

func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.failed.Add(1)
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// Close flushes pending points and closes the client. Safe on nil.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.connected.Store(false)
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	return c.connected.Load()
}

// Stats returns the write counters. Safe on nil.
func (c *Client) Stats() WriteStats {
	if c == nil {
		return WriteStats{}
	}
	return WriteStats{Written: c.written.Load(), Dropped: c.dropped.Load(), Failed: c.failed.Load()}
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush blocks until buffered points are sent. No-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
