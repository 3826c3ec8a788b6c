package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-aqara/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 * time.Second
)

// Client records accessory readings and bridge counters in one bucket.
// Writes are batched by the library and never block the caller; failures
// are counted and handed to the callback set with SetOnError.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string

	closed      atomic.Bool
	writeErrors atomic.Uint64

	mu      sync.RWMutex
	onError func(err error)
}

// Connect opens the bucket named in cfg and pings the server once.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch := uint(fallbackBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	flush := fallbackFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())) //nolint:gosec // positive by construction
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, cfg.URL, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
	}
	go c.drainErrors(c.writeAPI.Errors())
	return c, nil
}

func ping(ctx context.Context, client influxdb2.Client) error {
	ok, err := client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("server reports unhealthy")
	}
	return nil
}

func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.writeErrors.Add(1)
		c.mu.RLock()
		cb := c.onError
		c.mu.RUnlock()
		if cb != nil {
			cb(fmt.Errorf("writing to bucket %s: %w", c.bucket, err))
		}
	}
}

// SetOnError installs the callback for asynchronous write failures.
func (c *Client) SetOnError(cb func(err error)) {
	c.mu.Lock()
	c.onError = cb
	c.mu.Unlock()
}

// WriteErrors returns the number of batch failures seen so far.
func (c *Client) WriteErrors() uint64 {
	return c.writeErrors.Load()
}

// IsConnected reports whether the client still accepts writes.
func (c *Client) IsConnected() bool {
	return c != nil && !c.closed.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrClosed
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(pingCtx, c.client); err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return nil
}

// Flush sends buffered points now. It does nothing after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}

// Close flushes pending points and releases the client. Calling it twice is safe.
func (c *Client) Close() error {
	if c == nil || c.closed.Swap(true) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

func (c *Client) write(p *write.Point) {
	if p == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
