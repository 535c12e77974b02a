// Package natsclient manages the NATS connection the sync transport rides
// on, wiring connection lifecycle events into logging and metrics and
// exposing the JetStream key-value handle used for snapshot storage.
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/dzearing/ai-experiments-sub014/errors"
	"github.com/dzearing/ai-experiments-sub014/metric"
)

// Client wraps a NATS connection with lifecycle handlers and JetStream
// access. Construct with NewClient, then Connect before use.
type Client struct {
	url     string
	name    string
	token   string
	timeout time.Duration
	logger  *slog.Logger
	metrics *metric.Metrics

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithName sets the client connection name visible to the NATS server
func WithName(name string) ClientOption {
	return func(c *Client) { c.name = name }
}

// WithToken sets token authentication
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the connect timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger; nil falls back to slog.Default()
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics wires connection events into the platform metrics
func WithMetrics(m *metric.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Client", "NewClient", "url validation")
	}
	c := &Client{
		url:     url,
		name:    "statebus",
		timeout: 5 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Connect establishes the connection and the JetStream context. Reconnects
// are handled by the NATS client library; lifecycle events are logged and
// reflected in metrics.
func (c *Client) Connect() error {
	opts := []nats.Option{
		nats.Name(c.name),
		nats.Timeout(c.timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("nats disconnected", "error", err)
			if c.metrics != nil {
				c.metrics.NATSConnected.Set(0)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
			if c.metrics != nil {
				c.metrics.NATSConnected.Set(1)
				c.metrics.NATSReconnects.Inc()
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.logger.Info("nats connection closed")
			if c.metrics != nil {
				c.metrics.NATSConnected.Set(0)
			}
		}),
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}

	conn, err := nats.Connect(c.url, opts...)
	if err != nil {
		return errors.WrapTransient(err, "Client", "Connect", "dial nats")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return errors.WrapFatal(err, "Client", "Connect", "create jetstream context")
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.NATSConnected.Set(1)
	}
	c.logger.Info("nats connected", "url", conn.ConnectedUrl(), "name", c.name)
	return nil
}

// Conn returns the underlying connection, or an error when not connected.
func (c *Client) Conn() (*nats.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "Client", "Conn", "connection check")
	}
	return c.conn, nil
}

// KeyValueBucket opens (or creates) a JetStream key-value bucket.
func (c *Client) KeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection,
			"Client", "KeyValueBucket", "connection check")
	}

	bucket, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		return bucket, nil
	}
	bucket, err = js.CreateKeyValue(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "KeyValueBucket", "create KV bucket")
	}
	return bucket, nil
}

// Subscribe registers a handler for a subject (wildcards allowed).
func (c *Client) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	conn, err := c.Conn()
	if err != nil {
		return nil, err
	}
	sub, err := conn.Subscribe(subject, handler)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}
	return sub, nil
}

// Publish sends a message on a subject.
func (c *Client) Publish(subject string, data []byte) error {
	conn, err := c.Conn()
	if err != nil {
		return err
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish "+subject)
	}
	return nil
}

// Close drains and closes the connection. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed, closing hard", "error", err)
		conn.Close()
	}
	if c.metrics != nil {
		c.metrics.NATSConnected.Set(0)
	}
}
