// Package client is the user-facing entry point for dispatching HTTP
// requests through the connection pool. It tags each request with an
// ID, resolves it to a pooled scope, and exposes both asynchronous
// (future-returning) and synchronous call styles.
package client

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tresler/httpool/config"
	"github.com/tresler/httpool/logger"
	"github.com/tresler/httpool/pool"
	"github.com/tresler/httpool/transport"
)

// Client wraps a pool registry behind a small request API.
type Client struct {
	registry *pool.Registry
}

// New creates a client with its own registry over the given connector.
func New(cfg config.Config, connector transport.Connector) (*Client, error) {
	reg, err := pool.NewRegistry(cfg, connector)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	return &Client{registry: reg}, nil
}

// NewWithRegistry wraps an existing registry, typically one shared with
// the admin API.
func NewWithRegistry(reg *pool.Registry) *Client {
	return &Client{registry: reg}
}

// Registry exposes the underlying pool registry.
func (c *Client) Registry() *pool.Registry {
	return c.registry
}

// Submit hands one request to the pool for the (service, authority)
// scope and returns immediately. The result arrives on the future.
func (c *Client) Submit(ctx context.Context, service, authority string, req *transport.Request) (*pool.Future, pool.Outcome, error) {
	requestID := uuid.NewString()
	ctx = logger.WithContextValue(ctx, logger.RequestIDKey, requestID)
	ctx = logger.WithContextValue(ctx, logger.ServiceIDKey, service)
	ctx = logger.WithContextValue(ctx, logger.AuthorityKey, authority)

	fut, outcome, err := c.registry.Submit(service, authority, req)
	if err != nil {
		logger.ErrorContext(ctx, "submit failed", "error", err)
		return nil, outcome, err
	}
	logger.DebugContext(ctx, "request submitted",
		"outcome", outcome.String(),
		"method", req.Method,
		"path", req.Path,
	)
	return fut, outcome, nil
}

// Do submits the request and waits for its result. The context bounds
// only the wait; a queued request keeps its own acquire deadline.
func (c *Client) Do(ctx context.Context, service, authority string, req *transport.Request) (*transport.Response, error) {
	fut, _, err := c.Submit(ctx, service, authority, req)
	if err != nil {
		return nil, err
	}
	return fut.Wait(ctx)
}

// Close drains and shuts down every pool owned by the registry.
func (c *Client) Close(ctx context.Context) error {
	return c.registry.Shutdown(ctx)
}
