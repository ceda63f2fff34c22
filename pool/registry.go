// Package pool implements a destination-scoped HTTP connection pool
// with admission control. Requests enter through the Registry, resolve
// to a (service, authority) scope, and are dispatched, queued, or
// rejected by the scope's AuthorityPool according to configured limits.
package pool

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tresler/httpool/config"
	"github.com/tresler/httpool/logger"
	"github.com/tresler/httpool/transport"
)

// Registry owns every AuthorityPool, keyed by scope. Pools are created
// lazily and atomically on first use. Construct one explicitly and pass
// it by reference; there is no ambient instance.
type Registry struct {
	cfg       config.Config
	connector transport.Connector

	mu     sync.RWMutex
	pools  map[Scope]*AuthorityPool
	closed bool
}

// NewRegistry validates the configuration and creates an empty registry.
func NewRegistry(cfg config.Config, connector transport.Connector) (*Registry, error) {
	if connector == nil {
		return nil, errors.New("pool: registry requires a connector")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		cfg:       cfg,
		connector: connector,
		pools:     make(map[Scope]*AuthorityPool),
	}, nil
}

// Get returns the pool for a scope, creating it on first use.
func (r *Registry) Get(scope Scope) (*AuthorityPool, error) {
	r.mu.RLock()
	p, ok := r.pools[scope]
	closed := r.closed
	r.mu.RUnlock()
	if ok {
		return p, nil
	}
	if closed {
		return nil, &PoolError{Op: "get", Scope: scope, Err: ErrPoolClosed}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, &PoolError{Op: "get", Scope: scope, Err: ErrPoolClosed}
	}
	if p, ok := r.pools[scope]; ok {
		return p, nil
	}
	p = newAuthorityPool(scope, r.cfg.LimitsFor(scope.Service), r.connector)
	r.pools[scope] = p
	logger.Info("pool created", "scope", scope.String())
	return p, nil
}

// Submit resolves the request's scope and hands it to the owning pool.
func (r *Registry) Submit(service, authority string, req *transport.Request) (*Future, Outcome, error) {
	scope, err := ResolveScope(service, authority)
	if err != nil {
		return nil, OutcomeRejected, err
	}
	p, err := r.Get(scope)
	if err != nil {
		return nil, OutcomeRejected, err
	}
	fut, outcome := p.Submit(req)
	return fut, outcome, nil
}

// Shutdown drains and closes every pool. Pending requests fail with a
// cancellation error; slots drain, then close. When the configured
// shutdown deadline (or the caller's context) expires first, remaining
// slots are force-closed and the first such overrun is reported.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	pools := make([]*AuthorityPool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.Unlock()

	if r.cfg.ShutdownDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ShutdownDeadline)
		defer cancel()
	}

	var g errgroup.Group
	for _, p := range pools {
		p := p
		g.Go(func() error {
			p.shutdown()
			return p.awaitDrain(ctx)
		})
	}
	err := g.Wait()
	logger.Info("registry shut down", "pools", len(pools))
	return err
}

// Snapshot returns per-pool stats for every scope, ordered by scope.
func (r *Registry) Snapshot() []Stats {
	r.mu.RLock()
	pools := make([]*AuthorityPool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.RUnlock()

	out := make([]Stats, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out
}

// Lookup returns the stats for one scope, if its pool exists.
func (r *Registry) Lookup(scope Scope) (Stats, bool) {
	r.mu.RLock()
	p, ok := r.pools[scope]
	r.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	return p.Stats(), true
}
