package pool

import (
	"context"
	"testing"
	"time"

	"github.com/tresler/httpool/config"
	"github.com/tresler/httpool/transport"
)

const (
	waitFor  = 3 * time.Second
	pollTick = 2 * time.Millisecond
)

func testScope() Scope {
	return Scope{Service: "orders", Authority: "api.internal:8443"}
}

func testLimits(mut func(*config.Limits)) config.Limits {
	limits := config.Limits{
		MaxRequestsPerHTTP2Connection: 100,
		ConnectTimeout:                time.Second,
	}
	if mut != nil {
		mut(&limits)
	}
	return limits.Normalize()
}

func newTestPool(t *testing.T, limits config.Limits, connector transport.Connector) *AuthorityPool {
	t.Helper()
	p := newAuthorityPool(testScope(), limits, connector)
	t.Cleanup(func() {
		p.shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.awaitDrain(ctx)
	})
	return p
}

func testRequest() *transport.Request {
	return &transport.Request{Method: "GET", Path: "/v1/ping"}
}

func waitDone(t *testing.T, f *Future) (*transport.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	resp, err := f.Wait(ctx)
	if ctx.Err() != nil {
		t.Fatalf("future did not resolve within %v", waitFor)
	}
	return resp, err
}
