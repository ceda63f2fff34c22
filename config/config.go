// Package config defines the tunable surface of the connection pool:
// global limits and timeouts plus per-service overrides. Values are
// consumed by the pool, never produced by it.
package config

import (
	"fmt"
	"time"
)

// Defaults applied by Normalize when a field is left unset.
const (
	DefaultMaxPendingConnections = 4
	DefaultMaxHTTP2Connections   = 1
	DefaultConnectTimeout        = 30 * time.Second
)

// Limits holds the pool limits and timeouts for one service scope.
// Zero values mean "unset": Normalize fills defaults, and for unbounded
// options (MaxPendingAcquires, MaxHTTP1Connections) zero stays unbounded.
type Limits struct {
	// MaxPendingAcquires bounds the pending-request queue per scope.
	// 0 means unbounded.
	MaxPendingAcquires int `toml:"max-pending-acquires"`

	// AcquireTimeout is how long a request may wait in the pending queue
	// before failing. 0 means no deadline.
	AcquireTimeout time.Duration `toml:"acquire-timeout"`

	// MaxPendingConnections bounds connections being established
	// concurrently per scope.
	MaxPendingConnections int `toml:"max-pending-connections"`

	// MaxHTTP1Connections caps established HTTP/1 connections per scope.
	// 0 means unlimited.
	MaxHTTP1Connections int `toml:"max-concurrent-http1-connections"`

	// MaxHTTP2Connections caps established HTTP/2 (and HTTP/3)
	// connections per scope.
	MaxHTTP2Connections int `toml:"max-concurrent-http2-connections"`

	// MaxRequestsPerHTTP2Connection caps concurrent streams on one
	// multiplexed connection. Required whenever HTTP/2 is in play; there
	// is deliberately no hidden default.
	MaxRequestsPerHTTP2Connection int `toml:"max-concurrent-requests-per-http2-connection"`

	// ReadTimeout bounds a single request/response exchange.
	ReadTimeout time.Duration `toml:"read-timeout"`

	// IdleTimeout retires a connection idle for longer than this.
	IdleTimeout time.Duration `toml:"connection-pool-idle-timeout"`

	// ConnectTTL retires a connection this long after creation,
	// letting in-flight requests finish.
	ConnectTTL time.Duration `toml:"connect-ttl"`

	// ConnectTimeout bounds the transport handshake.
	ConnectTimeout time.Duration `toml:"connect-timeout"`

	// DrainOnReadTimeout also drains the whole connection when a read
	// timeout fails a request. Safer for HTTP/1, where a late response
	// would desynchronize the connection.
	DrainOnReadTimeout *bool `toml:"drain-on-read-timeout"`

	// DialRate throttles connection establishment attempts per second.
	// 0 disables throttling. DialBurst defaults to 1 when DialRate is set.
	DialRate  float64 `toml:"dial-rate"`
	DialBurst int     `toml:"dial-burst"`
}

// Config is the full pool configuration: global defaults plus
// per-service overrides, which take precedence field by field.
type Config struct {
	Pool     Limits            `toml:"pool"`
	Services map[string]Limits `toml:"services"`

	// ShutdownDeadline force-closes slots that have not drained within
	// this long of Shutdown being called. 0 waits indefinitely.
	ShutdownDeadline time.Duration `toml:"shutdown-deadline"`
}

// Default returns a Config with normalized global limits and no
// per-service overrides.
func Default() Config {
	cfg := Config{}
	cfg.Pool = cfg.Pool.Normalize()
	return cfg
}

// Normalize fills defaulted fields, leaving unbounded options at zero.
func (l Limits) Normalize() Limits {
	if l.MaxPendingConnections == 0 {
		l.MaxPendingConnections = DefaultMaxPendingConnections
	}
	if l.MaxHTTP2Connections == 0 {
		l.MaxHTTP2Connections = DefaultMaxHTTP2Connections
	}
	if l.ConnectTimeout == 0 {
		l.ConnectTimeout = DefaultConnectTimeout
	}
	if l.DialRate > 0 && l.DialBurst == 0 {
		l.DialBurst = 1
	}
	return l
}

// merge overlays per-service values onto the global limits.
func (l Limits) merge(over Limits) Limits {
	if over.MaxPendingAcquires != 0 {
		l.MaxPendingAcquires = over.MaxPendingAcquires
	}
	if over.AcquireTimeout != 0 {
		l.AcquireTimeout = over.AcquireTimeout
	}
	if over.MaxPendingConnections != 0 {
		l.MaxPendingConnections = over.MaxPendingConnections
	}
	if over.MaxHTTP1Connections != 0 {
		l.MaxHTTP1Connections = over.MaxHTTP1Connections
	}
	if over.MaxHTTP2Connections != 0 {
		l.MaxHTTP2Connections = over.MaxHTTP2Connections
	}
	if over.MaxRequestsPerHTTP2Connection != 0 {
		l.MaxRequestsPerHTTP2Connection = over.MaxRequestsPerHTTP2Connection
	}
	if over.ReadTimeout != 0 {
		l.ReadTimeout = over.ReadTimeout
	}
	if over.IdleTimeout != 0 {
		l.IdleTimeout = over.IdleTimeout
	}
	if over.ConnectTTL != 0 {
		l.ConnectTTL = over.ConnectTTL
	}
	if over.ConnectTimeout != 0 {
		l.ConnectTimeout = over.ConnectTimeout
	}
	if over.DrainOnReadTimeout != nil {
		l.DrainOnReadTimeout = over.DrainOnReadTimeout
	}
	if over.DialRate != 0 {
		l.DialRate = over.DialRate
	}
	if over.DialBurst != 0 {
		l.DialBurst = over.DialBurst
	}
	return l
}

// LimitsFor returns the effective limits for a service, with per-service
// overrides applied on top of the global pool limits.
func (c Config) LimitsFor(service string) Limits {
	limits := c.Pool.Normalize()
	if over, ok := c.Services[service]; ok {
		limits = limits.merge(over)
	}
	return limits.Normalize()
}

// DrainsOnReadTimeout reports the effective read-timeout drain policy.
// The default is to drain.
func (l Limits) DrainsOnReadTimeout() bool {
	if l.DrainOnReadTimeout == nil {
		return true
	}
	return *l.DrainOnReadTimeout
}

// Validate rejects configurations the pool cannot run with. Invalid
// limits are programmer errors and fatal at startup.
func (c Config) Validate() error {
	if err := c.Pool.validate("pool"); err != nil {
		return err
	}
	for name, limits := range c.Services {
		if err := limits.validate("services." + name); err != nil {
			return err
		}
	}
	if c.ShutdownDeadline < 0 {
		return fmt.Errorf("config: shutdown-deadline must not be negative, got %v", c.ShutdownDeadline)
	}
	return nil
}

func (l Limits) validate(section string) error {
	intFields := []struct {
		name  string
		value int
	}{
		{"max-pending-acquires", l.MaxPendingAcquires},
		{"max-pending-connections", l.MaxPendingConnections},
		{"max-concurrent-http1-connections", l.MaxHTTP1Connections},
		{"max-concurrent-http2-connections", l.MaxHTTP2Connections},
		{"max-concurrent-requests-per-http2-connection", l.MaxRequestsPerHTTP2Connection},
		{"dial-burst", l.DialBurst},
	}
	for _, f := range intFields {
		if f.value < 0 {
			return fmt.Errorf("config: %s.%s must not be negative, got %d", section, f.name, f.value)
		}
	}

	durFields := []struct {
		name  string
		value time.Duration
	}{
		{"acquire-timeout", l.AcquireTimeout},
		{"read-timeout", l.ReadTimeout},
		{"connection-pool-idle-timeout", l.IdleTimeout},
		{"connect-ttl", l.ConnectTTL},
		{"connect-timeout", l.ConnectTimeout},
	}
	for _, f := range durFields {
		if f.value < 0 {
			return fmt.Errorf("config: %s.%s must not be negative, got %v", section, f.name, f.value)
		}
	}

	if l.DialRate < 0 {
		return fmt.Errorf("config: %s.dial-rate must not be negative, got %v", section, l.DialRate)
	}
	return nil
}
