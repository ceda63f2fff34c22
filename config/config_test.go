package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultMaxPendingConnections, cfg.Pool.MaxPendingConnections)
	assert.Equal(t, DefaultMaxHTTP2Connections, cfg.Pool.MaxHTTP2Connections)
	assert.Equal(t, DefaultConnectTimeout, cfg.Pool.ConnectTimeout)

	// Unbounded options stay at zero
	assert.Equal(t, 0, cfg.Pool.MaxPendingAcquires)
	assert.Equal(t, 0, cfg.Pool.MaxHTTP1Connections)
	assert.Equal(t, time.Duration(0), cfg.Pool.AcquireTimeout)

	// Read-timeout drain policy defaults on
	assert.True(t, cfg.Pool.DrainsOnReadTimeout())
}

func TestLimitsForMergesServiceOverrides(t *testing.T) {
	drain := false
	cfg := Config{
		Pool: Limits{
			MaxPendingAcquires: 16,
			AcquireTimeout:     time.Second,
			IdleTimeout:        time.Minute,
		},
		Services: map[string]Limits{
			"billing": {
				MaxPendingAcquires: 64,
				MaxHTTP2Connections: 3,
				DrainOnReadTimeout:  &drain,
			},
		},
	}

	billing := cfg.LimitsFor("billing")
	assert.Equal(t, 64, billing.MaxPendingAcquires)
	assert.Equal(t, 3, billing.MaxHTTP2Connections)
	assert.Equal(t, time.Second, billing.AcquireTimeout)
	assert.Equal(t, time.Minute, billing.IdleTimeout)
	assert.False(t, billing.DrainsOnReadTimeout())

	other := cfg.LimitsFor("unknown")
	assert.Equal(t, 16, other.MaxPendingAcquires)
	assert.Equal(t, DefaultMaxHTTP2Connections, other.MaxHTTP2Connections)
	assert.True(t, other.DrainsOnReadTimeout())
}

func TestValidateRejectsNegativeLimits(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"negative pending acquires", func(c *Config) { c.Pool.MaxPendingAcquires = -1 }},
		{"negative acquire timeout", func(c *Config) { c.Pool.AcquireTimeout = -time.Second }},
		{"negative http2 cap", func(c *Config) { c.Pool.MaxHTTP2Connections = -2 }},
		{"negative stream cap", func(c *Config) { c.Pool.MaxRequestsPerHTTP2Connection = -1 }},
		{"negative connect ttl", func(c *Config) { c.Pool.ConnectTTL = -time.Minute }},
		{"negative dial rate", func(c *Config) { c.Pool.DialRate = -0.5 }},
		{"negative shutdown deadline", func(c *Config) { c.ShutdownDeadline = -time.Second }},
		{"negative service override", func(c *Config) {
			c.Services = map[string]Limits{"svc": {MaxPendingConnections: -4}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mut(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseTOML(t *testing.T) {
	data := []byte(`
shutdown-deadline = "5s"

[pool]
max-pending-acquires = 128
acquire-timeout = "250ms"
max-pending-connections = 2
max-concurrent-http2-connections = 1
max-concurrent-requests-per-http2-connection = 100
connection-pool-idle-timeout = "30s"

[services.orders]
max-concurrent-http1-connections = 8
read-timeout = "2s"
`)

	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.ShutdownDeadline)
	assert.Equal(t, 128, cfg.Pool.MaxPendingAcquires)
	assert.Equal(t, 250*time.Millisecond, cfg.Pool.AcquireTimeout)
	assert.Equal(t, 2, cfg.Pool.MaxPendingConnections)
	assert.Equal(t, 100, cfg.Pool.MaxRequestsPerHTTP2Connection)

	orders := cfg.LimitsFor("orders")
	assert.Equal(t, 8, orders.MaxHTTP1Connections)
	assert.Equal(t, 2*time.Second, orders.ReadTimeout)
	assert.Equal(t, 128, orders.MaxPendingAcquires)
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse([]byte(`[pool]` + "\n" + `max-pending-connections = -1`))
	require.Error(t, err)

	_, err = Parse([]byte(`not toml at all [`))
	require.Error(t, err)
}
