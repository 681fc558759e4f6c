package config

import (
	"time"
)

// DatabaseConfig holds the PostgreSQL pool configuration. The pool stays
// small: writes arrive as short per-event transactions from the webhook
// receiver and the worker sweeps.
type DatabaseConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnIdleTime    time.Duration
	HealthPeriod    time.Duration
}

func databaseDefaults() DatabaseConfig {
	return DatabaseConfig{
		MaxConns:        16,
		MinConns:        2,
		ConnMaxLifetime: 30 * time.Minute,
		ConnIdleTime:    5 * time.Minute,
		HealthPeriod:    time.Minute,
	}
}

// withDefaults fills unset pool parameters so a URL-only configuration
// still produces a usable pool.
func (c DatabaseConfig) withDefaults() DatabaseConfig {
	d := databaseDefaults()
	if c.MaxConns <= 0 {
		c.MaxConns = d.MaxConns
	}
	if c.MinConns <= 0 {
		c.MinConns = d.MinConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = d.ConnMaxLifetime
	}
	if c.ConnIdleTime <= 0 {
		c.ConnIdleTime = d.ConnIdleTime
	}
	if c.HealthPeriod <= 0 {
		c.HealthPeriod = d.HealthPeriod
	}
	return c
}
