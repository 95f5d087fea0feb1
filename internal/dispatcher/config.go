package dispatcher

import (
	"time"

	"reportsync/pkg/backoff"
)

// MemoryConfig holds configuration for the in-memory dispatcher.
type MemoryConfig struct {
	BufferSize  int           // pending deliveries (default: 1000)
	Workers     int           // concurrent delivery goroutines (default: 4)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)

	MaxRetries       int            // retries after the first attempt (default: 3)
	Backoff          backoff.Config // retry backoff (default: 100ms doubling to 5s)
	BreakerThreshold int            // consecutive failures that open a host's circuit (default: 5)
	BreakerCooldown  time.Duration  // open circuit duration (default: 30s)
	MaxRequeues      int            // requeues before a delivery is dropped (default: 10)
}

// withDefaults fills in zero values with defaults.
func (c MemoryConfig) withDefaults() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.MaxRequeues <= 0 {
		c.MaxRequeues = 10
	}
	return c
}

// deliveryTimeout bounds one delivery: every attempt at HTTPTimeout plus the
// largest backoff between them.
func (c MemoryConfig) deliveryTimeout() time.Duration {
	attempts := time.Duration(c.MaxRetries + 1)
	return attempts*c.HTTPTimeout + time.Duration(c.MaxRetries)*backoff.Exponential(c.MaxRetries, &c.Backoff)
}
