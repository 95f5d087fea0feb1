package download

import (
	"time"
)

const defaultPollInterval = 2 * time.Second

// Config holds Manager settings.
type Config struct {
	PollInterval    time.Duration // time between status requests (default: 2s)
	MaxPollAttempts int           // status requests before giving up, 0 = unbounded
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MaxPollAttempts < 0 {
		c.MaxPollAttempts = 0
	}
	return c
}
