package realtime

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config controls reconnection of subscription handles.
type Config struct {
	// ReconnectMin is the first backoff delay after a failure.
	ReconnectMin time.Duration
	// ReconnectMax caps the doubling backoff.
	ReconnectMax time.Duration
	// StableAfter is how long a handle must stay open before a later drop
	// starts over from ReconnectMin. Zero starts over after every open.
	StableAfter time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectMin: time.Second,
		ReconnectMax: 30 * time.Second,
		StableAfter:  time.Minute,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ReconnectMin, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.ReconnectMax, validation.Required, validation.Min(c.ReconnectMin)),
		validation.Field(&c.StableAfter, validation.Min(time.Duration(0))),
	)
}
