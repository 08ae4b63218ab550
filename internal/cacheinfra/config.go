package cacheinfra

import (
	"errors"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config holds the configuration for the query store.
type Config struct {
	// DefaultFreshness is the freshness window used by callers that do not
	// pass one explicitly. Zero means every cached value is stale on read.
	DefaultFreshness time.Duration

	// EvictionGrace is how long an entry with no subscribers is kept before
	// it is dropped. It applies equally to entries created by a plain read.
	// Must be greater than 0. Default: 5m
	EvictionGrace time.Duration
}

// DefaultConfig returns a Config with sensible defaults for most use cases.
func DefaultConfig() Config {
	return Config{
		DefaultFreshness: 5 * time.Minute,
		EvictionGrace:    5 * time.Minute,
	}
}

// Validate checks if the configuration values are valid.
// The first failing field is reported as a *ConfigError.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.DefaultFreshness, validation.Min(time.Duration(0))),
		validation.Field(&c.EvictionGrace, validation.Required, validation.Min(time.Millisecond)),
	)
	return asConfigError(err)
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

func asConfigError(err error) error {
	if err == nil {
		return nil
	}

	var errs validation.Errors
	if !errors.As(err, &errs) {
		return err
	}

	fields := make([]string, 0, len(errs))
	for field := range errs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if errs[field] != nil {
			return &ConfigError{Field: field, Message: errs[field].Error()}
		}
	}
	return nil
}
