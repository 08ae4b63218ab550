package changefeed

import (
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ChannelSuffix is appended to a table name to get its notification channel.
const ChannelSuffix = "_changes"

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,54}$`)

// Config controls the LISTEN connection.
type Config struct {
	// MinReconnectInterval and MaxReconnectInterval bound the backoff of the
	// listener connection itself.
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
	// PingInterval is how often an idle connection is checked.
	PingInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
		PingInterval:         time.Minute,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.MinReconnectInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.MaxReconnectInterval, validation.Required, validation.Min(c.MinReconnectInterval)),
		validation.Field(&c.PingInterval, validation.Required, validation.Min(time.Second)),
	)
}

// Channel returns the notification channel of table.
func Channel(table string) string {
	return table + ChannelSuffix
}

// ValidateTable checks table is a plain lower case identifier that still fits
// a channel name.
func ValidateTable(table string) error {
	return validation.Validate(table, validation.Required, validation.Match(tableName))
}
