package realtime

import (
	"errors"
	"fmt"
)

// ErrUnknownTable is returned by Open for a table without a route.
var ErrUnknownTable = errors.New("realtime: no route for table")

// SubscriptionError is the notice raised when a handle loses its feed or
// fails to (re)connect. It never reaches readers of the cache.
type SubscriptionError struct {
	Table   string
	Handle  string
	Attempt int
	Err     error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("realtime: subscription %s on %s (attempt %d): %v", e.Handle, e.Table, e.Attempt, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that a handle stops reconnecting and stays in
// StateError until it is closed.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
