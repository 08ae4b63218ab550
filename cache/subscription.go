package cache

import "sync"

// Subscription is the dispose handle returned by Subscribe. Close removes the
// interest it registered; calling it more than once is a no-op.
type Subscription struct {
	once    sync.Once
	closeFn func()
}

func newSubscription(closeFn func()) *Subscription {
	return &Subscription{closeFn: closeFn}
}

// Close releases the subscription.
func (s *Subscription) Close() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
	return nil
}
