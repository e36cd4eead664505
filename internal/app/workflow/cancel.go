package workflow

import "sync"

// cancelToken is a one-shot cooperative cancellation signal handed to a
// worker's adapter call. It is distinct from context cancellation so the
// worker can distinguish "caller asked to cancel" from "deadline elapsed"
// when deciding what terminal kind to record.
type cancelToken struct {
	mu        sync.Mutex
	ch        chan struct{}
	cancelled bool
}

func newCancelToken() *cancelToken {
	return &cancelToken{ch: make(chan struct{})}
}

// Cancel signals the token. Safe to call more than once.
func (c *cancelToken) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return
	}
	c.cancelled = true
	close(c.ch)
}

// Done returns a channel closed once Cancel has been called.
func (c *cancelToken) Done() <-chan struct{} {
	return c.ch
}

// Cancelled reports whether Cancel has been called.
func (c *cancelToken) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}
