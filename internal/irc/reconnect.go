package irc

import (
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// reconnectBackoff yields the waits between reconnect attempts: min, then
// doubling up to max.
type reconnectBackoff struct {
	min, max time.Duration

	mu      sync.Mutex
	backoff retry.Backoff
}

func newReconnectBackoff(min, max time.Duration) *reconnectBackoff {
	return &reconnectBackoff{min: min, max: max}
}

func (r *reconnectBackoff) next() time.Duration {
	if r.min <= 0 {
		return r.min
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.backoff == nil {
		r.backoff = retry.WithCappedDuration(r.max, retry.NewExponential(r.min))
	}
	wait, _ := r.backoff.Next()
	return wait
}

func (r *reconnectBackoff) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backoff = nil
}

// resetReconnect starts the reconnect waits over from the minimum.
func (c *Client) resetReconnect() {
	if c.ev == nil {
		return
	}
	c.reconnect.reset()
	c.ev.ReconnectFreq = c.cfg.MinReconnectWait
}
