package irc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dalnet/cardinal/internal/bot"
)

// whoRequest is an outstanding WHO for one channel.
type whoRequest struct {
	users   []bot.UserRef
	waiters []chan []bot.UserRef
}

// whoAggregator correlates WHO requests with RPL_WHOREPLY and RPL_ENDOFWHO.
// Callers asking about a channel that already has a request outstanding
// wait for that request instead of sending another.
type whoAggregator struct {
	send func(line string) error

	mu      sync.Mutex
	pending map[string]*whoRequest
}

func newWhoAggregator(send func(line string) error) *whoAggregator {
	return &whoAggregator{
		send:    send,
		pending: make(map[string]*whoRequest),
	}
}

func whoKey(channel string) string {
	return strings.ToLower(channel)
}

// Who waits for the member list of channel.
func (w *whoAggregator) Who(ctx context.Context, channel string) ([]bot.UserRef, error) {
	key := whoKey(channel)
	waiter := make(chan []bot.UserRef, 1)

	w.mu.Lock()
	req, ok := w.pending[key]
	if !ok {
		req = &whoRequest{}
		if err := w.send("WHO " + channel); err != nil {
			w.mu.Unlock()
			return nil, fmt.Errorf("failed to send WHO %s: %w", channel, err)
		}
		w.pending[key] = req
	}
	req.waiters = append(req.waiters, waiter)
	w.mu.Unlock()

	select {
	case users := <-waiter:
		return users, nil
	case <-ctx.Done():
		w.detach(key, req, waiter)
		return nil, ctx.Err()
	}
}

// detach removes a waiter that gave up. A request nobody waits for is
// forgotten so the next caller sends a fresh WHO.
func (w *whoAggregator) detach(key string, req *whoRequest, waiter chan []bot.UserRef) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, ch := range req.waiters {
		if ch == waiter {
			req.waiters = append(req.waiters[:i], req.waiters[i+1:]...)
			break
		}
	}
	if len(req.waiters) == 0 && w.pending[key] == req {
		delete(w.pending, key)
	}
}

func (w *whoAggregator) reply(channel string, user bot.UserRef) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if req, ok := w.pending[whoKey(channel)]; ok {
		req.users = append(req.users, user)
	}
}

// end resolves every waiter, in the order they asked, each with its own
// copy of the list.
func (w *whoAggregator) end(channel string) {
	key := whoKey(channel)

	w.mu.Lock()
	req, ok := w.pending[key]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, key)
	waiters, found := req.waiters, req.users
	req.waiters = nil
	w.mu.Unlock()

	for _, waiter := range waiters {
		users := make([]bot.UserRef, len(found))
		copy(users, found)
		waiter <- users
	}
}
