// Package event implements the registry that fans protocol events out to
// subscribers. Every subscriber receives the bot handle followed by the
// event's positional arguments.
package event

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/oops"

	"github.com/dalnet/cardinal/internal/bot"
	"github.com/dalnet/cardinal/internal/logging"
)

// Func is the signature of every subscriber.
type Func func(b bot.Bot, args ...any) error

// Callback is a subscriber together with its declared shape.
type Callback struct {
	// Name is used in logs only.
	Name string
	// Params is the number of positional parameters the subscriber
	// declares, counting the leading bot handle.
	Params int
	// Variadic subscribers accept any number of arguments and skip the
	// arity check.
	Variadic bool
	Fn       Func
}

// NewCallback returns a callback taking the bot handle and arity arguments.
func NewCallback(name string, arity int, fn Func) Callback {
	return Callback{Name: name, Params: arity + 1, Fn: fn}
}

// VariadicCallback returns a callback that accepts any event.
func VariadicCallback(name string, fn Func) Callback {
	return Callback{Name: name, Variadic: true, Fn: fn}
}

// ID identifies a registered callback. IDs increase monotonically, so
// ordering by ID is registration order.
type ID uint64

type subscriber struct {
	id ID
	cb Callback
}

// Registry holds named events and their subscribers. It is safe for
// concurrent use; subscribers are always invoked without the lock held so
// they may register or remove callbacks themselves.
type Registry struct {
	bot    bot.Bot
	log    zerolog.Logger
	mu     sync.RWMutex
	events map[string]int
	subs   map[string][]subscriber
	nextID ID
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = l
	}
}

// NewRegistry creates an empty registry whose subscribers receive b.
func NewRegistry(b bot.Bot, opts ...Option) *Registry {
	r := &Registry{
		bot:    b,
		log:    log.With().Str("component", "event").Logger(),
		events: make(map[string]int),
		subs:   make(map[string][]subscriber),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterEvent declares an event taking arity positional arguments.
// Callbacks registered before the event existed are checked now; those
// whose shape does not match stay subscribed but are never called.
func (r *Registry) RegisterEvent(name string, arity int) error {
	if arity < 0 {
		return errArity(name, arity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.events[name]; ok {
		return errAlreadyExists(name)
	}
	r.events[name] = arity

	for _, s := range r.subs[name] {
		if err := checkArity(name, arity, s.cb); err != nil {
			r.log.Warn().
				Str("event", name).
				Str("callback", s.cb.Name).
				Err(err).
				Msg("pre-registered callback does not match event, it will not be called")
		}
	}

	r.log.Debug().Str("event", name).Int("arity", arity).Msg("registered event")
	return nil
}

// DeregisterEvent removes the event and every subscriber bound to it.
func (r *Registry) DeregisterEvent(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.events[name]; !ok {
		return errDoesNotExist(name)
	}
	delete(r.events, name)
	delete(r.subs, name)
	return nil
}

// RegisterCallback subscribes cb to name. The event does not have to exist
// yet; if it does, the callback's arity is checked against it.
func (r *Registry) RegisterCallback(name string, cb Callback) (ID, error) {
	if cb.Fn == nil {
		return 0, errCallback(name, "callback %q for %s is not callable", cb.Name, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if arity, ok := r.events[name]; ok {
		if err := checkArity(name, arity, cb); err != nil {
			return 0, err
		}
	}

	r.nextID++
	id := r.nextID
	r.subs[name] = append(r.subs[name], subscriber{id: id, cb: cb})
	return id, nil
}

// RemoveCallback unsubscribes id from name. Unknown names or ids are ignored.
func (r *Registry) RemoveCallback(name string, id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subs[name]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		// Copy so that a Fire holding the old slice keeps a stable view.
		next := make([]subscriber, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(r.subs, name)
		} else {
			r.subs[name] = next
		}
		return
	}
}

// Has reports whether id is currently subscribed to name.
func (r *Registry) Has(name string, id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.subs[name] {
		if s.id == id {
			return true
		}
	}
	return false
}

// Subscribers returns the ids subscribed to name in registration order.
func (r *Registry) Subscribers(name string) []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]ID, 0, len(r.subs[name]))
	for _, s := range r.subs[name] {
		ids = append(ids, s.id)
	}
	return ids
}

// Exists reports whether name has been registered as an event.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.events[name]
	return ok
}

// Fire invokes every subscriber of name in registration order, skipping
// those whose arity does not match. A failing or panicking subscriber is
// logged and skipped. accepted is true iff at
// least one subscriber returned normally.
func (r *Registry) Fire(name string, args ...any) (accepted bool, err error) {
	r.mu.RLock()
	arity, ok := r.events[name]
	subs := r.subs[name]
	r.mu.RUnlock()

	if !ok {
		return false, errDoesNotExist(name)
	}
	if len(args) != arity {
		return false, errCallback(name, "event %s takes %d arguments, fired with %d", name, arity, len(args))
	}

	EventsFired.WithLabelValues(name).Inc()

	for _, s := range subs {
		if checkArity(name, arity, s.cb) != nil {
			continue
		}
		err := r.invoke(s.cb, args)
		switch {
		case err == nil:
			accepted = true
			SubscriberResults.WithLabelValues(name, ResultAccepted).Inc()
		case errors.Is(err, ErrRejected):
			SubscriberResults.WithLabelValues(name, ResultRejected).Inc()
			r.log.Debug().
				Str("event", name).
				Str("callback", s.cb.Name).
				Msg("callback rejected event")
		default:
			SubscriberResults.WithLabelValues(name, ResultError).Inc()
			logging.WithStack(r.log.Error(), err).
				Str("event", name).
				Str("callback", s.cb.Name).
				Msg("error in event callback")
		}
	}

	return accepted, nil
}

func (r *Registry) invoke(cb Callback, args []any) (err error) {
	recovered := oops.In("event").With("callback", cb.Name).Recover(func() {
		err = cb.Fn(r.bot, args...)
	})
	if recovered != nil {
		return recovered
	}
	return err
}

func checkArity(name string, arity int, cb Callback) error {
	if cb.Variadic {
		return nil
	}
	if cb.Params != arity+1 {
		return errCallback(name,
			"callback %q takes %d parameters, event %s requires %d (bot plus %d arguments)",
			cb.Name, cb.Params, name, arity+1, arity)
	}
	return nil
}
