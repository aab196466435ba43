package lua

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/dalnet/cardinal/internal/bot"
	"github.com/dalnet/cardinal/internal/event"
	"github.com/dalnet/cardinal/internal/plugin"
)

var errClosed = errors.New("plugin instance is closed")

// instance is a loaded Lua plugin. The LState is not safe for concurrent
// use, so every call into it holds mu.
type instance struct {
	name string
	log  zerolog.Logger

	mu       sync.Mutex
	L        *lua.LState
	sandbox  *sandbox
	closed   bool
	bot      bot.Bot
	botValue *lua.LUserData
	rejected *lua.LUserData
	table    *lua.LTable
	handlers []plugin.Handler
}

func (i *instance) Handlers() []plugin.Handler {
	return i.handlers
}

// discover walks the instance table in key order. Every public field that
// is a table with a function fn is a handler.
func (i *instance) discover() ([]plugin.Handler, error) {
	var keys []string
	i.table.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok || strings.HasPrefix(string(key), "_") {
			return
		}
		if _, ok := v.(*lua.LTable); ok {
			keys = append(keys, string(key))
		}
	})
	sort.Strings(keys)

	var handlers []plugin.Handler
	for _, key := range keys {
		def := i.table.RawGetString(key).(*lua.LTable)
		fn, ok := def.RawGetString("fn").(*lua.LFunction)
		if !ok || fn.IsG {
			continue
		}

		commands, err := stringList(def.RawGetString("commands"))
		if err != nil {
			return nil, plugin.ErrPlugin(i.name, "handler %s: commands: %v", key, err)
		}
		events, err := stringList(def.RawGetString("events"))
		if err != nil {
			return nil, plugin.ErrPlugin(i.name, "handler %s: events: %v", key, err)
		}
		help, err := stringList(def.RawGetString("help"))
		if err != nil {
			return nil, plugin.ErrPlugin(i.name, "handler %s: help: %v", key, err)
		}

		var re *regexp.Regexp
		switch pattern := def.RawGetString("regex").(type) {
		case *lua.LNilType:
		case lua.LString:
			if re, err = regexp.Compile(string(pattern)); err != nil {
				return nil, plugin.ErrPlugin(i.name, "handler %s: regex: %v", key, err)
			}
		default:
			return nil, plugin.ErrPlugin(i.name, "handler %s: regex must be a string", key)
		}

		if len(commands) > 0 || re != nil {
			handlers = append(handlers, &plugin.CommandHandler{
				Name:     key,
				Commands: commands,
				Regex:    re,
				Help:     help,
				Fn:       i.command(key, fn),
			})
		}
		if len(events) > 0 {
			cb := event.Callback{
				Name:     i.name + "." + key,
				Params:   int(fn.Proto.NumParameters),
				Variadic: fn.Proto.IsVarArg != 0,
				Fn:       i.subscriber(key, fn),
			}
			handlers = append(handlers, plugin.Subscribe(key, cb, events...))
		}
		if len(commands) == 0 && re == nil && len(events) == 0 {
			i.log.Debug().Str("handler", key).Msg("table has fn but no commands, regex or events")
		}
	}
	return handlers, nil
}

func (i *instance) command(name string, fn *lua.LFunction) plugin.CommandFunc {
	return func(b bot.Bot, user bot.UserRef, channel, message string) error {
		return i.call(name, b, fn, user, channel, message)
	}
}

func (i *instance) subscriber(name string, fn *lua.LFunction) event.Func {
	return func(b bot.Bot, args ...any) error {
		return i.call(name, b, fn, args...)
	}
}

// call invokes fn(bot, args...). bot:reject() inside fn becomes
// event.ErrRejected.
func (i *instance) call(name string, b bot.Bot, fn *lua.LFunction, args ...any) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return errClosed
	}
	i.bot = b

	largs := make([]lua.LValue, 0, len(args)+1)
	largs = append(largs, i.botValue)
	for _, a := range args {
		largs = append(largs, toLua(i.L, a))
	}

	err := i.sandbox.call(i.L, lua.P{Fn: fn, NRet: 0}, largs...)
	if err == nil {
		return nil
	}
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object == i.rejected {
		return event.ErrRejected
	}
	return oops.In("lua").
		With("plugin", i.name).
		With("handler", name).
		Wrap(err)
}

// Close calls the instance's close function, if any, and releases the
// state. close may take no parameters or the bot.
func (i *instance) Close(b bot.Bot) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true
	i.bot = b
	defer i.L.Close()

	fn, ok := i.table.RawGetString("close").(*lua.LFunction)
	if !ok || fn.IsG {
		return nil
	}

	var args []lua.LValue
	switch n := int(fn.Proto.NumParameters); {
	case fn.Proto.IsVarArg != 0 && n <= 1, n == 1:
		args = []lua.LValue{i.botValue}
	case n == 0:
	default:
		return plugin.ErrPlugin(i.name, "close must take 0 or 1 parameters, not %d", n)
	}

	if err := i.sandbox.call(i.L, lua.P{Fn: fn, NRet: 0}, args...); err != nil {
		return oops.In("lua").With("plugin", i.name).Wrapf(err, "close")
	}
	return nil
}

func stringList(v lua.LValue) ([]string, error) {
	switch v := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LString:
		return []string{string(v)}, nil
	case *lua.LTable:
		out := make([]string, 0, v.Len())
		for n := 1; n <= v.Len(); n++ {
			s, ok := v.RawGetInt(n).(lua.LString)
			if !ok {
				return nil, errors.New("expected a list of strings")
			}
			out = append(out, string(s))
		}
		return out, nil
	default:
		return nil, errors.New("expected a list of strings")
	}
}
