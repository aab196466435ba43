// Package plugin loads, reloads and unloads plugins while the bot stays
// connected, and dispatches chat commands to their handlers.
package plugin

import (
	"regexp"

	"github.com/dalnet/cardinal/internal/bot"
	"github.com/dalnet/cardinal/internal/event"
)

// CommandFunc handles a chat command. message is the argument string for
// trigger matches and the full message for regex matches.
type CommandFunc func(b bot.Bot, user bot.UserRef, channel, message string) error

// Handler is one of *CommandHandler or *EventHandler.
type Handler interface {
	handler()
}

// CommandHandler responds to chat input. At least one of Commands and Regex
// must be set; with both, either dispatch path may invoke it.
type CommandHandler struct {
	Name     string
	Commands []string
	Regex    *regexp.Regexp
	Help     []string
	Fn       CommandFunc
}

func (*CommandHandler) handler() {}

// EventHandler subscribes Callback to every event in Events.
type EventHandler struct {
	Name     string
	Events   []string
	Callback event.Callback
}

func (*EventHandler) handler() {}

// Command builds a handler invoked for the given triggers.
func Command(name string, triggers []string, fn CommandFunc, help ...string) *CommandHandler {
	return &CommandHandler{Name: name, Commands: triggers, Fn: fn, Help: help}
}

// Match builds a handler invoked whenever re matches a message.
func Match(name string, re *regexp.Regexp, fn CommandFunc, help ...string) *CommandHandler {
	return &CommandHandler{Name: name, Regex: re, Fn: fn, Help: help}
}

// Subscribe builds an event handler.
func Subscribe(name string, cb event.Callback, events ...string) *EventHandler {
	if cb.Name == "" {
		cb.Name = name
	}
	return &EventHandler{Name: name, Events: events, Callback: cb}
}

// SetupContext is handed to a module when it is instantiated.
type SetupContext struct {
	Bot bot.Bot
	// Config is the plugin's config.json or config.yaml, nil when absent.
	Config map[string]any
	// DataDir is a directory the plugin may keep files in, empty when the
	// manager has no storage configured.
	DataDir string
}

// Instance is a live plugin object.
type Instance interface {
	Handlers() []Handler
}

// Closer is implemented by instances that hold resources. Close is called
// on unload and before a reload replaces the instance.
type Closer interface {
	Close(b bot.Bot) error
}

// HandlerList is an Instance for plugins with no state of their own.
type HandlerList []Handler

// Handlers implements Instance.
func (l HandlerList) Handlers() []Handler {
	return l
}

// Module is loaded plugin code. Setup is called once per load and must
// return a fresh instance.
type Module interface {
	Setup(ctx SetupContext) (Instance, error)
}

// Loader resolves plugin names to modules. Load is called on every load and
// reload, so a loader backed by files must read them again each time.
// Loaders return an error with CodeModuleNotFound for names they do not
// provide so the manager can try the next one.
type Loader interface {
	Load(name, dir string) (Module, error)
}

// BlacklistStore persists plugin blacklists across restarts.
type BlacklistStore interface {
	Blacklist(plugin string) ([]string, error)
	AddBlacklist(plugin string, channels ...string) error
	RemoveBlacklist(plugin string, channels ...string) error
}
