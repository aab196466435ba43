package plugin

import (
	"regexp"
	"slices"
	"sync"

	"github.com/samber/oops"

	"github.com/dalnet/cardinal/internal/bot"
	"github.com/dalnet/cardinal/internal/logging"
)

// Group 1 is the argument string, which starts with the trigger; group 2
// is the trigger.
var dotCommand = regexp.MustCompile(`^\.(([A-Za-z0-9_-]+)(?:\s.*)?)$`)

var (
	addressedMu    sync.Mutex
	addressedNick  string
	addressedRegex *regexp.Regexp
)

func addressedCommand(nick string) *regexp.Regexp {
	addressedMu.Lock()
	defer addressedMu.Unlock()

	if addressedRegex == nil || addressedNick != nick {
		addressedRegex = regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(nick) + `:\s+(([A-Za-z0-9_-]+)(?:\s.*)?)$`)
		addressedNick = nick
	}
	return addressedRegex
}

// parseCommand matches message against the dot and addressed forms.
func parseCommand(nick, message string) (trigger, args string, ok bool) {
	m := dotCommand.FindStringSubmatch(message)
	if m == nil && nick != "" {
		m = addressedCommand(nick).FindStringSubmatch(message)
	}
	if m == nil {
		return "", "", false
	}
	return m[2], m[1], true
}

type dispatchTarget struct {
	plugin  string
	handler *CommandHandler
}

// Dispatch runs the command handlers that match a chat message. channel is
// the reply target, already rewritten to the sender for private messages.
// It returns an error with CodeCommandNotFound when the message used a
// command form but no handler took it. Handler failures are logged and do
// not stop other handlers.
func (m *Manager) Dispatch(b bot.Bot, user bot.UserRef, channel, message string) error {
	trigger, args, surface := parseCommand(b.Nick(), message)

	called := false
	for _, t := range m.targets(channel) {
		h := t.handler
		switch {
		case h.Regex != nil && h.Regex.MatchString(message):
			m.invoke(b, t, user, channel, message)
			called = true
		case !surface:
		case slices.Contains(h.Commands, trigger):
			m.invoke(b, t, user, channel, args)
			called = true
		}
	}

	if surface && !called {
		return ErrCommandNotFound(trigger)
	}
	return nil
}

// targets snapshots the command handlers of plugins not blacklisted in
// channel, in load order.
func (m *Manager) targets(channel string) []dispatchTarget {
	key := foldChannel(channel)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var targets []dispatchTarget
	for _, name := range m.order {
		rec := m.plugins[name]
		if _, blocked := rec.blacklist[key]; blocked {
			continue
		}
		for _, h := range rec.Commands {
			targets = append(targets, dispatchTarget{plugin: name, handler: h})
		}
	}
	return targets
}

func (m *Manager) invoke(b bot.Bot, t dispatchTarget, user bot.UserRef, channel, text string) {
	var err error
	recovered := oops.In("dispatch").
		With("plugin", t.plugin).
		With("handler", t.handler.Name).
		Recover(func() {
			err = t.handler.Fn(b, user, channel, text)
		})
	if recovered != nil {
		err = recovered
	}

	if err != nil {
		CommandInvocations.WithLabelValues(t.plugin, StatusError).Inc()
		logging.WithStack(m.log.Error(), err).
			Str("plugin", t.plugin).
			Str("handler", t.handler.Name).
			Str("channel", channel).
			Str("user", user.String()).
			Msg("error in command handler")
		return
	}
	CommandInvocations.WithLabelValues(t.plugin, StatusSuccess).Inc()
}
