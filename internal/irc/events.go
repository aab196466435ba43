package irc

import (
	"github.com/dalnet/cardinal/internal/event"
)

// Events fired for inbound lines, with the number of arguments each takes
// after the bot.
const (
	EventRaw     = "irc.raw"
	EventPrivmsg = "irc.privmsg"
	EventNotice  = "irc.notice"
	EventJoin    = "irc.join"
	EventPart    = "irc.part"
	EventKick    = "irc.kick"
	EventQuit    = "irc.quit"
	EventNick    = "irc.nick"
	EventMode    = "irc.mode"
	EventTopic   = "irc.topic"
	EventInvite  = "irc.invite"
)

var coreEvents = []struct {
	name  string
	arity int
}{
	{EventRaw, 2},
	{EventPrivmsg, 3},
	{EventNotice, 3},
	{EventJoin, 2},
	{EventPart, 3},
	{EventKick, 4},
	{EventQuit, 2},
	{EventNick, 2},
	{EventMode, 3},
	{EventTopic, 3},
	{EventInvite, 2},
}

func registerCoreEvents(r *event.Registry) error {
	for _, e := range coreEvents {
		if err := r.RegisterEvent(e.name, e.arity); err != nil {
			return err
		}
	}
	return nil
}
