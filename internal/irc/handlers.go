package irc

import (
	"strings"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/dalnet/cardinal/internal/bot"
	"github.com/dalnet/cardinal/internal/plugin"
)

// handle processes one inbound line. line is the raw text passed to
// irc.raw subscribers.
func (c *Client) handle(msg ircmsg.Message, line string) {
	c.log.Debug().Str("line", line).Msg("<-")

	c.fire(EventRaw, msg.Command, line)

	switch msg.Command {
	case "001":
		c.onSignOn()
	case "PRIVMSG":
		c.onPrivmsg(msg)
	case "NOTICE":
		c.onNotice(msg)
	case "JOIN":
		c.onJoin(msg)
	case "PART":
		c.onPart(msg)
	case "KICK":
		c.onKick(msg)
	case "QUIT":
		c.onQuit(msg)
	case "NICK":
		c.onNick(msg)
	case "MODE":
		c.onMode(msg)
	case "TOPIC":
		c.onTopic(msg)
	case "INVITE":
		c.onInvite(msg)
	case "352":
		c.onWhoReply(msg)
	case "315":
		c.onWhoEnd(msg)
	}
}

// fire delivers an event if the registry exists yet.
func (c *Client) fire(name string, args ...any) {
	registry := c.Registry()
	if registry == nil {
		return
	}
	if _, err := registry.Fire(name, args...); err != nil {
		c.log.Error().Err(err).Str("event", name).Msg("failed to fire event")
	}
}

// params checks that msg has at least n parameters.
func (c *Client) params(msg ircmsg.Message, n int) bool {
	if len(msg.Params) < n {
		c.log.Warn().
			Str("command", msg.Command).
			Int("params", len(msg.Params)).
			Msg("too few parameters, ignoring line")
		return false
	}
	return true
}

// optional returns the parameter at i, or nil when it is absent.
func optional(msg ircmsg.Message, i int) any {
	if len(msg.Params) > i {
		return msg.Params[i]
	}
	return nil
}

func (c *Client) onPrivmsg(msg ircmsg.Message) {
	if !c.params(msg, 2) {
		return
	}
	user, _ := bot.ParseUserRef(msg.Source)
	channel, text := msg.Params[0], msg.Params[1]

	c.fire(EventPrivmsg, user, channel, text)

	if strings.HasPrefix(text, "\x01") {
		if strings.HasPrefix(strings.ToUpper(strings.Trim(text, "\x01")), "VERSION") {
			c.replyVersion(user.Nick)
		}
		return
	}

	// Replies to private messages go back to the sender.
	if strings.EqualFold(channel, c.conn.CurrentNick()) {
		channel = user.Nick
	}
	c.dispatch(user, channel, text)
}

func (c *Client) dispatch(user bot.UserRef, channel, text string) {
	manager := c.Manager()
	if manager == nil {
		return
	}
	err := manager.Dispatch(c, user, channel, text)
	switch {
	case plugin.HasCode(err, plugin.CodeCommandNotFound):
		c.log.Info().Err(err).Str("user", user.String()).Str("channel", channel).Msg("command not found")
	case err != nil:
		c.log.Error().Err(err).Msg("dispatch failed")
	}
}

func (c *Client) onNotice(msg ircmsg.Message) {
	if !c.params(msg, 2) {
		return
	}
	user, ok := bot.ParseUserRef(msg.Source)
	if !ok {
		c.log.Info().Str("server", msg.Source).Str("notice", msg.Params[1]).Msg("server notice")
		return
	}
	c.fire(EventNotice, user, msg.Params[0], msg.Params[1])
}

func (c *Client) onJoin(msg ircmsg.Message) {
	if !c.params(msg, 1) {
		return
	}
	user, _ := bot.ParseUserRef(msg.Source)
	c.fire(EventJoin, user, msg.Params[0])
}

func (c *Client) onPart(msg ircmsg.Message) {
	if !c.params(msg, 1) {
		return
	}
	user, _ := bot.ParseUserRef(msg.Source)
	c.fire(EventPart, user, msg.Params[0], optional(msg, 1))
}

func (c *Client) onKick(msg ircmsg.Message) {
	if !c.params(msg, 2) {
		return
	}
	user, _ := bot.ParseUserRef(msg.Source)
	c.fire(EventKick, user, msg.Params[0], msg.Params[1], optional(msg, 2))
}

func (c *Client) onQuit(msg ircmsg.Message) {
	user, _ := bot.ParseUserRef(msg.Source)
	c.fire(EventQuit, user, optional(msg, 0))
}

func (c *Client) onNick(msg ircmsg.Message) {
	if !c.params(msg, 1) {
		return
	}
	user, _ := bot.ParseUserRef(msg.Source)
	c.fire(EventNick, user, msg.Params[0])
}

func (c *Client) onMode(msg ircmsg.Message) {
	if !c.params(msg, 2) {
		return
	}
	user, ok := bot.ParseUserRef(msg.Source)
	if !ok {
		c.log.Info().
			Str("server", msg.Source).
			Str("target", msg.Params[0]).
			Str("mode", strings.Join(msg.Params[1:], " ")).
			Msg("server mode change")
		return
	}
	c.fire(EventMode, user, msg.Params[0], strings.Join(msg.Params[1:], " "))
}

func (c *Client) onTopic(msg ircmsg.Message) {
	if !c.params(msg, 2) {
		return
	}
	user, _ := bot.ParseUserRef(msg.Source)
	c.fire(EventTopic, user, msg.Params[0], msg.Params[1])
}

func (c *Client) onInvite(msg ircmsg.Message) {
	if !c.params(msg, 2) {
		return
	}
	user, _ := bot.ParseUserRef(msg.Source)
	c.fire(EventInvite, user, msg.Params[1])
}

// onWhoReply handles RPL_WHOREPLY:
// <me> <channel> <user> <host> <server> <nick> <flags> :<hops> <realname>
func (c *Client) onWhoReply(msg ircmsg.Message) {
	if !c.params(msg, 6) {
		return
	}
	c.who.reply(msg.Params[1], bot.UserRef{
		Nick:  msg.Params[5],
		Ident: msg.Params[2],
		Vhost: msg.Params[3],
	})
}

// onWhoEnd handles RPL_ENDOFWHO: <me> <channel> :End of /WHO list.
func (c *Client) onWhoEnd(msg ircmsg.Message) {
	if !c.params(msg, 2) {
		return
	}
	c.who.end(msg.Params[1])
}
