// Package bot holds the types shared by the protocol surface, the event
// registry and plugins: the bot handle passed to every handler and the
// parsed form of an IRC user prefix.
package bot

import (
	"context"
	"strings"

	"github.com/ergochat/irc-go/ircmsg"
)

// Bot is the handle given to plugin handlers and event subscribers.
type Bot interface {
	// Nick returns the bot's current nickname.
	Nick() string
	// SendRaw writes a single protocol line.
	SendRaw(line string) error
	// Msg sends a PRIVMSG, splitting text that does not fit in one line.
	Msg(target, text string) error
	// Join joins a channel.
	Join(channel string) error
	// Quit disconnects deliberately; the connection is not re-established.
	Quit(message string)
	// Who lists the users of a channel. It blocks until the server finishes
	// the reply, so it must not be called from the goroutine that reads
	// from the server.
	Who(ctx context.Context, channel string) ([]UserRef, error)
}

// UserRef identifies the sender of a message. An empty Ident or Vhost means
// the component was absent from the prefix.
type UserRef struct {
	Nick  string
	Ident string
	Vhost string
}

// ParseUserRef parses a message source of the form nick!ident@vhost.
// ok is false for server prefixes, which carry neither '!' nor '@'; the
// returned UserRef then holds the raw prefix as Nick.
func ParseUserRef(prefix string) (ref UserRef, ok bool) {
	if !strings.ContainsAny(prefix, "!@") {
		return UserRef{Nick: prefix}, false
	}
	nuh, err := ircmsg.ParseNUH(prefix)
	if err != nil || nuh.Name == "" {
		return UserRef{Nick: prefix}, false
	}
	return UserRef{Nick: nuh.Name, Ident: nuh.User, Vhost: nuh.Host}, true
}

// Hostmask returns the canonical nick!ident@vhost form, leaving out absent
// components.
func (u UserRef) Hostmask() string {
	var b strings.Builder
	b.WriteString(u.Nick)
	if u.Ident != "" {
		b.WriteByte('!')
		b.WriteString(u.Ident)
	}
	if u.Vhost != "" {
		b.WriteByte('@')
		b.WriteString(u.Vhost)
	}
	return b.String()
}

func (u UserRef) String() string {
	return u.Hostmask()
}
