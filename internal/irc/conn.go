package irc

import (
	"github.com/ergochat/irc-go/ircevent"
)

// Conn is the part of the transport the client writes through.
type Conn interface {
	CurrentNick() string
	SendRaw(line string) error
	Privmsg(target, text string) error
	Join(channel string) error
	// QuitWith sends QUIT and stops the connection from reconnecting.
	QuitWith(message string)
}

type eventConn struct {
	*ircevent.Connection
}

func (c eventConn) QuitWith(message string) {
	c.QuitMessage = message
	c.Quit()
}
