package irc

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dalnet/cardinal/internal/bot"
)

const (
	maxLineLength = 512
	// Longest prefix a server adds when relaying our messages, assuming
	// common limits of 10 for idents and 63 for hosts.
	maxIdentLength = 10
	maxHostLength  = 63
)

// Nick returns the bot's current nickname.
func (c *Client) Nick() string {
	return c.conn.CurrentNick()
}

// SendRaw writes one protocol line.
func (c *Client) SendRaw(line string) error {
	c.log.Debug().Str("line", line).Msg("->")
	return c.conn.SendRaw(line)
}

// Msg sends text to target, one PRIVMSG per line of text, splitting lines
// that would not fit once the server adds our prefix.
func (c *Client) Msg(target, text string) error {
	for _, chunk := range splitMessage(text, c.maxMessageLength(target)) {
		if err := c.conn.Privmsg(target, chunk); err != nil {
			return fmt.Errorf("failed to send message to %s: %w", target, err)
		}
	}
	return nil
}

// Join joins a channel.
func (c *Client) Join(channel string) error {
	return c.conn.Join(channel)
}

// Quit unloads every plugin and disconnects. The connection is not
// re-established afterwards.
func (c *Client) Quit(message string) {
	c.mu.Lock()
	if c.quitting {
		c.mu.Unlock()
		return
	}
	c.quitting = true
	manager := c.manager
	c.mu.Unlock()

	c.log.Info().Str("message", message).Msg("quitting")
	if manager != nil {
		manager.UnloadAll()
	}
	c.conn.QuitWith(message)
}

// Who lists the users in channel. Concurrent calls for the same channel
// share one WHO request. Without a deadline on ctx the configured WHO
// timeout applies.
func (c *Client) Who(ctx context.Context, channel string) ([]bot.UserRef, error) {
	if _, ok := ctx.Deadline(); !ok && c.cfg.WhoTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.WhoTimeout)
		defer cancel()
	}
	return c.who.Who(ctx, channel)
}

// maxMessageLength is the room left for text in PRIVMSG target.
func (c *Client) maxMessageLength(target string) int {
	prefix := len(":!@ ") + len(c.conn.CurrentNick()) + maxIdentLength + maxHostLength
	command := len("PRIVMSG  :") + len(target)
	return maxLineLength - len("\r\n") - prefix - command
}

// splitMessage breaks text into lines of at most max bytes, preferring to
// break at spaces and never splitting a UTF-8 sequence.
func splitMessage(text string, max int) []string {
	if max < utf8.UTFMax {
		max = utf8.UTFMax
	}

	var chunks []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if line == "" {
			continue
		}
		for len(line) > max {
			cut := max
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = max
			}
			if space := strings.LastIndexByte(line[:cut], ' '); space > 0 {
				cut = space
			}
			chunks = append(chunks, line[:cut])
			line = strings.TrimLeft(line[cut:], " ")
		}
		if line != "" {
			chunks = append(chunks, line)
		}
	}
	return chunks
}
