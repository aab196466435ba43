// Package irc connects the bot to a server, turns inbound lines into events
// and commands, and implements the bot handle plugins talk through.
package irc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/ergochat/irc-go/ircevent"
	"github.com/ergochat/irc-go/ircmsg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/dalnet/cardinal/internal/bot"
	"github.com/dalnet/cardinal/internal/config"
	"github.com/dalnet/cardinal/internal/event"
	"github.com/dalnet/cardinal/internal/plugin"
)

// Version information (set at build time or here)
var (
	Version   = "1.0.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// CodeInternalError marks failures that stop the bot.
const CodeInternalError = plugin.CodeInternalError

var _ bot.Bot = (*Client)(nil)

// Client represents the IRC bot client
type Client struct {
	cfg  *config.Config
	conn Conn
	ev   *ircevent.Connection
	log  zerolog.Logger

	loaders []plugin.Loader
	store   plugin.BlacklistStore
	dataDir func(string) (string, error)

	who *whoAggregator

	dialer    net.Dialer
	reconnect *reconnectBackoff

	mu       sync.RWMutex
	registry *event.Registry
	manager  *plugin.Manager
	signOns  int
	quitting bool
}

// Option configures the Client.
type Option func(*Client)

// WithConn replaces the server connection. Run cannot be used with it.
func WithConn(conn Conn) Option {
	return func(c *Client) {
		c.conn = conn
	}
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithLoaders sets the plugin loaders, tried in order.
func WithLoaders(loaders ...plugin.Loader) Option {
	return func(c *Client) {
		c.loaders = loaders
	}
}

// WithBlacklistStore persists plugin blacklists.
func WithBlacklistStore(s plugin.BlacklistStore) Option {
	return func(c *Client) {
		c.store = s
	}
}

// WithDataDirs gives plugins data directories.
func WithDataDirs(fn func(name string) (string, error)) Option {
	return func(c *Client) {
		c.dataDir = fn
	}
}

// NewClient creates a new IRC client
func NewClient(cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		cfg: cfg,
		log: log.With().Str("component", "irc").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.conn == nil {
		c.reconnect = newReconnectBackoff(cfg.MinReconnectWait, cfg.MaxReconnectWait)
		c.ev = &ircevent.Connection{
			Server:        cfg.Address(),
			Nick:          cfg.Nick,
			User:          cfg.Username,
			RealName:      cfg.Realname,
			Password:      cfg.ServerPassword,
			QuitMessage:   "Shutting down",
			UseTLS:        cfg.TLS,
			TLSConfig:     &tls.Config{ServerName: cfg.Server},
			ReconnectFreq: cfg.MinReconnectWait,
			DialContext:   c.dial,
		}
		c.conn = eventConn{c.ev}
		c.registerHandlers()
	}

	c.who = newWhoAggregator(c.conn.SendRaw)
	return c
}

// registerHandlers routes every line through handle. ircevent only looks
// callbacks up by exact command, so each verb and numeric is registered.
func (c *Client) registerHandlers() {
	for _, command := range inboundCommands() {
		c.ev.AddCallback(command, c.onMessage)
	}
}

// inboundCommands lists the named verbs a server may send us followed by
// every three-digit numeric.
func inboundCommands() []string {
	commands := []string{
		"PRIVMSG", "NOTICE", "JOIN", "PART", "KICK", "QUIT", "NICK", "MODE", "TOPIC", "INVITE",
		"PING", "PONG", "ERROR", "CAP", "AUTHENTICATE", "AWAY", "ACCOUNT", "CHGHOST", "SETNAME",
		"WALLOPS", "KILL", "TAGMSG",
	}
	for n := 1; n <= 999; n++ {
		commands = append(commands, fmt.Sprintf("%03d", n))
	}
	return commands
}

func (c *Client) onMessage(e ircmsg.Message) {
	line, err := e.Line()
	if err != nil {
		c.log.Warn().Err(err).Str("command", e.Command).Msg("could not serialize line")
	}
	c.handle(e, strings.TrimSuffix(line, "\r\n"))
}

// dial opens the socket for every connection attempt ircevent makes and
// sets the wait before the attempt after it.
func (c *Client) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	c.ev.ReconnectFreq = c.reconnect.next()
	return c.dialer.DialContext(ctx, network, addr)
}

// HandleLine processes one line as if it had been read from the server.
func (c *Client) HandleLine(line string) error {
	msg, err := ircmsg.ParseLine(line)
	if err != nil {
		return fmt.Errorf("failed to parse line: %w", err)
	}
	c.handle(msg, line)
	return nil
}

// Run connects, retrying with capped exponential backoff, then processes
// lines until Quit is called. ctx bounds the initial connection attempts
// only; ending it before the bot is connected makes Run return nil.
// Dropped connections are re-established by ircevent, waiting according to
// the same backoff, which resets on every sign-on.
func (c *Client) Run(ctx context.Context) error {
	if c.ev == nil {
		return errors.New("client has no server connection")
	}

	backoff := retry.WithCappedDuration(c.cfg.MaxReconnectWait, retry.NewExponential(c.cfg.MinReconnectWait))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if c.isQuitting() {
			return nil
		}
		if err := c.ev.Connect(); err != nil {
			if c.isQuitting() {
				return nil
			}
			c.log.Warn().Err(err).Str("server", c.ev.Server).Msg("connection failed")
			return retry.RetryableError(err)
		}
		return nil
	})
	switch {
	case err != nil && ctx.Err() != nil:
		c.log.Info().Msg("stopped before connecting")
		return nil
	case err != nil:
		return fmt.Errorf("failed to connect: %w", err)
	}

	if c.isQuitting() {
		if !c.ev.Connected() {
			return nil
		}
		// Quit was called while the connection was still being set up.
		c.ev.Quit()
	}

	c.ev.Loop()
	c.log.Info().Msg("disconnected")
	return nil
}

// Registry returns the event registry, nil before the first sign-on.
func (c *Client) Registry() *event.Registry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registry
}

// Manager returns the plugin manager, nil before the first sign-on.
func (c *Client) Manager() *plugin.Manager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.manager
}

func (c *Client) isQuitting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quitting
}

// onSignOn handles RPL_WELCOME. The registry and plugins are set up once;
// identification and joins are repeated after every reconnect.
func (c *Client) onSignOn() {
	c.mu.Lock()
	c.signOns++
	first := c.registry == nil
	var manager *plugin.Manager
	if first {
		registry := event.NewRegistry(c, event.WithLogger(c.log.With().Str("component", "event").Logger()))
		if err := registerCoreEvents(registry); err != nil {
			c.mu.Unlock()
			err = oops.In("irc").Code(CodeInternalError).Wrapf(err, "register core events")
			c.log.Error().Err(err).Msg("cannot start plugins")
			c.Quit("Internal error")
			return
		}

		opts := []plugin.ManagerOption{plugin.WithLogger(c.log.With().Str("component", "plugin").Logger())}
		for _, l := range c.loaders {
			opts = append(opts, plugin.WithLoader(l))
		}
		if c.store != nil {
			opts = append(opts, plugin.WithBlacklistStore(c.store))
		}
		if c.dataDir != nil {
			opts = append(opts, plugin.WithDataDirs(c.dataDir))
		}
		manager = plugin.NewManager(c.cfg.PluginDir, registry, c, opts...)

		c.registry = registry
		c.manager = manager
	}
	c.mu.Unlock()

	c.log.Info().Str("nick", c.conn.CurrentNick()).Msg("signed on")
	c.resetReconnect()

	if first && len(c.cfg.Plugins) > 0 {
		if failed := manager.Load(c.cfg.Plugins...); len(failed) > 0 {
			c.log.Warn().Strs("plugins", failed).Msg("some plugins failed to load")
		}
	}

	if c.cfg.NickServPassword != "" {
		if err := c.conn.Privmsg("NickServ", "IDENTIFY "+c.cfg.NickServPassword); err != nil {
			c.log.Error().Err(err).Msg("failed to identify to NickServ")
		}
	}
	for _, ch := range c.cfg.Channels {
		if err := c.conn.Join(ch); err != nil {
			c.log.Error().Err(err).Str("channel", ch).Msg("failed to join channel")
		}
	}
}

func (c *Client) replyVersion(nick string) {
	reply := fmt.Sprintf("cardinal %s (built %s, commit %s)", Version, BuildDate, GitCommit)
	if err := c.conn.SendRaw(fmt.Sprintf("NOTICE %s :\x01VERSION %s\x01", nick, reply)); err != nil {
		c.log.Error().Err(err).Msg("failed to send CTCP VERSION reply")
	}
}
