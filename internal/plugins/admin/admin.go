// Package admin is the built-in plugin bot owners use to manage plugins
// and the connection from chat.
package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dalnet/cardinal/internal/bot"
	"github.com/dalnet/cardinal/internal/plugin"
)

// Name is the plugin name admin is registered under.
const Name = "admin"

const whoTimeout = time.Minute

// Host gives the plugin access to the running plugin manager.
type Host interface {
	Manager() *plugin.Manager
}

// Auditor records admin command attempts.
type Auditor interface {
	AddAudit(hostmask, command string, allowed bool) error
}

// Option configures the module.
type Option func(*module)

// WithAuditor records every command attempt with a.
func WithAuditor(a Auditor) Option {
	return func(m *module) {
		m.audit = a
	}
}

// WithLogger sets the plugin logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *module) {
		m.log = l
	}
}

type module struct {
	host   Host
	owners []string
	audit  Auditor
	log    zerolog.Logger
}

// New returns the admin module. owners are nick!ident@host globs; the
// plugin config may add more under "owners".
func New(host Host, owners []string, opts ...Option) plugin.Module {
	m := &module{
		host:   host,
		owners: owners,
		log:    log.With().Str("component", "admin").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *module) Setup(ctx plugin.SetupContext) (plugin.Instance, error) {
	patterns := append([]string(nil), m.owners...)
	if extra, ok := ctx.Config["owners"].([]any); ok {
		for _, p := range extra {
			if s, ok := p.(string); ok {
				patterns = append(patterns, s)
			}
		}
	}

	a := &admin{module: m}
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, plugin.ErrPlugin(Name, "invalid owner pattern %q: %v", p, err)
		}
		a.owners = append(a.owners, g)
	}
	if len(a.owners) == 0 {
		m.log.Warn().Msg("no owners configured, admin commands are disabled")
	}
	return a, nil
}

type admin struct {
	*module
	owners []glob.Glob
}

func (a *admin) Handlers() []plugin.Handler {
	return []plugin.Handler{
		plugin.Command("load", []string{"load", "reload"}, a.guard(a.cmdLoad),
			".load <plugin...> - load or reload plugins"),
		plugin.Command("unload", []string{"unload"}, a.guard(a.cmdUnload),
			".unload <plugin...> - unload plugins"),
		plugin.Command("disable", []string{"disable"}, a.guard(a.cmdDisable),
			".disable <plugin> [channel...] - turn off a plugin's commands in channels"),
		plugin.Command("enable", []string{"enable"}, a.guard(a.cmdEnable),
			".enable <plugin> [channel...] - turn a plugin's commands back on"),
		plugin.Command("plugins", []string{"plugins"}, a.guard(a.cmdPlugins),
			".plugins - list loaded plugins"),
		plugin.Command("join", []string{"join"}, a.guard(a.cmdJoin),
			".join <channel> - join a channel"),
		plugin.Command("quit", []string{"quit"}, a.guard(a.cmdQuit),
			".quit [message] - disconnect"),
		plugin.Command("who", []string{"who"}, a.guard(a.cmdWho),
			".who <channel> - list the users in a channel"),
	}
}

type command func(b bot.Bot, user bot.UserRef, channel string, args []string) error

// guard runs cmd only for owners and audits every attempt.
func (a *admin) guard(cmd command) plugin.CommandFunc {
	return func(b bot.Bot, user bot.UserRef, channel, message string) error {
		allowed := a.isOwner(user)
		if a.audit != nil {
			if err := a.audit.AddAudit(user.Hostmask(), message, allowed); err != nil {
				a.log.Error().Err(err).Msg("failed to write audit log")
			}
		}
		if !allowed {
			a.log.Warn().Str("user", user.String()).Str("command", message).Msg("denied admin command")
			return b.Msg(channel, "Permission denied.")
		}
		a.log.Info().Str("user", user.String()).Str("command", message).Msg("admin command")
		return cmd(b, user, channel, strings.Fields(message)[1:])
	}
}

func (a *admin) isOwner(user bot.UserRef) bool {
	mask := strings.ToLower(user.Hostmask())
	for _, g := range a.owners {
		if g.Match(mask) {
			return true
		}
	}
	return false
}

func (a *admin) manager() (*plugin.Manager, error) {
	m := a.host.Manager()
	if m == nil {
		return nil, fmt.Errorf("plugin manager is not running")
	}
	return m, nil
}

func (a *admin) cmdLoad(b bot.Bot, _ bot.UserRef, channel string, args []string) error {
	if len(args) == 0 {
		return b.Msg(channel, "Usage: .load <plugin...>")
	}
	m, err := a.manager()
	if err != nil {
		return err
	}
	failed := m.Load(args...)
	return b.Msg(channel, summary("Loaded", args, failed))
}

func (a *admin) cmdUnload(b bot.Bot, _ bot.UserRef, channel string, args []string) error {
	if len(args) == 0 {
		return b.Msg(channel, "Usage: .unload <plugin...>")
	}
	m, err := a.manager()
	if err != nil {
		return err
	}
	failed := m.Unload(args...)
	return b.Msg(channel, summary("Unloaded", args, failed))
}

func (a *admin) cmdDisable(b bot.Bot, _ bot.UserRef, channel string, args []string) error {
	if len(args) == 0 {
		return b.Msg(channel, "Usage: .disable <plugin> [channel...]")
	}
	m, err := a.manager()
	if err != nil {
		return err
	}
	name, channels := args[0], channelsOr(args[1:], channel)
	if !m.Blacklist(name, channels...) {
		return b.Msg(channel, fmt.Sprintf("%s is not loaded.", name))
	}
	return b.Msg(channel, fmt.Sprintf("Disabled %s in %s.", name, strings.Join(channels, ", ")))
}

func (a *admin) cmdEnable(b bot.Bot, _ bot.UserRef, channel string, args []string) error {
	if len(args) == 0 {
		return b.Msg(channel, "Usage: .enable <plugin> [channel...]")
	}
	m, err := a.manager()
	if err != nil {
		return err
	}
	name, channels := args[0], channelsOr(args[1:], channel)
	missing, ok := m.Unblacklist(name, channels...)
	if !ok {
		return b.Msg(channel, fmt.Sprintf("%s is not loaded.", name))
	}
	reply := fmt.Sprintf("Enabled %s in %s.", name, strings.Join(channels, ", "))
	if len(missing) > 0 {
		reply = fmt.Sprintf("%s was not disabled in %s.", name, strings.Join(missing, ", "))
	}
	return b.Msg(channel, reply)
}

func (a *admin) cmdPlugins(b bot.Bot, _ bot.UserRef, channel string, _ []string) error {
	m, err := a.manager()
	if err != nil {
		return err
	}
	names := m.Plugins()
	if len(names) == 0 {
		return b.Msg(channel, "No plugins loaded.")
	}
	return b.Msg(channel, fmt.Sprintf("Plugins (%d, %d reloads): %s",
		len(names), m.Reloads(), strings.Join(names, ", ")))
}

func (a *admin) cmdJoin(b bot.Bot, _ bot.UserRef, channel string, args []string) error {
	if len(args) == 0 {
		return b.Msg(channel, "Usage: .join <channel>")
	}
	for _, ch := range args {
		if err := b.Join(ch); err != nil {
			return err
		}
	}
	return nil
}

func (a *admin) cmdQuit(b bot.Bot, user bot.UserRef, _ string, args []string) error {
	message := strings.Join(args, " ")
	if message == "" {
		message = "Requested by " + user.Nick
	}
	b.Quit(message)
	return nil
}

// cmdWho waits for the WHO reply on its own goroutine; the reply arrives on
// the goroutine running this handler.
func (a *admin) cmdWho(b bot.Bot, _ bot.UserRef, channel string, args []string) error {
	if len(args) == 0 {
		return b.Msg(channel, "Usage: .who <channel>")
	}
	target := args[0]
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), whoTimeout)
		defer cancel()

		users, err := b.Who(ctx, target)
		if err != nil {
			a.log.Error().Err(err).Str("channel", target).Msg("WHO failed")
			_ = b.Msg(channel, fmt.Sprintf("WHO %s failed: %v", target, err))
			return
		}
		nicks := make([]string, len(users))
		for i, u := range users {
			nicks[i] = u.Nick
		}
		_ = b.Msg(channel, fmt.Sprintf("%s (%d): %s", target, len(users), strings.Join(nicks, " ")))
	}()
	return nil
}

func channelsOr(channels []string, fallback string) []string {
	if len(channels) == 0 {
		return []string{fallback}
	}
	return channels
}

func summary(verb string, requested, failed []string) string {
	failedSet := make(map[string]bool, len(failed))
	for _, f := range failed {
		failedSet[f] = true
	}
	var ok []string
	for _, r := range requested {
		if !failedSet[r] {
			ok = append(ok, r)
		}
	}

	var parts []string
	if len(ok) > 0 {
		parts = append(parts, fmt.Sprintf("%s: %s.", verb, strings.Join(ok, ", ")))
	}
	if len(failed) > 0 {
		parts = append(parts, fmt.Sprintf("Failed: %s.", strings.Join(failed, ", ")))
	}
	return strings.Join(parts, " ")
}
