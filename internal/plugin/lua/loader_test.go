package lua_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalnet/cardinal/internal/bot"
	"github.com/dalnet/cardinal/internal/event"
	"github.com/dalnet/cardinal/internal/plugin"
	"github.com/dalnet/cardinal/internal/plugin/lua"
)

type fakeBot struct {
	sent []string
}

func (b *fakeBot) Nick() string { return "Cardinal" }
func (b *fakeBot) Join(ch string) error { return b.SendRaw("JOIN " + ch) }
func (b *fakeBot) Quit(string) {}
func (b *fakeBot) Who(context.Context, string) ([]bot.UserRef, error) { return nil, nil }

func (b *fakeBot) SendRaw(line string) error {
	b.sent = append(b.sent, line)
	return nil
}

func (b *fakeBot) Msg(target, text string) error {
	return b.SendRaw("PRIVMSG " + target + " :" + text)
}

func writePlugin(t *testing.T, root, name, source string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, lua.ModuleFile), []byte(source), 0o644))
	return dir
}

func setup(t *testing.T, source string, config map[string]any) (*fakeBot, plugin.Instance, error) {
	t.Helper()
	dir := writePlugin(t, t.TempDir(), "p", source)
	m, err := lua.NewLoader().Load("p", dir)
	require.NoError(t, err)

	b := &fakeBot{}
	inst, err := m.Setup(plugin.SetupContext{Bot: b, Config: config})
	return b, inst, err
}

func commandHandler(t *testing.T, inst plugin.Instance, name string) *plugin.CommandHandler {
	t.Helper()
	for _, h := range inst.Handlers() {
		if c, ok := h.(*plugin.CommandHandler); ok && c.Name == name {
			return c
		}
	}
	t.Fatalf("no command handler %s", name)
	return nil
}

func eventHandler(t *testing.T, inst plugin.Instance, name string) *plugin.EventHandler {
	t.Helper()
	for _, h := range inst.Handlers() {
		if e, ok := h.(*plugin.EventHandler); ok && e.Name == name {
			return e
		}
	}
	t.Fatalf("no event handler %s", name)
	return nil
}

func TestLoadMissingModule(t *testing.T) {
	_, err := lua.NewLoader().Load("nothing", t.TempDir())
	assert.True(t, plugin.HasCode(err, plugin.CodeModuleNotFound))
}

func TestLoadSyntaxError(t *testing.T) {
	dir := writePlugin(t, t.TempDir(), "p", "function setup( return end")
	_, err := lua.NewLoader().Load("p", dir)
	assert.True(t, plugin.HasCode(err, plugin.CodePluginError))
}

func TestSetupArity(t *testing.T) {
	t.Run("no parameters", func(t *testing.T) {
		_, inst, err := setup(t, `function setup() return {} end`, nil)
		require.NoError(t, err)
		assert.Empty(t, inst.Handlers())
	})

	t.Run("bot", func(t *testing.T) {
		b, _, err := setup(t, `function setup(bot) bot:send("PING :x") return {} end`, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"PING :x"}, b.sent)
	})

	t.Run("bot and config", func(t *testing.T) {
		b, _, err := setup(t, `
function setup(bot, config)
  bot:msg(config.channel, config.greeting .. " " .. config.count)
  return {}
end`, map[string]any{"channel": "#r", "greeting": "hi", "count": 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"PRIVMSG #r :hi 2"}, b.sent)
	})

	t.Run("too many parameters", func(t *testing.T) {
		_, _, err := setup(t, `function setup(a, b, c) return {} end`, nil)
		assert.True(t, plugin.HasCode(err, plugin.CodePluginError))
	})

	t.Run("missing", func(t *testing.T) {
		_, _, err := setup(t, `x = 1`, nil)
		assert.True(t, plugin.HasCode(err, plugin.CodePluginError))
	})

	t.Run("must return a table", func(t *testing.T) {
		_, _, err := setup(t, `function setup() return 1 end`, nil)
		assert.True(t, plugin.HasCode(err, plugin.CodePluginError))
	})
}

func TestSandbox(t *testing.T) {
	_, _, err := setup(t, `function setup() os.exit(1) end`, nil)
	require.Error(t, err)

	b, _, err := setup(t, `
function setup(bot)
  bot:send(tostring(io == nil) .. tostring(load == nil) .. tostring(require == nil))
  return {}
end`, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"truetruetrue"}, b.sent)
}

func TestHandlers(t *testing.T) {
	const source = `
function setup(bot)
  local p = {}
  p.ping = {
    commands = {"ping"},
    help = {".ping: replies pong"},
    fn = function(bot, user, channel, args)
      bot:msg(channel, user.nick .. ": pong (" .. args .. ")")
    end,
  }
  p.url = {
    regex = "https?://\\S+",
    fn = function(bot, user, channel, message) bot:msg(channel, "link") end,
  }
  p.greet = {
    events = {"irc.join"},
    fn = function(bot, user, channel)
      if user.nick == bot:nick() then bot:reject() end
      bot:msg(channel, "welcome " .. user.nick)
    end,
  }
  p.anything = {
    events = {"irc.raw"},
    fn = function(bot, ...) end,
  }
  p._private = { commands = {"hidden"}, fn = function() end }
  p.plain = function() end
  return p
end`
	b, inst, err := setup(t, source, nil)
	require.NoError(t, err)
	require.Len(t, inst.Handlers(), 4)

	ping := commandHandler(t, inst, "ping")
	assert.Equal(t, []string{"ping"}, ping.Commands)
	assert.Equal(t, []string{".ping: replies pong"}, ping.Help)
	require.NoError(t, ping.Fn(b, bot.UserRef{Nick: "alice"}, "#r", "ping now"))
	assert.Equal(t, "PRIVMSG #r :alice: pong (ping now)", b.sent[0])

	url := commandHandler(t, inst, "url")
	assert.True(t, url.Regex.MatchString("see http://example.com"))

	greet := eventHandler(t, inst, "greet")
	assert.Equal(t, []string{"irc.join"}, greet.Events)
	assert.Equal(t, 3, greet.Callback.Params)
	assert.False(t, greet.Callback.Variadic)

	anything := eventHandler(t, inst, "anything")
	assert.True(t, anything.Callback.Variadic)

	registry := event.NewRegistry(b)
	require.NoError(t, registry.RegisterEvent("irc.join", 2))
	_, err = registry.RegisterCallback("irc.join", greet.Callback)
	require.NoError(t, err)

	accepted, err := registry.Fire("irc.join", bot.UserRef{Nick: "bob", Ident: "u", Vhost: "h"}, "#r")
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, "PRIVMSG #r :welcome bob", b.sent[len(b.sent)-1])

	err = greet.Callback.Fn(b, bot.UserRef{Nick: "Cardinal"}, "#r")
	assert.True(t, errors.Is(err, event.ErrRejected))
	accepted, err = registry.Fire("irc.join", bot.UserRef{Nick: "Cardinal"}, "#r")
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestAbsentValuesAreNil(t *testing.T) {
	b, inst, err := setup(t, `
function setup()
  return {
    part = {
      events = {"irc.part"},
      fn = function(bot, user, channel, reason)
        bot:send(tostring(reason) .. " " .. tostring(user.ident))
      end,
    },
  }
end`, nil)
	require.NoError(t, err)

	part := eventHandler(t, inst, "part")
	require.NoError(t, part.Callback.Fn(b, bot.UserRef{Nick: "bob"}, "#r", nil))
	assert.Equal(t, []string{"nil nil"}, b.sent)
}

func TestHandlerError(t *testing.T) {
	b, inst, err := setup(t, `
function setup()
  return { boom = { commands = {"boom"}, fn = function() error("kaboom") end } }
end`, nil)
	require.NoError(t, err)

	err = commandHandler(t, inst, "boom").Fn(b, bot.UserRef{}, "#r", "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestCallTimeout(t *testing.T) {
	root := t.TempDir()
	loader := lua.NewLoader(lua.WithCallTimeout(50 * time.Millisecond))

	t.Run("handler", func(t *testing.T) {
		dir := writePlugin(t, root, "spin", `
function setup()
  return {
    spin = { commands = {"spin"}, fn = function() while true do end end },
    ping = { commands = {"ping"}, fn = function(bot, user, channel) bot:msg(channel, "pong") end },
  }
end`)
		m, err := loader.Load("spin", dir)
		require.NoError(t, err)
		b := &fakeBot{}
		inst, err := m.Setup(plugin.SetupContext{Bot: b})
		require.NoError(t, err)

		err = commandHandler(t, inst, "spin").Fn(b, bot.UserRef{}, "#r", "spin")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "deadline exceeded")

		require.NoError(t, commandHandler(t, inst, "ping").Fn(b, bot.UserRef{}, "#r", "ping"))
		assert.Equal(t, []string{"PRIVMSG #r :pong"}, b.sent)
	})

	t.Run("setup", func(t *testing.T) {
		dir := writePlugin(t, root, "stuck", `function setup() while true do end end`)
		m, err := loader.Load("stuck", dir)
		require.NoError(t, err)

		_, err = m.Setup(plugin.SetupContext{Bot: &fakeBot{}})
		require.Error(t, err)
	})
}

func TestClose(t *testing.T) {
	t.Run("with bot", func(t *testing.T) {
		b, inst, err := setup(t, `
function setup()
  return { close = function(bot) bot:send("QUIT :bye") end }
end`, nil)
		require.NoError(t, err)

		closer, ok := inst.(plugin.Closer)
		require.True(t, ok)
		require.NoError(t, closer.Close(b))
		assert.Equal(t, []string{"QUIT :bye"}, b.sent)
	})

	t.Run("bad arity", func(t *testing.T) {
		b, inst, err := setup(t, `
function setup()
  return { close = function(a, b) end }
end`, nil)
		require.NoError(t, err)

		err = inst.(plugin.Closer).Close(b)
		assert.True(t, plugin.HasCode(err, plugin.CodePluginError))
	})

	t.Run("handlers fail after close", func(t *testing.T) {
		b, inst, err := setup(t, `
function setup()
  return { ping = { commands = {"ping"}, fn = function() end } }
end`, nil)
		require.NoError(t, err)

		require.NoError(t, inst.(plugin.Closer).Close(b))
		assert.Error(t, commandHandler(t, inst, "ping").Fn(b, bot.UserRef{}, "#r", "ping"))
	})
}

func TestReloadReadsSourceAgain(t *testing.T) {
	root := t.TempDir()
	b := &fakeBot{}
	registry := event.NewRegistry(b)
	manager := plugin.NewManager(root, registry, b, plugin.WithLoader(lua.NewLoader()))

	reply := func(text string) string {
		return `
function setup()
  return { ping = { commands = {"ping"}, fn = function(bot, user, channel) bot:msg(channel, "` + text + `") end } }
end`
	}

	writePlugin(t, root, "pong", reply("one"))
	require.Empty(t, manager.Load("pong"))
	require.NoError(t, manager.Dispatch(b, bot.UserRef{Nick: "alice"}, "#r", ".ping"))

	writePlugin(t, root, "pong", reply("two"))
	require.Empty(t, manager.Load("pong"))
	require.NoError(t, manager.Dispatch(b, bot.UserRef{Nick: "alice"}, "#r", ".ping"))

	assert.Equal(t, 1, manager.Reloads())
	assert.Equal(t, []string{"PRIVMSG #r :one", "PRIVMSG #r :two"}, b.sent)
}
