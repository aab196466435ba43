package plugin_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalnet/cardinal/internal/bot"
	"github.com/dalnet/cardinal/internal/event"
	"github.com/dalnet/cardinal/internal/plugin"
)

func joinWatcher(calls *[]string) func() []plugin.Handler {
	return func() []plugin.Handler {
		return []plugin.Handler{
			plugin.Subscribe("on_join", event.NewCallback("on_join", 2, func(_ bot.Bot, args ...any) error {
				*calls = append(*calls, args[1].(string))
				return nil
			}), "irc.join"),
		}
	}
}

func TestLoad(t *testing.T) {
	t.Run("registers event handlers", func(t *testing.T) {
		f := newFixture(t)
		var calls []string
		f.register("watcher", joinWatcher(&calls))

		assert.Empty(t, f.manager.Load("watcher"))
		assert.Equal(t, []string{"watcher"}, f.manager.Plugins())

		rec, ok := f.manager.Record("watcher")
		require.True(t, ok)
		require.Len(t, rec.Receipts["irc.join"], 1)
		assert.True(t, f.registry.Has("irc.join", rec.Receipts["irc.join"][0]))

		accepted, err := f.registry.Fire("irc.join", bot.UserRef{Nick: "bob"}, "#r")
		require.NoError(t, err)
		assert.True(t, accepted)
		assert.Equal(t, []string{"#r"}, calls)
	})

	t.Run("unknown module fails", func(t *testing.T) {
		f := newFixture(t)

		assert.Equal(t, []string{"missing"}, f.manager.Load("missing"))
		assert.Empty(t, f.manager.Plugins())
	})

	t.Run("invalid name fails", func(t *testing.T) {
		f := newFixture(t)

		assert.Equal(t, []string{"../etc"}, f.manager.Load("../etc"))
	})

	t.Run("reports only failed names", func(t *testing.T) {
		f := newFixture(t)
		f.register("good", func() []plugin.Handler { return nil })

		assert.Equal(t, []string{"bad"}, f.manager.Load("good", "bad"))
		assert.Equal(t, []string{"good"}, f.manager.Plugins())
	})

	t.Run("setup error fails", func(t *testing.T) {
		f := newFixture(t)
		f.builtins.Register("broken", plugin.Factory(func(plugin.SetupContext) (plugin.Instance, error) {
			return nil, errors.New("no")
		}))

		assert.Equal(t, []string{"broken"}, f.manager.Load("broken"))
		_, ok := f.manager.Record("broken")
		assert.False(t, ok)
	})

	t.Run("setup panic fails", func(t *testing.T) {
		f := newFixture(t)
		f.builtins.Register("broken", plugin.Factory(func(plugin.SetupContext) (plugin.Instance, error) {
			panic("boom")
		}))

		assert.Equal(t, []string{"broken"}, f.manager.Load("broken"))
	})

	t.Run("handler without trigger fails", func(t *testing.T) {
		f := newFixture(t)
		f.register("empty", func() []plugin.Handler {
			return []plugin.Handler{plugin.Command("nothing", nil, func(bot.Bot, bot.UserRef, string, string) error { return nil })}
		})

		assert.Equal(t, []string{"empty"}, f.manager.Load("empty"))
	})

	t.Run("subscriber failure rolls back", func(t *testing.T) {
		f := newFixture(t)
		f.register("half", func() []plugin.Handler {
			return []plugin.Handler{
				plugin.Subscribe("ok", event.NewCallback("ok", 2, func(bot.Bot, ...any) error { return nil }), "irc.join"),
				plugin.Subscribe("bad", event.NewCallback("bad", 1, func(bot.Bot, ...any) error { return nil }), "irc.privmsg"),
			}
		})

		assert.Equal(t, []string{"half"}, f.manager.Load("half"))
		assert.Empty(t, f.registry.Subscribers("irc.join"))
		require.Len(t, f.instances["half"], 1)
		assert.Equal(t, 1, f.instances["half"][0].closed)
	})

	t.Run("ambiguous config fails", func(t *testing.T) {
		f := newFixture(t)
		f.register("conf", func() []plugin.Handler { return nil })
		f.writeFile(t, "conf", "config.json", `{"a": 1}`)
		f.writeFile(t, "conf", "config.yaml", "a: 1\n")

		assert.Equal(t, []string{"conf"}, f.manager.Load("conf"))
	})
}

func TestConfig(t *testing.T) {
	f := newFixture(t)
	var got map[string]any
	f.builtins.Register("conf", plugin.Factory(func(ctx plugin.SetupContext) (plugin.Instance, error) {
		got = ctx.Config
		return plugin.HandlerList(nil), nil
	}))
	f.register("bare", func() []plugin.Handler { return nil })
	f.writeFile(t, "conf", "config.yaml", "greeting: hi\nlimit: 3\n")

	require.Empty(t, f.manager.Load("conf", "bare"))

	assert.Equal(t, "hi", got["greeting"])
	cfg, err := f.manager.Config("conf")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg["limit"])

	_, err = f.manager.Config("bare")
	assert.True(t, plugin.HasCode(err, plugin.CodeConfigNotFound))

	_, err = f.manager.Config("nobody")
	assert.True(t, plugin.HasCode(err, plugin.CodeConfigNotFound))
}

func TestConfigJSON(t *testing.T) {
	f := newFixture(t)
	f.register("conf", func() []plugin.Handler { return nil })
	f.writeFile(t, "conf", "config.json", `{"channels": ["#a", "#b"]}`)

	require.Empty(t, f.manager.Load("conf"))

	cfg, err := f.manager.Config("conf")
	require.NoError(t, err)
	assert.Equal(t, []any{"#a", "#b"}, cfg["channels"])
}

func TestReload(t *testing.T) {
	f := newFixture(t)
	var calls []string
	f.register("watcher", joinWatcher(&calls))

	require.Empty(t, f.manager.Load("watcher"))
	first, _ := f.manager.Record("watcher")

	require.Empty(t, f.manager.Load("watcher"))
	second, _ := f.manager.Record("watcher")

	assert.Equal(t, 1, f.manager.Reloads())
	assert.Equal(t, []string{"watcher"}, f.manager.Plugins())
	require.Len(t, f.instances["watcher"], 2)
	assert.NotSame(t, f.instances["watcher"][0], f.instances["watcher"][1])
	assert.Equal(t, 1, f.instances["watcher"][0].closed)
	assert.NotEqual(t, first.InstanceID, second.InstanceID)

	oldID := first.Receipts["irc.join"][0]
	newID := second.Receipts["irc.join"][0]
	assert.NotEqual(t, oldID, newID)
	assert.False(t, f.registry.Has("irc.join", oldID))
	assert.Equal(t, []event.ID{newID}, f.registry.Subscribers("irc.join"))

	_, err := f.registry.Fire("irc.join", bot.UserRef{Nick: "bob"}, "#r")
	require.NoError(t, err)
	assert.Equal(t, []string{"#r"}, calls)
}

func TestReloadFailureDropsPlugin(t *testing.T) {
	f := newFixture(t)
	var calls []string
	fail := false
	f.builtins.Register("flaky", plugin.Factory(func(plugin.SetupContext) (plugin.Instance, error) {
		if fail {
			return nil, errors.New("broken build")
		}
		return plugin.HandlerList(joinWatcher(&calls)()), nil
	}))

	require.Empty(t, f.manager.Load("flaky"))
	fail = true
	assert.Equal(t, []string{"flaky"}, f.manager.Load("flaky"))

	assert.Empty(t, f.manager.Plugins())
	assert.Empty(t, f.registry.Subscribers("irc.join"))
	assert.Equal(t, 0, f.manager.Reloads())
}

func TestUnload(t *testing.T) {
	t.Run("restores registry", func(t *testing.T) {
		f := newFixture(t)
		var calls []string
		f.register("watcher", joinWatcher(&calls))
		before := f.registry.Subscribers("irc.join")

		require.Empty(t, f.manager.Load("watcher"))
		assert.Empty(t, f.manager.Unload("watcher"))

		assert.Equal(t, before, f.registry.Subscribers("irc.join"))
		assert.Empty(t, f.manager.Plugins())
		assert.Equal(t, 1, f.instances["watcher"][0].closed)
	})

	t.Run("close error still unloads", func(t *testing.T) {
		f := newFixture(t)
		f.builtins.Register("grumpy", plugin.Factory(func(plugin.SetupContext) (plugin.Instance, error) {
			return &testInstance{closeErr: errors.New("nope")}, nil
		}))

		require.Empty(t, f.manager.Load("grumpy"))
		assert.Empty(t, f.manager.Unload("grumpy"))
		assert.Empty(t, f.manager.Plugins())
	})

	t.Run("unknown names fail", func(t *testing.T) {
		f := newFixture(t)

		assert.Equal(t, []string{"ghost"}, f.manager.Unload("ghost"))
	})

	t.Run("unload all", func(t *testing.T) {
		f := newFixture(t)
		var calls []string
		f.register("a", joinWatcher(&calls))
		f.register("b", joinWatcher(&calls))

		require.Empty(t, f.manager.Load("a", "b"))
		f.manager.UnloadAll()

		assert.Empty(t, f.manager.Plugins())
		assert.Empty(t, f.registry.Subscribers("irc.join"))
	})
}

func TestBlacklist(t *testing.T) {
	t.Run("set semantics", func(t *testing.T) {
		f := newFixture(t)
		f.register("p", func() []plugin.Handler { return nil })
		require.Empty(t, f.manager.Load("p"))

		assert.True(t, f.manager.Blacklist("p", "#c"))
		assert.True(t, f.manager.Blacklist("p", "#C"))
		assert.Equal(t, []string{"#c"}, f.manager.Blacklisted("p"))
	})

	t.Run("unknown plugin", func(t *testing.T) {
		f := newFixture(t)

		assert.False(t, f.manager.Blacklist("ghost", "#c"))
		_, ok := f.manager.Unblacklist("ghost", "#c")
		assert.False(t, ok)
	})

	t.Run("unblacklist reports missing channels", func(t *testing.T) {
		f := newFixture(t)
		f.register("p", func() []plugin.Handler { return nil })
		require.Empty(t, f.manager.Load("p"))
		f.manager.Blacklist("p", "#a", "#b")

		missing, ok := f.manager.Unblacklist("p", "#A", "#z")
		assert.True(t, ok)
		assert.Equal(t, []string{"#z"}, missing)
		assert.Equal(t, []string{"#b"}, f.manager.Blacklisted("p"))
	})

	t.Run("survives reload", func(t *testing.T) {
		f := newFixture(t)
		f.register("p", func() []plugin.Handler { return nil })
		require.Empty(t, f.manager.Load("p"))
		f.manager.Blacklist("p", "#a")

		require.Empty(t, f.manager.Load("p"))
		assert.Equal(t, []string{"#a"}, f.manager.Blacklisted("p"))
	})

	t.Run("persisted", func(t *testing.T) {
		f := newFixture(t)
		f.register("p", func() []plugin.Handler { return nil })
		require.Empty(t, f.manager.Load("p"))
		f.manager.Blacklist("p", "#A", "#b")
		f.manager.Unblacklist("p", "#b")

		assert.Equal(t, map[string]bool{"#a": true}, f.store.lists["p"])

		require.Empty(t, f.manager.Unload("p"))
		require.Empty(t, f.manager.Load("p"))
		assert.Equal(t, []string{"#a"}, f.manager.Blacklisted("p"))
	})
}

func TestCommands(t *testing.T) {
	f := newFixture(t)
	noop := func(bot.Bot, bot.UserRef, string, string) error { return nil }
	f.register("a", func() []plugin.Handler {
		return []plugin.Handler{plugin.Command("ping", []string{"ping"}, noop, ".ping: pong")}
	})
	f.register("b", func() []plugin.Handler {
		return []plugin.Handler{plugin.Command("seen", []string{"seen", "last"}, noop)}
	})
	require.Empty(t, f.manager.Load("a", "b"))

	infos := f.manager.Commands()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Plugin)
	assert.Equal(t, []string{".ping: pong"}, infos[0].Help)
	assert.Equal(t, []string{"seen", "last"}, infos[1].Commands)
}

func TestDataDir(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	var got string
	f.builtins.Register("p", plugin.Factory(func(ctx plugin.SetupContext) (plugin.Instance, error) {
		got = ctx.DataDir
		return plugin.HandlerList(nil), nil
	}))
	m := plugin.NewManager(f.root, f.registry, f.bot,
		plugin.WithLoader(f.builtins),
		plugin.WithDataDirs(func(string) (string, error) { return dir, nil }))

	require.Empty(t, m.Load("p"))
	assert.Equal(t, dir, got)
}
