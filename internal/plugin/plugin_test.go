package plugin_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dalnet/cardinal/internal/bot"
	"github.com/dalnet/cardinal/internal/event"
	"github.com/dalnet/cardinal/internal/plugin"
)

type fakeBot struct {
	mu   sync.Mutex
	nick string
	sent []string
}

func (b *fakeBot) Nick() string { return b.nick }
func (b *fakeBot) Join(string) error { return nil }
func (b *fakeBot) Quit(string) {}
func (b *fakeBot) Who(context.Context, string) ([]bot.UserRef, error) { return nil, nil }

func (b *fakeBot) SendRaw(line string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, line)
	return nil
}

func (b *fakeBot) Msg(target, text string) error {
	return b.SendRaw("PRIVMSG " + target + " :" + text)
}

type fakeStore struct {
	lists map[string]map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{lists: make(map[string]map[string]bool)}
}

func (s *fakeStore) Blacklist(p string) ([]string, error) {
	var out []string
	for ch := range s.lists[p] {
		out = append(out, ch)
	}
	return out, nil
}

func (s *fakeStore) AddBlacklist(p string, channels ...string) error {
	if s.lists[p] == nil {
		s.lists[p] = make(map[string]bool)
	}
	for _, ch := range channels {
		s.lists[p][ch] = true
	}
	return nil
}

func (s *fakeStore) RemoveBlacklist(p string, channels ...string) error {
	for _, ch := range channels {
		delete(s.lists[p], ch)
	}
	return nil
}

// testInstance records what happened to it.
type testInstance struct {
	handlers []plugin.Handler
	closed   int
	closeErr error
}

func (i *testInstance) Handlers() []plugin.Handler { return i.handlers }

func (i *testInstance) Close(bot.Bot) error {
	i.closed++
	return i.closeErr
}

type fixture struct {
	bot       *fakeBot
	registry  *event.Registry
	builtins  *plugin.Builtins
	manager   *plugin.Manager
	root      string
	store     *fakeStore
	instances map[string][]*testInstance
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		bot:       &fakeBot{nick: "Cardinal"},
		builtins:  plugin.NewBuiltins(),
		root:      t.TempDir(),
		store:     newFakeStore(),
		instances: make(map[string][]*testInstance),
	}
	f.registry = event.NewRegistry(f.bot)
	require.NoError(t, f.registry.RegisterEvent("irc.join", 2))
	require.NoError(t, f.registry.RegisterEvent("irc.privmsg", 3))

	f.manager = plugin.NewManager(f.root, f.registry, f.bot,
		plugin.WithLoader(f.builtins),
		plugin.WithBlacklistStore(f.store))
	return f
}

// register adds a builtin whose every instance carries the handlers built
// by handlers.
func (f *fixture) register(name string, handlers func() []plugin.Handler) {
	f.builtins.Register(name, plugin.Factory(func(plugin.SetupContext) (plugin.Instance, error) {
		inst := &testInstance{handlers: handlers()}
		f.instances[name] = append(f.instances[name], inst)
		return inst, nil
	}))
}

func (f *fixture) writeFile(t *testing.T, name, file, content string) {
	t.Helper()
	dir := filepath.Join(f.root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
}
