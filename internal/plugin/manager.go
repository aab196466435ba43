package plugin

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/oops"

	"github.com/dalnet/cardinal/internal/bot"
	"github.com/dalnet/cardinal/internal/event"
	"github.com/dalnet/cardinal/internal/logging"
)

// namePattern keeps plugin names usable as directory names under the root.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Record is the state kept for one loaded plugin.
type Record struct {
	Name   string
	Module Module
	// Instance is the object returned by the module's setup.
	Instance Instance
	// InstanceID changes on every load, including reloads.
	InstanceID ulid.ULID
	Commands   []*CommandHandler
	Events     []*EventHandler
	// Receipts maps event names to the callback ids registered for this
	// plugin, so unload can remove them.
	Receipts map[string][]event.ID
	Config   map[string]any

	blacklist map[string]struct{}
}

// Manager owns the table of loaded plugins.
type Manager struct {
	root     string
	loaders  []Loader
	registry *event.Registry
	bot      bot.Bot
	store    BlacklistStore
	dataDir  func(name string) (string, error)
	log      zerolog.Logger

	// opMu serializes load and unload; mu guards the fields below it and
	// is never held while plugin code runs.
	opMu    sync.Mutex
	mu      sync.RWMutex
	plugins map[string]*Record
	order   []string
	reloads int
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLoader appends a loader. Loaders are tried in the order given.
func WithLoader(l Loader) ManagerOption {
	return func(m *Manager) {
		m.loaders = append(m.loaders, l)
	}
}

// WithBlacklistStore persists blacklists through s.
func WithBlacklistStore(s BlacklistStore) ManagerOption {
	return func(m *Manager) {
		m.store = s
	}
}

// WithDataDirs gives each plugin a data directory from fn.
func WithDataDirs(fn func(name string) (string, error)) ManagerOption {
	return func(m *Manager) {
		m.dataDir = fn
	}
}

// WithLogger sets the manager logger.
func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = l
	}
}

// NewManager creates a manager for plugins under root whose event handlers
// are registered with registry and whose handlers receive b.
func NewManager(root string, registry *event.Registry, b bot.Bot, opts ...ManagerOption) *Manager {
	m := &Manager{
		root:     root,
		registry: registry,
		bot:      b,
		log:      log.With().Str("component", "plugin").Logger(),
		plugins:  make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load loads each named plugin, reloading those already loaded, and returns
// the names that failed. A failed plugin leaves no record behind; if it was
// loaded before, the old instance has already been closed and is dropped.
func (m *Manager) Load(names ...string) (failed []string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	for _, name := range names {
		if err := m.load(name); err != nil {
			PluginLoadFailures.WithLabelValues(name).Inc()
			logging.WithStack(m.log.Error(), err).
				Str("plugin", name).
				Msg("failed to load plugin")
			failed = append(failed, name)
		}
	}
	return failed
}

func (m *Manager) load(name string) error {
	if !namePattern.MatchString(name) {
		return ErrPlugin(name, "invalid plugin name %q", name)
	}

	m.mu.RLock()
	old := m.plugins[name]
	m.mu.RUnlock()

	if old != nil {
		m.log.Info().Str("plugin", name).Msg("reloading plugin")
		m.closeInstance(old)
	}

	rec, err := m.build(name, old)
	if old != nil {
		// Whether or not the new code works, the old instance is closed
		// and must not keep receiving events.
		m.unsubscribe(old.Receipts)
		m.drop(old)
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.plugins[name] = rec
	m.order = append(m.order, name)
	if old != nil {
		m.reloads++
	}
	PluginsLoaded.Set(float64(len(m.plugins)))
	m.mu.Unlock()

	if old != nil {
		PluginReloads.Inc()
	}

	m.log.Info().
		Str("plugin", name).
		Str("instance", rec.InstanceID.String()).
		Int("commands", len(rec.Commands)).
		Int("subscribers", len(rec.Events)).
		Msg("loaded plugin")
	return nil
}

// build instantiates a plugin and registers its event handlers. On error
// nothing it registered remains.
func (m *Manager) build(name string, old *Record) (*Record, error) {
	dir := filepath.Join(m.root, name)

	module, err := m.resolve(name, dir)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfig(name, dir)
	switch {
	case HasCode(err, CodeConfigNotFound):
		m.log.Warn().Str("plugin", name).Msg("no config found for plugin")
	case err != nil:
		return nil, err
	}

	ctx := SetupContext{Bot: m.bot, Config: cfg}
	if m.dataDir != nil {
		if ctx.DataDir, err = m.dataDir(name); err != nil {
			return nil, oops.In("plugin").With("plugin", name).Wrapf(err, "data directory")
		}
	}

	var inst Instance
	var setupErr error
	if err := oops.In("plugin").With("plugin", name).Recover(func() {
		inst, setupErr = module.Setup(ctx)
	}); err != nil {
		return nil, err
	}
	if setupErr != nil {
		return nil, setupErr
	}
	if inst == nil {
		return nil, ErrPlugin(name, "setup returned no instance")
	}

	commands, events, err := split(name, inst.Handlers())
	if err != nil {
		m.closeQuiet(name, inst)
		return nil, err
	}

	receipts, err := m.subscribe(events)
	if err != nil {
		m.closeQuiet(name, inst)
		return nil, err
	}

	rec := &Record{
		Name:       name,
		Module:     module,
		Instance:   inst,
		InstanceID: ulid.Make(),
		Commands:   commands,
		Events:     events,
		Receipts:   receipts,
		Config:     cfg,
		blacklist:  make(map[string]struct{}),
	}
	if old != nil {
		for ch := range old.blacklist {
			rec.blacklist[ch] = struct{}{}
		}
	} else if m.store != nil {
		channels, err := m.store.Blacklist(name)
		if err != nil {
			m.log.Warn().Err(err).Str("plugin", name).Msg("could not read stored blacklist")
		}
		for _, ch := range channels {
			rec.blacklist[foldChannel(ch)] = struct{}{}
		}
	}
	return rec, nil
}

func (m *Manager) resolve(name, dir string) (Module, error) {
	for _, l := range m.loaders {
		module, err := l.Load(name, dir)
		if HasCode(err, CodeModuleNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return module, nil
	}
	return nil, ErrPlugin(name, "module not found")
}

func split(name string, handlers []Handler) ([]*CommandHandler, []*EventHandler, error) {
	var commands []*CommandHandler
	var events []*EventHandler
	for _, h := range handlers {
		switch h := h.(type) {
		case *CommandHandler:
			if len(h.Commands) == 0 && h.Regex == nil {
				return nil, nil, ErrPlugin(name, "command handler %q has neither commands nor regex", h.Name)
			}
			if h.Fn == nil {
				return nil, nil, ErrPlugin(name, "command handler %q has no function", h.Name)
			}
			commands = append(commands, h)
		case *EventHandler:
			if len(h.Events) == 0 {
				return nil, nil, ErrPlugin(name, "event handler %q subscribes to no events", h.Name)
			}
			events = append(events, h)
		default:
			return nil, nil, ErrPlugin(name, "unknown handler type %T", h)
		}
	}
	return commands, events, nil
}

func (m *Manager) subscribe(events []*EventHandler) (map[string][]event.ID, error) {
	receipts := make(map[string][]event.ID)
	for _, h := range events {
		for _, name := range h.Events {
			id, err := m.registry.RegisterCallback(name, h.Callback)
			if err != nil {
				m.unsubscribe(receipts)
				return nil, err
			}
			receipts[name] = append(receipts[name], id)
		}
	}
	return receipts, nil
}

func (m *Manager) unsubscribe(receipts map[string][]event.ID) {
	for name, ids := range receipts {
		for _, id := range ids {
			m.registry.RemoveCallback(name, id)
		}
	}
}

// drop removes rec's table entry.
func (m *Manager) drop(rec *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.plugins[rec.Name] == rec {
		delete(m.plugins, rec.Name)
		for i, n := range m.order {
			if n == rec.Name {
				m.order = append(m.order[:i:i], m.order[i+1:]...)
				break
			}
		}
	}
	PluginsLoaded.Set(float64(len(m.plugins)))
}

func (m *Manager) closeInstance(rec *Record) {
	if err := m.callClose(rec.Name, rec.Instance); err != nil {
		logging.WithStack(m.log.Error(), err).
			Str("plugin", rec.Name).
			Msg("error closing plugin")
	}
}

func (m *Manager) closeQuiet(name string, inst Instance) {
	if err := m.callClose(name, inst); err != nil {
		m.log.Debug().Err(err).Str("plugin", name).Msg("error closing discarded plugin instance")
	}
}

func (m *Manager) callClose(name string, inst Instance) (err error) {
	closer, ok := inst.(Closer)
	if !ok {
		return nil
	}
	if rerr := oops.In("plugin").With("plugin", name).Recover(func() {
		err = closer.Close(m.bot)
	}); rerr != nil {
		return rerr
	}
	return err
}

// Unload unloads each named plugin and returns the names that were not
// loaded.
func (m *Manager) Unload(names ...string) (failed []string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	for _, name := range names {
		m.mu.RLock()
		rec := m.plugins[name]
		m.mu.RUnlock()

		if rec == nil {
			failed = append(failed, name)
			continue
		}

		m.unsubscribe(rec.Receipts)
		m.closeInstance(rec)
		m.drop(rec)
		m.log.Info().Str("plugin", name).Msg("unloaded plugin")
	}
	return failed
}

// UnloadAll unloads every plugin, most recently loaded first.
func (m *Manager) UnloadAll() {
	names := m.Plugins()
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	m.Unload(names...)
}

// Plugins returns the loaded plugin names in load order.
func (m *Manager) Plugins() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// Record returns the record of a loaded plugin.
func (m *Manager) Record(name string) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.plugins[name]
	return rec, ok
}

// Reloads returns how many times a loaded plugin has been replaced.
func (m *Manager) Reloads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reloads
}

// Config returns a plugin's configuration.
func (m *Manager) Config(name string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.plugins[name]
	if !ok || rec.Config == nil {
		return nil, errConfigNotFound(name)
	}
	return rec.Config, nil
}

// Blacklist suppresses a plugin's command handlers in channels. It returns
// false if the plugin is not loaded.
func (m *Manager) Blacklist(name string, channels ...string) bool {
	m.mu.Lock()
	rec, ok := m.plugins[name]
	if ok {
		for _, ch := range channels {
			rec.blacklist[foldChannel(ch)] = struct{}{}
		}
	}
	m.mu.Unlock()

	if ok && m.store != nil {
		if err := m.store.AddBlacklist(name, foldChannels(channels)...); err != nil {
			m.log.Error().Err(err).Str("plugin", name).Msg("failed to persist blacklist")
		}
	}
	return ok
}

// Unblacklist re-enables a plugin's command handlers in channels. It
// returns the requested channels that were not blacklisted, and false if
// the plugin is not loaded.
func (m *Manager) Unblacklist(name string, channels ...string) (missing []string, ok bool) {
	var removed []string

	m.mu.Lock()
	rec, ok := m.plugins[name]
	if ok {
		for _, ch := range channels {
			key := foldChannel(ch)
			if _, listed := rec.blacklist[key]; !listed {
				missing = append(missing, ch)
				continue
			}
			delete(rec.blacklist, key)
			removed = append(removed, key)
		}
	}
	m.mu.Unlock()

	if len(removed) > 0 && m.store != nil {
		if err := m.store.RemoveBlacklist(name, removed...); err != nil {
			m.log.Error().Err(err).Str("plugin", name).Msg("failed to persist blacklist")
		}
	}
	return missing, ok
}

// Blacklisted returns the channels a plugin is blacklisted in, sorted.
func (m *Manager) Blacklisted(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.plugins[name]
	if !ok {
		return nil
	}
	channels := make([]string, 0, len(rec.blacklist))
	for ch := range rec.blacklist {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	return channels
}

// CommandInfo describes a command handler for help listings.
type CommandInfo struct {
	Plugin   string
	Name     string
	Commands []string
	Regex    string
	Help     []string
}

// Commands lists every command handler in dispatch order.
func (m *Manager) Commands() []CommandInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var infos []CommandInfo
	for _, name := range m.order {
		for _, h := range m.plugins[name].Commands {
			info := CommandInfo{
				Plugin:   name,
				Name:     h.Name,
				Commands: h.Commands,
				Help:     h.Help,
			}
			if h.Regex != nil {
				info.Regex = h.Regex.String()
			}
			infos = append(infos, info)
		}
	}
	return infos
}

func foldChannel(ch string) string {
	return strings.ToLower(ch)
}

func foldChannels(channels []string) []string {
	folded := make([]string, len(channels))
	for i, ch := range channels {
		folded[i] = foldChannel(ch)
	}
	return folded
}
