package lua

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/dalnet/cardinal/internal/plugin"
)

// ModuleFile is the file a Lua plugin lives in, inside its plugin directory.
const ModuleFile = "plugin.lua"

// Loader implements plugin.Loader for Lua plugins.
type Loader struct {
	timeout time.Duration
	log     zerolog.Logger
}

// Option configures the Loader.
type Option func(*Loader)

// WithLogger sets the logger handed to plugins through bot:log.
func WithLogger(l zerolog.Logger) Option {
	return func(ld *Loader) {
		ld.log = l
	}
}

// WithCallTimeout limits how long one call into a plugin may run.
// Zero disables the limit.
func WithCallTimeout(d time.Duration) Option {
	return func(ld *Loader) {
		ld.timeout = d
	}
}

// NewLoader creates a Lua loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		timeout: DefaultCallTimeout,
		log:     log.With().Str("component", "lua").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads and compiles dir/plugin.lua. A directory without the file
// yields plugin.CodeModuleNotFound.
func (l *Loader) Load(name, dir string) (plugin.Module, error) {
	path := filepath.Join(dir, ModuleFile)

	f, err := os.Open(filepath.Clean(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, plugin.ErrModuleNotFound(name)
	}
	if err != nil {
		return nil, oops.In("lua").With("plugin", name).With("path", path).Wrapf(err, "open plugin")
	}
	defer f.Close()

	chunk, err := parse.Parse(f, path)
	if err != nil {
		return nil, plugin.ErrPlugin(name, "syntax error in %s: %v", path, err)
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, plugin.ErrPlugin(name, "compile %s: %v", path, err)
	}

	return &module{
		name:    name,
		proto:   proto,
		sandbox: newSandbox(l.timeout),
		log:     l.log.With().Str("plugin", name).Logger(),
	}, nil
}

type module struct {
	name    string
	proto   *lua.FunctionProto
	sandbox *sandbox
	log     zerolog.Logger
}

// Setup runs the compiled chunk in a new state and calls its setup
// function with as many of (bot, config) as it declares.
func (m *module) Setup(ctx plugin.SetupContext) (plugin.Instance, error) {
	L, err := m.sandbox.newState(m.log)
	if err != nil {
		return nil, oops.In("lua").With("plugin", m.name).Wrap(err)
	}

	inst := &instance{
		name:    m.name,
		L:       L,
		sandbox: m.sandbox,
		bot:     ctx.Bot,
		log:     m.log,
	}
	inst.registerBot()

	if err := m.setup(inst, ctx.Config); err != nil {
		L.Close()
		return nil, err
	}
	return inst, nil
}

func (m *module) setup(inst *instance, config map[string]any) error {
	L := inst.L

	if err := m.sandbox.call(L, lua.P{Fn: L.NewFunctionFromProto(m.proto), NRet: 0}); err != nil {
		return plugin.ErrPlugin(m.name, "run %s: %v", ModuleFile, err)
	}

	fn, ok := L.GetGlobal("setup").(*lua.LFunction)
	if !ok {
		return plugin.ErrPlugin(m.name, "%s does not define setup", ModuleFile)
	}

	var args []lua.LValue
	switch n := declaredParams(fn); n {
	case 0:
	case 1:
		args = []lua.LValue{inst.botValue}
	case 2:
		args = []lua.LValue{inst.botValue, toLua(L, config)}
	default:
		return plugin.ErrPlugin(m.name, "setup must take 0, 1 or 2 parameters, not %d", n)
	}

	if err := m.sandbox.call(L, lua.P{Fn: fn, NRet: 1}, args...); err != nil {
		return oops.In("lua").With("plugin", m.name).Wrapf(err, "setup")
	}
	ret := L.Get(-1)
	L.Pop(1)

	table, ok := ret.(*lua.LTable)
	if !ok {
		return plugin.ErrPlugin(m.name, "setup returned %s, expected a table", ret.Type())
	}
	inst.table = table

	handlers, err := inst.discover()
	if err != nil {
		return err
	}
	inst.handlers = handlers
	return nil
}

// declaredParams counts a Lua function's named parameters. A vararg
// function accepts everything, so it is given the full setup argument
// list.
func declaredParams(fn *lua.LFunction) int {
	if fn.IsG || fn.Proto == nil {
		return -1
	}
	if fn.Proto.IsVarArg != 0 && fn.Proto.NumParameters <= 2 {
		return 2
	}
	return int(fn.Proto.NumParameters)
}
