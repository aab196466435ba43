// Package lua loads plugins written in Lua. Each load reads and compiles
// plugin.lua again, so a reload picks up edits made while the bot runs.
package lua

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// DefaultCallTimeout bounds each call into plugin code.
const DefaultCallTimeout = 5 * time.Second

type library struct {
	name string
	open lua.LGFunction
}

// pluginLibraries are the only standard libraries a plugin sees; os, io,
// debug and package are never opened.
var pluginLibraries = []library{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// blockedGlobals would let a plugin read files or compile new chunks.
var blockedGlobals = []string{"dofile", "loadfile", "loadstring", "load", "require"}

// sandbox creates plugin states and runs plugin code under a deadline.
// Handlers run on the connection's reader goroutine, so a plugin that
// never returns would stop the bot.
type sandbox struct {
	libraries []library
	timeout   time.Duration
}

func newSandbox(timeout time.Duration) *sandbox {
	return &sandbox{libraries: pluginLibraries, timeout: timeout}
}

// newState returns a state with the plugin libraries open, the blocked
// globals removed, and print writing to log.
func (s *sandbox) newState(log zerolog.Logger) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range s.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}

	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(printTo(log)))
	return L, nil
}

// call is a protected CallByParam that fails once the timeout passes.
func (s *sandbox) call(L *lua.LState, p lua.P, args ...lua.LValue) error {
	p.Protect = true
	if s.timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		L.SetContext(ctx)
		defer L.RemoveContext()
	}
	return L.CallByParam(p, args...)
}

func printTo(log zerolog.Logger) lua.LGFunction {
	return func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for n := 1; n <= L.GetTop(); n++ {
			parts = append(parts, L.ToStringMeta(L.Get(n)).String())
		}
		log.Info().Str("output", strings.Join(parts, " ")).Msg("print")
		return 0
	}
}
