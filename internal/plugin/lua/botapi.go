package lua

import (
	lua "github.com/yuin/gopher-lua"
)

const botTypeName = "cardinal.bot"

// registerBot creates the bot object handed to Lua code and the value
// bot:reject() raises.
func (i *instance) registerBot() {
	L := i.L

	mt := L.NewTypeMetatable(botTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"msg":    i.luaMsg,
		"send":   i.luaSend,
		"join":   i.luaJoin,
		"nick":   i.luaNick,
		"quit":   i.luaQuit,
		"log":    i.luaLog,
		"reject": i.luaReject,
	}))

	i.botValue = L.NewUserData()
	i.botValue.Value = i
	L.SetMetatable(i.botValue, mt)

	i.rejected = L.NewUserData()
}

// The bot methods run while i.mu is held by call or Close.

func (i *instance) luaMsg(L *lua.LState) int {
	target := L.CheckString(2)
	text := L.CheckString(3)
	if err := i.bot.Msg(target, text); err != nil {
		L.RaiseError("msg: %v", err)
	}
	return 0
}

func (i *instance) luaSend(L *lua.LState) int {
	if err := i.bot.SendRaw(L.CheckString(2)); err != nil {
		L.RaiseError("send: %v", err)
	}
	return 0
}

func (i *instance) luaJoin(L *lua.LState) int {
	if err := i.bot.Join(L.CheckString(2)); err != nil {
		L.RaiseError("join: %v", err)
	}
	return 0
}

func (i *instance) luaNick(L *lua.LState) int {
	L.Push(lua.LString(i.bot.Nick()))
	return 1
}

func (i *instance) luaQuit(L *lua.LState) int {
	message := L.OptString(2, "")
	b := i.bot
	// Quit unloads this plugin, which needs i.mu.
	go b.Quit(message)
	return 0
}

func (i *instance) luaLog(L *lua.LState) int {
	i.log.Info().Msg(L.CheckString(2))
	return 0
}

func (i *instance) luaReject(L *lua.LState) int {
	L.Error(i.rejected, 0)
	return 0
}
