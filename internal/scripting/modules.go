package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// RegisterModules registers the engine.* Lua table into L.
//
// Precondition: L must be from NewSandboxedState.
// Postcondition: engine global is defined in L with roll and log functions.
func (m *Manager) RegisterModules(L *lua.LState) {
	engine := L.NewTable()

	// engine.roll("2d6+1") -> total, or nil on a malformed expression.
	L.SetField(engine, "roll", L.NewFunction(func(L *lua.LState) int {
		expr := L.CheckString(1)
		result, err := m.roller.RollExpr(expr)
		if err != nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LNumber(result.Total()))
		return 1
	}))

	// engine.log("message") -> nil. Emits at Info under the script's zone.
	L.SetField(engine, "log", L.NewFunction(func(L *lua.LState) int {
		msg := L.CheckString(1)
		m.logger.Info("script log", zap.String("message", msg))
		return 0
	}))

	L.SetGlobal("engine", engine)
}
