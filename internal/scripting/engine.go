// Package scripting exposes user terrain-shaping hooks through Lua.
package scripting

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM holding the user's shaping script.
// Shape is called from terrain load workers, so unlike the rest of the
// cooperative runtime the VM is guarded by a mutex (an LState is not safe
// for concurrent use).
type Engine struct {
	mu    sync.Mutex
	vm    *lua.LState
	shape *lua.LFunction
	log   *zap.Logger
}

// NewEngine loads a shaping script. The script must define a global
// function `shape(x, z, h)` returning the adjusted height.
func NewEngine(scriptPath string, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState(lua.Options{SkipOpenLibs: false})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	if err := vm.DoFile(scriptPath); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load shaping script %s: %w", scriptPath, err)
	}
	fn, ok := vm.GetGlobal("shape").(*lua.LFunction)
	if !ok {
		vm.Close()
		return nil, fmt.Errorf("shaping script %s: no global function 'shape'", scriptPath)
	}
	log.Info("loaded shaping script", zap.String("file", scriptPath))
	return &Engine{vm: vm, shape: fn, log: log}, nil
}

// NewEngineFromSource is NewEngine for an in-memory script (tests, embedded
// presets).
func NewEngineFromSource(src string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{SkipOpenLibs: false})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	if err := vm.DoString(src); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load shaping script: %w", err)
	}
	fn, ok := vm.GetGlobal("shape").(*lua.LFunction)
	if !ok {
		vm.Close()
		return nil, fmt.Errorf("shaping script: no global function 'shape'")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{vm: vm, shape: fn, log: log}, nil
}

// Shape runs the hook for one height sample at world position (x, z).
func (e *Engine) Shape(x, z, h float64) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.vm.Push(e.shape)
	e.vm.Push(lua.LNumber(x))
	e.vm.Push(lua.LNumber(z))
	e.vm.Push(lua.LNumber(h))
	if err := e.vm.PCall(3, 1, nil); err != nil {
		return h, fmt.Errorf("shape(%g, %g): %w", x, z, err)
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)
	out, ok := ret.(lua.LNumber)
	if !ok {
		return h, fmt.Errorf("shape(%g, %g): returned %s, want number", x, z, ret.Type())
	}
	return float64(out), nil
}

// Close releases the VM.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}
