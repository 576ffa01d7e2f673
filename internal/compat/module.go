package compat

import (
	"fmt"

	"github.com/dop251/goja"
)

// NewModule returns a fresh CommonJS module record with empty exports.
func NewModule(vm *goja.Runtime) *goja.Object {
	module := vm.NewObject()
	module.Set("exports", vm.NewObject())
	return module
}

// RunModule evaluates a CommonJS-wrapped unit into module and returns its
// exports. A nil module gets a fresh record. The unit must evaluate to a
// function taking (module, exports, require).
func RunModule(vm *goja.Runtime, prog *goja.Program, module *goja.Object, require goja.Value) (goja.Value, error) {
	v, err := vm.RunProgram(prog)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, fmt.Errorf("unit does not evaluate to a module function")
	}

	if module == nil {
		module = NewModule(vm)
	}
	if _, err := fn(goja.Undefined(), module, module.Get("exports"), require); err != nil {
		return nil, err
	}
	return module.Get("exports"), nil
}
