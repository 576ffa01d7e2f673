package compat

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

var errQuickJSClosed = errors.New("QuickJs instance is closed")

// quickJSModule provides app.cash.quickjs.QuickJs: create() returns a nested
// engine isolated from the calling runtime. Only plain data crosses the
// boundary.
func (h *Host) quickJSModule(env *Env) (goja.Value, error) {
	m := env.VM.NewObject()
	m.Set("create", func() goja.Value {
		return quickJSObject(env)
	})
	return m, nil
}

func quickJSObject(env *Env) goja.Value {
	outer := env.VM
	inner := goja.New()
	inner.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	release := env.nest(inner)

	o := outer.NewObject()
	o.Set("evaluate", func(script string) (goja.Value, error) {
		if inner == nil {
			return nil, errQuickJSClosed
		}
		v, err := inner.RunString(script)
		if err != nil {
			return nil, fmt.Errorf("quickjs: %w", err)
		}
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return goja.Null(), nil
		}
		return outer.ToValue(v.Export()), nil
	})
	o.Set("set", func(name string, v goja.Value) error {
		if inner == nil {
			return errQuickJSClosed
		}
		if v == nil || goja.IsUndefined(v) {
			return inner.Set(name, goja.Undefined())
		}
		return inner.Set(name, v.Export())
	})
	o.Set("close", func() {
		if inner != nil {
			release()
			inner = nil
		}
	})
	return o
}
