package compat

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/network"
)

var errNoNetwork = errors.New("network is not available to this runtime")

// networkModule exposes the source's network client. Calls run under the
// context of the invocation in progress, so they carry its session.
func (h *Host) networkModule(env *Env) (goja.Value, error) {
	vm := env.VM
	m := vm.NewObject()
	m.Set("sourceId", func(name, lang string, versionID int) int64 {
		return SourceID(name, lang, versionID)
	})
	m.Set("defaultUserAgent", func() string {
		if h.network == nil {
			return network.DefaultUserAgent
		}
		return h.network.UserAgent(env.ctx())
	})
	m.Set("client", func(call goja.FunctionCall) goja.Value {
		if h.network == nil {
			env.throw(errNoNetwork)
		}
		return h.clientObject(env, call.Argument(0).String())
	})
	return m, nil
}

func (h *Host) clientObject(env *Env, id string) goja.Value {
	client := h.network.Client(id)
	o := env.VM.NewObject()
	o.Set("id", id)
	o.Set("execute", func(call goja.FunctionCall) goja.Value {
		req, err := toRequest(env.VM, call.Argument(0))
		if err != nil {
			env.throw(err)
		}
		resp, err := client.Execute(env.ctx(), req)
		if err != nil {
			env.throw(err)
		}
		return responseObject(env.VM, resp)
	})
	return o
}

func toRequest(vm *goja.Runtime, v goja.Value) (network.Request, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return network.Request{}, fmt.Errorf("request is required")
	}
	obj := v.ToObject(vm)
	req := network.Request{
		Method: stringProp(obj, "method"),
		URL:    stringProp(obj, "url"),
		Body:   stringProp(obj, "body"),
	}
	if hv := obj.Get("headers"); hv != nil && !goja.IsUndefined(hv) && !goja.IsNull(hv) {
		if m, ok := hv.Export().(map[string]interface{}); ok {
			req.Headers = make(map[string]string, len(m))
			for k, val := range m {
				req.Headers[k] = fmt.Sprint(val)
			}
		}
	}
	if req.URL == "" {
		return network.Request{}, fmt.Errorf("request has no url")
	}
	return req, nil
}

func stringProp(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func responseObject(vm *goja.Runtime, resp *network.Response) goja.Value {
	headers := vm.NewObject()
	keys := make([]string, 0, len(resp.Headers))
	for k := range resp.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		headers.Set(k, resp.Headers[k])
	}

	o := vm.NewObject()
	o.Set("code", resp.Code)
	o.Set("ok", resp.OK)
	o.Set("body", resp.Body)
	o.Set("url", resp.URL)
	o.Set("headers", headers)
	o.Set("header", func(name string) goja.Value {
		if v, ok := resp.Headers[strings.ToLower(name)]; ok {
			return vm.ToValue(v)
		}
		return goja.Null()
	})
	return o
}
