package compat

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"sync"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/bundle"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/convert"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/network"
)

//go:embed js/*.js
var scripts embed.FS

// Script-backed modules, by require name.
var scriptModules = map[string]string{
	"eu.kanade.tachiyomi.source.online.HttpSource": "js/HttpSource.js",
	"eu.kanade.tachiyomi.network.HttpException":   "js/HttpException.js",
	"eu.kanade.tachiyomi.source.model":            "js/model.js",
	"okhttp3.Request":                             "js/Request.js",
}

// Env is the runtime a module is being instantiated into.
type Env struct {
	VM *goja.Runtime
	// Require is the runtime's require function, passed to script modules.
	Require goja.Value
	// Context returns the context of the call currently running in VM.
	Context func() context.Context
	Bundle  *bundle.Bundle
	Logger  *logging.Logger
	// Nest ties an engine created by a module to VM's interrupts until the
	// returned release is called. Nil leaves nested engines uninterruptible.
	Nest func(*goja.Runtime) (release func())
}

func (e *Env) nest(vm *goja.Runtime) func() {
	if e.Nest == nil {
		return func() {}
	}
	return e.Nest(vm)
}

func (e *Env) ctx() context.Context {
	if e.Context == nil {
		return context.Background()
	}
	if ctx := e.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// throw raises err as a JS exception in the env's runtime.
func (e *Env) throw(err error) {
	panic(e.VM.NewGoError(err))
}

type builder func(h *Host, env *Env) (goja.Value, error)

// Host resolves compat modules. It is shared by every runtime; modules are
// instantiated per runtime.
type Host struct {
	network *network.Registry
	prefs   *PrefStore
	logger  *logging.Logger

	builders map[string]builder

	compileOnce sync.Once
	programs    map[string]*goja.Program
	compileErr  error
}

// NewHost creates the module host. prefs may be nil, in which case
// preferences live in memory only.
func NewHost(reg *network.Registry, prefs *PrefStore, logger *logging.Logger) *Host {
	if logger == nil {
		logger = logging.NewNop()
	}
	if prefs == nil {
		prefs = NewPrefStore("")
	}
	h := &Host{
		network: reg,
		prefs:   prefs,
		logger:  logger.Named("compat"),
	}
	h.builders = map[string]builder{
		"compat.host.network":        (*Host).networkModule,
		"compat.host.preferences":    (*Host).preferencesModule,
		"compat.host.assets":         (*Host).assetsModule,
		"compat.android.util.Log":    (*Host).logModule,
		"compat.android.util.Base64": (*Host).base64Module,
		"compat.android.net.Uri":     (*Host).uriModule,
		"org.jsoup.Jsoup":            (*Host).jsoupModule,
		"app.cash.quickjs.QuickJs":   (*Host).quickJSModule,
	}
	return h
}

// Has reports whether name is a host module.
func (h *Host) Has(name string) bool {
	if _, ok := h.builders[name]; ok {
		return true
	}
	_, ok := scriptModules[name]
	return ok
}

// Modules lists every host module name, sorted.
func (h *Host) Modules() []string {
	names := make([]string, 0, len(h.builders)+len(scriptModules))
	for name := range h.builders {
		names = append(names, name)
	}
	for name := range scriptModules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load instantiates module name into env.
func (h *Host) Load(env *Env, name string) (goja.Value, error) {
	if b, ok := h.builders[name]; ok {
		return b(h, env)
	}
	if _, ok := scriptModules[name]; !ok {
		return nil, fmt.Errorf("no host module %s", name)
	}
	if err := h.compile(); err != nil {
		return nil, err
	}
	return RunModule(env.VM, h.programs[name], nil, env.Require)
}

func (h *Host) compile() error {
	h.compileOnce.Do(func() {
		h.programs = make(map[string]*goja.Program, len(scriptModules))
		for name, file := range scriptModules {
			src, err := scripts.ReadFile(file)
			if err != nil {
				h.compileErr = fmt.Errorf("read %s: %w", file, err)
				return
			}
			prog, err := goja.Compile(name, convert.Wrap(string(src)), false)
			if err != nil {
				h.compileErr = fmt.Errorf("compile %s: %w", name, err)
				return
			}
			h.programs[name] = prog
		}
	})
	return h.compileErr
}

// Prefs returns the preference store backing compat.host.preferences.
func (h *Host) Prefs() *PrefStore {
	return h.prefs
}
