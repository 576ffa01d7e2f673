package compat

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dop251/goja"
	"github.com/goccy/go-yaml"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/paths"
)

// PrefStore persists per-source preferences as one YAML file per source
// under dir. An empty dir keeps everything in memory.
type PrefStore struct {
	dir string

	mu     sync.Mutex
	loaded map[string]map[string]interface{}
}

// NewPrefStore creates a store rooted at dir.
func NewPrefStore(dir string) *PrefStore {
	return &PrefStore{dir: dir, loaded: make(map[string]map[string]interface{})}
}

func (s *PrefStore) path(name string) string {
	return filepath.Join(s.dir, "source_"+name+".yaml")
}

// load returns the cached values for name. Caller holds mu.
func (s *PrefStore) load(name string) (map[string]interface{}, error) {
	if err := paths.ValidateName("source_" + name + ".yaml"); err != nil {
		return nil, fmt.Errorf("preferences %q: %w", name, err)
	}
	if values, ok := s.loaded[name]; ok {
		return values, nil
	}
	values := make(map[string]interface{})
	if s.dir != "" {
		data, err := os.ReadFile(s.path(name))
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read preferences %s: %w", name, err)
		default:
			if err := yaml.Unmarshal(data, &values); err != nil {
				return nil, fmt.Errorf("parse preferences %s: %w", name, err)
			}
			if values == nil {
				values = make(map[string]interface{})
			}
		}
	}
	s.loaded[name] = values
	return values, nil
}

// Snapshot returns a copy of the values stored for name.
func (s *PrefStore) Snapshot(name string) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load(name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out, nil
}

// Commit applies edits to name and writes the file. A nil value removes the
// key; reset drops every key first.
func (s *PrefStore) Commit(name string, reset bool, edits map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load(name)
	if err != nil {
		return err
	}
	next := make(map[string]interface{}, len(values)+len(edits))
	if !reset {
		for k, v := range values {
			next[k] = v
		}
	}
	for k, v := range edits {
		if v == nil {
			delete(next, k)
		} else {
			next[k] = v
		}
	}

	if s.dir != "" {
		data, err := yaml.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode preferences %s: %w", name, err)
		}
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return fmt.Errorf("write preferences %s: %w", name, err)
		}
		tmp := s.path(name) + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return fmt.Errorf("write preferences %s: %w", name, err)
		}
		if err := os.Rename(tmp, s.path(name)); err != nil {
			return fmt.Errorf("write preferences %s: %w", name, err)
		}
	}
	s.loaded[name] = next
	return nil
}

func asInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func asFloat(v interface{}) (float64, bool) {
	if f, ok := v.(float64); ok {
		return f, true
	}
	if n, ok := asInt(v); ok {
		return float64(n), true
	}
	return 0, false
}

func asStrings(v interface{}) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// preferencesModule exposes SharedPreferences-style access: open(id)
// returns getters plus edit() for batched writes.
func (h *Host) preferencesModule(env *Env) (goja.Value, error) {
	m := env.VM.NewObject()
	m.Set("open", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if err := paths.ValidateName(name); err != nil {
			env.throw(fmt.Errorf("preferences %q: %w", name, err))
		}
		return h.prefsObject(env, name)
	})
	return m, nil
}

func (h *Host) prefsObject(env *Env, name string) goja.Value {
	vm := env.VM
	get := func(key string) (interface{}, bool) {
		values, err := h.prefs.Snapshot(name)
		if err != nil {
			env.throw(err)
		}
		v, ok := values[key]
		return v, ok
	}

	o := vm.NewObject()
	o.Set("getString", func(key string, def goja.Value) goja.Value {
		if v, ok := get(key); ok {
			if s, ok := v.(string); ok {
				return vm.ToValue(s)
			}
		}
		return def
	})
	o.Set("getBoolean", func(key string, def bool) bool {
		if v, ok := get(key); ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
		return def
	})
	getInt := func(key string, def int64) int64 {
		if v, ok := get(key); ok {
			if n, ok := asInt(v); ok {
				return n
			}
		}
		return def
	}
	o.Set("getInt", getInt)
	o.Set("getLong", getInt)
	o.Set("getFloat", func(key string, def float64) float64 {
		if v, ok := get(key); ok {
			if f, ok := asFloat(v); ok {
				return f
			}
		}
		return def
	})
	o.Set("getStringSet", func(key string, def goja.Value) goja.Value {
		if v, ok := get(key); ok {
			if list, ok := asStrings(v); ok {
				items := make([]interface{}, len(list))
				for i, s := range list {
					items[i] = s
				}
				return vm.NewArray(items...)
			}
		}
		return def
	})
	o.Set("contains", func(key string) bool {
		_, ok := get(key)
		return ok
	})
	o.Set("getAll", func() goja.Value {
		values, err := h.prefs.Snapshot(name)
		if err != nil {
			env.throw(err)
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		all := vm.NewObject()
		for _, k := range keys {
			all.Set(k, values[k])
		}
		return all
	})
	o.Set("edit", func() goja.Value {
		return h.prefsEditor(env, name)
	})
	return o
}

func (h *Host) prefsEditor(env *Env, name string) goja.Value {
	edits := make(map[string]interface{})
	reset := false

	e := env.VM.NewObject()
	put := func(key string, v interface{}) goja.Value {
		edits[key] = v
		return e
	}
	e.Set("putString", func(key, v string) goja.Value { return put(key, v) })
	e.Set("putBoolean", func(key string, v bool) goja.Value { return put(key, v) })
	e.Set("putInt", func(key string, v int64) goja.Value { return put(key, v) })
	e.Set("putLong", func(key string, v int64) goja.Value { return put(key, v) })
	e.Set("putFloat", func(key string, v float64) goja.Value { return put(key, v) })
	e.Set("putStringSet", func(key string, v []string) goja.Value { return put(key, v) })
	e.Set("remove", func(key string) goja.Value {
		edits[key] = nil
		return e
	})
	e.Set("clear", func() goja.Value {
		reset = true
		return e
	})
	commit := func() bool {
		if err := h.prefs.Commit(name, reset, edits); err != nil {
			env.throw(err)
		}
		edits = make(map[string]interface{})
		reset = false
		return true
	}
	e.Set("commit", commit)
	e.Set("apply", func() { commit() })
	return e
}
