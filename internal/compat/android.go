package compat

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Base64 flags, matching android.util.Base64.
const (
	Base64Default   = 0
	Base64NoPadding = 1
	Base64NoWrap    = 2
	Base64CRLF      = 4
	Base64URLSafe   = 8
)

const base64LineLength = 76

func encodeBase64(data []byte, flags int) string {
	enc := base64.StdEncoding
	if flags&Base64URLSafe != 0 {
		enc = base64.URLEncoding
	}
	if flags&Base64NoPadding != 0 {
		enc = enc.WithPadding(base64.NoPadding)
	}
	out := enc.EncodeToString(data)
	if flags&Base64NoWrap != 0 || out == "" {
		return out
	}

	eol := "\n"
	if flags&Base64CRLF != 0 {
		eol = "\r\n"
	}
	var sb strings.Builder
	for len(out) > base64LineLength {
		sb.WriteString(out[:base64LineLength])
		sb.WriteString(eol)
		out = out[base64LineLength:]
	}
	sb.WriteString(out)
	sb.WriteString(eol)
	return sb.String()
}

// decodeBase64 accepts either alphabet, with or without padding and line
// breaks.
func decodeBase64(s string, flags int) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	s = strings.TrimRight(s, "=")
	enc := base64.RawStdEncoding
	if flags&Base64URLSafe != 0 || strings.ContainsAny(s, "-_") {
		enc = base64.RawURLEncoding
	}
	return enc.DecodeString(s)
}

func (h *Host) base64Module(env *Env) (goja.Value, error) {
	m := env.VM.NewObject()
	m.Set("DEFAULT", Base64Default)
	m.Set("NO_PADDING", Base64NoPadding)
	m.Set("NO_WRAP", Base64NoWrap)
	m.Set("CRLF", Base64CRLF)
	m.Set("URL_SAFE", Base64URLSafe)
	m.Set("encodeToString", func(data string, flags int) string {
		return encodeBase64([]byte(data), flags)
	})
	m.Set("decode", func(data string, flags int) (string, error) {
		out, err := decodeBase64(data, flags)
		if err != nil {
			return "", fmt.Errorf("bad base-64: %w", err)
		}
		return string(out), nil
	})
	return m, nil
}

// logModule routes android.util.Log to the runtime's logger.
func (h *Host) logModule(env *Env) (goja.Value, error) {
	logger := env.Logger
	if logger == nil {
		logger = h.logger
	}
	write := func(level func(string, ...zap.Field)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			fields := []zap.Field{zap.String("tag", call.Argument(0).String())}
			if t := call.Argument(2); !goja.IsUndefined(t) && !goja.IsNull(t) {
				fields = append(fields, zap.String("throwable", t.String()))
			}
			level(call.Argument(1).String(), fields...)
			return env.VM.ToValue(0)
		}
	}
	m := env.VM.NewObject()
	m.Set("v", write(logger.Debug))
	m.Set("d", write(logger.Debug))
	m.Set("i", write(logger.Info))
	m.Set("w", write(logger.Warn))
	m.Set("e", write(logger.Error))
	m.Set("wtf", write(logger.Error))
	return m, nil
}

// encodeURIComponent escapes everything except unreserved characters, with
// spaces as %20.
func encodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func (h *Host) uriModule(env *Env) (goja.Value, error) {
	m := env.VM.NewObject()
	m.Set("parse", func(raw string) (goja.Value, error) {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		return uriObject(env.VM, u), nil
	})
	m.Set("encode", encodeURIComponent)
	m.Set("decode", func(s string) string {
		out, err := url.PathUnescape(s)
		if err != nil {
			return s
		}
		return out
	})
	return m, nil
}

func pathSegments(u *url.URL) []interface{} {
	var out []interface{}
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func uriObject(vm *goja.Runtime, u *url.URL) *goja.Object {
	o := vm.NewObject()
	o.Set("getScheme", func() string { return u.Scheme })
	o.Set("getHost", func() string { return u.Hostname() })
	o.Set("getPort", func() string { return u.Port() })
	o.Set("getPath", func() string { return u.Path })
	o.Set("getQuery", func() string { return u.RawQuery })
	o.Set("getFragment", func() string { return u.Fragment })
	o.Set("getPathSegments", func() goja.Value { return vm.NewArray(pathSegments(u)...) })
	o.Set("getLastPathSegment", func() goja.Value {
		segs := pathSegments(u)
		if len(segs) == 0 {
			return goja.Null()
		}
		return vm.ToValue(segs[len(segs)-1])
	})
	o.Set("getQueryParameter", func(key string) goja.Value {
		q := u.Query()
		if _, ok := q[key]; !ok {
			return goja.Null()
		}
		return vm.ToValue(q.Get(key))
	})
	o.Set("buildUpon", func() goja.Value {
		next := *u
		return uriBuilder(vm, &next)
	})
	o.Set("toString", func() string { return u.String() })
	return o
}

func uriBuilder(vm *goja.Runtime, u *url.URL) *goja.Object {
	b := vm.NewObject()
	b.Set("appendPath", func(seg string) goja.Value {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + seg
		u.RawPath = ""
		return b
	})
	b.Set("appendQueryParameter", func(key, value string) goja.Value {
		pair := encodeURIComponent(key) + "=" + encodeURIComponent(value)
		if u.RawQuery == "" {
			u.RawQuery = pair
		} else {
			u.RawQuery += "&" + pair
		}
		return b
	})
	b.Set("fragment", func(f string) goja.Value {
		u.Fragment = f
		return b
	})
	b.Set("build", func() goja.Value {
		next := *u
		return uriObject(vm, &next)
	})
	return b
}

// assetsModule reads resources packaged with the bundle.
func (h *Host) assetsModule(env *Env) (goja.Value, error) {
	m := env.VM.NewObject()
	m.Set("exists", func(name string) bool {
		return env.Bundle != nil && env.Bundle.HasAsset(name)
	})
	m.Set("read", func(name string) (string, error) {
		if env.Bundle == nil {
			return "", fmt.Errorf("asset %s not in bundle", name)
		}
		data, err := env.Bundle.ReadAsset(name)
		if err != nil {
			return "", err
		}
		return string(data), nil
	})
	m.Set("list", func() goja.Value {
		if env.Bundle == nil {
			return env.VM.NewArray()
		}
		names := env.Bundle.Assets()
		items := make([]interface{}, len(names))
		for i, n := range names {
			items[i] = n
		}
		return env.VM.NewArray(items...)
	})
	return m, nil
}
