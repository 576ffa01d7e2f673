package network

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/resilience"
)

func testOptions() Options {
	return Options{
		UserAgent:    "config-agent",
		CallTimeout:  5 * time.Second,
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}
}

func TestParseCookieHeader(t *testing.T) {
	cookies := ParseCookieHeader("a=1; b=2", "example.com")
	require.Len(t, cookies, 2)
	assert.Equal(t, "a", cookies[0].Name)
	assert.Equal(t, "1", cookies[0].Value)
	assert.Equal(t, "b", cookies[1].Name)
	assert.Equal(t, "2", cookies[1].Value)
	for _, c := range cookies {
		assert.Equal(t, "example.com", c.Domain)
		assert.Equal(t, "/", c.Path)
	}
}

func TestParseCookieHeaderEdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		header string
		domain string
		want   map[string]string
	}{
		{"empty", "", "example.com", map[string]string{}},
		{"pair without equals skipped", "junk; c = 3 ;", "example.com", map[string]string{"c": "3"}},
		{"value keeps later equals", "tok=a=b", "example.com", map[string]string{"tok": "a=b"}},
		{"leading dot domain", "x=1", ".example.com", map[string]string{"x": "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := map[string]string{}
			for _, c := range ParseCookieHeader(tt.header, tt.domain) {
				got[c.Name] = c.Value
				assert.Equal(t, "example.com", c.Domain)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSessionInstallsBothSchemes(t *testing.T) {
	s := NewSession()
	s.AddCookies("example.com", ParseCookieHeader("a=1", "example.com"))

	for _, scheme := range []string{"http", "https"} {
		got := s.Jar.Cookies(&url.URL{Scheme: scheme, Host: "example.com", Path: "/x"})
		require.Len(t, got, 1, scheme)
		assert.Equal(t, "a", got[0].Name)
	}
}

func TestSessionFromContext(t *testing.T) {
	assert.Nil(t, SessionFrom(context.Background()))
	s := NewSession()
	assert.Same(t, s, SessionFrom(WithSession(context.Background(), s)))
}

func TestExecuteSendsAndStoresSessionCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "set", Value: "by-server", Path: "/"})
		fmt.Fprint(w, r.Header.Get("Cookie"))
	}))
	defer srv.Close()

	reg := NewRegistry(testOptions(), nil, nil)
	defer reg.Close()

	host := mustURL(t, srv.URL).Hostname()
	s := NewSession()
	s.AddCookies(host, ParseCookieHeader("a=1; b=2", host))
	ctx := WithSession(context.Background(), s)

	resp, err := reg.Client("1").Execute(ctx, Request{URL: srv.URL + "/page"})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Contains(t, resp.Body, "a=1")
	assert.Contains(t, resp.Body, "b=2")

	var names []string
	for _, c := range s.Jar.Cookies(mustURL(t, srv.URL)) {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "set")
}

func TestExecuteWithoutSessionSendsNoCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "set", Value: "x"})
		fmt.Fprint(w, r.Header.Get("Cookie"))
	}))
	defer srv.Close()

	c := NewRegistry(testOptions(), nil, nil).Client("1")
	for i := 0; i < 2; i++ {
		resp, err := c.Execute(context.Background(), Request{URL: srv.URL})
		require.NoError(t, err)
		assert.Empty(t, resp.Body, "client must not keep cookies between calls")
	}
}

func TestUserAgentPrecedence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.UserAgent())
	}))
	defer srv.Close()

	c := NewRegistry(testOptions(), nil, nil).Client("1")

	resp, err := c.Execute(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "config-agent", resp.Body)

	ctx := WithSession(context.Background(), &Session{Jar: NewSession().Jar, UserAgent: "session-agent"})
	resp, err = c.Execute(ctx, Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "session-agent", resp.Body)

	resp, err = c.Execute(ctx, Request{URL: srv.URL, Headers: map[string]string{"User-Agent": "own-agent"}})
	require.NoError(t, err)
	assert.Equal(t, "own-agent", resp.Body)

	opts := testOptions()
	opts.UserAgent = ""
	assert.Equal(t, DefaultUserAgent, NewRegistry(opts, nil, nil).Client("2").UserAgent(context.Background()))
}

func TestRetryPolicy(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/flaky":
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			fmt.Fprint(w, "ok")
		case "/limited":
			hits.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		case "/post":
			hits.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := NewRegistry(testOptions(), nil, nil).Client("1")

	t.Run("idempotent retried", func(t *testing.T) {
		hits.Store(0)
		resp, err := c.Execute(context.Background(), Request{URL: srv.URL + "/flaky"})
		require.NoError(t, err)
		assert.Equal(t, 200, resp.Code)
		assert.Equal(t, int32(2), hits.Load())
	})

	t.Run("429 returned as is", func(t *testing.T) {
		hits.Store(0)
		resp, err := c.Execute(context.Background(), Request{URL: srv.URL + "/limited"})
		require.NoError(t, err)
		assert.Equal(t, 429, resp.Code)
		assert.False(t, resp.OK)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("post not retried", func(t *testing.T) {
		hits.Store(0)
		resp, err := c.Execute(context.Background(), Request{Method: "post", URL: srv.URL + "/post", Body: "x=1"})
		require.NoError(t, err)
		assert.Equal(t, 503, resp.Code)
		assert.Equal(t, int32(1), hits.Load())
	})
}

func TestExecuteNotFoundIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	resp, err := NewRegistry(testOptions(), nil, nil).Client("1").Execute(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 404, resp.Code)
	assert.False(t, resp.OK)
}

func TestExecuteTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	opts := testOptions()
	opts.RetryMax = 0
	_, err := NewRegistry(opts, nil, nil).Client("1").Execute(context.Background(), Request{URL: addr})
	require.Error(t, err)

	_, err = NewRegistry(opts, nil, nil).Client("1").Execute(context.Background(), Request{URL: "not a url"})
	require.Error(t, err)
}

func TestExecuteDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/latin1":
			w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
			w.Write([]byte("caf\xe9"))
		case "/gzip":
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			zw.Write([]byte(`{"ok":true}`))
			zw.Close()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Content-Encoding", "gzip")
			w.Write(buf.Bytes())
		}
	}))
	defer srv.Close()

	c := NewRegistry(testOptions(), nil, nil).Client("1")

	resp, err := c.Execute(context.Background(), Request{URL: srv.URL + "/latin1"})
	require.NoError(t, err)
	assert.Equal(t, "café", resp.Body)
	assert.Equal(t, "text/html; charset=iso-8859-1", resp.Headers["content-type"])

	resp, err = c.Execute(context.Background(), Request{
		URL:     srv.URL + "/gzip",
		Headers: map[string]string{"Accept-Encoding": "gzip"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Body)
}

func TestExecuteDecodesBrotli(t *testing.T) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	_, err := bw.Write([]byte(`<html><body>brotli</body></html>`))
	require.NoError(t, err)
	require.NoError(t, bw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Encoding", "br")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	resp, err := NewRegistry(testOptions(), nil, nil).Client("1").Execute(context.Background(), Request{
		URL:     srv.URL,
		Headers: map[string]string{"Accept-Encoding": "br"},
	})
	require.NoError(t, err)
	assert.Equal(t, `<html><body>brotli</body></html>`, resp.Body)

	_, err = decodeBody([]byte("not brotli"), http.Header{"Content-Encoding": {"br"}})
	require.Error(t, err)
}

func TestResponseCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/fresh":
			w.Header().Set("Cache-Control", "public, max-age=60")
		case "/nostore":
			w.Header().Set("Cache-Control", "no-store")
		case "/cookie":
			w.Header().Set("Cache-Control", "max-age=60")
			http.SetCookie(w, &http.Cookie{Name: "s", Value: "1"})
		}
		fmt.Fprintf(w, "%s #%d", r.URL.Path, hits.Load())
	}))
	defer srv.Close()

	opts := testOptions()
	opts.CacheSize = DefaultCacheSize
	reg := NewRegistry(opts, nil, nil)

	tests := []struct {
		name   string
		client string
		req    Request
		cached bool
	}{
		{"max-age is reused", "1", Request{URL: srv.URL + "/fresh"}, true},
		{"no-store is refetched", "1", Request{URL: srv.URL + "/nostore"}, false},
		{"set-cookie is refetched", "1", Request{URL: srv.URL + "/cookie"}, false},
		{"post is refetched", "1", Request{Method: "POST", URL: srv.URL + "/fresh", Body: "x"}, false},
		{"authorization is refetched", "1", Request{URL: srv.URL + "/fresh", Headers: map[string]string{"Authorization": "t"}}, false},
		{"sources do not share entries", "2", Request{URL: srv.URL + "/fresh?s=2"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := reg.Client(tt.client)
			first, err := c.Execute(context.Background(), tt.req)
			require.NoError(t, err)
			before := hits.Load()
			second, err := c.Execute(context.Background(), tt.req)
			require.NoError(t, err)

			if tt.cached {
				assert.Equal(t, before, hits.Load())
				assert.Equal(t, first.Body, second.Body)
			} else {
				assert.Equal(t, before+1, hits.Load())
				assert.NotEqual(t, first.Body, second.Body)
			}
		})
	}

	_, ok := reg.cache.get(cacheKey("2", srv.URL+"/fresh"))
	assert.False(t, ok)
}

func TestResponseCacheBoundedByBytes(t *testing.T) {
	cache := newResponseCache(100)
	now := time.Now()
	cache.now = func() time.Time { return now }
	header := http.Header{"Cache-Control": {"max-age=10"}}
	body := string(bytes.Repeat([]byte("x"), 40))

	cache.put("a", &Response{Code: 200, Body: body}, header)
	cache.put("b", &Response{Code: 200, Body: body}, header)
	assert.Equal(t, 2, cache.Len())

	cache.put("c", &Response{Code: 200, Body: body}, header)
	assert.Equal(t, 2, cache.Len())
	_, ok := cache.get("a")
	assert.False(t, ok, "oldest entry evicted")

	cache.put("huge", &Response{Code: 200, Body: string(bytes.Repeat([]byte("x"), 200))}, header)
	_, ok = cache.get("huge")
	assert.False(t, ok)

	now = now.Add(11 * time.Second)
	_, ok = cache.get("c")
	assert.False(t, ok, "expired entry dropped")

	var nilCache *responseCache
	_, ok = nilCache.get("c")
	assert.False(t, ok)
}

func TestDecodeBodyPassesBinaryThrough(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', 0xff}
	got, err := decodeBody(raw, http.Header{"Content-Type": {"image/png"}})
	require.NoError(t, err)
	assert.Equal(t, string(raw), got)
}

func TestRegistryReusesClients(t *testing.T) {
	reg := NewRegistry(testOptions(), nil, nil)
	a := reg.Client("1")
	assert.Same(t, a, reg.Client("1"))
	assert.NotSame(t, a, reg.Client("2"))
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, "1", a.ID())
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestFailingUpstreamOpensBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	core, logs := observer.New(zap.WarnLevel)
	opts := testOptions()
	opts.RetryMax = 0
	c := NewRegistry(opts, &logging.Logger{Logger: zap.New(core)}, nil).Client("7")

	for i := 0; i < 10; i++ {
		resp, err := c.Execute(context.Background(), Request{URL: srv.URL})
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	}
	assert.Equal(t, resilience.StateOpen, c.BreakerState())

	_, err := c.Execute(context.Background(), Request{URL: srv.URL})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(10), hits.Load())

	changes := logs.FilterMessage("Upstream breaker changed state").All()
	require.Len(t, changes, 1)
	assert.Equal(t, "source-7", changes[0].ContextMap()["breaker"])
	assert.Equal(t, "open", changes[0].ContextMap()["to"])
}
