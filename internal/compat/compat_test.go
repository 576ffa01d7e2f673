package compat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/bundle"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/bundle/bundletest"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/convert"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/network"
)

// newEnv wires a bare runtime whose require only resolves host modules.
func newEnv(t *testing.T, h *Host, ctx context.Context, b *bundle.Bundle) *Env {
	t.Helper()
	vm := goja.New()
	env := &Env{VM: vm, Bundle: b, Context: func() context.Context { return ctx }}
	cache := map[string]goja.Value{}
	env.Require = vm.ToValue(func(name string) (goja.Value, error) {
		if v, ok := cache[name]; ok {
			return v, nil
		}
		v, err := h.Load(env, name)
		if err != nil {
			return nil, err
		}
		cache[name] = v
		return v, nil
	})
	require.NoError(t, vm.Set("require", env.Require))
	return env
}

func run(t *testing.T, env *Env, script string) goja.Value {
	t.Helper()
	v, err := env.VM.RunString(script)
	require.NoError(t, err)
	return v
}

func TestPatcherRewritesPlatformReferences(t *testing.T) {
	path := filepath.Join(t.TempDir(), convert.ArchiveName)
	units := map[string]string{
		"a.Main":  `const Log = require("android.util.Log"); const B = require('androidx.core.Bundle'); const again = require( "android.util.Log" );`,
		"a.Plain": `const other = require("a.Main"); const x = "android.util.Log";`,
		"a.Done":  `const Log = require("compat.android.util.Log");`,
	}
	idx := convert.Index{Identity: "a-v1.4.1", Classes: []string{"a.Done", "a.Plain", "a.Main"}}
	require.NoError(t, convert.WriteArchive(path, idx, units))

	report, err := NewPatcher(nil).Patch(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a.Main": 3}, report.Rewrites)
	assert.Equal(t, 3, report.Total())

	contents, err := convert.ReadArchive(path)
	require.NoError(t, err)
	assert.True(t, contents.Index.Patched)
	assert.Equal(t, idx.Classes, contents.Index.Classes)
	assert.Equal(t,
		`const Log = require("compat.android.util.Log"); const B = require('compat.androidx.core.Bundle'); const again = require( "compat.android.util.Log" );`,
		contents.Units["a.Main"])
	assert.Equal(t, units["a.Plain"], contents.Units["a.Plain"])
	assert.Equal(t, units["a.Done"], contents.Units["a.Done"])
}

func TestPatcherMissingArchive(t *testing.T) {
	_, err := NewPatcher(nil).Patch(filepath.Join(t.TempDir(), "missing.zip"))
	require.Error(t, err)
}

func TestSourceID(t *testing.T) {
	assert.Equal(t, int64(2499283573021220255), SourceID("MangaDex", "en", 1))
	assert.Equal(t, SourceID("mangadex", "en", 1), SourceID("MANGADEX", "en", 1))
	assert.Equal(t, int64(6404943692147160087), SourceID("MangaDex", "all", 1))
	assert.NotEqual(t, SourceID("MangaDex", "en", 1), SourceID("MangaDex", "en", 2))
}

func TestHostModules(t *testing.T) {
	h := NewHost(nil, nil, nil)
	assert.True(t, h.Has("eu.kanade.tachiyomi.source.online.HttpSource"))
	assert.True(t, h.Has("compat.android.util.Log"))
	assert.False(t, h.Has("android.util.Log"))
	assert.Contains(t, h.Modules(), "org.jsoup.Jsoup")

	_, err := h.Load(newEnv(t, h, context.Background(), nil), "compat.android.app.Activity")
	require.Error(t, err)
}

func TestHttpSourceRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ua":
			fmt.Fprint(w, r.UserAgent())
		case "/cookie":
			fmt.Fprint(w, r.Header.Get("Cookie"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	reg := network.NewRegistry(network.Options{UserAgent: "config-agent"}, nil, nil)
	h := NewHost(reg, nil, nil)

	session := network.NewSession()
	session.UserAgent = "session-agent"
	host := strings.TrimPrefix(srv.URL, "http://")
	host = host[:strings.LastIndex(host, ":")]
	session.AddCookies(host, network.ParseCookieHeader("token=abc", host))
	env := newEnv(t, h, network.WithSession(context.Background(), session), nil)

	require.NoError(t, env.VM.Set("BASE", srv.URL))
	run(t, env, `
		const HttpSource = require("eu.kanade.tachiyomi.source.online.HttpSource");
		class S extends HttpSource {
			constructor() { super(); this.name = "MangaDex"; this.lang = "en"; this.baseUrl = BASE; }
		}
		var s = new S();
	`)

	assert.Equal(t, "2499283573021220255", run(t, env, `String(s.id)`).String())
	assert.Equal(t, "session-agent", run(t, env, `s.request(s.GET(BASE + "/ua")).body`).String())
	assert.Equal(t, "own", run(t, env, `s.request(s.GET(BASE + "/ua", {"User-Agent": "own"})).body`).String())
	assert.Equal(t, "token=abc", run(t, env, `s.request(s.GET(BASE + "/cookie")).body`).String())
	assert.Equal(t, "HttpException:404", run(t, env, `
		(function () {
			try { s.request(s.GET(BASE + "/missing")); return "no error"; }
			catch (e) { return e.name + ":" + e.code; }
		})()
	`).String())
	assert.Equal(t, int64(404), run(t, env, `s.fetch(s.GET(BASE + "/missing")).code`).ToInteger())
}

func TestNetworkUnavailable(t *testing.T) {
	env := newEnv(t, NewHost(nil, nil, nil), context.Background(), nil)
	_, err := env.VM.RunString(`require("compat.host.network").client("1")`)
	require.Error(t, err)
	assert.Equal(t, network.DefaultUserAgent, run(t, env, `require("compat.host.network").defaultUserAgent()`).String())
}

func TestModelsAndRequestBuilder(t *testing.T) {
	env := newEnv(t, NewHost(nil, nil, nil), context.Background(), nil)

	got := run(t, env, `
		const m = require("eu.kanade.tachiyomi.source.model");
		const manga = m.SManga.create();
		manga.title = "T";
		const filters = m.FilterList(m.Filter.Header("h"), [m.Filter.Text("q"), m.Filter.CheckBox("c", true)]);
		JSON.stringify({ status: manga.status, n: filters.length, last: filters[2], page: m.MangasPage([manga], 1).hasNextPage });
	`).String()
	assert.JSONEq(t, `{"status":0,"n":3,"last":{"type":"CheckBox","name":"c","state":true},"page":true}`, got)

	got = run(t, env, `
		const Request = require("okhttp3.Request");
		JSON.stringify(new Request.Builder().url("https://x.test/a").header("A", "1").post("b=2").build());
	`).String()
	assert.JSONEq(t, `{"method":"POST","url":"https://x.test/a","headers":{"A":"1"},"body":"b=2"}`, got)
}

func TestJsoup(t *testing.T) {
	env := newEnv(t, NewHost(nil, nil, nil), context.Background(), nil)
	run(t, env, `
		const Jsoup = require("org.jsoup.Jsoup");
		var doc = Jsoup.parse('<html><head><title> Site </title></head><body>' +
			'<div class="item" id="one"><a href="/m/1">First  <b>bold</b></a></div>' +
			'<div class="item"><a href="https://other.test/m/2">Second</a></div>' +
			'<p>own <span>inner</span> tail</p>' +
			'</body></html>', "https://site.test/list");
	`)

	tests := []struct {
		script string
		want   string
	}{
		{`doc.title()`, "Site"},
		{`String(doc.select("div.item").size())`, "2"},
		{`doc.select("div.item a").text()`, "First bold Second"},
		{`doc.selectFirst("div.item a").attr("href")`, "/m/1"},
		{`doc.selectFirst("div.item a").attr("abs:href")`, "https://site.test/m/1"},
		{`doc.select("div.item a").eachAttr("abs:href").join(",")`, "https://site.test/m/1,https://other.test/m/2"},
		{`doc.selectFirst("#one").className()`, "item"},
		{`doc.selectFirst("p").ownText()`, "own tail"},
		{`String(doc.selectFirst("nothing"))`, "null"},
		{`doc.selectXpath("//div[@class='item']/a").toArray().map(function (e) { return e.text(); }).join("|")`, "First bold|Second"},
		{`doc.selectFirst("b").parent().tagName()`, "a"},
		{`doc.location()`, "https://site.test/list"},
	}
	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			assert.Equal(t, tt.want, run(t, env, tt.script).String())
		})
	}

	assert.Equal(t, "hi", run(t, env, `Jsoup.clean("<script>x()</script><b>hi</b>", "none")`).String())
	assert.Equal(t, "<b>hi</b>", run(t, env, `Jsoup.clean("<script>x()</script><b>hi</b>")`).String())
}

func TestBase64(t *testing.T) {
	tests := []struct {
		name  string
		in    []byte
		flags int
		want  string
	}{
		{"no wrap", []byte("hello"), Base64NoWrap, "aGVsbG8="},
		{"no padding", []byte("hello"), Base64NoWrap | Base64NoPadding, "aGVsbG8"},
		{"url safe", []byte{0xfb, 0xff}, Base64NoWrap | Base64URLSafe, "-_8="},
		{"default adds newline", []byte("hello"), Base64Default, "aGVsbG8=\n"},
		{"crlf", []byte("hello"), Base64CRLF, "aGVsbG8=\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := encodeBase64(tt.in, tt.flags)
			assert.Equal(t, tt.want, got)
			back, err := decodeBase64(got, tt.flags)
			require.NoError(t, err)
			assert.Equal(t, tt.in, back)
		})
	}

	long := encodeBase64(make([]byte, 60), Base64Default)
	lines := strings.Split(strings.TrimSuffix(long, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Len(t, lines[0], 76)

	_, err := decodeBase64("!!!", Base64Default)
	require.Error(t, err)

	env := newEnv(t, NewHost(nil, nil, nil), context.Background(), nil)
	assert.Equal(t, "hello", run(t, env, `
		const B64 = require("compat.android.util.Base64");
		B64.decode(B64.encodeToString("hello", B64.NO_WRAP), B64.DEFAULT)
	`).String())
}

func TestUri(t *testing.T) {
	env := newEnv(t, NewHost(nil, nil, nil), context.Background(), nil)
	run(t, env, `
		const Uri = require("compat.android.net.Uri");
		var u = Uri.parse("https://site.test/manga/42/ch?id=7&lang=en#top");
	`)
	assert.Equal(t, "site.test", run(t, env, `u.getHost()`).String())
	assert.Equal(t, "7", run(t, env, `u.getQueryParameter("id")`).String())
	assert.Equal(t, "null", run(t, env, `String(u.getQueryParameter("none"))`).String())
	assert.Equal(t, "ch", run(t, env, `u.getLastPathSegment()`).String())
	assert.Equal(t, "manga,42,ch", run(t, env, `u.getPathSegments().join(",")`).String())
	assert.Equal(t, "https://site.test/search?q=a%20b",
		run(t, env, `Uri.parse("https://site.test").buildUpon().appendPath("search").appendQueryParameter("q", "a b").build().toString()`).String())
	assert.Equal(t, "a%20b%26c", run(t, env, `Uri.encode("a b&c")`).String())
	assert.Equal(t, "a b&c", run(t, env, `Uri.decode("a%20b%26c")`).String())
}

func TestPreferencesPersist(t *testing.T) {
	dir := t.TempDir()
	env := newEnv(t, NewHost(nil, NewPrefStore(dir), nil), context.Background(), nil)
	run(t, env, `
		const prefs = require("compat.host.preferences").open("42");
		prefs.edit().putString("lang", "en").putBoolean("nsfw", true).putInt("size", 3).putStringSet("tags", ["a", "b"]).apply();
	`)

	_, err := os.Stat(filepath.Join(dir, "source_42.yaml"))
	require.NoError(t, err)

	env = newEnv(t, NewHost(nil, NewPrefStore(dir), nil), context.Background(), nil)
	run(t, env, `var prefs = require("compat.host.preferences").open("42");`)
	assert.Equal(t, "en", run(t, env, `prefs.getString("lang", "x")`).String())
	assert.True(t, run(t, env, `prefs.getBoolean("nsfw", false)`).ToBoolean())
	assert.Equal(t, int64(3), run(t, env, `prefs.getInt("size", 0)`).ToInteger())
	assert.Equal(t, "a,b", run(t, env, `prefs.getStringSet("tags", []).join(",")`).String())
	assert.Equal(t, "fallback", run(t, env, `prefs.getString("missing", "fallback")`).String())

	run(t, env, `prefs.edit().remove("lang").commit()`)
	assert.False(t, run(t, env, `prefs.contains("lang")`).ToBoolean())
	run(t, env, `prefs.edit().clear().putString("only", "1").commit()`)
	assert.Equal(t, `{"only":"1"}`, run(t, env, `JSON.stringify(prefs.getAll())`).String())
}

func TestPreferencesRejectUnsafeNames(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "prefs")
	store := NewPrefStore(dir)
	env := newEnv(t, NewHost(nil, store, nil), context.Background(), nil)

	for _, name := range []string{"x/../../escaped", "../escaped", "/tmp/escaped", "a/b"} {
		t.Run(name, func(t *testing.T) {
			_, err := env.VM.RunString(fmt.Sprintf(
				`require("compat.host.preferences").open(%q).edit().putString("k", "v").commit()`, name))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "preferences")

			require.Error(t, store.Commit(name, false, map[string]interface{}{"k": "v"}))
			_, err = store.Snapshot(name)
			require.Error(t, err)
		})
	}

	var written []string
	require.NoError(t, filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			written = append(written, path)
		}
		return err
	}))
	assert.Empty(t, written)
}

func TestPreferencesInMemory(t *testing.T) {
	store := NewPrefStore("")
	require.NoError(t, store.Commit("1", false, map[string]interface{}{"k": "v"}))
	got, err := store.Snapshot("1")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"k": "v"}, got)
}

func TestQuickJs(t *testing.T) {
	env := newEnv(t, NewHost(nil, nil, nil), context.Background(), nil)
	run(t, env, `
		const QuickJs = require("app.cash.quickjs.QuickJs");
		var q = QuickJs.create();
		q.set("x", 2);
	`)
	assert.Equal(t, int64(42), run(t, env, `q.evaluate("x * 21")`).ToInteger())
	assert.Equal(t, "undefined", run(t, env, `typeof x`).String(), "nested engine must not leak into the caller")
	assert.Equal(t, "b", run(t, env, `q.evaluate("({a: 'b'})").a`).String())

	_, err := env.VM.RunString(`q.evaluate("syntax error here (")`)
	require.Error(t, err)

	run(t, env, `q.close()`)
	_, err = env.VM.RunString(`q.evaluate("1")`)
	require.Error(t, err)
}

func TestLogRoutesToLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	env := newEnv(t, NewHost(nil, nil, nil), context.Background(), nil)
	env.Logger = &logging.Logger{Logger: zap.New(core)}

	run(t, env, `
		const Log = require("compat.android.util.Log");
		Log.i("Src", "hello");
		Log.e("Src", "boom", "trace");
	`)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "hello", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "Src", entries[0].ContextMap()["tag"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "trace", entries[1].ContextMap()["throwable"])
}

func TestAssets(t *testing.T) {
	b, err := bundle.Inspect(bundletest.New("a", ".M").
		Class("a.M", `module.exports = 1;`).
		Asset("data/genres.json", []byte(`["x"]`)).
		Build())
	require.NoError(t, err)

	env := newEnv(t, NewHost(nil, nil, nil), context.Background(), b)
	run(t, env, `const assets = require("compat.host.assets");`)
	assert.True(t, run(t, env, `assets.exists("data/genres.json")`).ToBoolean())
	assert.False(t, run(t, env, `assets.exists("nope")`).ToBoolean())
	assert.Equal(t, `["x"]`, run(t, env, `assets.read("data/genres.json")`).String())
	assert.Equal(t, "data/genres.json", run(t, env, `assets.list().join(",")`).String())

	_, err = env.VM.RunString(`assets.read("nope")`)
	require.Error(t, err)
}
