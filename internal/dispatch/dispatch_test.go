package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/exthost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/shared/exterr"
	"github.com/GriffinCanCode/AgentOS/exthost/internal/source"
)

type fakeSource struct {
	unsupported map[source.Operation]bool
	calls       []string
	err         error

	lastPage    int
	lastQuery   string
	lastFilters source.FilterList
	lastManga   source.Manga
}

func (f *fakeSource) Info() source.Info {
	return source.Info{ID: 7, Name: "Fake", Lang: "en", BaseURL: "https://fake.test", VersionID: 1}
}

func (f *fakeSource) Supports(op source.Operation) bool {
	return !f.unsupported[op]
}

func (f *fakeSource) record(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeSource) PopularManga(_ context.Context, page int) (*source.MangasPage, error) {
	f.lastPage = page
	if err := f.record("popular"); err != nil {
		return nil, err
	}
	return &source.MangasPage{Mangas: []source.Manga{{URL: "/m/1", Title: "One"}}, HasNextPage: true}, nil
}

func (f *fakeSource) LatestUpdates(_ context.Context, page int) (*source.MangasPage, error) {
	f.lastPage = page
	return &source.MangasPage{Mangas: []source.Manga{}}, f.record("latest")
}

func (f *fakeSource) SearchManga(_ context.Context, page int, query string, filters source.FilterList) (*source.MangasPage, error) {
	f.lastPage, f.lastQuery, f.lastFilters = page, query, filters
	return &source.MangasPage{Mangas: []source.Manga{}}, f.record("search")
}

func (f *fakeSource) MangaDetails(_ context.Context, manga source.Manga) (*source.Manga, error) {
	f.lastManga = manga
	manga.Description = "described"
	return &manga, f.record("details")
}

func (f *fakeSource) ChapterList(context.Context, source.Manga) ([]source.Chapter, error) {
	return nil, f.record("chapters")
}

func (f *fakeSource) PageList(context.Context, source.Chapter) ([]source.Page, error) {
	return []source.Page{{Index: 0, URL: "/p0"}}, f.record("pages")
}

func (f *fakeSource) ImageURL(_ context.Context, page source.Page) (string, error) {
	return page.URL + ".jpg", f.record("image")
}

func (f *fakeSource) FilterList(context.Context) (source.FilterList, error) {
	return nil, f.record("filters")
}

func (f *fakeSource) Login(_ context.Context, username, password string) (bool, error) {
	return username == "u" && password == "p", f.record("login")
}

func args(values ...string) Args {
	out := make(Args, len(values))
	for i, v := range values {
		out[i] = json.RawMessage(v)
	}
	return out
}

func TestInvokeOperations(t *testing.T) {
	tests := []struct {
		method string
		args   Args
		want   string
	}{
		{"getPopularManga", args(`2`), `{"mangas":[{"url":"/m/1","title":"One","status":0,"initialized":false}],"hasNextPage":true}`},
		{"getLatestUpdates", args(`1`), `{"mangas":[],"hasNextPage":false}`},
		{"getSearchManga", args(`1`, `"q"`), `{"mangas":[],"hasNextPage":false}`},
		{"getMangaDetails", args(`{"url":"/m/1","title":"One"}`), `{"url":"/m/1","title":"One","description":"described","status":0,"initialized":false}`},
		{"getChapterList", args(`{"url":"/m/1"}`), `[]`},
		{"getPageList", args(`{"url":"/m/1/1"}`), `[{"index":0,"url":"/p0"}]`},
		{"getImageUrl", args(`{"index":0,"url":"/p0"}`), `"/p0.jpg"`},
		{"getFilterList", nil, `[]`},
		{"login", args(`"u"`, `"p"`), `true`},
		{"getSourceInfo", nil, `{"id":7,"name":"Fake","lang":"en","baseUrl":"https://fake.test","supportsLatest":false,"versionId":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			out, err := New(nil, nil).Invoke(context.Background(), &fakeSource{}, tt.method, tt.args)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(out))
		})
	}
}

func TestInvokeDecodesArguments(t *testing.T) {
	src := &fakeSource{}
	d := New(nil, nil)

	_, err := d.Invoke(context.Background(), src, "getSearchManga",
		args(`3`, `"one piece"`, `[{"type":"CheckBox","name":"Completed","state":true}]`))
	require.NoError(t, err)
	assert.Equal(t, 3, src.lastPage)
	assert.Equal(t, "one piece", src.lastQuery)
	require.Len(t, src.lastFilters, 1)
	assert.Equal(t, "Completed", src.lastFilters[0].Name)
	assert.Equal(t, true, src.lastFilters[0].State)

	_, err = d.Invoke(context.Background(), src, "getMangaDetails", args(`{"url":"/x","title":"X","status":2}`))
	require.NoError(t, err)
	assert.Equal(t, source.Manga{URL: "/x", Title: "X", Status: source.StatusCompleted}, src.lastManga)
}

func TestUnknownMethodNeverReachesSource(t *testing.T) {
	src := &fakeSource{}
	_, err := New(nil, nil).Invoke(context.Background(), src, "getEverything", nil)
	require.Error(t, err)
	assert.Equal(t, exterr.KindMethodResolution, exterr.KindOf(err))
	assert.Equal(t, 500, exterr.Classify(err).Code())
	assert.Empty(t, src.calls)
}

func TestUnsupportedMethod(t *testing.T) {
	src := &fakeSource{unsupported: map[source.Operation]bool{source.OpLogin: true}}
	_, err := New(nil, nil).Invoke(context.Background(), src, "login", args(`"u"`, `"p"`))
	assert.Equal(t, exterr.KindMethodResolution, exterr.KindOf(err))
	assert.Empty(t, src.calls)

	_, err = Resolve(src, "getPopularManga")
	assert.NoError(t, err)
}

func TestArgumentMismatch(t *testing.T) {
	tests := []struct {
		name   string
		method string
		args   Args
	}{
		{"too few", "getPopularManga", nil},
		{"too many", "getPopularManga", args(`1`, `2`)},
		{"wrong type", "getPopularManga", args(`"first"`)},
		{"search arity", "getSearchManga", args(`1`)},
		{"manga not object", "getMangaDetails", args(`[1,2]`)},
		{"args to nullary", "getFilterList", args(`1`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{}
			_, err := New(nil, nil).Invoke(context.Background(), src, tt.method, tt.args)
			require.Error(t, err)
			assert.Equal(t, exterr.KindMarshal, exterr.KindOf(err))
			assert.Empty(t, src.calls)
		})
	}
}

func TestSourceErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind exterr.Kind
		code int
	}{
		{"upstream", exterr.Upstream(404), exterr.KindUpstreamHTTP, 404},
		{"foreign", errors.New("boom"), exterr.KindUnknown, 500},
		{"unsupported", source.ErrUnsupported, exterr.KindMethodResolution, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(nil, nil).Invoke(context.Background(), &fakeSource{err: tt.err}, "getPopularManga", args(`1`))
			require.Error(t, err)
			classified := exterr.Classify(err)
			assert.Equal(t, tt.kind, classified.Kind)
			assert.Equal(t, tt.code, classified.Code())
		})
	}
}

func TestInvocationMetrics(t *testing.T) {
	m := monitoring.NewMetrics()
	d := New(nil, m)

	_, err := d.Invoke(context.Background(), &fakeSource{}, "getPopularManga", args(`1`))
	require.NoError(t, err)
	_, err = d.Invoke(context.Background(), &fakeSource{}, "nope", nil)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invocations.WithLabelValues("getPopularManga", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Invocations.WithLabelValues("unknown", string(exterr.KindMethodResolution))))
}
