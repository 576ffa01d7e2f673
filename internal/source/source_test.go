package source

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	sig, ok := Lookup("getPopularManga")
	require.True(t, ok)
	assert.True(t, sig.Required)

	sig, ok = Lookup("login")
	require.True(t, ok)
	assert.False(t, sig.Required)

	_, ok = Lookup("deleteEverything")
	assert.False(t, ok)
	_, ok = Lookup("GetPopularManga")
	assert.False(t, ok)
}

func TestSurfaceHasNoDuplicates(t *testing.T) {
	seen := map[Operation]bool{}
	for _, s := range Surface {
		assert.False(t, seen[s.Op], "duplicate %s", s.Op)
		seen[s.Op] = true
	}
}

func TestWireNames(t *testing.T) {
	data, err := sonic.Marshal(MangasPage{
		Mangas: []Manga{{
			URL:          "/m/1",
			Title:        "One",
			ThumbnailURL: "https://img/1.jpg",
			Initialized:  true,
		}},
		HasNextPage: true,
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"mangas": [{"url": "/m/1", "title": "One", "status": 0, "thumbnail_url": "https://img/1.jpg", "initialized": true}],
		"hasNextPage": true
	}`, string(data))
}
