package id

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		id   ID
		kind Kind
	}{
		{NewInvocation(), KindInvocation},
		{NewTrace(), KindTrace},
		{NewSpan(), KindSpan},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.id.Kind())
			assert.Len(t, tt.id.String(), len(tt.kind)+1+26)

			parsed, err := Parse(tt.kind, tt.id.String())
			require.NoError(t, err)
			assert.Equal(t, tt.id, parsed)
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, s := range []string{"", "inv", "inv_", "_01HZX3Q9M2W4N8K7T5R6P0S1AB", "inv_not-a-ulid"} {
		_, err := Parse(KindInvocation, s)
		assert.ErrorIs(t, err, ErrMalformed, s)
		assert.Empty(t, ID(s).Kind())
	}
	_, err := Parse(KindSpan, NewTrace().String())
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestTime(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	src := NewSource(nil)
	src.now = func() time.Time { return at }

	got, err := src.New(KindInvocation).Time()
	require.NoError(t, err)
	assert.True(t, got.Equal(at))

	_, err = ID("bogus").Time()
	assert.Error(t, err)
}

func TestMonotonicWithinMillisecond(t *testing.T) {
	src := NewSource(nil)
	at := time.UnixMilli(1_700_000_000_000)
	src.now = func() time.Time { return at }

	ids := make([]string, 200)
	for i := range ids {
		ids[i] = src.New(KindSpan).String()
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestConcurrentMinting(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = make(map[ID]struct{})
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v := NewInvocation()
				mu.Lock()
				seen[v] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
}
