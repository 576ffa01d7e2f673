package exterr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		want int
	}{
		{400, http.StatusBadRequest},
		{401, http.StatusUnauthorized},
		{403, http.StatusForbidden},
		{404, http.StatusNotFound},
		{429, http.StatusInternalServerError},
		{500, http.StatusInternalServerError},
		{502, http.StatusInternalServerError},
		{418, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.code))
		})
	}
}

func TestCode(t *testing.T) {
	assert.Equal(t, 404, Upstream(404).Code())
	assert.Equal(t, 429, Upstream(429).Code())
	assert.Equal(t, GenericCode, MethodResolution("nope").Code())
	assert.Equal(t, GenericCode, Unknownf("boom").Code())
}

func TestClassify(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", Upstream(403))
	e := Classify(wrapped)
	require.NotNil(t, e)
	assert.Equal(t, KindUpstreamHTTP, e.Kind)
	assert.Equal(t, 403, e.Status)

	foreign := Classify(errors.New("disk on fire"))
	assert.Equal(t, KindUnknown, foreign.Kind)
	assert.Equal(t, "disk on fire", foreign.Error())

	assert.Nil(t, Classify(nil))
}

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("load: %w", ClassLoad(errors.New("missing"), "entry class %s", "a.B"))
	assert.True(t, errors.Is(err, ErrClassLoad))
	assert.False(t, errors.Is(err, ErrMarshal))
	assert.Equal(t, "entry class a.B: missing", Classify(err).Error())
}
