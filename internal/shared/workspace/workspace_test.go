package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	root, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	a, err := root.Acquire("conv")
	require.NoError(t, err)
	b, err := root.Acquire("conv")
	require.NoError(t, err)

	assert.NotEqual(t, a.Path, b.Path)
	assert.True(t, strings.HasPrefix(filepath.Base(a.Path), "conv-"))
	assert.Equal(t, 2, root.Active())

	require.NoError(t, os.WriteFile(a.Join("classes.zip"), []byte("x"), 0o644))
	require.NoError(t, a.Release())
	require.NoError(t, a.Release())

	_, err = os.Stat(a.Path)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 1, root.Active())
}

func TestSweep(t *testing.T) {
	root, err := New(t.TempDir(), nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		d, err := root.Acquire("conv")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(d.Join("f.txt"), []byte("hello"), 0o644))
	}

	files, size, err := root.Usage()
	require.NoError(t, err)
	assert.Equal(t, 3, files)
	assert.Equal(t, int64(15), size)

	swept, err := root.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 3, swept)

	entries, err := os.ReadDir(root.Path())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
