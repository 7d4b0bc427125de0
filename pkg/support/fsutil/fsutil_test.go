package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandHome("~/modules/simple_mul.hrtm")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "modules", "simple_mul.hrtm"), got)

	got, err = ExpandHome("~")
	require.NoError(t, err)
	assert.Equal(t, home, got)

	got, err = ExpandHome("/tmp/module.hrtm")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/module.hrtm", got)

	_, err = ExpandHome("~no-such-user-hopefully/x")
	require.Error(t, err)
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	exists, err := FileExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = FileExists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)
}
