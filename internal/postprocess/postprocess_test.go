package postprocess

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSwap_RenamesTempOverSource(t *testing.T) {
	dir := t.TempDir()
	temp := filepath.Join(dir, "123.mkv")
	source := filepath.Join(dir, "movie.mkv")

	require.NoError(t, os.WriteFile(temp, []byte("encoded"), 0o644))
	require.NoError(t, os.WriteFile(source, []byte("original"), 0o644))

	require.NoError(t, Swap(silentLogger(), temp, source))

	data, err := os.ReadFile(source)
	require.NoError(t, err)
	assert.Equal(t, "encoded", string(data))

	_, err = os.Stat(temp)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupTemp_RemovesFile(t *testing.T) {
	dir := t.TempDir()
	temp := filepath.Join(dir, "leftover.mkv")
	require.NoError(t, os.WriteFile(temp, []byte("x"), 0o644))

	CleanupTemp(silentLogger(), temp)

	_, err := os.Stat(temp)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupTemp_MissingFileIsNotAnError(t *testing.T) {
	assert.NotPanics(t, func() {
		CleanupTemp(silentLogger(), filepath.Join(t.TempDir(), "missing.mkv"))
	})
}

func TestOutputPath_PreservesMP4Extension(t *testing.T) {
	assert.Equal(t, "/tmp/42.mp4", OutputPath("/tmp", 42, "/media/movie.mp4"))
}

func TestOutputPath_DefaultsToMKV(t *testing.T) {
	assert.Equal(t, "/tmp/42.mkv", OutputPath("/tmp", 42, "/media/movie.avi"))
}
