package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepUploads(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.pdf")
	nested := filepath.Join(dir, "nested", "older.png")
	fresh := filepath.Join(dir, "fresh.txt")

	require.NoError(t, os.MkdirAll(filepath.Dir(nested), 0755))
	for _, path := range []string{old, nested, fresh} {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	}
	stale := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, stale, stale))
	require.NoError(t, os.Chtimes(nested, stale, stale))

	removed, err := SweepUploads(dir, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.NoFileExists(t, old)
	assert.NoFileExists(t, nested)
	assert.FileExists(t, fresh)
	assert.DirExists(t, filepath.Dir(nested))
}

func TestSweepUploadsMissingDir(t *testing.T) {
	removed, err := SweepUploads(filepath.Join(t.TempDir(), "never-created"), time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)
}
