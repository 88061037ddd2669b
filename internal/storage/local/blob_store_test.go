// Package local_test tests the local filesystem blob store.
package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/searchcrawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "out", "runs")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "results.json")
		require.NoError(t, os.WriteFile(file, []byte("[]"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)

	t.Run("ValidPut", func(t *testing.T) {
		data := []byte(`[{"url":"https://github.com/user1/repo1","extra":null}]`)
		uri, err := store.PutObject(context.Background(), "results.json", "application/json", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, "results.json"), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, "results.json"))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("Overwrite", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "results.json", "", bytes.NewReader([]byte("[]")))
		require.NoError(t, err)
		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, "results.json"))
		require.NoError(t, err)
		assert.Equal(t, "[]", string(readData))

		entries, err := os.ReadDir(tempDir)
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".tmp-")
		}
	})

	t.Run("NestedPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "a/b/run.json", "", bytes.NewReader([]byte("[]")))
		require.NoError(t, err)
		_, err = os.Stat(filepath.Join(tempDir, "a", "b", "run.json"))
		require.NoError(t, err)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "", bytes.NewReader(nil))
		assert.Error(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.json", "", bytes.NewReader(nil))
		assert.ErrorContains(t, err, "escapes base directory")
	})
}
