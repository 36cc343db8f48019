package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerr "localrag/internal/errors"
)

func seedCollection(t *testing.T, dataDir, name string, files map[string][]float32) {
	t.Helper()
	dir := filepath.Join(dataDir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	s := New(dir, name)
	for fileName, vec := range files {
		require.NoError(t, s.Add(fileName+"_0_h", vec, testMetadata(fileName, 0, "chunk for "+fileName)))
	}
	require.NoError(t, s.Save())
}

func TestValidateCollectionName(t *testing.T) {
	assert.NoError(t, ValidateCollectionName("my-docs_2"))
	for _, bad := range []string{"", "has space", "dot.dot", "../escape", "emoji🙂"} {
		err := ValidateCollectionName(bad)
		require.Error(t, err, bad)
		assert.Equal(t, ragerr.ErrCodeInvalidCollection, ragerr.GetCode(err))
	}
}

func TestManagerLoadAllDiscoversCollections(t *testing.T) {
	dataDir := t.TempDir()
	seedCollection(t, dataDir, "docs", map[string][]float32{"a.md": {1, 0}})
	seedCollection(t, dataDir, "notes", map[string][]float32{"n.md": {0, 1}})
	// A stray directory without a vectors file is ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "empty"), 0o755))

	m := NewManager(dataDir, "nomic-embed-text")
	require.NoError(t, m.LoadAll())

	assert.True(t, m.Has("docs"))
	assert.True(t, m.Has("NOTES"), "collection lookup is case-insensitive")
	assert.False(t, m.Has("empty"))

	infos := m.Infos()
	require.Len(t, infos, 2)
	assert.Equal(t, "docs", infos[0].Collection)
	assert.Equal(t, 1, infos[0].VectorCount)
	assert.Equal(t, HealthOK, infos[0].Health)
	assert.Positive(t, infos[0].TotalSizeBytes)
}

func TestManagerGetUnknownCollectionNotReady(t *testing.T) {
	m := NewManager(t.TempDir(), "")
	_, err := m.Get("nothing")
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeNotReady, ragerr.GetCode(err))
}

func TestManagerCorruptCollection(t *testing.T) {
	dataDir := t.TempDir()
	dir := filepath.Join(dataDir, "docs")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs.vectors.bin"), []byte{9, 9}, 0o644))

	m := NewManager(dataDir, "")
	require.NoError(t, m.LoadAll(), "one corrupt collection must not fail startup")

	_, err := m.Get("docs")
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeStoreCorrupt, ragerr.GetCode(err))

	infos := m.Infos()
	require.Len(t, infos, 1)
	assert.Equal(t, HealthCorrupt, infos[0].Health)
}

func TestManagerReloadSwapsStore(t *testing.T) {
	dataDir := t.TempDir()
	seedCollection(t, dataDir, "docs", map[string][]float32{"a.md": {1, 0}})

	m := NewManager(dataDir, "")
	require.NoError(t, m.LoadAll())

	s, err := m.Get("docs")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Count())

	// Simulate an ingestion writing more data, then hot-reload.
	disk := New(filepath.Join(dataDir, "docs"), "docs")
	require.NoError(t, disk.Load(""))
	require.NoError(t, disk.Add("b.md_0_h", []float32{0, 1}, testMetadata("b.md", 0, "more")))
	require.NoError(t, disk.Save())

	require.NoError(t, m.Reload("docs"))
	s, err = m.Get("docs")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Count())
}

func TestManagerReloadModelMismatch(t *testing.T) {
	dataDir := t.TempDir()
	seedCollection(t, dataDir, "docs", map[string][]float32{"a.md": {1, 0}})

	m := NewManager(dataDir, "some-other-model")
	err := m.Reload("docs")
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeModelMismatch, ragerr.GetCode(err))

	// The collection is registered but unserveable, and queries against it
	// fail fast with the original mismatch.
	_, err = m.Get("docs")
	require.Error(t, err)
	assert.Equal(t, ragerr.ErrCodeModelMismatch, ragerr.GetCode(err))
}
