package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/presence/internal/biometric"
)

func indexedProfiles() []StoredProfile {
	return []StoredProfile{
		{IdentityID: "a", Embedding: []float32{1, 0, 0}, Active: true},
		{IdentityID: "b", Embedding: []float32{0.9, 0.1, 0}, Active: true},
		{IdentityID: "c", Embedding: []float32{0, 1, 0}, Active: true},
		{IdentityID: "inactive", Embedding: []float32{1, 0, 0}, Active: false},
		{IdentityID: "no-embedding", LegacyHash: "h", Active: true},
		{IdentityID: "wrong-dim", Embedding: []float32{1, 0}, Active: true},
	}
}

func TestProfileIndex_Build(t *testing.T) {
	idx := NewProfileIndex()
	assert.True(t, idx.IsEmpty())

	skipped := idx.Build(indexedProfiles())

	assert.Equal(t, 1, skipped)
	assert.Equal(t, 3, idx.Count())
	assert.Equal(t, 3, idx.Dim())
	assert.False(t, idx.IsEmpty())
}

func TestProfileIndex_Search(t *testing.T) {
	idx := NewProfileIndex()
	idx.Build(indexedProfiles())

	got, err := idx.Search([]float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].IdentityID)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-6)
	assert.Equal(t, "b", got[1].IdentityID)

	_, err = idx.Search([]float32{1, 0}, 2)
	require.ErrorIs(t, err, biometric.ErrDimensionMismatch)
}

func TestProfileIndex_AddDelete(t *testing.T) {
	idx := NewProfileIndex()

	_, err := idx.Search([]float32{1, 0}, 1)
	require.Error(t, err)

	require.NoError(t, idx.Add("x", []float32{1, 0}))
	require.NoError(t, idx.Add("y", []float32{0, 1}))
	require.ErrorIs(t, idx.Add("z", []float32{1, 0, 0}), biometric.ErrDimensionMismatch)
	require.ErrorIs(t, idx.Add("z", nil), biometric.ErrEmptyEmbedding)

	idx.Delete("x")
	got, err := idx.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "y", got[0].IdentityID)
}

func TestProfileIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.hnsw")

	idx := NewProfileIndex()
	idx.Build(indexedProfiles())
	require.NoError(t, idx.SaveWithMetadata(path, ProfileIndexMetadata{ProfileCount: 3}))

	meta, err := LoadProfileIndexMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta.ProfileCount)
	assert.Equal(t, 3, meta.Dim)

	loaded := NewProfileIndex()
	require.NoError(t, loaded.LoadWithMetadata(path))
	assert.Equal(t, 3, loaded.Count())

	got, err := loaded.Search([]float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].IdentityID)
}

func TestProfileIndex_SaveEmptyRemovesFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.hnsw")

	idx := NewProfileIndex()
	require.NoError(t, idx.SaveWithMetadata(path, ProfileIndexMetadata{}))

	_, err := LoadProfileIndexMetadata(path)
	require.Error(t, err)
}
