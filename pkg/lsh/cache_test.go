package lsh_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/maci0/resembl/pkg/lsh"
	"github.com/maci0/resembl/pkg/minhash"
	"github.com/maci0/resembl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFixtureIndex(t *testing.T) (*lsh.Index, types.IndexParams) {
	params := types.IndexParams{NumPermutations: 16, NgramSize: 3, Generalize: true}
	params.Bands, params.RowsPerBand = lsh.Bands(params.NumPermutations, 0.5)
	idx := lsh.New(params, 0.5)

	for i := byte(0); i < 5; i++ {
		sig := make(minhash.Signature, 16)
		for j := range sig {
			sig[j] = uint64(i)*100 + uint64(j)
		}
		idx.Insert(checksumOf(i), sig)
	}
	return idx, params
}

func TestCache_RoundTrip(t *testing.T) {
	idx, params := buildFixtureIndex(t)
	path := filepath.Join(t.TempDir(), "lsh.cache")

	require.NoError(t, lsh.Save(path, idx, lsh.Fingerprint(42)))

	loaded, err := lsh.Load(path, params, lsh.Fingerprint(42))
	require.NoError(t, err)

	for _, c := range idx.Checksums() {
		want, ok := idx.Signature(c)
		require.True(t, ok)
		got, ok := loaded.Signature(c)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestCache_MissingFileReportsCacheMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent.cache")
	_, err := lsh.Load(path, types.IndexParams{NumPermutations: 16, NgramSize: 3}, lsh.Fingerprint(1))
	assert.ErrorIs(t, err, lsh.ErrCacheMissing)
}

func TestCache_FingerprintMismatchTriggersRebuild(t *testing.T) {
	idx, params := buildFixtureIndex(t)
	path := filepath.Join(t.TempDir(), "lsh.cache")
	require.NoError(t, lsh.Save(path, idx, lsh.Fingerprint(1)))

	_, err := lsh.Load(path, params, lsh.Fingerprint(2))
	assert.ErrorIs(t, err, lsh.ErrCacheMissing)
}

func TestCache_ParamMismatchTriggersRebuild(t *testing.T) {
	idx, params := buildFixtureIndex(t)
	path := filepath.Join(t.TempDir(), "lsh.cache")
	require.NoError(t, lsh.Save(path, idx, lsh.Fingerprint(7)))

	other := params
	other.NumPermutations = 32
	_, err := lsh.Load(path, other, lsh.Fingerprint(7))
	assert.ErrorIs(t, err, lsh.ErrCacheMissing)
}

func TestCache_CorruptionIsTreatedAsMissing(t *testing.T) {
	idx, params := buildFixtureIndex(t)
	path := filepath.Join(t.TempDir(), "lsh.cache")
	require.NoError(t, lsh.Save(path, idx, lsh.Fingerprint(9)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = lsh.Load(path, params, lsh.Fingerprint(9))
	assert.ErrorIs(t, err, lsh.ErrCacheMissing)
}
