package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/maci0/resembl/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_PartialOverrideKeepsOtherDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lsh_threshold: 0.7\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.7, cfg.LSHThreshold)
	assert.Equal(t, uint32(128), cfg.NumPermutations)
}

func TestLoad_RejectsUnrecognizedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not_a_real_key: 1\n"), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.Default()
	cfg.TopN = 10
	require.NoError(t, config.Save(path, cfg))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfig_SetAndGet(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Set("jaccard_weight", "0.6"))

	v, err := cfg.Get("jaccard_weight")
	require.NoError(t, err)
	assert.Equal(t, "0.6", v)
}

func TestConfig_SetRejectsOutOfRange(t *testing.T) {
	cfg := config.Default()
	err := cfg.Set("lsh_threshold", "1.5")
	assert.Error(t, err)
}

func TestConfig_SetRejectsUnknownFormat(t *testing.T) {
	cfg := config.Default()
	err := cfg.Set("format", "xml")
	assert.Error(t, err)
}

func TestConfig_Unset(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Set("top_n", "20"))
	require.NoError(t, cfg.Unset("top_n"))
	assert.Equal(t, uint32(5), cfg.TopN)
}
