package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/phillipinseoul/Cluster-MAAC/engine"
	"github.com/phillipinseoul/Cluster-MAAC/engine/critic"
)

func testConfig(normIn bool) critic.Config {
	return critic.Config{
		SASizes:     []engine.SASize{{State: 5, Action: 2}, {State: 5, Action: 2}, {State: 4, Action: 3}},
		HiddenDim:   8,
		AttendHeads: 2,
		NormIn:      normIn,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, normIn := range []bool{true, false} {
		cfg := testConfig(normIn)
		p, err := critic.NewParams(cfg, 3)
		require.NoError(t, err)
		p.StateEncoders[1].FC.W.Set(0, 0, 42)

		path := filepath.Join(t.TempDir(), "ckpt", "critic.ckpt")
		saved, err := Save(path, cfg, p)
		require.NoError(t, err)
		assert.Equal(t, Version, saved.Version)

		got, h, err := Load(path, cfg)
		require.NoError(t, err)
		assert.Equal(t, saved.ID, h.ID)
		assert.Equal(t, cfg.SASizes, h.SASizes)

		assert.Equal(t, 42.0, got.StateEncoders[1].FC.W.At(0, 0))
		for i := range p.CriticEncoders {
			assert.True(t, mat.Equal(p.CriticEncoders[i].FC.W, got.CriticEncoders[i].FC.W))
			assert.Equal(t, p.CriticEncoders[i].FC.B, got.CriticEncoders[i].FC.B)
			assert.True(t, mat.Equal(p.Critics[i].FC2.W, got.Critics[i].FC2.W))
			if normIn {
				require.NotNil(t, got.CriticEncoders[i].Norm)
				assert.Equal(t, *p.CriticEncoders[i].Norm, *got.CriticEncoders[i].Norm)
			} else {
				assert.Nil(t, got.CriticEncoders[i].Norm)
			}
		}
		for i := range p.Heads {
			assert.True(t, mat.Equal(p.Heads[i].Selector.W, got.Heads[i].Selector.W))
			assert.Empty(t, got.Heads[i].Key.B, "key extractor is bias-free")
			assert.True(t, mat.Equal(p.ClusterHeads[i].Key.W, got.ClusterHeads[i].Key.W))
		}

		hdr, err := ReadHeader(path)
		require.NoError(t, err)
		assert.Equal(t, saved.ID, hdr.ID)
	}
}

func TestLoadShapeMismatch(t *testing.T) {
	cfg := testConfig(true)
	p, err := critic.NewParams(cfg, 1)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "critic.ckpt")
	_, err = Save(path, cfg, p)
	require.NoError(t, err)

	other := testConfig(true)
	other.HiddenDim = 4
	_, _, err = Load(path, other)
	assert.ErrorIs(t, err, engine.ErrConfig)

	other = testConfig(false)
	_, _, err = Load(path, other)
	assert.ErrorIs(t, err, engine.ErrConfig)

	other = testConfig(true)
	other.SASizes = other.SASizes[:2]
	_, _, err = Load(path, other)
	assert.ErrorIs(t, err, engine.ErrConfig)
}

func TestSaveRejectsMismatchedParams(t *testing.T) {
	cfg := testConfig(true)
	p, err := critic.NewParams(cfg, 1)
	require.NoError(t, err)
	p.Heads = p.Heads[:1]

	path := filepath.Join(t.TempDir(), "critic.ckpt")
	_, err = Save(path, cfg, p)
	assert.ErrorIs(t, err, engine.ErrConfig)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.ckpt")
	require.NoError(t, os.WriteFile(path, []byte("not a checkpoint"), 0o644))

	_, _, err := Load(path, testConfig(true))
	assert.Error(t, err)

	_, _, err = Load(filepath.Join(dir, "missing.ckpt"), testConfig(true))
	assert.Error(t, err)
}
