package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docchunk/internal/config"
	"github.com/dgallion1/docchunk/internal/segment"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.APIKey = "k"
	cfg.MinChunk = 0
	return cfg
}

func unitEmbed(_ context.Context, text string) ([]float32, error) {
	if len(text)%2 == 0 {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuild_ChunkOnly(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreEnabled = false

	a, err := Build(cfg, nil, quietLog())
	require.NoError(t, err)
	assert.Nil(t, a.Embed)
	assert.Nil(t, a.Refiner)
	assert.Nil(t, a.Store)
	assert.Nil(t, a.Indexer())

	res, err := a.Chunker.Chunk(context.Background(), "# A\nx", segment.Metadata{})
	require.NoError(t, err)
	assert.Len(t, res.Segments, 1)
}

func TestBuild_StoreAndRefine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Refine = true

	a, err := Build(cfg, unitEmbed, quietLog())
	require.NoError(t, err)
	require.NotNil(t, a.Store)
	require.NotNil(t, a.Refiner)
	assert.NotNil(t, a.Indexer())
	assert.True(t, a.Chunker.Config().Refine)

	n, err := a.Store.Index(context.Background(), "d", []segment.Segment{segment.New("hello", segment.Metadata{})})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, a.Stats.Snapshot().Count)
}

func TestBuild_InvalidChunking(t *testing.T) {
	cfg := testConfig(t)
	cfg.ChunkSize = 0
	_, err := Build(cfg, nil, quietLog())
	assert.Error(t, err)
}
