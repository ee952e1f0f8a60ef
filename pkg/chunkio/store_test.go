package chunkio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/StoreStation/AnvilCraft/pkg/chunk"
	"github.com/StoreStation/AnvilCraft/pkg/region"
)

func newRegionStore(t *testing.T) *RegionStore {
	t.Helper()
	cache, err := region.NewCache(t.TempDir(), 2, region.DefaultOptions(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return NewRegionStore(cache)
}

func TestRegionStoreRawIsByteIdentical(t *testing.T) {
	s := newRegionStore(t)
	col := chunk.NewColumn(chunk.Pos{X: -40, Z: 77})
	col.SetBlock(8, 70, 8, 1<<4)
	data, err := col.MarshalNBT()
	require.NoError(t, err)

	require.NoError(t, s.SaveRaw(col.Pos, data))
	got, err := s.LoadRaw(col.Pos)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRegionStoreColumns(t *testing.T) {
	s := newRegionStore(t)
	ctx := context.Background()

	// Spread over several regions to exercise the cache.
	positions := []chunk.Pos{{X: 0, Z: 0}, {X: 31, Z: 31}, {X: 32, Z: 0}, {X: -1, Z: -1}, {X: 100, Z: -100}}
	for i, pos := range positions {
		col := chunk.NewColumn(pos)
		col.SetBlock(0, i, 0, uint16(i+1)<<4)
		require.NoError(t, s.SaveChunk(ctx, col))
	}
	for i, pos := range positions {
		col, err := s.LoadChunk(ctx, pos)
		require.NoError(t, err)
		assert.Equal(t, pos, col.Pos)
		assert.Equal(t, uint16(i+1)<<4, col.Block(0, i, 0))
	}

	_, err := s.LoadChunk(ctx, chunk.Pos{X: 5, Z: 5})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteChunk(ctx, positions[0]))
	_, err = s.LoadChunk(ctx, positions[0])
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegionStoreRejectsMisplacedChunk(t *testing.T) {
	s := newRegionStore(t)
	data, err := chunk.NewColumn(chunk.Pos{X: 9, Z: 9}).MarshalNBT()
	require.NoError(t, err)
	require.NoError(t, s.SaveRaw(chunk.Pos{X: 1, Z: 1}, data))

	_, err = s.LoadChunk(context.Background(), chunk.Pos{X: 1, Z: 1})
	assert.ErrorIs(t, err, chunk.ErrBadNBT)
}
