package world

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StoreStation/AnvilCraft/pkg/chunk"
)

func TestWorldBlockAccess(t *testing.T) {
	m := newTestManager(t, regionStore(t, t.TempDir()))
	w := New("overworld", BlockPos{X: 8, Y: 5, Z: 8}, m)
	ctx := context.Background()

	_, ok := w.GetBlock(0, 0, 0)
	assert.False(t, ok, "unloaded chunk")
	assert.False(t, w.SetBlock(0, 0, 0, 1<<4))

	_, err := m.Load(ctx, chunk.Pos{X: -1, Z: 0}, 0).Await(ctx)
	require.NoError(t, err)

	got, ok := w.GetBlock(-16, 0, 15)
	require.True(t, ok)
	assert.Equal(t, uint16(7<<4), got)

	assert.True(t, w.SetBlock(-1, 4, 0, 0))
	got, _ = w.GetBlock(-1, 4, 0)
	assert.Equal(t, uint16(0), got)

	assert.False(t, w.SetBlock(-1, 256, 0, 1<<4))
	assert.False(t, w.SetBlock(-1, -1, 0, 1<<4))

	assert.Equal(t, chunk.Pos{X: -1, Z: 0}, BlockPos{X: -1, Y: 4, Z: 0}.Chunk())
}
