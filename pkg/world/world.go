// Package world ties chunk columns to the chunk I/O layer: a per-world chunk
// manager, terrain generators and block access by world coordinate.
package world

import (
	"github.com/StoreStation/AnvilCraft/pkg/chunk"
)

// BlockPos is a block position in world coordinates.
type BlockPos struct {
	X, Y, Z int32
}

// Chunk returns the column containing the block.
func (p BlockPos) Chunk() chunk.Pos {
	return chunk.PosOf(p.X, p.Z)
}

// World is one named dimension and its loaded chunks.
type World struct {
	Name   string
	Spawn  BlockPos
	Chunks *ChunkManager
}

// New returns a world whose chunks are managed by m.
func New(name string, spawn BlockPos, m *ChunkManager) *World {
	return &World{Name: name, Spawn: spawn, Chunks: m}
}

// GetBlock returns the state at (x, y, z). ok is false when the chunk is not
// loaded.
func (w *World) GetBlock(x, y, z int32) (state uint16, ok bool) {
	ok = w.Chunks.View(chunk.PosOf(x, z), func(c *chunk.Column) {
		state = c.Block(int(x&15), int(y), int(z&15))
	})
	return state, ok
}

// SetBlock stores state at (x, y, z) and marks the chunk dirty. It reports
// false when the chunk is not loaded or y is outside the world.
func (w *World) SetBlock(x, y, z int32, state uint16) bool {
	if y < 0 || y >= chunk.Height {
		return false
	}
	lx, ly, lz := int(x&15), int(y), int(z&15)
	return w.Chunks.Update(chunk.PosOf(x, z), func(c *chunk.Column) bool {
		if c.Block(lx, ly, lz) == state {
			return false
		}
		return c.SetBlock(lx, ly, lz, state)
	})
}
