// Package chunk holds chunk columns: sixteen 16×16×16 sections of block
// states plus a biome map, in memory, in Anvil NBT and in the 1.8 network form.
package chunk

import (
	"fmt"

	"github.com/StoreStation/AnvilCraft/pkg/region"
)

const (
	SectionVolume     = 16 * 16 * 16
	Height            = 256
	SectionsPerColumn = Height / 16
	BiomeArea         = 16 * 16
	nibbleLen         = SectionVolume / 2
)

// Pos is a chunk column coordinate.
type Pos struct {
	X, Z int32
}

// PosOf returns the column containing block (x, z).
func PosOf(x, z int32) Pos {
	return Pos{X: x >> 4, Z: z >> 4}
}

func (p Pos) String() string {
	return fmt.Sprintf("[%d, %d]", p.X, p.Z)
}

// Region returns the region file holding p.
func (p Pos) Region() region.Pos {
	return region.Of(p.X, p.Z)
}

// DistanceSq is the squared chunk distance between p and o.
func (p Pos) DistanceSq(o Pos) int64 {
	dx, dz := int64(p.X-o.X), int64(p.Z-o.Z)
	return dx*dx + dz*dz
}

// Section is one 16-block-tall slice of a column. Blocks are indexed
// y<<8 | z<<4 | x and hold blockID<<4 | metadata.
type Section struct {
	Blocks     [SectionVolume]uint16
	BlockLight [nibbleLen]byte
	SkyLight   [nibbleLen]byte
}

// NewSection returns an all-air section at full light.
func NewSection() *Section {
	s := &Section{}
	for i := range s.BlockLight {
		s.BlockLight[i] = 0xFF
		s.SkyLight[i] = 0xFF
	}
	return s
}

// Empty reports whether every block is air.
func (s *Section) Empty() bool {
	for _, b := range s.Blocks {
		if b != 0 {
			return false
		}
	}
	return true
}

func blockIndex(x, y, z int) int {
	return (y&15)<<8 | z<<4 | x
}

// Column is a full-height chunk column.
type Column struct {
	Pos              Pos
	Sections         [SectionsPerColumn]*Section
	Biomes           [BiomeArea]byte
	LastUpdate       int64
	TerrainPopulated bool
}

// NewColumn returns an empty column at pos.
func NewColumn(pos Pos) *Column {
	return &Column{Pos: pos}
}

// Block returns the state at local (x, z) in 0..15 and y in 0..255.
// Anything outside the column is air.
func (c *Column) Block(x, y, z int) uint16 {
	if !inColumn(x, y, z) {
		return 0
	}
	s := c.Sections[y>>4]
	if s == nil {
		return 0
	}
	return s.Blocks[blockIndex(x, y, z)]
}

// SetBlock stores state at local (x, y, z). It reports false when the
// coordinates fall outside the column.
func (c *Column) SetBlock(x, y, z int, state uint16) bool {
	if !inColumn(x, y, z) {
		return false
	}
	s := c.Sections[y>>4]
	if s == nil {
		if state == 0 {
			return true
		}
		s = NewSection()
		c.Sections[y>>4] = s
	}
	s.Blocks[blockIndex(x, y, z)] = state
	return true
}

func inColumn(x, y, z int) bool {
	return x >= 0 && x < 16 && z >= 0 && z < 16 && y >= 0 && y < Height
}

// Biome returns the biome ID at local (x, z).
func (c *Column) Biome(x, z int) byte {
	return c.Biomes[z<<4|x]
}

// SetBiome sets the biome ID at local (x, z).
func (c *Column) SetBiome(x, z int, id byte) {
	c.Biomes[z<<4|x] = id
}

// SectionMask has bit i set for every non-empty section i.
func (c *Column) SectionMask() uint16 {
	var mask uint16
	for i, s := range c.Sections {
		if s != nil && !s.Empty() {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// Clone returns a deep copy, safe to hand to another goroutine.
func (c *Column) Clone() *Column {
	out := *c
	for i, s := range c.Sections {
		if s != nil {
			cp := *s
			out.Sections[i] = &cp
		}
	}
	return &out
}
