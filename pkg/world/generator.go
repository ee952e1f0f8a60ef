package world

import (
	"math"

	"github.com/StoreStation/AnvilCraft/pkg/chunk"
)

// Block states used by the generators.
const (
	blockAir     uint16 = 0
	blockGrass   uint16 = 2 << 4
	blockDirt    uint16 = 3 << 4
	blockBedrock uint16 = 7 << 4
	blockWater   uint16 = 8 << 4
	blockSand    uint16 = 12 << 4
)

// WaterLevel is the sea level of generated terrain.
const WaterLevel = 62

// Generator produces columns for chunks that have never been stored.
type Generator interface {
	Generate(pos chunk.Pos) *chunk.Column
}

// FlatGenerator builds superflat columns: bedrock, three dirt, one grass.
type FlatGenerator struct{}

// FlatBlock returns the superflat state at height y.
func FlatBlock(y int) uint16 {
	switch {
	case y == 0:
		return blockBedrock
	case y >= 1 && y <= 3:
		return blockDirt
	case y == 4:
		return blockGrass
	}
	return blockAir
}

func (FlatGenerator) Generate(pos chunk.Pos) *chunk.Column {
	c := chunk.NewColumn(pos)
	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			for y := 0; y <= 4; y++ {
				c.SetBlock(x, y, z, FlatBlock(y))
			}
			c.SetBiome(x, z, BiomePlains.ID)
		}
	}
	c.TerrainPopulated = true
	return c
}

// NoiseGenerator shapes terrain from a seeded height map with biome-dependent
// materials, rivers and caves. Output depends only on seed and position.
type NoiseGenerator struct {
	Seed int64

	climate climate
	terrain *Perlin
	river   *Perlin
	cave    *Perlin
	cave2   *Perlin
}

// NewNoiseGenerator returns a generator for seed.
func NewNoiseGenerator(seed int64) *NoiseGenerator {
	return &NoiseGenerator{
		Seed:    seed,
		climate: newClimate(seed),
		terrain: NewPerlin(seed),
		cave:    NewPerlin(seed + 3),
		cave2:   NewPerlin(seed + 5),
		river:   NewPerlin(seed + 400),
	}
}

// SurfaceHeight returns the top solid block Y at world (x, z).
func (g *NoiseGenerator) SurfaceHeight(x, z int) int {
	b := g.climate.biomeAt(x, z)
	const scale = 0.015
	h := float64(b.Base) + g.terrain.Octave2D(float64(x)*scale, float64(z)*scale, 3, 2, 0.5)*b.Variation

	// Narrow ridged valleys make rivers.
	const riverScale = 0.003
	if rv := math.Abs(g.river.Noise2D(float64(x)*riverScale, float64(z)*riverScale)); rv < 0.04 {
		h -= (0.04 - rv) / 0.04 * 15
	}

	switch {
	case h < 1:
		return 1
	case h > chunk.Height-6:
		return chunk.Height - 6
	}
	return int(h)
}

func (g *NoiseGenerator) isCave(x, y, z int) bool {
	if g.cave.Noise3D(float64(x)*0.03, float64(y)*0.03, float64(z)*0.03) <= 0.5 {
		return false
	}
	return g.cave2.Noise3D(float64(x)*0.08, float64(y)*0.08, float64(z)*0.08) > 0.3
}

// BlockAt returns the generated state at world (x, y, z), ignoring caves.
func (g *NoiseGenerator) BlockAt(x, y, z int) uint16 {
	if y < 0 || y >= chunk.Height {
		return blockAir
	}
	return material(g.climate.biomeAt(x, z), g.SurfaceHeight(x, z), y)
}

func material(b *Biome, surface, y int) uint16 {
	switch {
	case y == 0:
		return blockBedrock
	case y > surface && y <= WaterLevel:
		return blockWater
	case y > surface:
		return blockAir
	case y < surface:
		return b.Filler
	case y < WaterLevel:
		return blockSand
	}
	return b.Surface
}

func (g *NoiseGenerator) Generate(pos chunk.Pos) *chunk.Column {
	c := chunk.NewColumn(pos)
	for lx := 0; lx < 16; lx++ {
		for lz := 0; lz < 16; lz++ {
			wx, wz := int(pos.X)*16+lx, int(pos.Z)*16+lz
			b := g.climate.biomeAt(wx, wz)
			c.SetBiome(lx, lz, b.ID)

			surface := g.SurfaceHeight(wx, wz)
			top := max(surface, WaterLevel)
			for y := 0; y <= top; y++ {
				state := material(b, surface, y)
				if y > 0 && y < surface-2 && g.isCave(wx, y, wz) {
					state = blockAir
					if y <= WaterLevel {
						state = blockWater
					}
				}
				c.SetBlock(lx, y, lz, state)
			}
		}
	}
	c.TerrainPopulated = true
	return c
}

// SpawnPoint returns a standing position above the terrain at block (8, 8).
func SpawnPoint(gen Generator) BlockPos {
	switch g := gen.(type) {
	case *NoiseGenerator:
		y := max(g.SurfaceHeight(8, 8), WaterLevel) + 1
		return BlockPos{X: 8, Y: int32(y), Z: 8}
	case FlatGenerator:
		return BlockPos{X: 8, Y: 5, Z: 8}
	}
	return BlockPos{X: 8, Y: chunk.Height / 2, Z: 8}
}
