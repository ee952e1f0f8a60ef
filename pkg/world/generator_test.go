package world

import (
	"bytes"
	"testing"

	"github.com/StoreStation/AnvilCraft/pkg/chunk"
)

func TestFlatGenerator(t *testing.T) {
	c := FlatGenerator{}.Generate(chunk.Pos{X: 3, Z: -1})
	if c.Pos != (chunk.Pos{X: 3, Z: -1}) {
		t.Fatalf("Pos = %v", c.Pos)
	}
	tests := []struct {
		y    int
		want uint16
	}{
		{0, 7 << 4}, {1, 3 << 4}, {3, 3 << 4}, {4, 2 << 4}, {5, 0}, {200, 0},
	}
	for _, tt := range tests {
		if got := c.Block(7, tt.y, 9); got != tt.want {
			t.Errorf("Block(7, %d, 9) = %d, want %d", tt.y, got, tt.want)
		}
	}
	if mask := c.SectionMask(); mask != 0x0001 {
		t.Errorf("SectionMask = 0x%04x, want 0x0001", mask)
	}
	if FlatBlock(-1) != 0 || FlatBlock(256) != 0 {
		t.Error("FlatBlock outside the world should be air")
	}
}

func TestNoiseGeneratorDeterministic(t *testing.T) {
	a := NewNoiseGenerator(12345).Generate(chunk.Pos{X: 2, Z: 7})
	b := NewNoiseGenerator(12345).Generate(chunk.Pos{X: 2, Z: 7})

	da, ma := a.NetworkData()
	db, mb := b.NetworkData()
	if ma != mb || !bytes.Equal(da, db) {
		t.Fatal("same seed and position produced different columns")
	}
	if ma == 0 {
		t.Error("generated column has no sections")
	}
	if !a.TerrainPopulated {
		t.Error("generated column not marked populated")
	}
}

func TestNoiseGeneratorBedrockAndBounds(t *testing.T) {
	g := NewNoiseGenerator(999)
	for x := -100; x < 100; x += 17 {
		for z := -100; z < 100; z += 17 {
			if got := g.BlockAt(x, 0, z); got != 7<<4 {
				t.Errorf("BlockAt(%d, 0, %d) = %d, want bedrock", x, z, got)
			}
			if h := g.SurfaceHeight(x, z); h < 1 || h > 250 {
				t.Errorf("SurfaceHeight(%d, %d) = %d", x, z, h)
			}
		}
	}
	if g.BlockAt(0, -1, 0) != 0 || g.BlockAt(0, 256, 0) != 0 {
		t.Error("outside the world should be air")
	}
}

func TestNoiseGeneratorMatchesBlockAt(t *testing.T) {
	g := NewNoiseGenerator(4)
	c := g.Generate(chunk.Pos{X: -3, Z: 5})
	for _, lx := range []int{0, 7, 15} {
		for _, lz := range []int{0, 9, 15} {
			wx, wz := -3*16+lx, 5*16+lz
			top := g.SurfaceHeight(wx, wz)
			if got, want := c.Block(lx, top+1, lz), g.BlockAt(wx, top+1, wz); got != want {
				t.Errorf("above surface at (%d, %d): column %d, BlockAt %d", wx, wz, got, want)
			}
		}
	}
}

func TestDistantChunksDiffer(t *testing.T) {
	g := NewNoiseGenerator(42)
	a, _ := g.Generate(chunk.Pos{}).NetworkData()
	b, _ := g.Generate(chunk.Pos{X: 40, Z: 40}).NetworkData()
	if bytes.Equal(a, b) {
		t.Error("distant chunks produced identical terrain")
	}
}

func TestSpawnPoint(t *testing.T) {
	if got := SpawnPoint(FlatGenerator{}); got != (BlockPos{X: 8, Y: 5, Z: 8}) {
		t.Errorf("flat spawn = %v", got)
	}
	g := NewNoiseGenerator(7)
	sp := SpawnPoint(g)
	if int(sp.Y) <= g.SurfaceHeight(8, 8) || sp.Y <= WaterLevel {
		t.Errorf("noise spawn Y = %d, surface %d", sp.Y, g.SurfaceHeight(8, 8))
	}
}
