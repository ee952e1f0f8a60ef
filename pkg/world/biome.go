package world

// Biome drives surface shape and materials for a column.
type Biome struct {
	ID        byte
	Name      string
	Surface   uint16 // blockID<<4 | meta
	Filler    uint16
	Base      int
	Variation float64
}

var (
	BiomeOcean        = &Biome{ID: 0, Name: "Ocean", Surface: 12 << 4, Filler: 12 << 4, Base: 38, Variation: 8}
	BiomePlains       = &Biome{ID: 1, Name: "Plains", Surface: 2 << 4, Filler: 3 << 4, Base: 66, Variation: 12}
	BiomeDesert       = &Biome{ID: 2, Name: "Desert", Surface: 12 << 4, Filler: 24 << 4, Base: 64, Variation: 10}
	BiomeExtremeHills = &Biome{ID: 3, Name: "Extreme Hills", Surface: 2 << 4, Filler: 1 << 4, Base: 72, Variation: 50}
	BiomeForest       = &Biome{ID: 4, Name: "Forest", Surface: 2 << 4, Filler: 3 << 4, Base: 68, Variation: 14}
	BiomeSnowyTundra  = &Biome{ID: 12, Name: "Snowy Tundra", Surface: 80 << 4, Filler: 3 << 4, Base: 66, Variation: 8}
	BiomeJungle       = &Biome{ID: 21, Name: "Jungle", Surface: 2 << 4, Filler: 3 << 4, Base: 70, Variation: 20}
)

// climate samples temperature and rainfall at very low frequency so biomes
// form large regions.
type climate struct {
	temp, rain *Perlin
}

func newClimate(seed int64) climate {
	return climate{temp: NewPerlin(seed + 1), rain: NewPerlin(seed + 2)}
}

func unit(v float64) float64 {
	v = (v + 1) / 2
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// biomeAt classifies (x, z) on a Whittaker-style temperature/rainfall grid.
func (c climate) biomeAt(x, z int) *Biome {
	const scale = 0.003
	bx, bz := float64(x)*scale, float64(z)*scale
	temp := unit(c.temp.Octave2D(bx, bz, 2, 2, 0.3))
	rain := unit(c.rain.Octave2D(bx+500, bz+500, 2, 2, 0.3))

	switch {
	case temp < 0.35:
		return BiomeSnowyTundra
	case temp < 0.65:
		switch {
		case rain > 0.4:
			return BiomeForest
		case rain > 0.25:
			return BiomePlains
		}
		return BiomeExtremeHills
	case rain > 0.75:
		return BiomeJungle
	case rain > 0.4:
		return BiomePlains
	}
	return BiomeDesert
}
