package world

import "math"

// Perlin is seeded 2D/3D gradient noise.
type Perlin struct {
	perm [512]int
}

// NewPerlin builds the permutation table for seed.
func NewPerlin(seed int64) *Perlin {
	var base [256]int
	for i := range base {
		base[i] = i
	}
	// Fisher-Yates driven by a 64-bit LCG.
	s := seed
	for i := len(base) - 1; i > 0; i-- {
		s = s*6364136223846793005 + 1442695040888963407
		j := int(uint64(s>>16) % uint64(i+1))
		base[i], base[j] = base[j], base[i]
	}

	p := &Perlin{}
	for i, v := range base {
		p.perm[i] = v
		p.perm[i+256] = v
	}
	return p
}

func fade(t float64) float64 { return t * t * t * (t*(t*6-15) + 10) }

func lerp(t, a, b float64) float64 { return a + t*(b-a) }

func cell(v float64) (int, float64) {
	f := math.Floor(v)
	return int(f) & 255, v - f
}

func grad2(hash int, x, y float64) float64 {
	if hash&1 != 0 {
		x = -x
	}
	if hash&2 != 0 {
		y = -y
	}
	return x + y
}

func grad3(hash int, x, y, z float64) float64 {
	h := hash & 15
	u, v := x, y
	if h >= 8 {
		u = y
	}
	if h >= 4 {
		v = z
		if h == 12 || h == 14 {
			v = x
		}
	}
	if h&1 != 0 {
		u = -u
	}
	if h&2 != 0 {
		v = -v
	}
	return u + v
}

// Noise2D samples noise at (x, y), roughly in [-1, 1].
func (p *Perlin) Noise2D(x, y float64) float64 {
	xi, xf := cell(x)
	yi, yf := cell(y)
	u, v := fade(xf), fade(yf)

	a, b := p.perm[xi], p.perm[xi+1]
	x1 := lerp(u, grad2(p.perm[a+yi], xf, yf), grad2(p.perm[b+yi], xf-1, yf))
	x2 := lerp(u, grad2(p.perm[a+yi+1], xf, yf-1), grad2(p.perm[b+yi+1], xf-1, yf-1))
	return lerp(v, x1, x2)
}

// Octave2D sums octaves of Noise2D and normalises by total amplitude.
func (p *Perlin) Octave2D(x, y float64, octaves int, lacunarity, persistence float64) float64 {
	var total, norm float64
	freq, amp := 1.0, 1.0
	for i := 0; i < octaves; i++ {
		total += p.Noise2D(x*freq, y*freq) * amp
		norm += amp
		amp *= persistence
		freq *= lacunarity
	}
	return total / norm
}

// Noise3D samples noise at (x, y, z), roughly in [-1, 1].
func (p *Perlin) Noise3D(x, y, z float64) float64 {
	xi, xf := cell(x)
	yi, yf := cell(y)
	zi, zf := cell(z)
	u, v, w := fade(xf), fade(yf), fade(zf)

	h := func(dx, dy, dz int) int {
		return p.perm[p.perm[p.perm[xi+dx]+yi+dy]+zi+dz]
	}

	y1 := lerp(v,
		lerp(u, grad3(h(0, 0, 0), xf, yf, zf), grad3(h(1, 0, 0), xf-1, yf, zf)),
		lerp(u, grad3(h(0, 1, 0), xf, yf-1, zf), grad3(h(1, 1, 0), xf-1, yf-1, zf)))
	y2 := lerp(v,
		lerp(u, grad3(h(0, 0, 1), xf, yf, zf-1), grad3(h(1, 0, 1), xf-1, yf, zf-1)),
		lerp(u, grad3(h(0, 1, 1), xf, yf-1, zf-1), grad3(h(1, 1, 1), xf-1, yf-1, zf-1)))
	return lerp(w, y1, y2)
}
