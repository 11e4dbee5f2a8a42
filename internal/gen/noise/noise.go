// Package noise is a seeded gradient noise sampler. A Field is immutable after
// New and returns bit-identical values for the same seed, config and point.
package noise

import (
	"math"

	"voxelforge.ai/internal/coords"
)

// grad2 are the lattice gradients for 2D sampling.
var grad2 = [8][2]float64{
	{1, 1}, {-1, 1}, {1, -1}, {-1, -1},
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
}

// grad3 are the lattice gradients for 3D sampling (cube edge midpoints).
var grad3 = [12][3]float64{
	{1, 1, 0}, {-1, 1, 0}, {1, -1, 0}, {-1, -1, 0},
	{1, 0, 1}, {-1, 0, 1}, {1, 0, -1}, {-1, 0, -1},
	{0, 1, 1}, {0, -1, 1}, {0, 1, -1}, {0, -1, -1},
}

type Field struct {
	seed coords.WorldSeed
	perm [512]uint8
}

// New derives the permutation table for seed.
func New(seed coords.WorldSeed) *Field {
	f := &Field{seed: seed}

	var p [256]uint8
	for i := range p {
		p[i] = uint8(i)
	}
	s := uint64(seed)
	for i := 255; i > 0; i-- {
		s = s*6364136223846793005 + 1442695040888963407
		j := int((s>>33)&0x7FFFFFFF) % (i + 1)
		p[i], p[j] = p[j], p[i]
	}
	for i := 0; i < 512; i++ {
		f.perm[i] = p[i&255]
	}
	return f
}

func (f *Field) Seed() coords.WorldSeed { return f.seed }

// Sample2D returns gradient noise at (x, z) scaled by cfg.Frequency and
// cfg.Amplitude, clamped to [-1, 1].
func (f *Field) Sample2D(x, z float64, cfg Config) float64 {
	return clamp1(f.raw2(x*cfg.Frequency, z*cfg.Frequency, cfg.Interpolation) * cfg.Amplitude)
}

// Sample3D is the trilinear counterpart of Sample2D.
func (f *Field) Sample3D(x, y, z float64, cfg Config) float64 {
	fr := cfg.Frequency
	return clamp1(f.raw3(x*fr, y*fr, z*fr, cfg.Interpolation) * cfg.Amplitude)
}

// Octave returns the amplitude weighted mean of one sample per octave.
// Each octave contributes Sample2D with unit amplitude; Amplitude is its weight.
func (f *Field) Octave(x, z float64, octaves []Config) float64 {
	var total, weight float64
	for _, o := range octaves {
		if o.Amplitude <= 0 {
			continue
		}
		total += clamp1(f.raw2(x*o.Frequency, z*o.Frequency, o.Interpolation)) * o.Amplitude
		weight += o.Amplitude
	}
	if weight == 0 {
		return 0
	}
	return clamp1(total / weight)
}

// OctaveStack expands cfg into cfg.Octaves octaves (frequency times
// Lacunarity, amplitude times Persistence per step) and calls Octave.
func (f *Field) OctaveStack(x, z float64, cfg Config) float64 {
	return f.Octave(x, z, Octaves(cfg))
}

// Ridge returns 1-|n| of the octave stack; values below threshold become 0.
func (f *Field) Ridge(x, z float64, cfg Config, threshold float64) float64 {
	v := 1 - math.Abs(f.OctaveStack(x, z, cfg))
	if v < threshold {
		return 0
	}
	return v
}

// Billow returns |n| of the octave stack.
func (f *Field) Billow(x, z float64, cfg Config) float64 {
	return math.Abs(f.OctaveStack(x, z, cfg))
}

// Octaves lists the per-octave configs OctaveStack samples.
func Octaves(cfg Config) []Config {
	n := cfg.Octaves
	if n < 1 {
		n = 1
	}
	out := make([]Config, n)
	freq := cfg.Frequency
	amp := cfg.Amplitude
	if amp <= 0 {
		amp = 1
	}
	for i := 0; i < n; i++ {
		out[i] = Config{
			Frequency:     freq,
			Amplitude:     amp,
			Octaves:       1,
			Persistence:   cfg.Persistence,
			Lacunarity:    cfg.Lacunarity,
			Interpolation: cfg.Interpolation,
		}
		freq *= cfg.Lacunarity
		amp *= cfg.Persistence
	}
	return out
}

func (f *Field) raw2(x, z float64, mode Interpolation) float64 {
	if !finite(x) || !finite(z) {
		return 0
	}
	x0 := math.Floor(x)
	z0 := math.Floor(z)
	dx := x - x0
	dz := z - z0
	xi := int(int64(x0) & 255)
	zi := int(int64(z0) & 255)

	n00 := dot2(f.grad2At(xi, zi), dx, dz)
	n10 := dot2(f.grad2At(xi+1, zi), dx-1, dz)
	n01 := dot2(f.grad2At(xi, zi+1), dx, dz-1)
	n11 := dot2(f.grad2At(xi+1, zi+1), dx-1, dz-1)

	u := mode.weight(dx)
	v := mode.weight(dz)
	return lerp(lerp(n00, n10, u), lerp(n01, n11, u), v)
}

func (f *Field) raw3(x, y, z float64, mode Interpolation) float64 {
	if !finite(x) || !finite(y) || !finite(z) {
		return 0
	}
	x0, y0, z0 := math.Floor(x), math.Floor(y), math.Floor(z)
	dx, dy, dz := x-x0, y-y0, z-z0
	xi := int(int64(x0) & 255)
	yi := int(int64(y0) & 255)
	zi := int(int64(z0) & 255)

	n000 := dot3(f.grad3At(xi, yi, zi), dx, dy, dz)
	n100 := dot3(f.grad3At(xi+1, yi, zi), dx-1, dy, dz)
	n010 := dot3(f.grad3At(xi, yi+1, zi), dx, dy-1, dz)
	n110 := dot3(f.grad3At(xi+1, yi+1, zi), dx-1, dy-1, dz)
	n001 := dot3(f.grad3At(xi, yi, zi+1), dx, dy, dz-1)
	n101 := dot3(f.grad3At(xi+1, yi, zi+1), dx-1, dy, dz-1)
	n011 := dot3(f.grad3At(xi, yi+1, zi+1), dx, dy-1, dz-1)
	n111 := dot3(f.grad3At(xi+1, yi+1, zi+1), dx-1, dy-1, dz-1)

	u := mode.weight(dx)
	v := mode.weight(dy)
	w := mode.weight(dz)
	x00 := lerp(n000, n100, u)
	x10 := lerp(n010, n110, u)
	x01 := lerp(n001, n101, u)
	x11 := lerp(n011, n111, u)
	return lerp(lerp(x00, x10, v), lerp(x01, x11, v), w)
}

// xi, zi are in [0, 256]; the doubled table keeps every lookup in range.
func (f *Field) grad2At(xi, zi int) [2]float64 {
	h := f.perm[int(f.perm[zi])+xi]
	return grad2[h&7]
}

func (f *Field) grad3At(xi, yi, zi int) [3]float64 {
	h := f.perm[int(f.perm[int(f.perm[zi])+yi])+xi]
	return grad3[int(h)%12]
}

func dot2(g [2]float64, x, z float64) float64 { return g[0]*x + g[1]*z }

func dot3(g [3]float64, x, y, z float64) float64 { return g[0]*x + g[1]*y + g[2]*z }

func lerp(a, b, t float64) float64 { return a + t*(b-a) }

func clamp1(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	if v != v {
		return 0
	}
	return v
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
