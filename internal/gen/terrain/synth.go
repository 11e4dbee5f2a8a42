// Package terrain turns seeded noise into height maps, block layers and
// complete chunk columns. A Synthesizer is read-only after New and may be
// shared by concurrent generators.
package terrain

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aquilax/go-perlin"
	"github.com/ojrac/opensimplex-go"

	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/coords"
	"voxelforge.ai/internal/gen/noise"
)

// Algorithm identifies the height function recorded in generated maps.
const Algorithm = "octave-gradient+perlin-detail/v1"

// DensityCutoff is the effective density a layer must exceed to be placed.
const DensityCutoff = 0.5

// Bounds is a block-space rectangle: origin (X, Z), width W along x and
// depth H along z.
type Bounds struct {
	X int `json:"x"`
	Z int `json:"z"`
	W int `json:"w"`
	H int `json:"h"`
}

type BoundsError struct {
	Bounds Bounds
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("terrain bounds %dx%d at (%d,%d): extents must be positive", e.Bounds.W, e.Bounds.H, e.Bounds.X, e.Bounds.Z)
}

func NewBounds(x, z, w, h int) (Bounds, error) {
	b := Bounds{X: x, Z: z, W: w, H: h}
	return b, b.Validate()
}

func (b Bounds) Validate() error {
	if b.W <= 0 || b.H <= 0 {
		return &BoundsError{Bounds: b}
	}
	return nil
}

// ChunkBounds covers the footprint of one chunk column.
func ChunkBounds(c coords.ChunkCoord) Bounds {
	o := c.Origin()
	return Bounds{X: o.X, Z: o.Z, W: coords.ChunkSize, H: coords.ChunkSize}
}

type Synthesizer struct {
	seed coords.WorldSeed
	cfg  Config

	field  *noise.Field
	detail *perlin.Perlin
	temp   opensimplex.Noise
	moist  opensimplex.Noise
	layers []LayerDef

	now func() time.Time
}

func New(seed coords.WorldSeed, cfg Config) (*Synthesizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Synthesizer{
		seed:  seed,
		cfg:   cfg,
		field: noise.New(seed),
		temp:  opensimplex.NewNormalized(int64(seed.Offset(2))),
		moist: opensimplex.NewNormalized(int64(seed.Offset(3))),
		now:   time.Now,
	}
	if d := cfg.Detail; d != nil && d.Amplitude != 0 {
		n := d.Octaves
		if n <= 0 {
			n = 1
		}
		s.detail = perlin.NewPerlin(d.Alpha, d.Beta, n, int64(seed.Offset(1)))
	}
	s.layers = append([]LayerDef(nil), cfg.Layers...)
	sort.SliceStable(s.layers, func(i, j int) bool { return s.layers[i].Priority < s.layers[j].Priority })
	return s, nil
}

func (s *Synthesizer) Seed() coords.WorldSeed { return s.seed }
func (s *Synthesizer) Config() Config         { return s.cfg }

// HeightAt computes the surface height of a single world column.
func (s *Synthesizer) HeightAt(x, z int) int {
	fx, fz := float64(x), float64(z)
	v := s.field.OctaveStack(fx, fz, s.cfg.Base)
	if s.detail != nil {
		d := s.cfg.Detail
		v += s.detail.Noise2D(fx*d.Frequency, fz*d.Frequency) * d.Amplitude
	}
	if v < -1 {
		v = -1
	} else if v > 1 {
		v = 1
	}
	span := float64(s.cfg.MaxHeight - s.cfg.MinHeight)
	h := s.cfg.MinHeight + int(math.Floor((v+1)*0.5*span+0.5))
	if h < s.cfg.MinHeight {
		return s.cfg.MinHeight
	}
	if h > s.cfg.MaxHeight {
		return s.cfg.MaxHeight
	}
	return h
}

func (s *Synthesizer) GenerateHeightMap(b Bounds) (*chunk.HeightMap, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	hm := chunk.NewHeightMap(b.X, b.Z, b.W, b.H, s.cfg.MinHeight, s.cfg.MaxHeight)
	hm.Seed = int64(s.seed)
	hm.Algorithm = Algorithm
	hm.GeneratedAt = s.now().UTC()
	for z := 0; z < b.H; z++ {
		for x := 0; x < b.W; x++ {
			hm.Set(x, z, s.HeightAt(b.X+x, b.Z+z))
		}
	}
	return hm, nil
}

// GenerateHeightMap is the one-shot form of Synthesizer.GenerateHeightMap.
func GenerateHeightMap(b Bounds, cfg Config, seed coords.WorldSeed) (*chunk.HeightMap, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	s, err := New(seed, cfg)
	if err != nil {
		return nil, err
	}
	return s.GenerateHeightMap(b)
}

// Placement is one run of identical blocks in a column, covering y in
// [From, To).
type Placement struct {
	Layer string
	Block chunk.BlockType
	From  int
	To    int
}

const surfaceLayer = "surface"

// PlaceLayers builds the ordered bottom-up placements for every column of hm
// (index z*Width+x). The last placement of each column is its surface block.
func (s *Synthesizer) PlaceLayers(hm *chunk.HeightMap, layers []LayerDef) [][]Placement {
	ordered := layers
	if !sort.SliceIsSorted(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority }) {
		ordered = append([]LayerDef(nil), layers...)
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })
	}
	out := make([][]Placement, hm.Width*hm.Depth)
	placed := make([]bool, len(ordered))
	for z := 0; z < hm.Depth; z++ {
		for x := 0; x < hm.Width; x++ {
			wx, wz := hm.OriginX+x, hm.OriginZ+z
			for i, l := range ordered {
				placed[i] = l.Density*s.modifier(i, l, wx, wz) > DensityCutoff
			}
			out[z*hm.Width+x] = s.stackColumn(ordered, placed, hm.At(x, z))
		}
	}
	return out
}

func (s *Synthesizer) stackColumn(layers []LayerDef, placed []bool, height int) []Placement {
	col := make([]Placement, 0, len(layers)+1)
	fixed := 0
	for i, l := range layers {
		if placed[i] {
			fixed += l.Depth
		}
	}
	y := 0
	for i, l := range layers {
		if !placed[i] || y >= height {
			continue
		}
		n := l.Depth
		if n == 0 {
			n = height - y - fixed
		} else {
			fixed -= n
		}
		if y+n > height {
			n = height - y
		}
		if n <= 0 {
			continue
		}
		col = append(col, Placement{Layer: l.Name, Block: l.Block, From: y, To: y + n})
		y += n
	}
	// Without a fill layer the gap below the fixed layers stays air.
	return append(col, Placement{Layer: surfaceLayer, Block: s.SurfaceMaterial(height), From: height, To: height + 1})
}

// modifier returns the per-column density factor in [0, 1] for layer i.
func (s *Synthesizer) modifier(i int, l LayerDef, x, z int) float64 {
	if l.ModifierFrequency == 0 {
		return 1
	}
	cfg := noise.Config{Frequency: l.ModifierFrequency, Amplitude: 1, Interpolation: s.cfg.Base.Interpolation}
	off := float64(1000 * (i + 1))
	return (s.field.Sample2D(float64(x)+off, float64(z)-off, cfg) + 1) * 0.5
}

// SurfaceMaterial picks the top block for a column using the configured sea
// level and snow line.
func (s *Synthesizer) SurfaceMaterial(height int) chunk.BlockType {
	return surfaceMaterial(height, s.cfg.SeaLevel, s.cfg.SnowLine)
}

// DefaultSnowAboveSea is the snow line offset used by SurfaceMaterial.
const DefaultSnowAboveSea = 42

// SurfaceMaterial returns the top block for a column of the given height:
// sand on the shore band at or just below sea level, gravel deeper down,
// snow above the snow line and grass elsewhere.
func SurfaceMaterial(height, seaLevel int) chunk.BlockType {
	return surfaceMaterial(height, seaLevel, seaLevel+DefaultSnowAboveSea)
}

func surfaceMaterial(height, seaLevel, snowLine int) chunk.BlockType {
	switch {
	case height <= seaLevel-3:
		return chunk.Gravel
	case height <= seaLevel:
		return chunk.Sand
	case snowLine > seaLevel && height >= snowLine:
		return chunk.Snow
	default:
		return chunk.Grass
	}
}
