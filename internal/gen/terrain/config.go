package terrain

import (
	"fmt"

	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/gen/noise"
)

// LayerDef declares one subsurface layer. Layers stack bottom-up in Priority
// order. Depth 0 marks the fill layer that absorbs whatever thickness the
// other placed layers leave below the surface block.
type LayerDef struct {
	Name     string
	Block    chunk.BlockType
	Depth    int
	Priority int

	// Density is multiplied by a per-column modifier in [0, 1]; the layer is
	// placed only where the product exceeds DensityCutoff. A zero
	// ModifierFrequency pins the modifier to 1.
	Density           float64
	ModifierFrequency float64
}

// DetailConfig configures the secondary perlin pass that roughens the base
// elevation.
type DetailConfig struct {
	Frequency float64
	Amplitude float64
	Alpha     float64
	Beta      float64
	Octaves   int
}

type BiomeConfig struct {
	Frequency float64
	// Column temperature below ColdBelow is tundra.
	ColdBelow float64
	// Hot and dry columns are desert.
	HotAbove float64
	DryBelow float64
	// Wet columns are forest.
	WetAbove float64
}

// TreeConfig places trees on grass columns. Forest columns use
// ForestPermille directly; plains columns only inside hashed groves.
type TreeConfig struct {
	ForestPermille int
	PlainsPermille int
	GroveGrid      int
	GroveRadius    int
	GrovePermille  int
	MinTrunk       int
	MaxTrunk       int
}

type Config struct {
	Base   noise.Config
	Detail *DetailConfig

	MinHeight   int
	MaxHeight   int
	SeaLevel    int
	SnowLine    int
	ChunkHeight int

	Layers []LayerDef
	Biomes BiomeConfig
	Trees  TreeConfig
}

func DefaultLayers() []LayerDef {
	return []LayerDef{
		{Name: "bedrock", Block: chunk.Bedrock, Depth: 1, Priority: 0, Density: 1},
		{Name: "stone", Block: chunk.Stone, Depth: 0, Priority: 1, Density: 1},
		{Name: "dirt", Block: chunk.Dirt, Depth: 3, Priority: 2, Density: 1.25, ModifierFrequency: 0.04},
	}
}

func DefaultConfig() Config {
	base := noise.DefaultConfig()
	base.Frequency = 0.008
	base.Octaves = 5
	return Config{
		Base: base,
		Detail: &DetailConfig{
			Frequency: 0.05,
			Amplitude: 0.08,
			Alpha:     2,
			Beta:      2,
			Octaves:   3,
		},
		MinHeight:   4,
		MaxHeight:   96,
		SeaLevel:    40,
		SnowLine:    82,
		ChunkHeight: 128,
		Layers:      DefaultLayers(),
		Biomes: BiomeConfig{
			Frequency: 0.0025,
			ColdBelow: 0.3,
			HotAbove:  0.62,
			DryBelow:  0.42,
			WetAbove:  0.55,
		},
		Trees: TreeConfig{
			ForestPermille: 25,
			PlainsPermille: 12,
			GroveGrid:      48,
			GroveRadius:    10,
			GrovePermille:  350,
			MinTrunk:       4,
			MaxTrunk:       6,
		},
	}
}

// Validate rejects configs that cannot produce a valid column.
func (c Config) Validate() error {
	if c.MinHeight < 0 {
		return fmt.Errorf("terrain config: min height %d < 0", c.MinHeight)
	}
	if c.MinHeight >= c.MaxHeight {
		return fmt.Errorf("terrain config: min height %d >= max height %d", c.MinHeight, c.MaxHeight)
	}
	// Trees need headroom above the highest surface.
	if c.ChunkHeight <= c.MaxHeight {
		return fmt.Errorf("terrain config: chunk height %d must exceed max height %d", c.ChunkHeight, c.MaxHeight)
	}
	if c.SeaLevel < 0 || c.SeaLevel >= c.ChunkHeight {
		return fmt.Errorf("terrain config: sea level %d outside [0, %d)", c.SeaLevel, c.ChunkHeight)
	}
	fill := 0
	for _, l := range c.Layers {
		if l.Depth < 0 {
			return fmt.Errorf("terrain config: layer %q has negative depth", l.Name)
		}
		if l.Depth == 0 {
			fill++
		}
	}
	if fill > 1 {
		return fmt.Errorf("terrain config: %d fill layers, want at most 1", fill)
	}
	if c.Trees.MinTrunk > c.Trees.MaxTrunk {
		return fmt.Errorf("terrain config: tree trunk range [%d, %d] inverted", c.Trees.MinTrunk, c.Trees.MaxTrunk)
	}
	return nil
}
