package terrain

import (
	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/coords"
)

const (
	treeSalt  = 4
	groveSalt = 5
)

// BiomeAt classifies a world column from two low frequency simplex fields
// (temperature, moisture). Columns below sea level are ocean.
func (s *Synthesizer) BiomeAt(x, z, height int) chunk.Biome {
	if height < s.cfg.SeaLevel {
		return chunk.Ocean
	}
	bc := s.cfg.Biomes
	fx := float64(x) * bc.Frequency
	fz := float64(z) * bc.Frequency
	t := s.temp.Eval2(fx, fz)
	m := s.moist.Eval2(fx, fz)
	switch {
	case t < bc.ColdBelow:
		return chunk.Tundra
	case t > bc.HotAbove && m < bc.DryBelow:
		return chunk.Desert
	case m > bc.WetAbove:
		return chunk.Forest
	default:
		return chunk.Plains
	}
}

// GenerateChunk synthesizes the full block column for c. The result depends
// only on the seed, the config and c.
func (s *Synthesizer) GenerateChunk(c coords.ChunkCoord) *chunk.Data {
	hm, _ := s.GenerateHeightMap(ChunkBounds(c))
	cols := s.PlaceLayers(hm, s.layers)

	d := chunk.New(c, s.cfg.ChunkHeight)
	d.HeightMap = hm
	d.Status = chunk.StatusGenerating

	for z := 0; z < coords.ChunkSize; z++ {
		for x := 0; x < coords.ChunkSize; x++ {
			h := hm.At(x, z)
			wx, wz := hm.OriginX+x, hm.OriginZ+z
			biome := s.BiomeAt(wx, wz, h)
			d.Biomes[x+z*coords.ChunkSize] = biome

			col := cols[z*hm.Width+x]
			for _, p := range col {
				b := p.Block
				if p.Layer == surfaceLayer {
					b = biomeSurface(biome, b)
				}
				for y := p.From; y < p.To; y++ {
					d.SetBlock(x, y, z, b)
				}
			}
			for y := h + 1; y <= s.cfg.SeaLevel; y++ {
				d.SetBlock(x, y, z, chunk.Water)
			}
		}
	}

	// Canopies reach one block sideways, so trunks keep off the chunk edge.
	for z := 1; z < coords.ChunkSize-1; z++ {
		for x := 1; x < coords.ChunkSize-1; x++ {
			h := hm.At(x, z)
			if d.Block(x, h, z) != chunk.Grass {
				continue
			}
			trunk := s.treeAt(hm.OriginX+x, hm.OriginZ+z, d.Biome(x, z))
			if trunk == 0 || h+trunk+2 > d.Height {
				continue
			}
			plantTree(d, x, h+1, z, trunk)
			d.StructureCount++
		}
	}

	d.Status = chunk.StatusGenerated
	return d
}

func biomeSurface(b chunk.Biome, top chunk.BlockType) chunk.BlockType {
	if top != chunk.Grass {
		return top
	}
	switch b {
	case chunk.Desert:
		return chunk.Sand
	case chunk.Tundra:
		return chunk.Snow
	}
	return top
}

// treeAt returns the trunk height of a tree rooted on column (x, z), or 0.
func (s *Synthesizer) treeAt(x, z int, b chunk.Biome) int {
	tc := s.cfg.Trees
	h := Hash2(int64(s.seed.Offset(treeSalt)), x, z)
	roll := h % 1000
	switch b {
	case chunk.Forest:
		if roll >= clampPermille(tc.ForestPermille) {
			return 0
		}
	case chunk.Plains:
		if roll >= clampPermille(tc.PlainsPermille) {
			return 0
		}
		if !InCluster(int64(s.seed.Offset(groveSalt)), x, z, tc.GroveGrid, tc.GroveRadius, clampPermille(tc.GrovePermille)) {
			return 0
		}
	default:
		return 0
	}
	if tc.MinTrunk <= 0 {
		return 0
	}
	span := uint64(tc.MaxTrunk - tc.MinTrunk + 1)
	return tc.MinTrunk + int((h>>16)%span)
}

func plantTree(d *chunk.Data, x, y0, z, trunk int) {
	top := y0 + trunk - 1
	for y := y0; y <= top; y++ {
		d.SetBlock(x, y, z, chunk.Log)
	}
	for y := top - 1; y <= top+1; y++ {
		for dz := -1; dz <= 1; dz++ {
			for dx := -1; dx <= 1; dx++ {
				if d.Block(x+dx, y, z+dz) == chunk.Air {
					d.SetBlock(x+dx, y, z+dz, chunk.Leaves)
				}
			}
		}
	}
}
