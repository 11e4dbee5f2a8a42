package cache

import (
	"sort"

	"voxelforge.ai/internal/coords"
)

// GenerateLoadOrder lists every coordinate within Chebyshev distance radius
// of center, nearest ring first. Ties break on euclidean distance, then X,
// then Z, so the order is fully deterministic. A negative radius yields nil.
func GenerateLoadOrder(center coords.ChunkCoord, radius int) []coords.ChunkCoord {
	if radius < 0 {
		return nil
	}
	side := 2*radius + 1
	out := make([]coords.ChunkCoord, 0, side*side)
	for dz := -radius; dz <= radius; dz++ {
		for dx := -radius; dx <= radius; dx++ {
			out = append(out, center.Add(dx, dz))
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessByDistance(center, out[i], out[j]) })
	return out
}

// GenerateLoadOrder is a convenience for callers holding a cache.
func (c *ChunkCache) GenerateLoadOrder(center coords.ChunkCoord, radius int) []coords.ChunkCoord {
	return GenerateLoadOrder(center, radius)
}

func lessByDistance(center, a, b coords.ChunkCoord) bool {
	da, db := a.Chebyshev(center), b.Chebyshev(center)
	if da != db {
		return da < db
	}
	ea, eb := a.DistSq(center), b.DistSq(center)
	if ea != eb {
		return ea < eb
	}
	if a.X != b.X {
		return a.X < b.X
	}
	return a.Z < b.Z
}
