package terrain

import "voxelforge.ai/internal/coords"

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Hash2 is a stateless per-column hash used for placement decisions.
func Hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	return mix64(uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9))
}

func clampPermille(v int) uint64 {
	if v < 0 {
		return 0
	}
	if v > 1000 {
		return 1000
	}
	return uint64(v)
}

// InCluster reports whether (x, z) lies within radius of a cluster center.
// Every grid cell hosts at most one center, present with probability
// probPermille/1000 and placed by hash, so the answer needs no neighbours
// to be generated first.
func InCluster(seed int64, x, z, grid, radius int, probPermille uint64) bool {
	if grid <= 0 || radius <= 0 || probPermille == 0 {
		return false
	}
	gx := coords.FloorDiv(x, grid)
	gz := coords.FloorDiv(z, grid)
	r2 := radius * radius

	for dz := -1; dz <= 1; dz++ {
		for dx := -1; dx <= 1; dx++ {
			cgx := gx + dx
			cgz := gz + dz
			h := Hash2(seed, cgx, cgz)
			if h%1000 >= probPermille {
				continue
			}
			cx := cgx*grid + int((h>>10)%uint64(grid))
			cz := cgz*grid + int((h>>20)%uint64(grid))
			ddx := x - cx
			ddz := z - cz
			if ddx*ddx+ddz*ddz <= r2 {
				return true
			}
		}
	}
	return false
}
