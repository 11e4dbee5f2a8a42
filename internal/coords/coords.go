package coords

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// ChunkSize is the width and depth of a chunk column in blocks.
const ChunkSize = 16

// WorldSeed seeds every noise table of one world. It never changes for the
// lifetime of the world.
type WorldSeed int64

// Offset derives a sub-seed for an independent noise field of the same world.
func (s WorldSeed) Offset(n int64) WorldSeed { return s + WorldSeed(n) }

// ChunkCoord identifies one vertical chunk column.
type ChunkCoord struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// Key is the canonical "x,z" form used for map and storage keys.
func (c ChunkCoord) Key() string {
	return strconv.Itoa(c.X) + "," + strconv.Itoa(c.Z)
}

func (c ChunkCoord) String() string { return c.Key() }

func (c ChunkCoord) Add(dx, dz int) ChunkCoord {
	return ChunkCoord{X: c.X + dx, Z: c.Z + dz}
}

// Chebyshev returns max(|dx|, |dz|), the ring index of o around c.
func (c ChunkCoord) Chebyshev(o ChunkCoord) int {
	return maxInt(AbsInt(c.X-o.X), AbsInt(c.Z-o.Z))
}

// DistSq returns the squared euclidean distance in chunk units.
func (c ChunkCoord) DistSq(o ChunkCoord) int {
	dx := c.X - o.X
	dz := c.Z - o.Z
	return dx*dx + dz*dz
}

// Origin returns the block coordinate of the column's minimum corner at y=0.
func (c ChunkCoord) Origin() BlockCoord {
	return BlockCoord{X: c.X * ChunkSize, Z: c.Z * ChunkSize}
}

// ParseKey is the inverse of ChunkCoord.Key.
func ParseKey(s string) (ChunkCoord, error) {
	xs, zs, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return ChunkCoord{}, fmt.Errorf("chunk key %q: missing comma", s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return ChunkCoord{}, fmt.Errorf("chunk key %q: x: %w", s, err)
	}
	z, err := strconv.Atoi(strings.TrimSpace(zs))
	if err != nil {
		return ChunkCoord{}, fmt.Errorf("chunk key %q: z: %w", s, err)
	}
	return ChunkCoord{X: x, Z: z}, nil
}

// BlockCoord is an integer block position in world space.
type BlockCoord struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Chunk returns the column containing b.
func (b BlockCoord) Chunk() ChunkCoord {
	return ChunkCoord{X: FloorDiv(b.X, ChunkSize), Z: FloorDiv(b.Z, ChunkSize)}
}

// Local returns b's position inside its column.
func (b BlockCoord) Local() (lx, lz int) {
	return Mod(b.X, ChunkSize), Mod(b.Z, ChunkSize)
}

// WorldPos is a continuous position in block units, as reported by the
// movement collaborator.
type WorldPos mgl64.Vec3

func (p WorldPos) Vec3() mgl64.Vec3 { return mgl64.Vec3(p) }

// Block floors p to the block that contains it.
func (p WorldPos) Block() BlockCoord {
	return BlockCoord{
		X: int(math.Floor(p[0])),
		Y: int(math.Floor(p[1])),
		Z: int(math.Floor(p[2])),
	}
}

// Chunk returns the column that contains p.
func (p WorldPos) Chunk() ChunkCoord { return p.Block().Chunk() }
