package chunk

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"voxelforge.ai/internal/coords"
)

// Area is the number of columns in one chunk footprint.
const Area = coords.ChunkSize * coords.ChunkSize

type BlockType uint16

const (
	Air BlockType = iota
	Bedrock
	Stone
	Dirt
	Grass
	Sand
	Gravel
	Snow
	Water
	Log
	Leaves
)

var blockNames = [...]string{
	Air:     "AIR",
	Bedrock: "BEDROCK",
	Stone:   "STONE",
	Dirt:    "DIRT",
	Grass:   "GRASS",
	Sand:    "SAND",
	Gravel:  "GRAVEL",
	Snow:    "SNOW",
	Water:   "WATER",
	Log:     "LOG",
	Leaves:  "LEAVES",
}

func (b BlockType) String() string {
	if int(b) < len(blockNames) {
		return blockNames[b]
	}
	return fmt.Sprintf("BLOCK(%d)", uint16(b))
}

// ParseBlockType maps a config name like "STONE" back to its BlockType.
func ParseBlockType(name string) (BlockType, bool) {
	for i, n := range blockNames {
		if n == name {
			return BlockType(i), true
		}
	}
	return Air, false
}

type Biome uint8

const (
	Plains Biome = iota
	Forest
	Desert
	Tundra
	Ocean
)

func (b Biome) String() string {
	switch b {
	case Plains:
		return "PLAINS"
	case Forest:
		return "FOREST"
	case Desert:
		return "DESERT"
	case Tundra:
		return "TUNDRA"
	case Ocean:
		return "OCEAN"
	}
	return fmt.Sprintf("BIOME(%d)", uint8(b))
}

type Status uint8

const (
	StatusUngenerated Status = iota
	StatusGenerating
	StatusGenerated
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUngenerated:
		return "UNGENERATED"
	case StatusGenerating:
		return "GENERATING"
	case StatusGenerated:
		return "GENERATED"
	case StatusFailed:
		return "FAILED"
	}
	return fmt.Sprintf("STATUS(%d)", uint8(s))
}

// Data is the dense block grid of one chunk column.
type Data struct {
	Coord          coords.ChunkCoord
	Height         int
	Blocks         []BlockType // len = 16*16*Height, index (y*16+z)*16+x
	Biomes         [Area]Biome
	HeightMap      *HeightMap
	StructureCount int
	Status         Status
}

func New(coord coords.ChunkCoord, height int) *Data {
	if height < 1 {
		height = 1
	}
	return &Data{
		Coord:  coord,
		Height: height,
		Blocks: make([]BlockType, Area*height),
		Status: StatusUngenerated,
	}
}

func (d *Data) index(x, y, z int) int {
	return (y*coords.ChunkSize+z)*coords.ChunkSize + x
}

// Block returns the block at local (x, z) and absolute y. Out of range y is air.
func (d *Data) Block(x, y, z int) BlockType {
	if y < 0 || y >= d.Height {
		return Air
	}
	return d.Blocks[d.index(x, y, z)]
}

func (d *Data) SetBlock(x, y, z int, b BlockType) {
	if y < 0 || y >= d.Height {
		return
	}
	d.Blocks[d.index(x, y, z)] = b
}

func (d *Data) Biome(x, z int) Biome {
	return d.Biomes[x+z*coords.ChunkSize]
}

// BiomeChecksum hashes the biome grid.
func (d *Data) BiomeChecksum() uint64 {
	b := make([]byte, Area)
	for i, v := range d.Biomes {
		b[i] = byte(v)
	}
	return xxhash.Sum64(b)
}

// ContentHash identifies generated content without diffing every block.
func (d *Data) ContentHash() uint64 {
	var hs uint64
	if d.HeightMap != nil {
		hs = d.HeightMap.Checksum()
	}
	return ContentHash(hs, d.BiomeChecksum(), d.StructureCount)
}

// MemorySize estimates the bytes held by d.
func (d *Data) MemorySize() int {
	n := len(d.Blocks)*2 + Area + 64
	if d.HeightMap != nil {
		n += d.HeightMap.MemorySize()
	}
	return n
}

// ContentHash combines a heightmap checksum, a biome checksum and a structure
// count into the staleness hash stored next to persisted chunk records.
func ContentHash(heightmapSum, biomeSum uint64, structures int) uint64 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], heightmapSum)
	binary.LittleEndian.PutUint64(buf[8:], biomeSum)
	binary.LittleEndian.PutUint64(buf[16:], uint64(structures))
	return xxhash.Sum64(buf[:])
}
