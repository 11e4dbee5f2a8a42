package chunk

import (
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
)

// HeightMap holds per-column surface heights for a rectangular region plus
// the metadata needed to regenerate it.
type HeightMap struct {
	OriginX int
	OriginZ int
	Width   int
	Depth   int
	Heights []int // row-major, index z*Width+x

	Min int
	Max int

	Seed        int64
	Algorithm   string
	GeneratedAt time.Time
}

func NewHeightMap(originX, originZ, width, depth, min, max int) *HeightMap {
	return &HeightMap{
		OriginX: originX,
		OriginZ: originZ,
		Width:   width,
		Depth:   depth,
		Heights: make([]int, width*depth),
		Min:     min,
		Max:     max,
	}
}

// At returns the height at local column (x, z).
func (h *HeightMap) At(x, z int) int {
	return h.Heights[z*h.Width+x]
}

// Set stores v at local column (x, z), clamped into [Min, Max].
func (h *HeightMap) Set(x, z, v int) {
	if v < h.Min {
		v = h.Min
	}
	if v > h.Max {
		v = h.Max
	}
	h.Heights[z*h.Width+x] = v
}

// Rows returns a copy of the heights as a [depth][width] grid.
func (h *HeightMap) Rows() [][]int {
	out := make([][]int, h.Depth)
	for z := range out {
		row := make([]int, h.Width)
		copy(row, h.Heights[z*h.Width:(z+1)*h.Width])
		out[z] = row
	}
	return out
}

// Checksum hashes the height values only; metadata such as GeneratedAt does
// not change it.
func (h *HeightMap) Checksum() uint64 {
	d := xxhash.New()
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(int32(h.Width)))
	_, _ = d.Write(tmp[:])
	binary.LittleEndian.PutUint32(tmp[:], uint32(int32(h.Depth)))
	_, _ = d.Write(tmp[:])
	for _, v := range h.Heights {
		binary.LittleEndian.PutUint32(tmp[:], uint32(int32(v)))
		_, _ = d.Write(tmp[:])
	}
	return d.Sum64()
}

func (h *HeightMap) MemorySize() int {
	return len(h.Heights)*8 + 96
}
