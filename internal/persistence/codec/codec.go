// Package codec encodes chunk records and region snapshots as a JSON header
// line followed by a gob body, compressed with zstd.
package codec

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"

	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/coords"
)

const Version = 1

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Header struct {
	Version     int    `json:"version"`
	Key         string `json:"key"`
	ContentHash uint64 `json:"content_hash"`
}

type HeightMapV1 struct {
	OriginX     int
	OriginZ     int
	Width       int
	Depth       int
	Heights     []int32
	Min         int
	Max         int
	Seed        int64
	Algorithm   string
	GeneratedAt int64
}

type ChunkV1 struct {
	Header Header

	X              int
	Z              int
	Height         int
	Blocks         []uint16
	Biomes         []uint8
	HeightMap      *HeightMapV1
	StructureCount int
}

// Shared coders; EncodeAll and DecodeAll are safe for concurrent use.
var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

func FromChunk(d *chunk.Data) ChunkV1 {
	rec := ChunkV1{
		Header: Header{
			Version:     Version,
			Key:         d.Coord.Key(),
			ContentHash: d.ContentHash(),
		},
		X:              d.Coord.X,
		Z:              d.Coord.Z,
		Height:         d.Height,
		Blocks:         make([]uint16, len(d.Blocks)),
		Biomes:         make([]uint8, len(d.Biomes)),
		StructureCount: d.StructureCount,
	}
	for i, b := range d.Blocks {
		rec.Blocks[i] = uint16(b)
	}
	for i, b := range d.Biomes {
		rec.Biomes[i] = uint8(b)
	}
	if hm := d.HeightMap; hm != nil {
		h := &HeightMapV1{
			OriginX:   hm.OriginX,
			OriginZ:   hm.OriginZ,
			Width:     hm.Width,
			Depth:     hm.Depth,
			Heights:   make([]int32, len(hm.Heights)),
			Min:       hm.Min,
			Max:       hm.Max,
			Seed:      hm.Seed,
			Algorithm: hm.Algorithm,
		}
		if !hm.GeneratedAt.IsZero() {
			h.GeneratedAt = hm.GeneratedAt.UnixNano()
		}
		for i, v := range hm.Heights {
			h.Heights[i] = int32(v)
		}
		rec.HeightMap = h
	}
	return rec
}

func (rec ChunkV1) ToChunk() (*chunk.Data, error) {
	if rec.Header.Version != Version {
		return nil, fmt.Errorf("chunk record %s: version %d, want %d", rec.Header.Key, rec.Header.Version, Version)
	}
	d := chunk.New(coords.ChunkCoord{X: rec.X, Z: rec.Z}, rec.Height)
	if len(rec.Blocks) != len(d.Blocks) {
		return nil, fmt.Errorf("chunk record %s: blocks length %d, want %d", rec.Header.Key, len(rec.Blocks), len(d.Blocks))
	}
	if len(rec.Biomes) != chunk.Area {
		return nil, fmt.Errorf("chunk record %s: biomes length %d, want %d", rec.Header.Key, len(rec.Biomes), chunk.Area)
	}
	for i, b := range rec.Blocks {
		d.Blocks[i] = chunk.BlockType(b)
	}
	for i, b := range rec.Biomes {
		d.Biomes[i] = chunk.Biome(b)
	}
	if h := rec.HeightMap; h != nil {
		if len(h.Heights) != h.Width*h.Depth {
			return nil, fmt.Errorf("chunk record %s: heightmap %dx%d has %d values", rec.Header.Key, h.Width, h.Depth, len(h.Heights))
		}
		hm := chunk.NewHeightMap(h.OriginX, h.OriginZ, h.Width, h.Depth, h.Min, h.Max)
		for i, v := range h.Heights {
			hm.Heights[i] = int(v)
		}
		hm.Seed = h.Seed
		hm.Algorithm = h.Algorithm
		if h.GeneratedAt != 0 {
			hm.GeneratedAt = time.Unix(0, h.GeneratedAt).UTC()
		}
		d.HeightMap = hm
	}
	d.StructureCount = rec.StructureCount
	d.Status = chunk.StatusGenerated
	if got := d.ContentHash(); got != rec.Header.ContentHash {
		return nil, fmt.Errorf("chunk record %s: content hash %x, header says %x", rec.Header.Key, got, rec.Header.ContentHash)
	}
	return d, nil
}

// Encode returns the compressed record for d.
func Encode(d *chunk.Data) ([]byte, error) {
	rec := FromChunk(d)
	var buf bytes.Buffer
	if err := writeRecord(&buf, rec.Header, &rec); err != nil {
		return nil, err
	}
	return encoder.EncodeAll(buf.Bytes(), nil), nil
}

func Decode(b []byte) (*chunk.Data, error) {
	raw, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	var rec ChunkV1
	if _, err := readRecord(bufio.NewReader(bytes.NewReader(raw)), &rec); err != nil {
		return nil, err
	}
	return rec.ToChunk()
}

// PeekHeader reads only the JSON header line of an encoded record.
func PeekHeader(b []byte) (Header, error) {
	var h Header
	raw, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return h, fmt.Errorf("zstd decode: %w", err)
	}
	line, _, ok := bytes.Cut(raw, []byte{'\n'})
	if !ok {
		return h, fmt.Errorf("chunk record: missing header line")
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("chunk record header: %w", err)
	}
	return h, nil
}

func writeRecord(w interface {
	Write([]byte) (int, error)
	WriteByte(byte) error
}, header any, body any) error {
	hb, err := json.Marshal(header)
	if err != nil {
		return err
	}
	if _, err := w.Write(hb); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(w).Encode(body); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func readRecord(br *bufio.Reader, body any) ([]byte, error) {
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("chunk record: header line: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(body); err != nil {
		return line, fmt.Errorf("gob decode: %w", err)
	}
	return line, nil
}

// RegionHeader describes a region snapshot file.
type RegionHeader struct {
	Version int    `json:"version"`
	Seed    int64  `json:"seed"`
	Chunks  int    `json:"chunks"`
	Written string `json:"written"`
}

type RegionV1 struct {
	Header RegionHeader
	Chunks []ChunkV1
}

// WriteRegion stores chunks in one zstd stream at path.
func WriteRegion(path string, seed int64, chunks []*chunk.Data) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	reg := RegionV1{
		Header: RegionHeader{
			Version: Version,
			Seed:    seed,
			Chunks:  len(chunks),
			Written: time.Now().UTC().Format(time.RFC3339Nano),
		},
		Chunks: make([]ChunkV1, 0, len(chunks)),
	}
	for _, d := range chunks {
		reg.Chunks = append(reg.Chunks, FromChunk(d))
	}
	return writeRecord(bw, reg.Header, &reg)
}

func ReadRegion(path string) (RegionHeader, []*chunk.Data, error) {
	var reg RegionV1
	f, err := os.Open(path)
	if err != nil {
		return reg.Header, nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return reg.Header, nil, err
	}
	defer dec.Close()

	if _, err := readRecord(bufio.NewReaderSize(dec, 256*1024), &reg); err != nil {
		return reg.Header, nil, err
	}
	out := make([]*chunk.Data, 0, len(reg.Chunks))
	for _, rec := range reg.Chunks {
		d, err := rec.ToChunk()
		if err != nil {
			return reg.Header, nil, err
		}
		out = append(out, d)
	}
	return reg.Header, out, nil
}
