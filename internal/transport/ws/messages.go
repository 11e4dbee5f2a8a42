package ws

import (
	jsoniter "github.com/json-iterator/go"

	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/coords"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const ProtocolVersion = "1.0"

const (
	TypeHello    = "HELLO"
	TypeWelcome  = "WELCOME"
	TypePosition = "POSITION"
	TypeGetChunk = "GET_CHUNK"
	TypeChunk    = "CHUNK"
	TypeEvent    = "SESSION_EVENT"
	TypeError    = "ERROR"
)

type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// Events opts into SESSION_EVENT frames.
	Events   bool `json:"events"`
	MaxQueue int  `json:"max_queue,omitempty"`
}

type WorldParams struct {
	Seed        int64  `json:"seed"`
	ChunkSize   [2]int `json:"chunk_size"`
	ChunkHeight int    `json:"chunk_height"`
	LoadRadius  int    `json:"load_radius"`
}

type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ClientID        string      `json:"client_id"`
	World           WorldParams `json:"world_params"`
}

type PositionMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Pos             [3]float64 `json:"pos"`
}

type GetChunkMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	X               int    `json:"x"`
	Z               int    `json:"z"`
}

// ChunkMsg carries the surface of one column: per-column heights and
// biomes in z*16+x order.
type ChunkMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	X               int      `json:"x"`
	Z               int      `json:"z"`
	Status          string   `json:"status"`
	ContentHash     uint64   `json:"content_hash,omitempty"`
	Heights         []int    `json:"heights,omitempty"`
	Biomes          []string `json:"biomes,omitempty"`
	Structures      int      `json:"structures,omitempty"`
}

type EventMsg struct {
	Type            string              `json:"type"`
	ProtocolVersion string              `json:"protocol_version"`
	Event           jsoniter.RawMessage `json:"event"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func chunkMsg(c coords.ChunkCoord, d *chunk.Data) ChunkMsg {
	m := ChunkMsg{Type: TypeChunk, ProtocolVersion: ProtocolVersion, X: c.X, Z: c.Z}
	if d == nil {
		m.Status = chunk.StatusUngenerated.String()
		return m
	}
	m.Status = d.Status.String()
	m.ContentHash = d.ContentHash()
	m.Structures = d.StructureCount
	if d.HeightMap != nil {
		m.Heights = append([]int(nil), d.HeightMap.Heights...)
	}
	m.Biomes = make([]string, len(d.Biomes))
	for i, b := range d.Biomes {
		m.Biomes[i] = b.String()
	}
	return m
}
