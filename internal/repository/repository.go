// Package repository defines the chunk persistence contract shared by the
// storage backends.
package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/coords"
	"voxelforge.ai/internal/persistence/codec"
)

var (
	ErrNotFound = errors.New("chunk not found")
	// ErrUnavailable marks backend failures that make the store unusable as
	// a whole, as opposed to a failure for one record.
	ErrUnavailable = errors.New("repository unavailable")
	ErrClosed      = errors.New("repository closed")
)

type Repository interface {
	Load(ctx context.Context, c coords.ChunkCoord) (*chunk.Data, error)
	// Save persists d unless the stored record already has the same content
	// hash.
	Save(ctx context.Context, c coords.ChunkCoord, d *chunk.Data) error
	Observe() <-chan Event
	Close() error
}

type EventKind uint8

const (
	EventLoaded EventKind = iota + 1
	EventSaved
	EventSkipped
	EventMissing
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventLoaded:
		return "loaded"
	case EventSaved:
		return "saved"
	case EventSkipped:
		return "skipped"
	case EventMissing:
		return "missing"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

type Event struct {
	Kind        EventKind
	Coord       coords.ChunkCoord
	ContentHash uint64
	Err         error
	At          time.Time
}

// Record is the stored form of one chunk.
type Record struct {
	Key         string
	X           int
	Z           int
	ContentHash uint64
	Payload     []byte
	UpdatedAt   time.Time
}

func EncodeRecord(c coords.ChunkCoord, d *chunk.Data) (Record, error) {
	b, err := codec.Encode(d)
	if err != nil {
		return Record{}, err
	}
	return Record{
		Key:         c.Key(),
		X:           c.X,
		Z:           c.Z,
		ContentHash: d.ContentHash(),
		Payload:     b,
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

func (r Record) Decode() (*chunk.Data, error) {
	return codec.Decode(r.Payload)
}

// Notifier fans repository events out to one observer channel. Events are
// dropped rather than blocking storage calls when the observer lags.
type Notifier struct {
	ch      chan Event
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

func NewNotifier(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Notifier{ch: make(chan Event, buffer)}
}

func (n *Notifier) Emit(kind EventKind, c coords.ChunkCoord, hash uint64, err error) {
	if n == nil {
		return
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.ch <- Event{Kind: kind, Coord: c, ContentHash: hash, Err: err, At: time.Now().UTC()}:
	default:
		n.dropped.Add(1)
	}
}

func (n *Notifier) Chan() <-chan Event { return n.ch }

func (n *Notifier) Dropped() uint64 { return n.dropped.Load() }

func (n *Notifier) Close() {
	n.once.Do(func() {
		n.mu.Lock()
		n.closed = true
		close(n.ch)
		n.mu.Unlock()
	})
}
