// Package leveldb stores chunk records in a LevelDB database. Each value is
// the 8-byte big endian content hash followed by the encoded record.
package leveldb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/df-mc/goleveldb/leveldb/storage"

	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/coords"
	"voxelforge.ai/internal/repository"
)

const keyPrefix = "chunk/"

type Repo struct {
	db     *leveldb.DB
	notify *repository.Notifier

	// mu serialises the hash check with the write for one Save.
	mu sync.Mutex
}

// Open opens or creates a database directory at path.
func Open(path string) (*Repo, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		// Records are zstd compressed already.
		Compression: opt.NoCompression,
	})
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return wrap(db), nil
}

// OpenMemory opens a database backed by memory only.
func OpenMemory() (*Repo, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return wrap(db), nil
}

func wrap(db *leveldb.DB) *Repo {
	return &Repo{db: db, notify: repository.NewNotifier(0)}
}

func key(c coords.ChunkCoord) []byte { return []byte(keyPrefix + c.Key()) }

func (r *Repo) Load(ctx context.Context, c coords.ChunkCoord) (*chunk.Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := r.db.Get(key(c), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		r.notify.Emit(repository.EventMissing, c, 0, nil)
		return nil, repository.ErrNotFound
	case err != nil:
		err = classify(err)
		r.notify.Emit(repository.EventFailed, c, 0, err)
		return nil, fmt.Errorf("load %s: %w", c, err)
	}
	if len(v) < 8 {
		err := fmt.Errorf("load %s: short value (%d bytes)", c, len(v))
		r.notify.Emit(repository.EventFailed, c, 0, err)
		return nil, err
	}
	hash := binary.BigEndian.Uint64(v[:8])
	rec := repository.Record{Key: c.Key(), X: c.X, Z: c.Z, ContentHash: hash, Payload: v[8:]}
	d, err := rec.Decode()
	if err != nil {
		r.notify.Emit(repository.EventFailed, c, hash, err)
		return nil, fmt.Errorf("load %s: %w", c, err)
	}
	r.notify.Emit(repository.EventLoaded, c, hash, nil)
	return d, nil
}

func (r *Repo) Save(ctx context.Context, c coords.ChunkCoord, d *chunk.Data) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	hash := d.ContentHash()
	old, err := r.db.Get(key(c), nil)
	if err != nil && !errors.Is(err, leveldb.ErrNotFound) {
		err = classify(err)
		r.notify.Emit(repository.EventFailed, c, hash, err)
		return fmt.Errorf("save %s: %w", c, err)
	}
	if len(old) >= 8 && binary.BigEndian.Uint64(old[:8]) == hash {
		r.notify.Emit(repository.EventSkipped, c, hash, nil)
		return nil
	}
	rec, err := repository.EncodeRecord(c, d)
	if err != nil {
		return fmt.Errorf("save %s: %w", c, err)
	}
	v := make([]byte, 8+len(rec.Payload))
	binary.BigEndian.PutUint64(v[:8], hash)
	copy(v[8:], rec.Payload)
	if err := r.db.Put(key(c), v, nil); err != nil {
		err = classify(err)
		r.notify.Emit(repository.EventFailed, c, hash, err)
		return fmt.Errorf("save %s: %w", c, err)
	}
	r.notify.Emit(repository.EventSaved, c, hash, nil)
	return nil
}

func classify(err error) error {
	if errors.Is(err, leveldb.ErrClosed) {
		return fmt.Errorf("%w: %v", repository.ErrUnavailable, err)
	}
	return err
}

func (r *Repo) Observe() <-chan repository.Event { return r.notify.Chan() }

func (r *Repo) Close() error {
	r.notify.Close()
	return r.db.Close()
}
