// Package memrepo is an in-process chunk repository with fault injection,
// used by tests and by servers running without durable storage.
package memrepo

import (
	"context"
	"fmt"
	"sync"

	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/coords"
	"voxelforge.ai/internal/repository"
)

type Stats struct {
	Loads   int
	Saves   int
	Skipped int
	Writes  int
}

type Repo struct {
	mu      sync.Mutex
	records map[string]repository.Record
	stats   Stats

	unavailable bool
	failLoad    map[coords.ChunkCoord]int
	failSave    map[coords.ChunkCoord]int

	notify *repository.Notifier
	closed bool
}

func New() *Repo {
	return &Repo{
		records:  map[string]repository.Record{},
		failLoad: map[coords.ChunkCoord]int{},
		failSave: map[coords.ChunkCoord]int{},
		notify:   repository.NewNotifier(0),
	}
}

// SetUnavailable makes every call fail with repository.ErrUnavailable.
func (r *Repo) SetUnavailable(v bool) {
	r.mu.Lock()
	r.unavailable = v
	r.mu.Unlock()
}

// FailSaves makes the next n saves of c fail. n < 0 fails forever.
func (r *Repo) FailSaves(c coords.ChunkCoord, n int) {
	r.mu.Lock()
	r.failSave[c] = n
	r.mu.Unlock()
}

// FailLoads makes the next n loads of c fail. n < 0 fails forever.
func (r *Repo) FailLoads(c coords.ChunkCoord, n int) {
	r.mu.Lock()
	r.failLoad[c] = n
	r.mu.Unlock()
}

func consume(m map[coords.ChunkCoord]int, c coords.ChunkCoord) bool {
	n, ok := m[c]
	if !ok || n == 0 {
		return false
	}
	if n > 0 {
		m[c] = n - 1
	}
	return true
}

func (r *Repo) Load(ctx context.Context, c coords.ChunkCoord) (*chunk.Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	if err := r.checkLocked(); err != nil {
		r.mu.Unlock()
		r.notify.Emit(repository.EventFailed, c, 0, err)
		return nil, err
	}
	r.stats.Loads++
	if consume(r.failLoad, c) {
		r.mu.Unlock()
		err := fmt.Errorf("load %s: injected failure", c)
		r.notify.Emit(repository.EventFailed, c, 0, err)
		return nil, err
	}
	rec, ok := r.records[c.Key()]
	r.mu.Unlock()
	if !ok {
		r.notify.Emit(repository.EventMissing, c, 0, nil)
		return nil, repository.ErrNotFound
	}
	d, err := rec.Decode()
	if err != nil {
		r.notify.Emit(repository.EventFailed, c, rec.ContentHash, err)
		return nil, fmt.Errorf("load %s: %w", c, err)
	}
	r.notify.Emit(repository.EventLoaded, c, rec.ContentHash, nil)
	return d, nil
}

func (r *Repo) Save(ctx context.Context, c coords.ChunkCoord, d *chunk.Data) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLocked(); err != nil {
		r.notify.Emit(repository.EventFailed, c, 0, err)
		return err
	}
	r.stats.Saves++
	if consume(r.failSave, c) {
		err := fmt.Errorf("save %s: injected failure", c)
		r.notify.Emit(repository.EventFailed, c, 0, err)
		return err
	}
	hash := d.ContentHash()
	if old, ok := r.records[c.Key()]; ok && old.ContentHash == hash {
		r.stats.Skipped++
		r.notify.Emit(repository.EventSkipped, c, hash, nil)
		return nil
	}
	rec, err := repository.EncodeRecord(c, d)
	if err != nil {
		return fmt.Errorf("save %s: %w", c, err)
	}
	r.records[rec.Key] = rec
	r.stats.Writes++
	r.notify.Emit(repository.EventSaved, c, hash, nil)
	return nil
}

func (r *Repo) checkLocked() error {
	if r.closed {
		return repository.ErrClosed
	}
	if r.unavailable {
		return repository.ErrUnavailable
	}
	return nil
}

func (r *Repo) Observe() <-chan repository.Event { return r.notify.Chan() }

func (r *Repo) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Repo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *Repo) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.notify.Close()
	return nil
}
