// Package engine ties one world's seed, synthesizer, cache, repository and
// generation sessions together behind the operations the server exposes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"voxelforge.ai/internal/cache"
	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/coords"
	"voxelforge.ai/internal/gen/terrain"
	"voxelforge.ai/internal/persistence/codec"
	"voxelforge.ai/internal/persistence/mirror"
	"voxelforge.ai/internal/repository"
	"voxelforge.ai/internal/session"
)

// ErrNotGenerated is returned by GetChunk for a chunk that is neither cached
// nor stored.
var ErrNotGenerated = errors.New("chunk not generated")

type Config struct {
	Seed         coords.WorldSeed
	Terrain      terrain.Config
	Cache        cache.Config
	Session      session.Config
	LoadRadius   int
	UnloadRadius int
}

type Deps struct {
	Repository repository.Repository
	Logger     *log.Logger
	// Sinks receive every session event, after the world's own fan-out.
	Sinks   []session.Sink
	Mirror  *mirror.Mirror
	DataDir string
}

type World struct {
	cfg     Config
	synth   *terrain.Synthesizer
	cache   *cache.ChunkCache
	repo    repository.Repository
	logger  *log.Logger
	sinks   []session.Sink
	mirror  *mirror.Mirror
	dataDir string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	current  *session.Session
	center   coords.ChunkCoord
	started  int
	finished []session.Performance

	hubMu   sync.Mutex
	subs    map[int]chan session.Event
	nextSub int
	dropped atomic.Uint64

	repoEvents [repository.EventFailed + 1]atomic.Uint64
	repoDone   chan struct{}
}

const historyLimit = 16

func New(cfg Config, deps Deps) (*World, error) {
	synth, err := terrain.New(cfg.Seed, cfg.Terrain)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if cfg.LoadRadius < 0 {
		return nil, fmt.Errorf("engine: negative load radius %d", cfg.LoadRadius)
	}
	if cfg.UnloadRadius < cfg.LoadRadius {
		cfg.UnloadRadius = cfg.LoadRadius
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &World{
		cfg:      cfg,
		synth:    synth,
		cache:    cache.New(cfg.Cache),
		repo:     deps.Repository,
		logger:   deps.Logger,
		sinks:    deps.Sinks,
		mirror:   deps.Mirror,
		dataDir:  deps.DataDir,
		ctx:      ctx,
		cancel:   cancel,
		subs:     map[int]chan session.Event{},
		repoDone: make(chan struct{}),
	}
	if w.repo != nil {
		go w.observeRepository(w.repo.Observe())
	} else {
		close(w.repoDone)
	}
	return w, nil
}

func (w *World) printf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}

func (w *World) Seed() coords.WorldSeed           { return w.cfg.Seed }
func (w *World) Synthesizer() *terrain.Synthesizer { return w.synth }
func (w *World) Cache() *cache.ChunkCache          { return w.cache }
func (w *World) LoadRadius() int                   { return w.cfg.LoadRadius }
func (w *World) ChunkHeight() int                  { return w.cfg.Terrain.ChunkHeight }

func (w *World) observeRepository(ch <-chan repository.Event) {
	defer close(w.repoDone)
	for ev := range ch {
		if int(ev.Kind) < len(w.repoEvents) {
			w.repoEvents[ev.Kind].Add(1)
		}
		if ev.Kind == repository.EventFailed {
			w.printf("repository %s chunk=%s err=%v", ev.Kind, ev.Coord, ev.Err)
		}
	}
}

// UpdatePlayerPosition recenters the world on pos: distant chunks are
// demoted, cached chunks back inside the load radius are promoted and the
// missing ones are queued on the running session, or on a new one.
func (w *World) UpdatePlayerPosition(pos coords.WorldPos) error {
	c := pos.Chunk()

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.center = c
	if demoted := w.cache.UnloadDistant(c, w.cfg.UnloadRadius); len(demoted) > 0 {
		w.printf("unloaded %d chunks beyond r=%d of %s", len(demoted), w.cfg.UnloadRadius, c)
	}
	for _, cc := range cache.GenerateLoadOrder(c, w.cfg.LoadRadius) {
		if w.cache.TierOf(cc) == cache.TierCached {
			w.cache.Promote(cc)
		}
	}

	if s := w.current; s != nil && !isDone(s) {
		s.UpdatePlayerPosition(c)
		_, err := s.EnqueueLoadOrder(c, w.cfg.LoadRadius)
		if err == nil {
			return nil
		}
		if !errors.Is(err, session.ErrNotRunning) {
			return err
		}
	}
	return w.startSessionLocked(c)
}

func (w *World) startSessionLocked(c coords.ChunkCoord) error {
	if s := w.current; s != nil && isDone(s) {
		w.retireLocked(s)
	}
	sinks := append([]session.Sink{w}, w.sinks...)
	s := session.New(w.cfg.Session, session.Deps{
		Generator:  w.synth,
		Repository: w.repo,
		Cache:      w.cache,
		Logger:     w.logger,
		Sinks:      sinks,
	})
	ids, err := s.EnqueueLoadOrder(c, w.cfg.LoadRadius)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.Start(w.ctx); err != nil {
		return err
	}
	w.current = s
	w.started++
	w.printf("session %s started at %s: %d batches", s.ID(), c, len(ids))
	return nil
}

func (w *World) retireLocked(s *session.Session) {
	w.finished = append(w.finished, s.PerformanceSnapshot())
	if len(w.finished) > historyLimit {
		w.finished = w.finished[len(w.finished)-historyLimit:]
	}
	w.current = nil
}

func isDone(s *session.Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

// CurrentSession returns the most recent session, or nil.
func (w *World) CurrentSession() *session.Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// GetChunk serves c from the cache, falling back to the repository. A chunk
// read from the repository lands in the cached tier.
func (w *World) GetChunk(ctx context.Context, c coords.ChunkCoord) (*chunk.Data, error) {
	if d, ok := w.cache.Get(c); ok {
		return d, nil
	}
	if w.repo == nil {
		return nil, ErrNotGenerated
	}
	d, err := w.repo.Load(ctx, c)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotGenerated
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", c, err)
	}
	w.cache.Put(c, d)
	return d, nil
}

func (w *World) LoadedChunkCount() int { return w.cache.LoadedCount() }
func (w *World) CachedChunkCount() int { return w.cache.CachedCount() }
func (w *World) MemoryUsage() int64    { return w.cache.MemoryUsage() }

type RepositoryStats struct {
	Loaded  uint64 `json:"loaded"`
	Saved   uint64 `json:"saved"`
	Skipped uint64 `json:"skipped"`
	Missing uint64 `json:"missing"`
	Failed  uint64 `json:"failed"`
}

type Snapshot struct {
	Seed             int64                 `json:"seed"`
	Center           coords.ChunkCoord     `json:"center"`
	LoadedChunks     int                   `json:"loaded_chunks"`
	CachedChunks     int                   `json:"cached_chunks"`
	MemoryUsage      int64                 `json:"memory_usage_bytes"`
	Cache            cache.Stats           `json:"cache"`
	SessionsStarted  int                   `json:"sessions_started"`
	Current          *session.Performance  `json:"current_session,omitempty"`
	Recent           []session.Performance `json:"recent_sessions,omitempty"`
	Repository       RepositoryStats       `json:"repository"`
	Mirror           mirror.Stats          `json:"mirror"`
	DroppedEvents    uint64                `json:"dropped_events"`
	EventSubscribers int                   `json:"event_subscribers"`
}

func (w *World) PerformanceSnapshot() Snapshot {
	w.mu.Lock()
	snap := Snapshot{
		Seed:            int64(w.cfg.Seed),
		Center:          w.center,
		SessionsStarted: w.started,
		Recent:          append([]session.Performance(nil), w.finished...),
	}
	cur := w.current
	w.mu.Unlock()

	if cur != nil {
		p := cur.PerformanceSnapshot()
		snap.Current = &p
	}
	snap.LoadedChunks = w.cache.LoadedCount()
	snap.CachedChunks = w.cache.CachedCount()
	snap.MemoryUsage = w.cache.MemoryUsage()
	snap.Cache = w.cache.Stats()
	snap.Repository = RepositoryStats{
		Loaded:  w.repoEvents[repository.EventLoaded].Load(),
		Saved:   w.repoEvents[repository.EventSaved].Load(),
		Skipped: w.repoEvents[repository.EventSkipped].Load(),
		Missing: w.repoEvents[repository.EventMissing].Load(),
		Failed:  w.repoEvents[repository.EventFailed].Load(),
	}
	snap.Mirror = w.mirror.Stats()
	snap.DroppedEvents = w.dropped.Load()
	w.hubMu.Lock()
	snap.EventSubscribers = len(w.subs)
	w.hubMu.Unlock()
	return snap
}

// Record fans session events out to subscribers. It runs under the emitting
// session's lock and never blocks.
func (w *World) Record(ev session.Event) error {
	w.hubMu.Lock()
	defer w.hubMu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- ev:
		default:
			w.dropped.Add(1)
		}
	}
	return nil
}

// SubscribeEvents streams events from every session of this world.
func (w *World) SubscribeEvents(buffer int) (<-chan session.Event, func()) {
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan session.Event, buffer)
	w.hubMu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = ch
	w.hubMu.Unlock()
	return ch, func() {
		w.hubMu.Lock()
		defer w.hubMu.Unlock()
		if c, ok := w.subs[id]; ok {
			close(c)
			delete(w.subs, id)
		}
	}
}

// ExportRegion writes every cached chunk to
// <dataDir>/regions/region-<unix>.region.zst and hands the file to the
// mirror.
func (w *World) ExportRegion(now time.Time) (string, error) {
	if w.dataDir == "" {
		return "", fmt.Errorf("engine: no data dir configured")
	}
	var chunks []*chunk.Data
	for _, t := range []cache.Tier{cache.TierLoaded, cache.TierCached} {
		for _, e := range w.cache.Entries(t) {
			chunks = append(chunks, e.Data)
		}
	}
	sort.Slice(chunks, func(i, j int) bool {
		a, b := chunks[i].Coord, chunks[j].Coord
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Z < b.Z
	})
	dir := filepath.Join(w.dataDir, "regions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("region-%d.region.zst", now.UTC().Unix()))
	if err := codec.WriteRegion(path, int64(w.cfg.Seed), chunks); err != nil {
		return "", fmt.Errorf("export region: %w", err)
	}
	w.printf("exported %d chunks to %s", len(chunks), path)
	w.mirror.Enqueue(path)
	return path, nil
}

// Close cancels the running session and waits for it to drain.
func (w *World) Close(ctx context.Context) error {
	w.mu.Lock()
	s := w.current
	w.cancel()
	w.mu.Unlock()
	if s == nil {
		return nil
	}
	s.Cancel()
	err := s.Wait(ctx)
	if errors.Is(err, session.ErrCancelled) {
		return nil
	}
	return err
}

// WaitRepository blocks until the repository's event stream is closed.
func (w *World) WaitRepository(ctx context.Context) error {
	select {
	case <-w.repoDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
