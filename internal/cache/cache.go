// Package cache keeps generated chunks in two bounded LRU tiers: loaded
// (active around the reference point) and cached (dormant, evictable).
package cache

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/coords"
)

type Tier uint8

const (
	TierNone Tier = iota
	TierLoaded
	TierCached
)

func (t Tier) String() string {
	switch t {
	case TierLoaded:
		return "loaded"
	case TierCached:
		return "cached"
	}
	return "none"
}

type Config struct {
	MaxLoaded int
	MaxCached int
}

// Entry is a snapshot of one cached chunk.
type Entry struct {
	Coord      coords.ChunkCoord
	Data       *chunk.Data
	LastAccess time.Time
	Tier       Tier
}

type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Demotions uint64 `json:"demotions"`
	Loaded    int    `json:"loaded"`
	Cached    int    `json:"cached"`
}

type entry struct {
	coord      coords.ChunkCoord
	data       *chunk.Data
	lastAccess time.Time
	tier       Tier
	elem       *list.Element
}

// tier is an access ordered set: front is most recently used.
type tier struct {
	capacity int
	order    *list.List
}

func (t *tier) full() bool { return t.order.Len() >= t.capacity }

type ChunkCache struct {
	mu      sync.Mutex
	entries map[coords.ChunkCoord]*entry
	loaded  tier
	cached  tier

	hits      uint64
	misses    uint64
	evictions uint64
	demotions uint64

	onEvict func(coords.ChunkCoord)
	now     func() time.Time
}

func New(cfg Config) *ChunkCache {
	if cfg.MaxLoaded < 0 {
		cfg.MaxLoaded = 0
	}
	if cfg.MaxCached < 0 {
		cfg.MaxCached = 0
	}
	return &ChunkCache{
		entries: map[coords.ChunkCoord]*entry{},
		loaded:  tier{capacity: cfg.MaxLoaded, order: list.New()},
		cached:  tier{capacity: cfg.MaxCached, order: list.New()},
		now:     time.Now,
	}
}

// OnEvict registers fn to run (under the cache lock) when an entry is
// destroyed by LRU overflow or Clear. fn must not call back into the cache.
func (c *ChunkCache) OnEvict(fn func(coords.ChunkCoord)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

func (c *ChunkCache) tierList(t Tier) *tier {
	if t == TierLoaded {
		return &c.loaded
	}
	return &c.cached
}

// Get returns the chunk at coord and marks it most recently used within its
// tier. It never moves an entry between tiers.
func (c *ChunkCache) Get(coord coords.ChunkCoord) (*chunk.Data, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[coord]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	e.lastAccess = c.now()
	c.tierList(e.tier).order.MoveToFront(e.elem)
	return e.data, true
}

// Peek is Get without touching recency or stats.
func (c *ChunkCache) Peek(coord coords.ChunkCoord) (*chunk.Data, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[coord]
	if !ok {
		return nil, false
	}
	return e.data, true
}

// Put stores data in the cached tier, evicting that tier's least recently
// used entry when full. An entry already in the loaded tier is updated in
// place. With zero cached capacity Put is a no-op.
func (c *ChunkCache) Put(coord coords.ChunkCoord, data *chunk.Data) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[coord]; ok {
		c.touch(e, data)
		return
	}
	c.insert(coord, data, TierCached)
}

// PutLoaded stores data in the loaded tier. A full loaded tier evicts
// nothing: the entry goes to the cached tier instead and the returned Tier
// reports where it landed (TierNone when neither tier had room).
func (c *ChunkCache) PutLoaded(coord coords.ChunkCoord, data *chunk.Data) Tier {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[coord]; ok {
		c.touch(e, data)
		if e.tier == TierCached {
			c.promote(e)
		}
		return e.tier
	}
	if !c.loaded.full() {
		return c.insert(coord, data, TierLoaded)
	}
	return c.insert(coord, data, TierCached)
}

// Promote moves a cached entry into the loaded tier if it has room.
func (c *ChunkCache) Promote(coord coords.ChunkCoord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[coord]
	if !ok {
		return false
	}
	if e.tier == TierLoaded {
		return true
	}
	return c.promote(e)
}

func (c *ChunkCache) promote(e *entry) bool {
	if c.loaded.full() {
		return false
	}
	c.cached.order.Remove(e.elem)
	e.tier = TierLoaded
	e.elem = c.loaded.order.PushFront(e)
	return true
}

func (c *ChunkCache) touch(e *entry, data *chunk.Data) {
	e.data = data
	e.lastAccess = c.now()
	c.tierList(e.tier).order.MoveToFront(e.elem)
}

func (c *ChunkCache) insert(coord coords.ChunkCoord, data *chunk.Data, t Tier) Tier {
	tl := c.tierList(t)
	if tl.capacity == 0 {
		return TierNone
	}
	if t == TierCached && tl.full() {
		c.evictOldestCached()
	}
	e := &entry{coord: coord, data: data, lastAccess: c.now(), tier: t}
	e.elem = tl.order.PushFront(e)
	c.entries[coord] = e
	return t
}

func (c *ChunkCache) evictOldestCached() {
	back := c.cached.order.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry)
	c.cached.order.Remove(back)
	delete(c.entries, e.coord)
	c.evictions++
	if c.onEvict != nil {
		c.onEvict(e.coord)
	}
}

// UnloadDistant demotes every loaded chunk whose Chebyshev distance from
// center exceeds radius. Demoted chunks enter the cached tier as most
// recently used and may push out its oldest entries. The demoted coordinates
// are returned nearest first.
func (c *ChunkCache) UnloadDistant(center coords.ChunkCoord, radius int) []coords.ChunkCoord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var far []*entry
	for el := c.loaded.order.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if e.coord.Chebyshev(center) > radius {
			far = append(far, e)
		}
	}
	// Furthest chunks demote first so the nearest end up most recently used.
	sort.SliceStable(far, func(i, j int) bool {
		return lessByDistance(center, far[j].coord, far[i].coord)
	})
	out := make([]coords.ChunkCoord, 0, len(far))
	for _, e := range far {
		c.loaded.order.Remove(e.elem)
		c.demotions++
		if c.cached.capacity == 0 {
			delete(c.entries, e.coord)
			c.evictions++
			if c.onEvict != nil {
				c.onEvict(e.coord)
			}
		} else {
			if c.cached.full() {
				c.evictOldestCached()
			}
			e.tier = TierCached
			e.elem = c.cached.order.PushFront(e)
		}
		out = append(out, e.coord)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (c *ChunkCache) Remove(coord coords.ChunkCoord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[coord]
	if !ok {
		return false
	}
	c.tierList(e.tier).order.Remove(e.elem)
	delete(c.entries, coord)
	return true
}

// Clear evicts every entry. Each one counts as an eviction and is passed to
// the OnEvict hook.
func (c *ChunkCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for coord := range c.entries {
		c.evictions++
		if c.onEvict != nil {
			c.onEvict(coord)
		}
	}
	c.entries = map[coords.ChunkCoord]*entry{}
	c.loaded.order.Init()
	c.cached.order.Init()
}

func (c *ChunkCache) Contains(coord coords.ChunkCoord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[coord]
	return ok
}

func (c *ChunkCache) TierOf(coord coords.ChunkCoord) Tier {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[coord]; ok {
		return e.tier
	}
	return TierNone
}

func (c *ChunkCache) LoadedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded.order.Len()
}

func (c *ChunkCache) CachedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cached.order.Len()
}

// MemoryUsage estimates the bytes held by all cached chunk data.
func (c *ChunkCache) MemoryUsage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, e := range c.entries {
		if e.data != nil {
			n += int64(e.data.MemorySize())
		}
	}
	return n
}

func (c *ChunkCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Demotions: c.demotions,
		Loaded:    c.loaded.order.Len(),
		Cached:    c.cached.order.Len(),
	}
}

// Entries returns copies of the entries of t, most recently used first.
func (c *ChunkCache) Entries(t Tier) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	tl := c.tierList(t)
	out := make([]Entry, 0, tl.order.Len())
	for el := tl.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		out = append(out, Entry{Coord: e.coord, Data: e.data, LastAccess: e.lastAccess, Tier: e.tier})
	}
	return out
}
