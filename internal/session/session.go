// Package session schedules chunk generation for one world-load request.
//
// A Session owns a priority queue of batches. A dispatcher goroutine hands
// batches to at most MaxConcurrentGenerations workers. Every state change is
// recorded as an Event and folded into State, so the event log alone is
// enough to rebuild the session (see Replay).
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"voxelforge.ai/internal/cache"
	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/coords"
	"voxelforge.ai/internal/repository"
)

// Generator produces chunk content. *terrain.Synthesizer satisfies it.
type Generator interface {
	GenerateChunk(c coords.ChunkCoord) *chunk.Data
}

// Sink receives every event synchronously, in version order, while the
// session lock is held. Record must not call back into the Session.
type Sink interface {
	Record(ev Event) error
}

type Deps struct {
	Generator  Generator
	Repository repository.Repository
	Cache      *cache.ChunkCache
	Logger     *log.Logger
	Sinks      []Sink

	// ID overrides the generated session id.
	ID  string
	Now func() time.Time
}

var errNoGenerator = errors.New("no generator configured")

type Session struct {
	id     string
	cfg    Config
	gen    Generator
	repo   repository.Repository
	cache  *cache.ChunkCache
	logger *log.Logger
	sinks  []Sink
	now    func() time.Time

	sem  *semaphore.Weighted
	wake chan struct{}
	done chan struct{}

	mu        sync.Mutex
	state     State
	events    []Event
	subs      map[int]chan Event
	nextSub   int
	dropped   uint64
	queue     batchQueue
	retrying  map[BatchID]*batch
	owned     map[coords.ChunkCoord]BatchID
	generated map[coords.ChunkCoord]struct{}
	nextBatch BatchID
	seq       uint64
	reference coords.ChunkCoord

	inflight        int
	maxInflight     int
	limitRejections uint64
	consecutiveFail int

	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	stopping bool
	terminal Event
	finished bool
	failErr  error
	started  time.Time
}

func New(cfg Config, deps Deps) *Session {
	cfg = cfg.normalized()
	id := deps.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	c := deps.Cache
	if c == nil {
		c = cache.New(cache.Config{MaxLoaded: 256, MaxCached: 1024})
	}
	s := &Session{
		id:        id,
		cfg:       cfg,
		gen:       deps.Generator,
		repo:      deps.Repository,
		cache:     c,
		logger:    deps.Logger,
		sinks:     deps.Sinks,
		now:       now,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentGenerations)),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		state:     newState(),
		subs:      map[int]chan Event{},
		retrying:  map[BatchID]*batch{},
		owned:     map[coords.ChunkCoord]BatchID{},
		generated: map[coords.ChunkCoord]struct{}{},
		ctx:       context.Background(),
	}
	s.mu.Lock()
	s.emit(&SessionCreated{
		MaxConcurrent: cfg.MaxConcurrentGenerations,
		MaxAttempts:   cfg.MaxAttempts,
		BatchSize:     cfg.BatchSize,
	})
	s.mu.Unlock()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Config() Config { return s.cfg }

func (s *Session) Cache() *cache.ChunkCache { return s.cache }

func (s *Session) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Enqueue splits cs into batches of BatchSize, in order, skipping coords
// this session already owns or has generated. Lower priority values are
// dispatched first among batches at the same distance.
func (s *Session) Enqueue(cs []coords.ChunkCoord, priority int) ([]BatchID, error) {
	s.mu.Lock()
	ids, err := s.enqueueLocked(cs, priority)
	s.mu.Unlock()
	s.signal()
	return ids, err
}

// EnqueueLoadOrder moves the reference point to center and enqueues every
// chunk within radius that the cache does not hold yet, nearest first.
func (s *Session) EnqueueLoadOrder(center coords.ChunkCoord, radius int) ([]BatchID, error) {
	order := cache.GenerateLoadOrder(center, radius)
	missing := order[:0]
	for _, c := range order {
		if !s.cache.Contains(c) {
			missing = append(missing, c)
		}
	}
	s.mu.Lock()
	s.reference = center
	s.queue.reprioritize(center)
	ids, err := s.enqueueLocked(missing, 0)
	s.mu.Unlock()
	s.signal()
	return ids, err
}

func (s *Session) enqueueLocked(cs []coords.ChunkCoord, priority int) ([]BatchID, error) {
	if s.stopping || s.state.Status.Terminal() {
		return nil, ErrNotRunning
	}
	seen := make(map[coords.ChunkCoord]struct{}, len(cs))
	fresh := make([]coords.ChunkCoord, 0, len(cs))
	for _, c := range cs {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		if _, ok := s.owned[c]; ok {
			continue
		}
		if _, ok := s.generated[c]; ok {
			if s.cache.Contains(c) {
				continue
			}
			// Evicted since it was generated.
			delete(s.generated, c)
		}
		fresh = append(fresh, c)
	}

	var ids []BatchID
	for start := 0; start < len(fresh); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(fresh) {
			end = len(fresh)
		}
		s.nextBatch++
		s.seq++
		b := &batch{
			id:       s.nextBatch,
			coords:   append([]coords.ChunkCoord(nil), fresh[start:end]...),
			priority: priority,
			attempt:  1,
			seq:      s.seq,
		}
		b.dist = b.distanceTo(s.reference)
		for _, c := range b.coords {
			s.owned[c] = b.id
		}
		s.emit(&BatchEnqueued{BatchID: b.id, Priority: priority, Coords: b.coords})
		s.queue.push(b)
		ids = append(ids, b.id)
	}
	return ids, nil
}

// Start launches the dispatcher. Batches enqueued before Start are
// dispatched immediately; a session started with nothing queued completes.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if s.stopping || s.state.Status.Terminal() {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = s.now()
	s.mu.Unlock()

	go s.dispatchLoop()
	s.signal()
	return nil
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) dispatchLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			s.Cancel()
			return
		case <-s.wake:
		}
		s.dispatchReady()
	}
}

func (s *Session) dispatchReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.queue.Len() > 0 && s.dispatchableLocked() {
		b := s.queue.pop()
		if err := s.acquire(); err != nil {
			s.limitRejections++
			s.queue.push(b)
			break
		}
		if s.state.Status == StatusCreated {
			s.emit(&SessionStarted{})
		}
		s.inflight++
		if s.inflight > s.maxInflight {
			s.maxInflight = s.inflight
		}
		s.emit(&BatchStarted{BatchID: b.id, Attempt: b.attempt})
		go s.execute(b, b.attempt)
	}
	s.maybeFinishLocked()
}

func (s *Session) dispatchableLocked() bool {
	if !s.running || s.stopping {
		return false
	}
	return s.state.Status == StatusCreated || s.state.Status == StatusStarted
}

func (s *Session) acquire() error {
	if !s.sem.TryAcquire(1) {
		return ErrGenerationLimitExceeded
	}
	return nil
}

func (s *Session) execute(b *batch, attempt int) {
	start := time.Now()
	results, err := s.produceBatch(b, attempt)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.sem.Release(1)
	s.inflight--
	if err == nil {
		s.batchSucceededLocked(b, results, elapsed)
	} else {
		s.batchFailedLocked(b, err)
	}
	s.emit(&ProgressUpdated{Progress: s.state.Progress})
	s.maybeFinishLocked()
	s.mu.Unlock()
	s.signal()
}

func (s *Session) produceBatch(b *batch, attempt int) ([]*chunk.Data, error) {
	out := make([]*chunk.Data, 0, len(b.coords))
	for _, c := range b.coords {
		d, reason, err := s.produce(s.ctx, c)
		if err != nil {
			return nil, &ChunkLoadFailed{Coord: c, Batch: b.id, Attempt: attempt, Reason: reason, Err: err}
		}
		out = append(out, d)
	}
	return out, nil
}

// produce reads c through the repository and generates it on a miss.
func (s *Session) produce(ctx context.Context, c coords.ChunkCoord) (*chunk.Data, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "cancelled", err
	}
	if s.repo != nil {
		d, err := s.repo.Load(ctx, c)
		if err == nil && d != nil {
			return d, "", nil
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, "repository load", err
		}
	}
	if s.gen == nil {
		return nil, "generate", errNoGenerator
	}
	d := s.gen.GenerateChunk(c)
	if s.repo != nil {
		if err := s.repo.Save(ctx, c, d); err != nil {
			return nil, "repository save", err
		}
	}
	return d, "", nil
}

func (s *Session) batchSucceededLocked(b *batch, results []*chunk.Data, elapsed time.Duration) {
	s.consecutiveFail = 0
	for i, c := range b.coords {
		s.cache.PutLoaded(c, results[i])
		delete(s.owned, c)
		s.generated[c] = struct{}{}
	}
	s.emit(&BatchCompleted{BatchID: b.id, Attempt: b.attempt, Duration: elapsed})
}

func (s *Session) batchFailedLocked(b *batch, err error) {
	unavailable := errors.Is(err, repository.ErrUnavailable) || errors.Is(err, repository.ErrClosed)
	willRetry := !unavailable && !s.stopping && s.ctx.Err() == nil && b.attempt < s.cfg.MaxAttempts

	// Only batches that have used up their attempts count toward the
	// systemic threshold. A retried attempt is an ordinary failure.
	systemic := unavailable
	if !willRetry && !s.stopping {
		s.consecutiveFail++
		if s.cfg.MaxSystemicFailures > 0 && s.consecutiveFail >= s.cfg.MaxSystemicFailures {
			systemic = true
		}
	}

	ev := &BatchFailed{BatchID: b.id, Attempt: b.attempt, WillRetry: willRetry, Reason: err.Error()}
	var clf *ChunkLoadFailed
	if errors.As(err, &clf) {
		coord := clf.Coord
		ev.Coord = &coord
	}
	s.emit(ev)
	s.logf("batch %d attempt %d/%d failed (retry=%v): %v", b.id, b.attempt, s.cfg.MaxAttempts, willRetry, err)

	if willRetry {
		s.scheduleRetryLocked(b)
	} else {
		for _, c := range b.coords {
			delete(s.owned, c)
		}
	}
	if systemic && !s.stopping {
		reason := "repository unavailable"
		if !unavailable {
			reason = fmt.Sprintf("%d consecutive failed batches", s.consecutiveFail)
		}
		s.failLocked(reason, err)
	}
}

func (s *Session) scheduleRetryLocked(b *batch) {
	if b.backoff == nil {
		b.backoff = s.cfg.newBackOff()
	}
	delay := b.backoff.NextBackOff()
	s.retrying[b.id] = b
	b.timer = time.AfterFunc(delay, func() { s.retryReady(b, delay) })
}

func (s *Session) retryReady(b *batch, delay time.Duration) {
	s.mu.Lock()
	if _, ok := s.retrying[b.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.retrying, b.id)
	b.timer = nil
	b.attempt++
	b.dist = b.distanceTo(s.reference)
	s.emit(&BatchRetried{BatchID: b.id, Attempt: b.attempt, Delay: delay})
	s.queue.push(b)
	s.mu.Unlock()
	s.signal()
}

// dropPendingLocked cancels queued and retry-waiting batches. Their coords
// return to ungenerated.
func (s *Session) dropPendingLocked() int {
	dropped := s.queue.drain()
	for id, b := range s.retrying {
		if b.timer != nil {
			b.timer.Stop()
		}
		delete(s.retrying, id)
		dropped = append(dropped, b)
	}
	for _, b := range dropped {
		for _, c := range b.coords {
			delete(s.owned, c)
		}
		s.emit(&BatchCancelled{BatchID: b.id})
	}
	if len(dropped) > 0 {
		s.emit(&ProgressUpdated{Progress: s.state.Progress})
	}
	return len(dropped)
}

func (s *Session) failLocked(reason string, err error) {
	s.stopping = true
	s.failErr = err
	s.dropPendingLocked()
	s.terminal = &SessionFailed{Reason: reason}
	s.logf("session %s failed: %s: %v", s.id, reason, err)
}

func (s *Session) maybeFinishLocked() {
	if s.finished {
		return
	}
	if s.stopping {
		if s.inflight == 0 && s.terminal != nil {
			s.emit(s.terminal)
			s.finishLocked()
		}
		return
	}
	if !s.running || s.state.Status == StatusPaused {
		return
	}
	if s.inflight == 0 && s.queue.Len() == 0 && len(s.retrying) == 0 && s.state.AllTerminal() {
		if s.state.Status == StatusCreated {
			s.emit(&SessionStarted{})
		}
		s.emit(&SessionCompleted{Progress: s.state.Progress})
		s.finishLocked()
	}
}

func (s *Session) finishLocked() {
	s.finished = true
	close(s.done)
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	if s.cancel != nil {
		s.cancel()
	}
	p := s.state.Progress
	s.logf("session %s %s: %d/%d chunks, %d failed, success=%.3f",
		s.id, s.state.Status, p.CompletedChunks, p.TotalChunks, p.FailedChunks, p.SuccessRate)
}

// emit stamps ev with the next version, folds it into the state and
// publishes it. Callers hold s.mu.
func (s *Session) emit(ev Event) {
	ev.stamp(EventHeader{SessionID: s.id, Version: s.state.Version + 1, At: s.now().UTC()})
	if err := s.state.Apply(ev); err != nil {
		s.logf("apply %s: %v", ev.Kind(), err)
		return
	}
	s.events = append(s.events, ev)
	for _, sink := range s.sinks {
		if err := sink.Record(ev); err != nil {
			s.logf("event sink: %v", err)
		}
	}
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.dropped++
		}
	}
}

func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping || s.state.Status != StatusStarted {
		return ErrNotRunning
	}
	s.emit(&SessionPaused{InFlight: s.inflight})
	return nil
}

func (s *Session) Resume() error {
	s.mu.Lock()
	if s.stopping || s.state.Status != StatusPaused {
		s.mu.Unlock()
		return ErrNotPaused
	}
	s.emit(&SessionResumed{RemainingBatches: s.state.Progress.RemainingBatches()})
	s.maybeFinishLocked()
	s.mu.Unlock()
	s.signal()
	return nil
}

// Cancel drops pending batches. In-flight batches run to completion; the
// SessionCancelled event follows the last of them.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping || s.finished {
		return
	}
	s.stopping = true
	n := s.dropPendingLocked()
	s.terminal = &SessionCancelled{DroppedBatches: n}
	s.maybeFinishLocked()
}

// Done is closed once the session reached a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session finishes. It returns nil on completion,
// ErrCancelled after Cancel and a *SessionError after a systemic failure.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state.Status {
	case StatusCompleted:
		return nil
	case StatusFailed:
		return &SessionError{SessionID: s.id, Reason: s.state.FailReason, Err: s.failErr}
	default:
		return ErrCancelled
	}
}

// State returns a deep copy of the aggregate.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Events returns a copy of the event log in version order.
func (s *Session) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Subscribe streams events emitted after the call. The channel closes when
// the session finishes or the returned func is called. A subscriber that
// does not keep up loses events.
func (s *Session) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Event, s.cfg.SubscriberBuffer)
	if s.finished {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

// UpdatePlayerPosition re-sorts pending batches by distance to c.
func (s *Session) UpdatePlayerPosition(c coords.ChunkCoord) {
	s.mu.Lock()
	s.reference = c
	s.queue.reprioritize(c)
	s.mu.Unlock()
	s.signal()
}

// GetChunk returns a generated chunk held by the cache. Failed and
// ungenerated coords report false.
func (s *Session) GetChunk(c coords.ChunkCoord) (*chunk.Data, bool) {
	return s.cache.Get(c)
}

type Performance struct {
	SessionID       string        `json:"session_id"`
	Status          string        `json:"status"`
	Progress        Progress      `json:"progress"`
	QueueDepth      int           `json:"queue_depth"`
	Retrying        int           `json:"retrying"`
	InFlight        int           `json:"in_flight"`
	MaxInFlight     int           `json:"max_in_flight"`
	LimitRejections uint64        `json:"limit_rejections"`
	DroppedEvents   uint64        `json:"dropped_events"`
	EventCount      int           `json:"event_count"`
	Cache           cache.Stats   `json:"cache"`
	MemoryUsage     int64         `json:"memory_usage_bytes"`
	Elapsed         time.Duration `json:"elapsed_ns"`
	ChunksPerSecond float64       `json:"chunks_per_second"`
}

func (s *Session) PerformanceSnapshot() Performance {
	s.mu.Lock()
	p := Performance{
		SessionID:       s.id,
		Status:          s.state.Status.String(),
		Progress:        s.state.Progress,
		QueueDepth:      s.queue.Len(),
		Retrying:        len(s.retrying),
		InFlight:        s.inflight,
		MaxInFlight:     s.maxInflight,
		LimitRejections: s.limitRejections,
		DroppedEvents:   s.dropped,
		EventCount:      len(s.events),
	}
	if !s.started.IsZero() {
		end := s.now()
		if s.finished && !s.state.FinishedAt.IsZero() {
			end = s.state.FinishedAt
		}
		p.Elapsed = end.Sub(s.started)
	}
	s.mu.Unlock()

	p.Cache = s.cache.Stats()
	p.MemoryUsage = s.cache.MemoryUsage()
	if secs := p.Elapsed.Seconds(); secs > 0 {
		p.ChunksPerSecond = float64(p.Progress.CompletedChunks) / secs
	}
	return p
}
