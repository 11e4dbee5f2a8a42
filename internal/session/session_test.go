package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voxelforge.ai/internal/cache"
	"voxelforge.ai/internal/chunk"
	"voxelforge.ai/internal/coords"
	"voxelforge.ai/internal/gen/terrain"
	"voxelforge.ai/internal/repository"
	"voxelforge.ai/internal/repository/memrepo"
)

type stubGen struct{}

func (stubGen) GenerateChunk(c coords.ChunkCoord) *chunk.Data {
	d := chunk.New(c, 8)
	d.Status = chunk.StatusGenerated
	return d
}

type countingGen struct {
	cur   atomic.Int32
	max   atomic.Int32
	calls atomic.Int32
	delay time.Duration
}

func (g *countingGen) GenerateChunk(c coords.ChunkCoord) *chunk.Data {
	g.calls.Add(1)
	n := g.cur.Add(1)
	for {
		m := g.max.Load()
		if n <= m || g.max.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(g.delay)
	g.cur.Add(-1)
	return stubGen{}.GenerateChunk(c)
}

// gatedGen blocks every call until the test sends on gate.
type gatedGen struct {
	entered chan coords.ChunkCoord
	gate    chan struct{}
}

func newGatedGen() *gatedGen {
	return &gatedGen{entered: make(chan coords.ChunkCoord, 64), gate: make(chan struct{})}
}

func (g *gatedGen) GenerateChunk(c coords.ChunkCoord) *chunk.Data {
	g.entered <- c
	<-g.gate
	return stubGen{}.GenerateChunk(c)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Record(ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func line(n int) []coords.ChunkCoord {
	out := make([]coords.ChunkCoord, n)
	for i := range out {
		out[i] = coords.ChunkCoord{X: i, Z: 0}
	}
	return out
}

func fastRetry(cfg Config) Config {
	cfg.RetryInitialDelay = time.Millisecond
	cfg.RetryMaxDelay = 4 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitDone(t *testing.T, s *Session) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("session did not finish: %+v", s.PerformanceSnapshot())
	}
	return err
}

func countKind(events []Event, kind string) int {
	n := 0
	for _, ev := range events {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

func assertReplayMatches(t *testing.T, s *Session) {
	t.Helper()
	replayed, err := Replay(s.Events())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if live := s.State(); !reflect.DeepEqual(live, replayed) {
		t.Fatalf("replayed state differs:\nlive=%+v\nreplayed=%+v", live.Progress, replayed.Progress)
	}
}

func TestSessionGeneratesTerrain(t *testing.T) {
	synth, err := terrain.New(42, terrain.DefaultConfig())
	if err != nil {
		t.Fatalf("terrain.New: %v", err)
	}
	repo := memrepo.New()
	c := cache.New(cache.Config{MaxLoaded: 64, MaxCached: 64})
	sink := &recordingSink{}
	s := New(Config{BatchSize: 3}, Deps{Generator: synth, Repository: repo, Cache: c, Sinks: []Sink{sink}})

	ids, err := s.EnqueueLoadOrder(coords.ChunkCoord{}, 1)
	if err != nil {
		t.Fatalf("EnqueueLoadOrder: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 batches for 9 chunks, got %d", len(ids))
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := waitDone(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	st := s.State()
	if st.Status != StatusCompleted {
		t.Fatalf("status %s", st.Status)
	}
	if st.Progress.CompletedChunks != 9 || st.Progress.TotalChunks != 9 || st.Progress.SuccessRate != 1 {
		t.Fatalf("progress %+v", st.Progress)
	}
	for _, cc := range cache.GenerateLoadOrder(coords.ChunkCoord{}, 1) {
		d, ok := s.GetChunk(cc)
		if !ok {
			t.Fatalf("chunk %s missing", cc)
		}
		if d.HeightMap == nil || d.Status != chunk.StatusGenerated {
			t.Fatalf("chunk %s not generated", cc)
		}
	}
	if repo.Len() != 9 {
		t.Fatalf("repository holds %d chunks", repo.Len())
	}
	if len(sink.events) != len(s.Events()) {
		t.Fatalf("sink saw %d events, log has %d", len(sink.events), len(s.Events()))
	}
	assertReplayMatches(t, s)

	// Versions are contiguous from 1.
	for i, ev := range s.Events() {
		if ev.Meta().Version != uint64(i+1) || ev.Meta().SessionID != s.ID() {
			t.Fatalf("event %d header %+v", i, ev.Meta())
		}
	}
}

func TestConcurrentGenerationsCapped(t *testing.T) {
	gen := &countingGen{delay: 15 * time.Millisecond}
	s := New(Config{MaxConcurrentGenerations: 4, BatchSize: 1}, Deps{Generator: gen})
	if _, err := s.Enqueue(line(10), 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := waitDone(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if m := gen.max.Load(); m > 4 || m < 1 {
		t.Fatalf("max concurrent generations = %d", m)
	}
	if gen.calls.Load() != 10 {
		t.Fatalf("generator calls = %d", gen.calls.Load())
	}

	running, peak := 0, 0
	for _, ev := range s.Events() {
		switch ev.(type) {
		case *BatchStarted:
			running++
		case *BatchCompleted, *BatchFailed:
			running--
		}
		if running > peak {
			peak = running
		}
	}
	if peak > 4 {
		t.Fatalf("event log shows %d batches running at once", peak)
	}
	perf := s.PerformanceSnapshot()
	if perf.MaxInFlight > 4 || perf.Progress.CompletedBatches != 10 {
		t.Fatalf("performance %+v", perf)
	}
}

func TestBatchFailsAfterMaxAttempts(t *testing.T) {
	repo := memrepo.New()
	coordsIn := line(8)
	bad := coordsIn[5]
	repo.FailSaves(bad, -1)

	cfg := fastRetry(Config{MaxAttempts: 3, BatchSize: 1, MaxConcurrentGenerations: 2})
	s := New(cfg, Deps{Generator: stubGen{}, Repository: repo})
	if _, err := s.Enqueue(coordsIn, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := waitDone(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	st := s.State()
	if st.Status != StatusCompleted {
		t.Fatalf("status %s, want completed", st.Status)
	}
	p := st.Progress
	if p.FailedBatches != 1 || p.FailedChunks != 1 || p.CompletedChunks != 7 {
		t.Fatalf("progress %+v", p)
	}
	if want := 7.0 / 8.0; p.SuccessRate != want {
		t.Fatalf("success rate %v, want %v", p.SuccessRate, want)
	}
	if len(st.FailedCoords) != 1 || st.FailedCoords[0] != bad {
		t.Fatalf("failed coords %v", st.FailedCoords)
	}
	if _, ok := s.GetChunk(bad); ok {
		t.Fatalf("failed chunk should not be available")
	}
	if _, ok := s.GetChunk(coordsIn[0]); !ok {
		t.Fatalf("sibling chunk should be available")
	}

	var attempts []int
	var lastRetry bool
	for _, ev := range s.Events() {
		if f, ok := ev.(*BatchFailed); ok {
			if f.Coord == nil || *f.Coord != bad {
				t.Fatalf("unexpected failure %+v", f)
			}
			attempts = append(attempts, f.Attempt)
			lastRetry = f.WillRetry
		}
	}
	if !reflect.DeepEqual(attempts, []int{1, 2, 3}) || lastRetry {
		t.Fatalf("attempts %v lastRetry=%v", attempts, lastRetry)
	}
	if n := countKind(s.Events(), "BatchRetried"); n != 2 {
		t.Fatalf("BatchRetried events = %d", n)
	}
	assertReplayMatches(t, s)
}

func TestBatchRecoversOnRetry(t *testing.T) {
	repo := memrepo.New()
	c := coords.ChunkCoord{X: 3, Z: 3}
	repo.FailSaves(c, 2)
	s := New(fastRetry(Config{MaxAttempts: 3}), Deps{Generator: stubGen{}, Repository: repo})
	if _, err := s.Enqueue([]coords.ChunkCoord{c}, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := waitDone(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	st := s.State()
	if st.Progress.SuccessRate != 1 || st.Progress.FailedChunks != 0 {
		t.Fatalf("progress %+v", st.Progress)
	}
	if st.Batches[1].Attempt != 3 {
		t.Fatalf("attempt %d", st.Batches[1].Attempt)
	}
}

func TestRepositoryUnavailableFailsSession(t *testing.T) {
	repo := memrepo.New()
	repo.SetUnavailable(true)
	s := New(Config{BatchSize: 1, MaxConcurrentGenerations: 1}, Deps{Generator: stubGen{}, Repository: repo})
	if _, err := s.Enqueue(line(5), 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	err := waitDone(t, s)
	var se *SessionError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SessionError, got %v", err)
	}
	if !errors.Is(err, repository.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable in chain: %v", err)
	}
	st := s.State()
	if st.Status != StatusFailed || st.FailReason == "" {
		t.Fatalf("state %s %q", st.Status, st.FailReason)
	}
	if st.Progress.CancelledBatches != 4 {
		t.Fatalf("pending batches should be cancelled: %+v", st.Progress)
	}
	if _, err := s.Enqueue(line(1), 0); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("enqueue after failure: %v", err)
	}
	assertReplayMatches(t, s)
}

func TestConsecutiveFailuresFailSession(t *testing.T) {
	repo := memrepo.New()
	for _, c := range line(4) {
		repo.FailLoads(c, -1)
	}
	cfg := fastRetry(Config{BatchSize: 1, MaxConcurrentGenerations: 1, MaxAttempts: 1, MaxSystemicFailures: 3})
	s := New(cfg, Deps{Generator: stubGen{}, Repository: repo})
	if _, err := s.Enqueue(line(4), 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var se *SessionError
	if err := waitDone(t, s); !errors.As(err, &se) {
		t.Fatalf("expected systemic failure, got %v", err)
	}
	if n := countKind(s.Events(), "BatchFailed"); n != 3 {
		t.Fatalf("BatchFailed events = %d", n)
	}
}

func TestOrdinaryFailuresDoNotFailSession(t *testing.T) {
	repo := memrepo.New()
	coordsIn := line(8)
	for _, i := range []int{1, 4, 6} {
		repo.FailSaves(coordsIn[i], -1)
	}
	s := New(fastRetry(Config{BatchSize: 1}), Deps{Generator: stubGen{}, Repository: repo})
	if _, err := s.Enqueue(coordsIn, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := waitDone(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	st := s.State()
	if st.Status != StatusCompleted {
		t.Fatalf("status %s (%s), want completed", st.Status, st.FailReason)
	}
	p := st.Progress
	if p.CompletedChunks != 5 || p.FailedChunks != 3 || p.CancelledChunks != 0 {
		t.Fatalf("progress %+v", p)
	}
	if want := 5.0 / 8.0; p.SuccessRate != want {
		t.Fatalf("success rate %v, want %v", p.SuccessRate, want)
	}
	assertReplayMatches(t, s)
}

func TestBatchUsesAllAttemptsBeforeSystemicCheck(t *testing.T) {
	repo := memrepo.New()
	coordsIn := line(8)
	bad := coordsIn[7]
	repo.FailSaves(bad, -1)
	s := New(fastRetry(Config{BatchSize: 1, MaxAttempts: 10}), Deps{Generator: stubGen{}, Repository: repo})
	if _, err := s.Enqueue(coordsIn, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := waitDone(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	st := s.State()
	if st.Status != StatusCompleted || st.Progress.FailedChunks != 1 || st.Progress.CompletedChunks != 7 {
		t.Fatalf("state %s %+v", st.Status, st.Progress)
	}
	if n := countKind(s.Events(), "BatchFailed"); n != 10 {
		t.Fatalf("BatchFailed events = %d, want 10", n)
	}
}

func TestClosedRepositoryFailsSession(t *testing.T) {
	repo := memrepo.New()
	if err := repo.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s := New(fastRetry(Config{BatchSize: 1, MaxConcurrentGenerations: 1}), Deps{Generator: stubGen{}, Repository: repo})
	if _, err := s.Enqueue(line(3), 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := waitDone(t, s); !errors.Is(err, repository.ErrClosed) {
		t.Fatalf("expected ErrClosed in chain, got %v", err)
	}
	if n := countKind(s.Events(), "BatchFailed"); n != 1 {
		t.Fatalf("BatchFailed events = %d, closed repository should not be retried", n)
	}
}

func TestEvictedChunkCanBeRegenerated(t *testing.T) {
	gen := newGatedGen()
	c := cache.New(cache.Config{MaxLoaded: 1, MaxCached: 1})
	s := New(Config{BatchSize: 1, MaxConcurrentGenerations: 1}, Deps{Generator: gen, Cache: c})
	a := coords.ChunkCoord{X: 0, Z: 0}
	far := coords.ChunkCoord{X: 50, Z: 50}
	if _, err := s.Enqueue([]coords.ChunkCoord{a, far}, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := <-gen.entered; got != a {
		t.Fatalf("first generation %v, want %v", got, a)
	}
	gen.gate <- struct{}{}
	if got := <-gen.entered; got != far {
		t.Fatalf("second generation %v, want %v", got, far)
	}
	waitFor(t, "first chunk cached", func() bool { return c.Contains(a) })

	// Demote a into the cached tier, then push it out.
	c.UnloadDistant(far, 0)
	filler := coords.ChunkCoord{X: 9, Z: 9}
	c.Put(filler, stubGen{}.GenerateChunk(filler))
	if c.Contains(a) {
		t.Fatalf("chunk should have been evicted")
	}

	ids, err := s.EnqueueLoadOrder(a, 0)
	if err != nil || len(ids) != 1 {
		t.Fatalf("re-enqueue evicted chunk: ids=%v err=%v", ids, err)
	}
	close(gen.gate)
	if err := waitDone(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if _, ok := s.GetChunk(a); !ok {
		t.Fatalf("evicted chunk was not regenerated")
	}
	if st := s.State(); st.Status != StatusCompleted || st.Progress.CompletedChunks != 3 {
		t.Fatalf("state %s %+v", st.Status, st.Progress)
	}
}

func TestPauseStopsDispatch(t *testing.T) {
	gen := newGatedGen()
	s := New(Config{BatchSize: 1, MaxConcurrentGenerations: 1}, Deps{Generator: gen})
	if _, err := s.Enqueue(line(3), 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Pause(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("pause before start: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-gen.entered
	if err := s.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	gen.gate <- struct{}{}
	waitFor(t, "first batch", func() bool { return s.State().Progress.CompletedBatches == 1 })
	time.Sleep(30 * time.Millisecond)
	if n := countKind(s.Events(), "BatchStarted"); n != 1 {
		t.Fatalf("paused session started %d batches", n)
	}
	if st := s.State(); st.Status != StatusPaused {
		t.Fatalf("status %s", st.Status)
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := s.Resume(); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("second resume: %v", err)
	}
	for i := 0; i < 2; i++ {
		<-gen.entered
		gen.gate <- struct{}{}
	}
	if err := waitDone(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	for _, ev := range s.Events() {
		if r, ok := ev.(*SessionResumed); ok && r.RemainingBatches != 2 {
			t.Fatalf("remaining batches %d", r.RemainingBatches)
		}
	}
	assertReplayMatches(t, s)
}

func TestCancelDropsPendingBatches(t *testing.T) {
	gen := newGatedGen()
	c := cache.New(cache.Config{MaxLoaded: 16, MaxCached: 16})
	s := New(Config{BatchSize: 1, MaxConcurrentGenerations: 1}, Deps{Generator: gen, Cache: c})
	in := line(4)
	if _, err := s.Enqueue(in, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := <-gen.entered
	s.Cancel()
	select {
	case <-s.Done():
		t.Fatalf("session finished with a batch in flight")
	default:
	}
	gen.gate <- struct{}{}
	if err := waitDone(t, s); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Wait: %v", err)
	}

	st := s.State()
	if st.Status != StatusCancelled {
		t.Fatalf("status %s", st.Status)
	}
	if st.Progress.CancelledBatches != 3 || st.Progress.CompletedBatches != 1 {
		t.Fatalf("progress %+v", st.Progress)
	}
	if !c.Contains(first) || c.LoadedCount() != 1 {
		t.Fatalf("only the in-flight chunk should be cached")
	}
	evs := s.Events()
	if _, ok := evs[len(evs)-1].(*SessionCancelled); !ok {
		t.Fatalf("last event %s", evs[len(evs)-1].Kind())
	}
	assertReplayMatches(t, s)
}

func TestContextCancelStopsSession(t *testing.T) {
	gen := newGatedGen()
	s := New(Config{BatchSize: 1, MaxConcurrentGenerations: 1}, Deps{Generator: gen})
	if _, err := s.Enqueue(line(3), 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-gen.entered
	cancel()
	waitFor(t, "cancellation", func() bool { return s.State().Progress.CancelledBatches == 2 })
	gen.gate <- struct{}{}
	if err := waitDone(t, s); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Wait: %v", err)
	}
}

func TestStartWithNothingQueuedCompletes(t *testing.T) {
	s := New(Config{}, Deps{Generator: stubGen{}})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := waitDone(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	st := s.State()
	if st.Status != StatusCompleted || st.Progress.SuccessRate != 0 {
		t.Fatalf("state %s %+v", st.Status, st.Progress)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start: %v", err)
	}
}

func TestEnqueueSkipsOwnedCoords(t *testing.T) {
	s := New(Config{BatchSize: 2}, Deps{Generator: stubGen{}})
	ids, err := s.Enqueue(line(3), 0)
	if err != nil || len(ids) != 2 {
		t.Fatalf("ids=%v err=%v", ids, err)
	}
	again, err := s.Enqueue(append(line(3), coords.ChunkCoord{X: 0, Z: 9}), 0)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(again) != 1 {
		t.Fatalf("expected only the new coord to be queued, got %v", again)
	}
	if st := s.State(); st.Progress.TotalChunks != 4 {
		t.Fatalf("total chunks %d", st.Progress.TotalChunks)
	}
}

func TestSubscribeStreamsUntilFinish(t *testing.T) {
	s := New(Config{BatchSize: 1}, Deps{Generator: stubGen{}})
	ch, stop := s.Subscribe()
	defer stop()
	if _, err := s.Enqueue(line(2), 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var got []Event
	for ev := range ch {
		got = append(got, ev)
	}
	if len(got) == 0 {
		t.Fatalf("no events")
	}
	if _, ok := got[len(got)-1].(*SessionCompleted); !ok {
		t.Fatalf("last streamed event %s", got[len(got)-1].Kind())
	}
	// SessionCreated precedes the subscription.
	if len(got) != len(s.Events())-1 {
		t.Fatalf("streamed %d of %d events", len(got), len(s.Events()))
	}
}

func TestProgressInvariants(t *testing.T) {
	repo := memrepo.New()
	repo.FailSaves(coords.ChunkCoord{X: 1, Z: 0}, -1)
	s := New(fastRetry(Config{BatchSize: 2, MaxAttempts: 2}), Deps{Generator: stubGen{}, Repository: repo})
	if _, err := s.Enqueue(line(6), 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ch, stop := s.Subscribe()
	defer stop()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for ev := range ch {
		p, ok := ev.(*ProgressUpdated)
		if !ok {
			continue
		}
		pr := p.Progress
		if pr.CompletedChunks+pr.FailedChunks > pr.TotalChunks {
			t.Fatalf("counts exceed total: %+v", pr)
		}
		if pr.SuccessRate < 0 || pr.SuccessRate > 1 {
			t.Fatalf("success rate %v", pr.SuccessRate)
		}
	}
	if err := waitDone(t, s); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if p := s.State().Progress; p.FailedChunks != 2 || p.SuccessRate != 4.0/6.0 {
		t.Fatalf("progress %+v", p)
	}
}
