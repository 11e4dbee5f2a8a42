package session

import (
	"errors"
	"testing"
	"time"

	"voxelforge.ai/internal/coords"
)

func stamped(ev Event, id string, v uint64) Event {
	ev.stamp(EventHeader{SessionID: id, Version: v, At: time.Unix(1700000000, 0).UTC()})
	return ev
}

func TestReplayRejectsVersionGap(t *testing.T) {
	events := []Event{
		stamped(&SessionCreated{MaxConcurrent: 2}, "s1", 1),
		stamped(&SessionStarted{}, "s1", 3),
	}
	if _, err := Replay(events); !errors.Is(err, ErrVersionGap) {
		t.Fatalf("expected ErrVersionGap, got %v", err)
	}
}

func TestReplayRejectsForeignSession(t *testing.T) {
	events := []Event{
		stamped(&SessionCreated{}, "s1", 1),
		stamped(&SessionStarted{}, "s2", 2),
	}
	if _, err := Replay(events); !errors.Is(err, ErrSessionMismatch) {
		t.Fatalf("expected ErrSessionMismatch, got %v", err)
	}
}

func TestReplayUnknownBatch(t *testing.T) {
	events := []Event{
		stamped(&SessionCreated{}, "s1", 1),
		stamped(&BatchStarted{BatchID: 7, Attempt: 1}, "s1", 2),
	}
	if _, err := Replay(events); !errors.Is(err, ErrUnknownBatch) {
		t.Fatalf("expected ErrUnknownBatch, got %v", err)
	}
}

func TestReplayProgressAndETA(t *testing.T) {
	cs := []coords.ChunkCoord{{X: 0, Z: 0}, {X: 1, Z: 0}}
	events := []Event{
		stamped(&SessionCreated{MaxConcurrent: 2, MaxAttempts: 2, BatchSize: 1}, "s", 1),
		stamped(&BatchEnqueued{BatchID: 1, Coords: cs[:1]}, "s", 2),
		stamped(&BatchEnqueued{BatchID: 2, Coords: cs[1:]}, "s", 3),
		stamped(&BatchEnqueued{BatchID: 3, Coords: []coords.ChunkCoord{{X: 2, Z: 0}}}, "s", 4),
		stamped(&SessionStarted{}, "s", 5),
		stamped(&BatchStarted{BatchID: 1, Attempt: 1}, "s", 6),
		stamped(&BatchCompleted{BatchID: 1, Attempt: 1, Duration: 40 * time.Millisecond}, "s", 7),
		stamped(&BatchStarted{BatchID: 2, Attempt: 1}, "s", 8),
		stamped(&BatchFailed{BatchID: 2, Attempt: 1, WillRetry: true}, "s", 9),
	}
	st, err := Replay(events)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	p := st.Progress
	if p.TotalChunks != 3 || p.CompletedChunks != 1 || p.FailedChunks != 0 || p.SuccessRate != 1 {
		t.Fatalf("progress %+v", p)
	}
	// Two batches remain across two workers at 40ms each.
	if p.AverageBatch != 40*time.Millisecond || p.ETA != 40*time.Millisecond {
		t.Fatalf("avg=%v eta=%v", p.AverageBatch, p.ETA)
	}
	if !st.Batches[2].Retrying {
		t.Fatalf("batch 2 should be waiting for retry")
	}
	if got := st.ActiveBatches(); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("active batches %v", got)
	}
	if st.AllTerminal() {
		t.Fatalf("not all batches are terminal")
	}

	more := []Event{
		stamped(&BatchRetried{BatchID: 2, Attempt: 2, Delay: time.Millisecond}, "s", 10),
		stamped(&BatchStarted{BatchID: 2, Attempt: 2}, "s", 11),
		stamped(&BatchFailed{BatchID: 2, Attempt: 2}, "s", 12),
		stamped(&BatchCancelled{BatchID: 3}, "s", 13),
	}
	for _, ev := range more {
		if err := st.Apply(ev); err != nil {
			t.Fatalf("Apply %s: %v", ev.Kind(), err)
		}
	}
	if st.Progress.SuccessRate != 0.5 || st.Progress.CancelledChunks != 1 || !st.AllTerminal() {
		t.Fatalf("progress %+v", st.Progress)
	}
	if len(st.FailedCoords) != 1 || st.FailedCoords[0] != cs[1] {
		t.Fatalf("failed coords %v", st.FailedCoords)
	}
}

func TestBatchStatusFollowsEvents(t *testing.T) {
	st, err := Replay([]Event{
		stamped(&SessionCreated{MaxConcurrent: 1, MaxAttempts: 1, BatchSize: 1}, "s", 1),
		stamped(&BatchEnqueued{BatchID: 1, Coords: []coords.ChunkCoord{{X: 0, Z: 0}}}, "s", 2),
		stamped(&SessionStarted{}, "s", 3),
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if got := st.Batches[1].Status; got != BatchPending {
		t.Fatalf("status %s, want pending", got)
	}
	if err := st.Apply(stamped(&BatchStarted{BatchID: 1, Attempt: 1}, "s", 4)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := st.Batches[1].Status; got != BatchStartedStatus || got.String() != "started" {
		t.Fatalf("status %s, want started", got)
	}
	if err := st.Apply(stamped(&BatchCompleted{BatchID: 1, Attempt: 1}, "s", 5)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := st.Batches[1].Status; got != BatchCompletedStatus {
		t.Fatalf("status %s, want completed", got)
	}
}

func TestEventEnvelope(t *testing.T) {
	c := coords.ChunkCoord{X: -3, Z: 8}
	in := stamped(&BatchFailed{BatchID: 4, Attempt: 2, WillRetry: true, Coord: &c, Reason: "boom"}, "abc", 9)
	b, err := MarshalEvent(in)
	if err != nil {
		t.Fatalf("MarshalEvent: %v", err)
	}
	out, err := UnmarshalEvent(b)
	if err != nil {
		t.Fatalf("UnmarshalEvent: %v", err)
	}
	f, ok := out.(*BatchFailed)
	if !ok {
		t.Fatalf("decoded %T", out)
	}
	h := f.Meta()
	if h.SessionID != "abc" || h.Version != 9 || !h.At.Equal(in.Meta().At) {
		t.Fatalf("header %+v", h)
	}
	if f.Coord == nil || *f.Coord != c || !f.WillRetry || f.Reason != "boom" {
		t.Fatalf("decoded %+v", f)
	}
	if _, err := UnmarshalEvent([]byte(`{"type":"Nope","event":{}}`)); err == nil {
		t.Fatalf("unknown type should fail")
	}
}

func TestQueueOrdersByDistanceThenPriority(t *testing.T) {
	var q batchQueue
	ref := coords.ChunkCoord{}
	add := func(id BatchID, x, prio int, seq uint64) {
		b := &batch{id: id, coords: []coords.ChunkCoord{{X: x, Z: 0}}, priority: prio, seq: seq}
		b.dist = b.distanceTo(ref)
		q.push(b)
	}
	add(1, 5, 0, 1)
	add(2, 1, 1, 2)
	add(3, 1, 0, 3)
	add(4, 1, 0, 4)
	add(5, 0, 9, 5)

	var order []BatchID
	for q.Len() > 0 {
		order = append(order, q.pop().id)
	}
	want := []BatchID{5, 3, 4, 2, 1}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order %v, want %v", order, want)
		}
	}

	add(1, 5, 0, 1)
	add(2, 0, 0, 2)
	q.reprioritize(coords.ChunkCoord{X: 5})
	if q.pop().id != 1 {
		t.Fatalf("reprioritize should move the batch near the new reference first")
	}
}
