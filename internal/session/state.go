package session

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"voxelforge.ai/internal/coords"
)

type Status uint8

const (
	StatusCreated Status = iota
	StatusStarted
	StatusPaused
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusStarted:
		return "started"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type BatchID int

type BatchStatus uint8

const (
	BatchPending BatchStatus = iota
	BatchStartedStatus
	BatchCompletedStatus
	BatchFailedStatus
	BatchCancelledStatus
)

func (s BatchStatus) String() string {
	switch s {
	case BatchPending:
		return "pending"
	case BatchStartedStatus:
		return "started"
	case BatchCompletedStatus:
		return "completed"
	case BatchFailedStatus:
		return "failed"
	case BatchCancelledStatus:
		return "cancelled"
	}
	return "unknown"
}

type BatchInfo struct {
	ID       BatchID
	Coords   []coords.ChunkCoord
	Priority int
	Attempt  int
	Status   BatchStatus
	// Retrying is set while a failed batch waits for its retry delay.
	Retrying bool
}

func (b BatchInfo) terminal() bool {
	switch b.Status {
	case BatchCompletedStatus, BatchCancelledStatus:
		return true
	case BatchFailedStatus:
		return !b.Retrying
	}
	return false
}

// Progress is derived from batch events only.
type Progress struct {
	TotalChunks      int `json:"total_chunks"`
	CompletedChunks  int `json:"completed_chunks"`
	FailedChunks     int `json:"failed_chunks"`
	CancelledChunks  int `json:"cancelled_chunks"`
	TotalBatches     int `json:"total_batches"`
	CompletedBatches int `json:"completed_batches"`
	FailedBatches    int `json:"failed_batches"`
	CancelledBatches int `json:"cancelled_batches"`
	InFlight         int `json:"in_flight"`
	// SuccessRate is completed / (completed + failed) over chunks, 0 before
	// anything has finished.
	SuccessRate  float64       `json:"success_rate"`
	AverageBatch time.Duration `json:"average_batch_ns"`
	ETA          time.Duration `json:"eta_ns"`
}

func (p Progress) Fraction() float64 {
	if p.TotalChunks == 0 {
		return 0
	}
	return float64(p.CompletedChunks+p.FailedChunks+p.CancelledChunks) / float64(p.TotalChunks)
}

func (p Progress) RemainingBatches() int {
	return p.TotalBatches - p.CompletedBatches - p.FailedBatches - p.CancelledBatches
}

const durationWindow = 16

// State is the session aggregate. Every field is a pure function of the
// event log, so Replay of a session's events reproduces it exactly.
type State struct {
	SessionID     string
	Status        Status
	Version       uint64
	MaxConcurrent int
	MaxAttempts   int
	BatchSize     int
	Batches       map[BatchID]*BatchInfo
	Progress      Progress
	FailedCoords  []coords.ChunkCoord
	FailReason    string
	CreatedAt     time.Time
	FinishedAt    time.Time

	durations []time.Duration
}

var (
	ErrVersionGap      = errors.New("event version out of sequence")
	ErrSessionMismatch = errors.New("event belongs to another session")
	ErrUnknownBatch    = errors.New("event references unknown batch")
)

func newState() State {
	return State{Batches: make(map[BatchID]*BatchInfo)}
}

// Replay folds events into a fresh State.
func Replay(events []Event) (State, error) {
	st := newState()
	for _, ev := range events {
		if err := st.Apply(ev); err != nil {
			return st, err
		}
	}
	return st, nil
}

// Apply folds one event into the aggregate.
func (s *State) Apply(ev Event) error {
	h := ev.Meta()
	if h.Version != s.Version+1 {
		return fmt.Errorf("%w: have %d, got %d (%s)", ErrVersionGap, s.Version, h.Version, ev.Kind())
	}
	if s.Version > 0 && h.SessionID != s.SessionID {
		return fmt.Errorf("%w: %s", ErrSessionMismatch, h.SessionID)
	}
	if s.Batches == nil {
		s.Batches = make(map[BatchID]*BatchInfo)
	}

	switch e := ev.(type) {
	case *SessionCreated:
		s.SessionID = h.SessionID
		s.Status = StatusCreated
		s.MaxConcurrent = e.MaxConcurrent
		s.MaxAttempts = e.MaxAttempts
		s.BatchSize = e.BatchSize
		s.CreatedAt = h.At
	case *BatchEnqueued:
		s.Batches[e.BatchID] = &BatchInfo{
			ID:       e.BatchID,
			Coords:   append([]coords.ChunkCoord(nil), e.Coords...),
			Priority: e.Priority,
		}
		s.Progress.TotalBatches++
		s.Progress.TotalChunks += len(e.Coords)
	case *SessionStarted:
		s.Status = StatusStarted
	case *SessionPaused:
		s.Status = StatusPaused
	case *SessionResumed:
		s.Status = StatusStarted
	case *BatchStarted:
		b, err := s.batch(e.BatchID)
		if err != nil {
			return err
		}
		b.Status = BatchStartedStatus
		b.Attempt = e.Attempt
		b.Retrying = false
		s.Progress.InFlight++
	case *BatchCompleted:
		b, err := s.batch(e.BatchID)
		if err != nil {
			return err
		}
		b.Status = BatchCompletedStatus
		s.Progress.InFlight--
		s.Progress.CompletedBatches++
		s.Progress.CompletedChunks += len(b.Coords)
		s.durations = append(s.durations, e.Duration)
		if len(s.durations) > durationWindow {
			s.durations = s.durations[len(s.durations)-durationWindow:]
		}
		s.recompute()
	case *BatchFailed:
		b, err := s.batch(e.BatchID)
		if err != nil {
			return err
		}
		b.Status = BatchFailedStatus
		b.Retrying = e.WillRetry
		s.Progress.InFlight--
		if !e.WillRetry {
			s.Progress.FailedBatches++
			s.Progress.FailedChunks += len(b.Coords)
			s.FailedCoords = append(s.FailedCoords, b.Coords...)
		}
		s.recompute()
	case *BatchRetried:
		b, err := s.batch(e.BatchID)
		if err != nil {
			return err
		}
		b.Status = BatchPending
		b.Attempt = e.Attempt
		b.Retrying = false
	case *BatchCancelled:
		b, err := s.batch(e.BatchID)
		if err != nil {
			return err
		}
		b.Status = BatchCancelledStatus
		b.Retrying = false
		s.Progress.CancelledBatches++
		s.Progress.CancelledChunks += len(b.Coords)
		s.recompute()
	case *ProgressUpdated:
	case *SessionCompleted:
		s.Status = StatusCompleted
		s.FinishedAt = h.At
	case *SessionFailed:
		s.Status = StatusFailed
		s.FailReason = e.Reason
		s.FinishedAt = h.At
	case *SessionCancelled:
		s.Status = StatusCancelled
		s.FinishedAt = h.At
	default:
		return fmt.Errorf("unhandled session event %T", ev)
	}
	s.Version = h.Version
	return nil
}

func (s *State) batch(id BatchID) (*BatchInfo, error) {
	b, ok := s.Batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBatch, id)
	}
	return b, nil
}

func (s *State) recompute() {
	p := &s.Progress
	done := p.CompletedChunks + p.FailedChunks
	if done > 0 {
		p.SuccessRate = float64(p.CompletedChunks) / float64(done)
	} else {
		p.SuccessRate = 0
	}
	if len(s.durations) == 0 {
		p.AverageBatch = 0
		p.ETA = 0
		return
	}
	var sum time.Duration
	for _, d := range s.durations {
		sum += d
	}
	p.AverageBatch = sum / time.Duration(len(s.durations))
	workers := s.MaxConcurrent
	if workers < 1 {
		workers = 1
	}
	remaining := p.RemainingBatches()
	if remaining < 0 {
		remaining = 0
	}
	p.ETA = p.AverageBatch * time.Duration(remaining) / time.Duration(workers)
}

// ActiveBatches returns the ids of batches that are not terminal, ascending.
func (s State) ActiveBatches() []BatchID {
	var out []BatchID
	for id, b := range s.Batches {
		if !b.terminal() {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllTerminal reports whether every enqueued batch has finished.
func (s State) AllTerminal() bool {
	for _, b := range s.Batches {
		if !b.terminal() {
			return false
		}
	}
	return true
}

func (s State) clone() State {
	out := s
	out.Batches = make(map[BatchID]*BatchInfo, len(s.Batches))
	for id, b := range s.Batches {
		cp := *b
		cp.Coords = append([]coords.ChunkCoord(nil), b.Coords...)
		out.Batches[id] = &cp
	}
	out.FailedCoords = append([]coords.ChunkCoord(nil), s.FailedCoords...)
	out.durations = append([]time.Duration(nil), s.durations...)
	return out
}
