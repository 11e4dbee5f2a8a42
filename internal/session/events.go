package session

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"voxelforge.ai/internal/coords"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventHeader is stamped by the session when an event is emitted.
// Version increases by exactly one per event, starting at 1.
type EventHeader struct {
	SessionID string    `json:"session_id"`
	Version   uint64    `json:"version"`
	At        time.Time `json:"at"`
}

func (h EventHeader) Meta() EventHeader { return h }

func (h *EventHeader) stamp(v EventHeader) { *h = v }

// Event is one entry of a session's event log. The set of implementations is
// closed; State.Apply switches over all of them.
type Event interface {
	Meta() EventHeader
	Kind() string
	stamp(EventHeader)
}

type SessionCreated struct {
	EventHeader
	MaxConcurrent int `json:"max_concurrent"`
	MaxAttempts   int `json:"max_attempts"`
	BatchSize     int `json:"batch_size"`
}

type BatchEnqueued struct {
	EventHeader
	BatchID  BatchID             `json:"batch_id"`
	Priority int                 `json:"priority"`
	Coords   []coords.ChunkCoord `json:"coords"`
}

type SessionStarted struct {
	EventHeader
}

type SessionPaused struct {
	EventHeader
	InFlight int `json:"in_flight"`
}

type SessionResumed struct {
	EventHeader
	RemainingBatches int `json:"remaining_batches"`
}

type BatchStarted struct {
	EventHeader
	BatchID BatchID `json:"batch_id"`
	Attempt int     `json:"attempt"`
}

type BatchCompleted struct {
	EventHeader
	BatchID  BatchID       `json:"batch_id"`
	Attempt  int           `json:"attempt"`
	Duration time.Duration `json:"duration_ns"`
}

type BatchFailed struct {
	EventHeader
	BatchID   BatchID            `json:"batch_id"`
	Attempt   int                `json:"attempt"`
	WillRetry bool               `json:"will_retry"`
	Coord     *coords.ChunkCoord `json:"coord,omitempty"`
	Reason    string             `json:"reason"`
}

type BatchRetried struct {
	EventHeader
	BatchID BatchID       `json:"batch_id"`
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay_ns"`
}

type BatchCancelled struct {
	EventHeader
	BatchID BatchID `json:"batch_id"`
}

type ProgressUpdated struct {
	EventHeader
	Progress Progress `json:"progress"`
}

type SessionCompleted struct {
	EventHeader
	Progress Progress `json:"progress"`
}

type SessionFailed struct {
	EventHeader
	Reason string `json:"reason"`
}

type SessionCancelled struct {
	EventHeader
	DroppedBatches int `json:"dropped_batches"`
}

func (*SessionCreated) Kind() string   { return "SessionCreated" }
func (*BatchEnqueued) Kind() string    { return "BatchEnqueued" }
func (*SessionStarted) Kind() string   { return "SessionStarted" }
func (*SessionPaused) Kind() string    { return "SessionPaused" }
func (*SessionResumed) Kind() string   { return "SessionResumed" }
func (*BatchStarted) Kind() string     { return "BatchStarted" }
func (*BatchCompleted) Kind() string   { return "BatchCompleted" }
func (*BatchFailed) Kind() string      { return "BatchFailed" }
func (*BatchRetried) Kind() string     { return "BatchRetried" }
func (*BatchCancelled) Kind() string   { return "BatchCancelled" }
func (*ProgressUpdated) Kind() string  { return "ProgressUpdated" }
func (*SessionCompleted) Kind() string { return "SessionCompleted" }
func (*SessionFailed) Kind() string    { return "SessionFailed" }
func (*SessionCancelled) Kind() string { return "SessionCancelled" }

func newEvent(kind string) (Event, error) {
	switch kind {
	case "SessionCreated":
		return &SessionCreated{}, nil
	case "BatchEnqueued":
		return &BatchEnqueued{}, nil
	case "SessionStarted":
		return &SessionStarted{}, nil
	case "SessionPaused":
		return &SessionPaused{}, nil
	case "SessionResumed":
		return &SessionResumed{}, nil
	case "BatchStarted":
		return &BatchStarted{}, nil
	case "BatchCompleted":
		return &BatchCompleted{}, nil
	case "BatchFailed":
		return &BatchFailed{}, nil
	case "BatchRetried":
		return &BatchRetried{}, nil
	case "BatchCancelled":
		return &BatchCancelled{}, nil
	case "ProgressUpdated":
		return &ProgressUpdated{}, nil
	case "SessionCompleted":
		return &SessionCompleted{}, nil
	case "SessionFailed":
		return &SessionFailed{}, nil
	case "SessionCancelled":
		return &SessionCancelled{}, nil
	}
	return nil, fmt.Errorf("unknown session event %q", kind)
}

// Envelope is the wire form of one event: {"type": ..., "event": {...}}.
type Envelope struct {
	Type  string              `json:"type"`
	Event jsoniter.RawMessage `json:"event"`
}

func MarshalEvent(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: ev.Kind(), Event: body})
}

func UnmarshalEvent(b []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	ev, err := newEvent(env.Type)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Event, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return ev, nil
}
