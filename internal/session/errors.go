package session

import (
	"errors"
	"fmt"

	"voxelforge.ai/internal/coords"
)

var (
	// ErrGenerationLimitExceeded is returned internally when a dispatch finds
	// every generation slot taken. The batch goes back on the queue.
	ErrGenerationLimitExceeded = errors.New("generation limit exceeded")
	ErrCancelled               = errors.New("session cancelled")
	ErrAlreadyStarted          = errors.New("session already started")
	ErrNotPaused               = errors.New("session not paused")
	ErrNotRunning              = errors.New("session not running")
)

// ChunkLoadFailed describes a batch attempt that failed on one coordinate.
type ChunkLoadFailed struct {
	Coord   coords.ChunkCoord
	Batch   BatchID
	Attempt int
	Reason  string
	Err     error
}

func (e *ChunkLoadFailed) Error() string {
	return fmt.Sprintf("batch %d attempt %d: chunk %s: %s: %v", e.Batch, e.Attempt, e.Coord, e.Reason, e.Err)
}

func (e *ChunkLoadFailed) Unwrap() error { return e.Err }

// SessionError is returned by Wait when the session failed systemically.
type SessionError struct {
	SessionID string
	Reason    string
	Err       error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("session %s failed: %s", e.SessionID, e.Reason)
	}
	return fmt.Sprintf("session %s failed: %s: %v", e.SessionID, e.Reason, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }
