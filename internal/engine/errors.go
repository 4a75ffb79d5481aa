package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCharacter is returned when no character profile has been set up.
	ErrUnknownCharacter = errors.New("no character profile has been set up")
	// ErrUnknownStoryline is returned for a storyline id not in the catalog.
	ErrUnknownStoryline = errors.New("unknown storyline")
	// ErrLockedStoryline is returned when starting a storyline the user has not unlocked.
	ErrLockedStoryline = errors.New("storyline is locked")
	// ErrNoActiveStoryline is returned when advancing without a started storyline.
	ErrNoActiveStoryline = errors.New("no active storyline")
	// ErrInvalidInput covers malformed user ids, empty messages and similar.
	ErrInvalidInput = errors.New("invalid input")
)

// GenerationError reports a failed or timed-out text generation call. No
// state was changed; the caller may retry.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("text generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Retryable is always true for generation failures.
func (e *GenerationError) Retryable() bool {
	return true
}

// IOError reports a snapshot persistence failure.
type IOError struct {
	Op     string // "save", "load" or "delete"
	Target string
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("snapshot %s for %q failed: %v", e.Op, e.Target, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
