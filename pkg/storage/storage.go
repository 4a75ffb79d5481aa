package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is returned by LoadSnapshot when the target has no snapshot.
var ErrNotFound = errors.New("snapshot not found")

// Storage persists encoded user snapshots. Each save replaces the whole
// document for its target; a reader never observes a partial write.
type Storage interface {
	// Health and lifecycle
	Ping(ctx context.Context) error
	Close() error

	// Snapshot operations
	SaveSnapshot(ctx context.Context, target string, data []byte) error
	LoadSnapshot(ctx context.Context, target string) ([]byte, error)
	DeleteSnapshot(ctx context.Context, target string) error
	ListSnapshots(ctx context.Context) ([]string, error)
}

var targetPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateTarget rejects target ids that are unsafe as file names or keys.
func ValidateTarget(target string) error {
	if !targetPattern.MatchString(target) {
		return fmt.Errorf("invalid snapshot target %q", target)
	}
	return nil
}
