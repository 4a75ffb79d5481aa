package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jwebster45206/companion-engine/pkg/storage"
)

const snapshotExt = ".json"

// FileStorage keeps one JSON document per target under dir. Writes go to a
// temp file in the same directory and are renamed into place.
type FileStorage struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Ensure FileStorage implements Storage interface
var _ storage.Storage = (*FileStorage)(nil)

// NewFileStorage creates dir if needed and returns a file-backed store.
func NewFileStorage(dir string, logger *slog.Logger) (*FileStorage, error) {
	if dir == "" {
		dir = "./data/snapshots"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileStorage{
		dir:    dir,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (f *FileStorage) lockFor(target string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[target]
	if !ok {
		l = &sync.Mutex{}
		f.locks[target] = l
	}
	return l
}

func (f *FileStorage) path(target string) string {
	return filepath.Join(f.dir, target+snapshotExt)
}

// Health and lifecycle methods

func (f *FileStorage) Ping(ctx context.Context) error {
	info, err := os.Stat(f.dir)
	if err != nil {
		return fmt.Errorf("snapshot directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("snapshot path %s is not a directory", f.dir)
	}
	return nil
}

func (f *FileStorage) Close() error {
	return nil
}

// Snapshot operations

func (f *FileStorage) SaveSnapshot(ctx context.Context, target string, data []byte) error {
	if err := storage.ValidateTarget(target); err != nil {
		return err
	}
	l := f.lockFor(target)
	l.Lock()
	defer l.Unlock()

	tmp, err := os.CreateTemp(f.dir, "."+target+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path(target)); err != nil {
		cleanup()
		f.logger.Error("Failed to replace snapshot", "target", target, "error", err)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	f.logger.Debug("Snapshot saved", "target", target, "bytes", len(data))
	return nil
}

func (f *FileStorage) LoadSnapshot(ctx context.Context, target string) ([]byte, error) {
	if err := storage.ValidateTarget(target); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(target))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

func (f *FileStorage) DeleteSnapshot(ctx context.Context, target string) error {
	if err := storage.ValidateTarget(target); err != nil {
		return err
	}
	l := f.lockFor(target)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(f.path(target)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func (f *FileStorage) ListSnapshots(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	targets := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != snapshotExt || strings.HasPrefix(name, ".") {
			continue
		}
		targets = append(targets, strings.TrimSuffix(name, snapshotExt))
	}
	sort.Strings(targets)
	return targets, nil
}
