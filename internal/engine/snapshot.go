package engine

import (
	"context"
	"errors"

	"github.com/jwebster45206/companion-engine/pkg/profile"
	"github.com/jwebster45206/companion-engine/pkg/state"
	"github.com/jwebster45206/companion-engine/pkg/storage"
)

// SaveSnapshot persists the user's profile and progress document.
func (e *Engine) SaveSnapshot(ctx context.Context, userID string) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	p, err := e.Profile()
	if err != nil {
		return err
	}
	return e.persist(ctx, userID, e.store.Entry(userID), p)
}

// LoadSnapshot replaces the user's in-memory progress with the persisted
// snapshot. The in-memory conversation history is kept. When the engine has
// no profile yet, the snapshot's profile becomes the catalog.
//
// A missing snapshot is an *IOError wrapping storage.ErrNotFound; an
// unreadable one is a *state.CorruptStateError and leaves state untouched.
func (e *Engine) LoadSnapshot(ctx context.Context, userID string) (*state.RestoreReport, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}

	data, err := e.storage.LoadSnapshot(ctx, userID)
	if err != nil {
		return nil, &IOError{Op: "load", Target: userID, Err: err}
	}

	snap, err := state.DecodeSnapshot(data)
	if err != nil {
		e.logger.Error("Corrupt snapshot", "user_id", userID, "error", err)
		return nil, err
	}

	catalog := e.catalogOrAdopt(snap)
	restored, report := snap.Restore(userID, catalog, e.now())
	e.logReconcile(userID, report)

	entry := e.store.Entry(userID)
	release := entry.LockTurn()
	defer release()
	_ = entry.Update(func(u *state.UserState) error {
		restored.History = u.History
		restored.CreatedAt = u.CreatedAt
		*u = *restored
		return nil
	})

	e.logger.Info("Snapshot loaded", "user_id", userID, "storylines", len(snap.Progress))
	return &report, nil
}

// catalogOrAdopt returns the active profile, installing snap's profile when
// none is set up.
func (e *Engine) catalogOrAdopt(snap *state.Snapshot) *profile.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.profile == nil {
		e.profile = snap.Profile
		e.logger.Info("Adopted character profile from snapshot", "name", snap.Profile.Name)
	}
	return e.profile
}

// ResetUser drops the user's in-memory state and persisted snapshot.
func (e *Engine) ResetUser(ctx context.Context, userID string) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	// Wait for any turn in flight so it cannot persist after the delete.
	if entry, ok := e.store.Lookup(userID); ok {
		release := entry.LockTurn()
		defer release()
	}
	e.store.Reset(userID)

	if err := e.storage.DeleteSnapshot(ctx, userID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return &IOError{Op: "delete", Target: userID, Err: err}
	}
	e.logger.Info("User state reset", "user_id", userID)
	return nil
}
