package engine

import (
	"context"
	"fmt"

	"github.com/jwebster45206/companion-engine/internal/metrics"
	"github.com/jwebster45206/companion-engine/internal/services/events"
	"github.com/jwebster45206/companion-engine/pkg/activity"
	"github.com/jwebster45206/companion-engine/pkg/profile"
	"github.com/jwebster45206/companion-engine/pkg/state"
)

// WorkoutResult reports the storylines a workout unlocked.
type WorkoutResult struct {
	NewlyUnlocked     []string             `json:"newly_unlocked"`
	TotalProgress     state.ActivityTotals `json:"total_progress"`
	PersistenceFailed bool                 `json:"persistence_failed,omitempty"`
}

// ContentSummary lists which requirement-gated storylines a user has opened.
type ContentSummary struct {
	UnlockedStories []string              `json:"unlocked_stories"`
	LockedStories   []string              `json:"locked_stories"`
	Requirements    activity.Requirements `json:"requirements"`
}

// RecordWorkout adds a workout to the user's totals and unlocks every
// storyline whose requirement it meets. Requirement ids missing from the
// catalog are skipped.
func (e *Engine) RecordWorkout(ctx context.Context, userID string, w activity.Workout) (*WorkoutResult, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if err := activity.ValidateWorkout(w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	p, _ := e.Profile()
	reqs := e.currentRequirements()

	entry := e.store.Entry(userID)
	result := &WorkoutResult{NewlyUnlocked: make([]string, 0)}
	var missing []string

	_ = entry.Update(func(u *state.UserState) error {
		u.Activity.TotalDistance += w.Distance
		u.Activity.TotalDuration += w.Duration
		u.Activity.Workouts++
		u.UpdatedAt = e.now()

		candidates := reqs.Evaluate(w, func(id string) bool {
			return userUnlocked(p, u, id)
		})
		for _, id := range candidates {
			s, ok := lookupStoryline(p, id)
			if !ok {
				missing = append(missing, id)
				continue
			}
			if u.MarkUnlocked(s) {
				result.NewlyUnlocked = append(result.NewlyUnlocked, id)
			}
		}
		result.TotalProgress = u.Activity
		return nil
	})

	for _, id := range missing {
		e.logger.Warn("Requirement met for storyline not in catalog", "user_id", userID, "storyline_id", id)
	}
	for _, id := range result.NewlyUnlocked {
		metrics.StorylinesUnlocked.WithLabelValues("workout").Inc()
		e.logger.Info("Storyline unlocked", "user_id", userID, "storyline_id", id, "source", "workout")
		e.notifier.Notify(ctx, events.Event{
			Type:        events.EventTypeStorylineUnlocked,
			UserID:      userID,
			StorylineID: id,
			Timestamp:   e.now(),
		})
	}

	if p != nil {
		result.PersistenceFailed = e.persistBestEffort(ctx, userID, entry, p)
	}
	return result, nil
}

// MarkUnlocked applies an external unlock event. It is idempotent and
// reports whether the storyline was newly unlocked.
func (e *Engine) MarkUnlocked(ctx context.Context, userID, storylineID string) (bool, error) {
	if err := validateUser(userID); err != nil {
		return false, err
	}
	p, err := e.Profile()
	if err != nil {
		return false, err
	}
	s, ok := p.Storyline(storylineID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownStoryline, storylineID)
	}

	entry := e.store.Entry(userID)
	var changed bool
	_ = entry.Update(func(u *state.UserState) error {
		changed = u.MarkUnlocked(s)
		if changed {
			u.UpdatedAt = e.now()
		}
		return nil
	})
	if !changed {
		return false, nil
	}

	metrics.StorylinesUnlocked.WithLabelValues("external").Inc()
	e.logger.Info("Storyline unlocked", "user_id", userID, "storyline_id", s.ID, "source", "external")
	e.notifier.Notify(ctx, events.Event{
		Type:        events.EventTypeStorylineUnlocked,
		UserID:      userID,
		StorylineID: s.ID,
		Timestamp:   e.now(),
	})

	if err := e.persist(ctx, userID, entry, p); err != nil {
		e.logger.Error("Failed to persist unlock", "user_id", userID, "storyline_id", s.ID, "error", err)
		return true, err
	}
	return true, nil
}

// AvailableContent splits the requirement-gated storylines into unlocked and
// locked for userID.
func (e *Engine) AvailableContent(userID string) (*ContentSummary, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	p, _ := e.Profile()
	reqs := e.currentRequirements()

	summary := &ContentSummary{
		UnlockedStories: make([]string, 0),
		LockedStories:   make([]string, 0),
		Requirements:    reqs,
	}

	classify := func(u *state.UserState) {
		for _, id := range reqs.IDs() {
			if userUnlocked(p, u, id) {
				summary.UnlockedStories = append(summary.UnlockedStories, id)
			} else {
				summary.LockedStories = append(summary.LockedStories, id)
			}
		}
	}
	if entry, ok := e.store.Lookup(userID); ok {
		entry.View(classify)
	} else {
		classify(nil)
	}
	return summary, nil
}

func lookupStoryline(p *profile.Profile, id string) (*profile.Storyline, bool) {
	if p == nil {
		return nil, false
	}
	return p.Storyline(id)
}

// userUnlocked reports whether id is open for u. u may be nil.
func userUnlocked(p *profile.Profile, u *state.UserState, id string) bool {
	var sp *state.StoryProgress
	if u != nil {
		sp, _ = u.PeekProgress(id)
	}
	if s, ok := lookupStoryline(p, id); ok {
		return state.IsUnlocked(s, sp)
	}
	return sp != nil && sp.Unlocked
}
