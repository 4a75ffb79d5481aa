package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jwebster45206/companion-engine/internal/metrics"
	"github.com/jwebster45206/companion-engine/internal/services/events"
	"github.com/jwebster45206/companion-engine/pkg/profile"
	"github.com/jwebster45206/companion-engine/pkg/prompts"
	"github.com/jwebster45206/companion-engine/pkg/state"
)

// StorylineSummary is one row of a user's storyline listing.
type StorylineSummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Unlocked    bool   `json:"unlocked"`
	Progress    string `json:"progress"`
	Current     bool   `json:"current"`
}

// StartResult is returned when a storyline is started or resumed.
type StartResult struct {
	StorylineID       string `json:"storyline_id"`
	Narration         string `json:"narration"`
	ChapterIndex      int    `json:"chapter_index"`
	TotalChapters     int    `json:"total_chapters"`
	PersistenceFailed bool   `json:"persistence_failed,omitempty"`
}

// AdvanceResult is the outcome of one story turn. ChapterIndex is the index
// before any advancement.
type AdvanceResult struct {
	Response           string `json:"response"`
	Storyline          string `json:"storyline"`
	Chapter            string `json:"chapter,omitempty"`
	ChapterIndex       int    `json:"chapter_index"`
	TotalChapters      int    `json:"total_chapters"`
	ChapterCompleted   bool   `json:"chapter_completed"`
	StorylineCompleted bool   `json:"storyline_completed"`
	Completed          bool   `json:"completed,omitempty"` // storyline was already complete
	PersistenceFailed  bool   `json:"persistence_failed,omitempty"`
	Message            string `json:"message,omitempty"`
}

// Transcript is a standalone export of one storyline and the user's progress.
type Transcript struct {
	Storyline   string            `json:"storyline"`
	Description string            `json:"description,omitempty"`
	Progress    string            `json:"progress"`
	Chapters    []profile.Chapter `json:"chapters"`
	ExportedAt  time.Time         `json:"exported_at"`
}

// ListStorylines returns every catalog storyline with the user's unlock and
// progress status. It never creates state for the user.
func (e *Engine) ListStorylines(userID string) ([]StorylineSummary, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	p, err := e.Profile()
	if err != nil {
		return nil, err
	}

	progress := map[string]state.StoryProgress{}
	current := ""
	if entry, ok := e.store.Lookup(userID); ok {
		entry.View(func(u *state.UserState) {
			progress = u.CloneProgress()
			current = u.CurrentStorylineID
		})
	}

	out := make([]StorylineSummary, 0, len(p.Storylines))
	for i := range p.Storylines {
		s := &p.Storylines[i]
		var sp *state.StoryProgress
		if v, ok := progress[s.ID]; ok {
			sp = &v
		}
		label := fmt.Sprintf("0/%d", s.ChapterCount())
		if sp != nil {
			label = sp.Label(s.ChapterCount())
		}
		out = append(out, StorylineSummary{
			ID:          s.ID,
			Title:       s.Title,
			Description: s.Description,
			Unlocked:    state.IsUnlocked(s, sp),
			Progress:    label,
			Current:     s.ID == current,
		})
	}
	return out, nil
}

// StartStoryline makes storylineID the user's current storyline and returns
// deterministic opening narration for the current chapter. Text generation
// is not called. Starting a different storyline leaves the previous one's
// progress untouched.
func (e *Engine) StartStoryline(ctx context.Context, userID, storylineID string) (*StartResult, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	p, err := e.Profile()
	if err != nil {
		return nil, err
	}
	s, ok := p.Storyline(storylineID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStoryline, storylineID)
	}

	// Locked storylines are rejected before any state is created.
	if !e.unlockedFor(userID, s) {
		return nil, fmt.Errorf("%w: %s", ErrLockedStoryline, storylineID)
	}

	entry := e.store.Entry(userID)
	release := entry.LockTurn()
	defer release()

	result := &StartResult{StorylineID: s.ID, TotalChapters: s.ChapterCount()}
	err = entry.Update(func(u *state.UserState) error {
		sp := u.ProgressFor(s)
		if !state.IsUnlocked(s, sp) {
			return fmt.Errorf("%w: %s", ErrLockedStoryline, storylineID)
		}
		u.CurrentStorylineID = s.ID
		u.UpdatedAt = e.now()
		result.ChapterIndex = sp.CurrentChapter
		result.Narration = prompts.Opening(s, sp)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Storyline started", "user_id", userID, "storyline_id", s.ID, "chapter_index", result.ChapterIndex)
	result.PersistenceFailed = e.persistBestEffort(ctx, userID, entry, p)
	return result, nil
}

func (e *Engine) unlockedFor(userID string, s *profile.Storyline) bool {
	if s.Unlocked {
		return true
	}
	entry, ok := e.store.Lookup(userID)
	if !ok {
		return false
	}
	unlocked := false
	entry.View(func(u *state.UserState) {
		sp, _ := u.PeekProgress(s.ID)
		unlocked = state.IsUnlocked(s, sp)
	})
	return unlocked
}

// AdvanceStory runs one story turn for the user's current storyline.
//
// Narration is generated without holding the state lock. The chapter only
// advances if generation succeeds and the evaluator reports completion. A
// persistence failure after advancement is reported in the result rather
// than rolled back.
func (e *Engine) AdvanceStory(ctx context.Context, userID, action string) (*AdvanceResult, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if action == "" {
		return nil, fmt.Errorf("%w: action cannot be empty", ErrInvalidInput)
	}
	p, err := e.Profile()
	if err != nil {
		return nil, err
	}

	entry, ok := e.store.Lookup(userID)
	if !ok {
		return nil, ErrNoActiveStoryline
	}
	release := entry.LockTurn()
	defer release()

	// Turns are serialized, so this view stays valid until the update below.
	var (
		s        *profile.Storyline
		progress state.StoryProgress
		found    bool
	)
	entry.View(func(u *state.UserState) {
		if u.CurrentStorylineID == "" {
			return
		}
		if s, found = p.Storyline(u.CurrentStorylineID); !found {
			return
		}
		if sp, ok := u.PeekProgress(s.ID); ok {
			progress = sp.Clone()
		} else {
			progress = *state.NewStoryProgress(s.Unlocked)
		}
	})
	if !found {
		return nil, ErrNoActiveStoryline
	}

	total := s.ChapterCount()
	result := &AdvanceResult{
		Storyline:     s.Title,
		ChapterIndex:  progress.CurrentChapter,
		TotalChapters: total,
	}

	if progress.IsCompleted(total) {
		result.Completed = true
		result.StorylineCompleted = true
		result.Response = prompts.CompletionSummary(s)
		return result, nil
	}

	chapter, _ := s.Chapter(progress.CurrentChapter)
	result.Chapter = chapter.Title

	msgs, err := prompts.New().
		WithProfile(p).
		WithStory(s, &progress).
		WithUserMessage(action).
		Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	reply, err := e.generate(ctx, prompts.ModeStory, msgs)
	if err != nil {
		e.logger.Warn("Story generation failed", "user_id", userID, "storyline_id", s.ID, "chapter_index", progress.CurrentChapter, "error", err)
		return nil, err
	}
	result.Response = reply

	if !e.evaluator.Complete(action, chapter) {
		return result, nil
	}

	// The catalog may have been replaced while generating. Re-resolve the
	// storyline under the state lock so progress is never recreated for a
	// storyline that has left the catalog.
	var (
		current    *profile.Profile
		superseded bool
	)
	err = entry.Update(func(u *state.UserState) error {
		latest, perr := e.Profile()
		if perr != nil {
			return perr
		}
		current = latest
		cur, ok := latest.Storyline(s.ID)
		if !ok || u.CurrentStorylineID != s.ID {
			superseded = true
			return nil
		}
		sp := u.ProgressFor(cur)
		if sp.CurrentChapter != result.ChapterIndex || result.ChapterIndex >= cur.ChapterCount() {
			superseded = true
			return nil
		}
		total = cur.ChapterCount()
		if err := sp.CompleteChapter(result.ChapterIndex, total); err != nil {
			return err
		}
		u.UpdatedAt = e.now()
		result.TotalChapters = total
		result.StorylineCompleted = sp.IsCompleted(total)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete chapter: %w", err)
	}
	if superseded {
		e.logger.Warn("Catalog changed during story turn, chapter not advanced",
			"user_id", userID, "storyline_id", s.ID, "chapter_index", result.ChapterIndex)
		return result, nil
	}
	result.ChapterCompleted = true
	result.Message = prompts.ChapterCompleted(s, chapter, result.StorylineCompleted)
	metrics.ChaptersCompleted.Inc()

	e.logger.Info("Chapter completed",
		"user_id", userID,
		"storyline_id", s.ID,
		"chapter_index", result.ChapterIndex,
		"storyline_completed", result.StorylineCompleted)

	result.PersistenceFailed = e.persistBestEffort(ctx, userID, entry, current)

	e.notifier.Notify(ctx, events.Event{
		Type:        events.EventTypeChapterCompleted,
		UserID:      userID,
		StorylineID: s.ID,
		Timestamp:   e.now(),
		Data: map[string]interface{}{
			"chapter_index": result.ChapterIndex,
			"chapter":       chapter.Title,
		},
	})
	if result.StorylineCompleted {
		e.notifier.Notify(ctx, events.Event{
			Type:        events.EventTypeStorylineCompleted,
			UserID:      userID,
			StorylineID: s.ID,
			Timestamp:   e.now(),
		})
	}
	return result, nil
}

// ExportTranscript returns the storyline's chapters with the user's progress.
func (e *Engine) ExportTranscript(userID, storylineID string) (*Transcript, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	p, err := e.Profile()
	if err != nil {
		return nil, err
	}
	s, ok := p.Storyline(storylineID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStoryline, storylineID)
	}

	label := fmt.Sprintf("0/%d", s.ChapterCount())
	if entry, ok := e.store.Lookup(userID); ok {
		entry.View(func(u *state.UserState) {
			if sp, ok := u.PeekProgress(s.ID); ok {
				label = sp.Label(s.ChapterCount())
			}
		})
	}

	chapters := make([]profile.Chapter, len(s.Chapters))
	copy(chapters, s.Chapters)
	return &Transcript{
		Storyline:   s.Title,
		Description: s.Description,
		Progress:    label,
		Chapters:    chapters,
		ExportedAt:  e.now(),
	}, nil
}
