package state

import (
	"fmt"
	"time"

	"github.com/jwebster45206/companion-engine/pkg/chat"
	"github.com/jwebster45206/companion-engine/pkg/profile"
)

// StoryProgress is one user's position in one storyline.
//
// CurrentChapter indexes into the storyline's chapters; a value equal to the
// chapter count means the storyline is complete. CompletedChapters is always
// {0, ..., CurrentChapter-1}.
type StoryProgress struct {
	CurrentChapter    int   `json:"current_chapter"`
	CompletedChapters []int `json:"completed_chapters"`
	Unlocked          bool  `json:"unlocked"`
}

// NewStoryProgress returns progress positioned at the first chapter.
func NewStoryProgress(unlocked bool) *StoryProgress {
	return &StoryProgress{
		CurrentChapter:    0,
		CompletedChapters: make([]int, 0),
		Unlocked:          unlocked,
	}
}

// IsCompleted reports whether every chapter has been completed.
func (p *StoryProgress) IsCompleted(chapterCount int) bool {
	return p.CurrentChapter >= chapterCount
}

// CompleteChapter marks chapter idx complete and moves to the next chapter.
// idx must be the current chapter. Both fields change together or not at all.
func (p *StoryProgress) CompleteChapter(idx, chapterCount int) error {
	if idx != p.CurrentChapter {
		return fmt.Errorf("chapter %d is not the current chapter (%d)", idx, p.CurrentChapter)
	}
	if idx >= chapterCount {
		return fmt.Errorf("chapter %d is out of range (%d chapters)", idx, chapterCount)
	}

	completed := make([]int, len(p.CompletedChapters), len(p.CompletedChapters)+1)
	copy(completed, p.CompletedChapters)
	completed = append(completed, idx)

	p.CompletedChapters = completed
	p.CurrentChapter = idx + 1
	return nil
}

// Label formats progress as "completed/total".
func (p *StoryProgress) Label(chapterCount int) string {
	return fmt.Sprintf("%d/%d", len(p.CompletedChapters), chapterCount)
}

// Clone returns a deep copy.
func (p *StoryProgress) Clone() StoryProgress {
	completed := make([]int, len(p.CompletedChapters))
	copy(completed, p.CompletedChapters)
	return StoryProgress{
		CurrentChapter:    p.CurrentChapter,
		CompletedChapters: completed,
		Unlocked:          p.Unlocked,
	}
}

// ActivityTotals accumulates the workouts a user has reported.
type ActivityTotals struct {
	TotalDistance float64 `json:"total_distance"` // metres
	TotalDuration float64 `json:"total_duration"` // seconds
	Workouts      int     `json:"workouts"`
}

// UserState is the narrative state owned by a single user.
type UserState struct {
	UserID             string                    `json:"user_id"`
	CurrentStorylineID string                    `json:"current_storyline,omitempty"`
	Progress           map[string]*StoryProgress `json:"story_progress"`
	Activity           ActivityTotals            `json:"activity"`
	History            *chat.History             `json:"-"`
	CreatedAt          time.Time                 `json:"created_at"`
	UpdatedAt          time.Time                 `json:"updated_at"`
}

// NewUserState returns an empty state for userID.
func NewUserState(userID string, now time.Time) *UserState {
	return &UserState{
		UserID:    userID,
		Progress:  make(map[string]*StoryProgress),
		History:   chat.NewHistory(nil),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// PeekProgress returns the progress entry for a storyline without creating one.
func (u *UserState) PeekProgress(storylineID string) (*StoryProgress, bool) {
	p, ok := u.Progress[storylineID]
	return p, ok
}

// ProgressFor returns the progress entry for s, creating it from the
// catalog's static unlock flag on first reference.
func (u *UserState) ProgressFor(s *profile.Storyline) *StoryProgress {
	if p, ok := u.Progress[s.ID]; ok {
		return p
	}
	p := NewStoryProgress(s.Unlocked)
	u.Progress[s.ID] = p
	return p
}

// CloneProgress returns a deep copy of every progress entry.
func (u *UserState) CloneProgress() map[string]StoryProgress {
	out := make(map[string]StoryProgress, len(u.Progress))
	for id, p := range u.Progress {
		out[id] = p.Clone()
	}
	return out
}
