package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jwebster45206/companion-engine/pkg/profile"
)

// Snapshot is the persisted document for one user: the full character
// profile with the user's story progress merged in at the top level.
type Snapshot struct {
	Profile          *profile.Profile
	Progress         map[string]StoryProgress
	CurrentStoryline string
	Activity         ActivityTotals
	SavedAt          time.Time
}

// CorruptStateError reports a snapshot that cannot be restored.
type CorruptStateError struct {
	Reason string
	Err    error
}

func (e *CorruptStateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt snapshot: %s: %v", e.Reason, e.Err)
	}
	return "corrupt snapshot: " + e.Reason
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}

// NewSnapshot captures p and a copy of u's progress.
func NewSnapshot(p *profile.Profile, u *UserState, now time.Time) *Snapshot {
	return &Snapshot{
		Profile:          p,
		Progress:         u.CloneProgress(),
		CurrentStoryline: u.CurrentStorylineID,
		Activity:         u.Activity,
		SavedAt:          now,
	}
}

// EncodeSnapshot renders the snapshot as an indented JSON document.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	if s.Profile == nil {
		return nil, fmt.Errorf("snapshot has no profile")
	}

	profileData, err := json.Marshal(s.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(profileData, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode profile fields: %w", err)
	}

	progress := s.Progress
	if progress == nil {
		progress = map[string]StoryProgress{}
	}
	if doc["story_progress"], err = json.Marshal(progress); err != nil {
		return nil, fmt.Errorf("failed to marshal story progress: %w", err)
	}
	if s.CurrentStoryline != "" {
		if doc["current_storyline"], err = json.Marshal(s.CurrentStoryline); err != nil {
			return nil, err
		}
	}
	if doc["activity"], err = json.Marshal(s.Activity); err != nil {
		return nil, err
	}
	if !s.SavedAt.IsZero() {
		if doc["saved_at"], err = json.Marshal(s.SavedAt); err != nil {
			return nil, err
		}
	}

	return json.MarshalIndent(doc, "", "  ")
}

// DecodeSnapshot parses a snapshot document. Missing required top-level
// fields or an invalid embedded profile produce a *CorruptStateError.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &CorruptStateError{Reason: "malformed document", Err: err}
	}

	for _, key := range []string{"name", "story_progress"} {
		if _, ok := doc[key]; !ok {
			return nil, &CorruptStateError{Reason: fmt.Sprintf("missing required field %q", key)}
		}
	}

	var p profile.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &CorruptStateError{Reason: "malformed profile", Err: err}
	}
	if err := profile.Validate(&p); err != nil {
		return nil, &CorruptStateError{Reason: "invalid profile", Err: err}
	}

	snap := &Snapshot{Profile: &p}

	if err := json.Unmarshal(doc["story_progress"], &snap.Progress); err != nil {
		return nil, &CorruptStateError{Reason: "malformed story_progress", Err: err}
	}
	if snap.Progress == nil {
		snap.Progress = map[string]StoryProgress{}
	}
	for id, sp := range snap.Progress {
		if sp.CurrentChapter < 0 {
			return nil, &CorruptStateError{Reason: fmt.Sprintf("negative current_chapter for storyline %q", id)}
		}
	}

	if raw, ok := doc["current_storyline"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &snap.CurrentStoryline); err != nil {
			return nil, &CorruptStateError{Reason: "malformed current_storyline", Err: err}
		}
	}
	if raw, ok := doc["activity"]; ok {
		if err := json.Unmarshal(raw, &snap.Activity); err != nil {
			return nil, &CorruptStateError{Reason: "malformed activity", Err: err}
		}
	}
	if raw, ok := doc["saved_at"]; ok {
		_ = json.Unmarshal(raw, &snap.SavedAt)
	}

	return snap, nil
}

// RestoreReport lists adjustments made while reconciling a snapshot with the
// current catalog.
type RestoreReport struct {
	DroppedStorylines []string // progress for storylines no longer in the catalog
	ClampedStorylines []string // progress past the end of a shortened storyline
	ClearedCurrent    bool     // current storyline no longer in the catalog
}

// Restore builds a UserState from the snapshot, reconciled against catalog.
// Orphaned progress is dropped rather than treated as fatal because the
// catalog may legitimately change between runs.
func (s *Snapshot) Restore(userID string, catalog *profile.Profile, now time.Time) (*UserState, RestoreReport) {
	u := NewUserState(userID, now)
	u.Activity = s.Activity
	var report RestoreReport

	for id, sp := range s.Progress {
		storyline, ok := catalog.Storyline(id)
		if !ok {
			report.DroppedStorylines = append(report.DroppedStorylines, id)
			continue
		}
		p := normalize(sp, storyline.ChapterCount())
		if p.CurrentChapter != sp.CurrentChapter {
			report.ClampedStorylines = append(report.ClampedStorylines, id)
		}
		u.Progress[id] = p
	}

	sort.Strings(report.DroppedStorylines)
	sort.Strings(report.ClampedStorylines)

	if s.CurrentStoryline != "" {
		if _, ok := catalog.Storyline(s.CurrentStoryline); ok {
			u.CurrentStorylineID = s.CurrentStoryline
		} else {
			report.ClearedCurrent = true
		}
	}

	return u, report
}

// Reconcile applies the same catalog reconciliation as Restore to live state
// after the catalog is replaced.
func (u *UserState) Reconcile(catalog *profile.Profile) RestoreReport {
	var report RestoreReport
	for id, sp := range u.Progress {
		storyline, ok := catalog.Storyline(id)
		if !ok {
			delete(u.Progress, id)
			report.DroppedStorylines = append(report.DroppedStorylines, id)
			continue
		}
		p := normalize(*sp, storyline.ChapterCount())
		if p.CurrentChapter != sp.CurrentChapter {
			report.ClampedStorylines = append(report.ClampedStorylines, id)
		}
		u.Progress[id] = p
	}
	sort.Strings(report.DroppedStorylines)
	sort.Strings(report.ClampedStorylines)

	if u.CurrentStorylineID != "" {
		if _, ok := catalog.Storyline(u.CurrentStorylineID); !ok {
			u.CurrentStorylineID = ""
			report.ClearedCurrent = true
		}
	}
	return report
}

// normalize clamps the chapter index to the storyline length and rebuilds the
// completed set as {0..current-1}.
func normalize(sp StoryProgress, chapterCount int) *StoryProgress {
	current := sp.CurrentChapter
	if current > chapterCount {
		current = chapterCount
	}
	completed := make([]int, current)
	for i := range completed {
		completed[i] = i
	}
	return &StoryProgress{
		CurrentChapter:    current,
		CompletedChapters: completed,
		Unlocked:          sp.Unlocked,
	}
}

// IsCorrupt reports whether err is a *CorruptStateError.
func IsCorrupt(err error) bool {
	var c *CorruptStateError
	return errors.As(err, &c)
}
