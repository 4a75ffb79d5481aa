package state

import "github.com/jwebster45206/companion-engine/pkg/profile"

// IsUnlocked reports whether a storyline may be entered. A storyline is open
// when the catalog marks it unlocked or the user has received an unlock
// event for it. p may be nil when the user has never referenced s.
func IsUnlocked(s *profile.Storyline, p *StoryProgress) bool {
	if s.Unlocked {
		return true
	}
	return p != nil && p.Unlocked
}

// MarkUnlocked records an unlock event for s. It is idempotent and reports
// whether the state changed. Nothing in the engine ever re-locks a storyline.
func (u *UserState) MarkUnlocked(s *profile.Storyline) bool {
	p := u.ProgressFor(s)
	if p.Unlocked {
		return false
	}
	p.Unlocked = true
	return true
}
