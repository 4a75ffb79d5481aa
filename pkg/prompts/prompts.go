package prompts

import (
	"fmt"
	"strings"

	"github.com/jwebster45206/companion-engine/pkg/profile"
	"github.com/jwebster45206/companion-engine/pkg/state"
)

// Mode selects which context the character speaks from.
type Mode string

const (
	ModeChat  Mode = "chat"
	ModeStory Mode = "story"
)

// PersonaTemplate introduces the character. Arguments: name, personality,
// background, speaking style.
const PersonaTemplate = `Your name is %s.

### Personality
%s

### Background story
%s

### Speaking style
%s

### Behavior requirements
`

// ChatModePrompt closes the context for casual conversation.
const ChatModePrompt = `
Now you are having a casual chat with the user. Stay true to your character settings and respond naturally to the user's topics.
Do not reveal that you are an AI. Immerse yourself completely in the character.`

// StoryModeTemplate describes the active plot. Arguments: storyline title,
// chapter title, chapter objective.
const StoryModeTemplate = `

### Current plot
Storyline: %s
Chapter: %s
Chapter goal: %s

Advance the story based on the current plot progress. Keep the character consistent and create engaging interactions.`

// BuildContext renders the system context for one generation call.
//
// In story mode the current plot section is added only while the storyline
// has chapters left; a completed storyline or missing storyline falls back to
// the chat context. The output depends only on its arguments.
func BuildContext(mode Mode, p *profile.Profile, s *profile.Storyline, progress *state.StoryProgress) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(PersonaTemplate, p.Name, p.Personality, p.Background, p.SpeakingStyle))

	traits := make([]string, 0, len(p.Traits))
	for _, t := range p.Traits {
		traits = append(traits, "- "+t)
	}
	sb.WriteString(strings.Join(traits, "\n"))

	if mode == ModeStory && s != nil {
		current := 0
		if progress != nil {
			current = progress.CurrentChapter
		}
		if ch, ok := s.Chapter(current); ok {
			sb.WriteString(fmt.Sprintf(StoryModeTemplate, s.Title, ch.Title, ch.Objective))
			return sb.String()
		}
	}

	sb.WriteString(ChatModePrompt)
	return sb.String()
}

// Opening renders the narration shown when a storyline is started or resumed.
// It never calls text generation.
func Opening(s *profile.Storyline, progress *state.StoryProgress) string {
	current := 0
	if progress != nil {
		current = progress.CurrentChapter
	}

	var sb strings.Builder
	sb.WriteString("📖 Starting storyline: " + s.Title + "\n")
	if s.Description != "" {
		sb.WriteString("\n" + s.Description + "\n")
	}

	ch, ok := s.Chapter(current)
	if !ok {
		sb.WriteString(fmt.Sprintf("\nAll %d chapters are complete. 🎉\n", s.ChapterCount()))
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("\n--- Chapter %d: %s ---\n", current+1, ch.Title))
	if ch.Description != "" {
		sb.WriteString(ch.Description + "\n")
	}
	if ch.Objective != "" {
		sb.WriteString("\nGoal: " + ch.Objective + "\n")
	}
	return sb.String()
}

// CompletionSummary is returned when advancing a storyline that has no
// chapters left.
func CompletionSummary(s *profile.Storyline) string {
	return fmt.Sprintf("🎉 Congratulations! You have completed the storyline '%s'!", s.Title)
}

// ChapterCompleted announces a finished chapter, and the storyline when it
// was the last one.
func ChapterCompleted(s *profile.Storyline, ch profile.Chapter, storylineDone bool) string {
	msg := fmt.Sprintf("✅ Chapter '%s' complete!", ch.Title)
	if storylineDone {
		msg += fmt.Sprintf("\n🎉 Storyline '%s' is fully complete!", s.Title)
	}
	return msg
}
