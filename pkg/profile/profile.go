package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Chapter is the smallest unit of progression within a storyline.
// A chapter's index is its position in Storyline.Chapters.
type Chapter struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Objective   string `json:"objective,omitempty"`
}

// Storyline is an ordered, independently unlockable sequence of chapters.
type Storyline struct {
	ID          string    `json:"id" validate:"required"`
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description,omitempty"`
	Unlocked    bool      `json:"unlocked"` // available without an unlock event
	Chapters    []Chapter `json:"chapters" validate:"required,min=1,dive"`
}

// ChapterCount returns the number of chapters in the storyline.
func (s *Storyline) ChapterCount() int {
	return len(s.Chapters)
}

// Chapter returns the chapter at idx, or false when idx is past the end.
func (s *Storyline) Chapter(idx int) (Chapter, bool) {
	if idx < 0 || idx >= len(s.Chapters) {
		return Chapter{}, false
	}
	return s.Chapters[idx], true
}

// Profile is the character persona plus the storyline catalog.
// A Profile is treated as immutable once validated; updates produce a new
// Profile via Merge.
type Profile struct {
	Name          string      `json:"name" validate:"required"`
	Personality   string      `json:"personality" validate:"required"`
	SpeakingStyle string      `json:"speaking_style" validate:"required"`
	Background    string      `json:"background" validate:"required"`
	Traits        []string    `json:"traits,omitempty"`
	Storylines    []Storyline `json:"storylines,omitempty" validate:"dive"`
	CreatedAt     time.Time   `json:"created_at,omitzero"`
	UpdatedAt     time.Time   `json:"updated_at,omitzero"`

	// Extra holds author-defined fields (voice_tone, relationship, ...) that
	// the engine does not interpret but must write back unchanged.
	Extra map[string]json.RawMessage `json:"-"`
}

// knownKeys are the top-level fields decoded into Profile's typed fields.
var knownKeys = map[string]bool{
	"name":           true,
	"personality":    true,
	"speaking_style": true,
	"background":     true,
	"traits":         true,
	"storylines":     true,
	"created_at":     true,
	"updated_at":     true,
}

// ReservedKeys are top-level snapshot fields owned by the progress store.
// They are never treated as author-defined profile fields.
var ReservedKeys = map[string]bool{
	"story_progress":    true,
	"current_storyline": true,
	"activity":          true,
	"saved_at":          true,
}

type profileAlias Profile

// MarshalJSON writes the typed fields and the pass-through fields as one object.
func (p Profile) MarshalJSON() ([]byte, error) {
	typed, err := json.Marshal(profileAlias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return typed, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(typed, &merged); err != nil {
		return nil, err
	}
	for k, v := range p.Extra {
		if knownKeys[k] || ReservedKeys[k] {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the typed fields and keeps every other non-reserved
// field in Extra.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var alias profileAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = Profile(alias)
	p.Extra = nil
	for k, v := range raw {
		if knownKeys[k] || ReservedKeys[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]json.RawMessage)
		}
		p.Extra[k] = v
	}
	return nil
}

// Storyline returns the storyline with the given id.
func (p *Profile) Storyline(id string) (*Storyline, bool) {
	for i := range p.Storylines {
		if p.Storylines[i].ID == id {
			return &p.Storylines[i], true
		}
	}
	return nil, false
}

// Parse decodes a JSON or YAML profile document and validates it.
// Any decoding or validation problem is reported as a *ConfigError.
func Parse(data []byte) (*Profile, error) {
	jsonData, err := toJSON(data)
	if err != nil {
		return nil, &ConfigError{Invalid: []string{err.Error()}}
	}

	var p Profile
	if err := json.Unmarshal(jsonData, &p); err != nil {
		return nil, &ConfigError{Invalid: []string{fmt.Sprintf("malformed profile: %v", err)}}
	}

	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// toJSON normalizes a YAML document to JSON. JSON input is returned as-is.
func toJSON(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("profile document is empty")
	}
	if trimmed[0] == '{' {
		return trimmed, nil
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("malformed profile: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("profile document is empty")
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML profile: %w", err)
	}
	return out, nil
}

// Merge overlays top-level field updates onto the profile and returns a new,
// validated profile. The receiver is never modified, so a failed merge leaves
// the current catalog in place.
func (p *Profile) Merge(updates map[string]json.RawMessage, now time.Time) (*Profile, error) {
	current, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(current, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode profile fields: %w", err)
	}

	for k, v := range updates {
		if k == "created_at" || k == "updated_at" || ReservedKeys[k] {
			continue
		}
		fields[k] = v
	}

	mergedData, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged profile: %w", err)
	}

	var merged Profile
	if err := json.Unmarshal(mergedData, &merged); err != nil {
		return nil, &ConfigError{Invalid: []string{fmt.Sprintf("malformed update: %v", err)}}
	}
	if err := Validate(&merged); err != nil {
		return nil, err
	}

	merged.CreatedAt = p.CreatedAt
	merged.UpdatedAt = now
	return &merged, nil
}
