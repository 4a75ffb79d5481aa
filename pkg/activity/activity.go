// Package activity turns reported workouts into storyline unlocks.
package activity

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Workout is one exercise session reported by the fitness client.
type Workout struct {
	Type     string  `json:"type" validate:"required"`
	Distance float64 `json:"distance" validate:"gte=0"` // metres
	Duration float64 `json:"duration" validate:"gte=0"` // seconds
}

// Requirement is the threshold a single workout must reach to unlock a
// storyline. Either threshold is sufficient; a zero threshold is unset.
type Requirement struct {
	Type     string  `yaml:"type" json:"type" validate:"required"`
	Distance float64 `yaml:"distance,omitempty" json:"distance,omitempty" validate:"gte=0,required_without=Duration"`
	Duration float64 `yaml:"duration,omitempty" json:"duration,omitempty" validate:"gte=0,required_without=Distance"`
}

// Met reports whether w satisfies the requirement.
func (r Requirement) Met(w Workout) bool {
	if r.Type != w.Type {
		return false
	}
	if r.Distance > 0 && w.Distance >= r.Distance {
		return true
	}
	if r.Duration > 0 && w.Duration >= r.Duration {
		return true
	}
	return false
}

// Requirements maps storyline id to its unlock requirement.
type Requirements map[string]Requirement

// DefaultRequirements returns the built-in running thresholds.
func DefaultRequirements() Requirements {
	return Requirements{
		"story_1": {Type: "running", Distance: 1000},
		"story_2": {Type: "running", Duration: 1000},
		"story_3": {Type: "running", Distance: 1200},
		"story_4": {Type: "running", Duration: 1200},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateWorkout checks a reported workout before it is applied.
func ValidateWorkout(w Workout) error {
	if err := validate.Struct(w); err != nil {
		return fmt.Errorf("invalid workout: %w", err)
	}
	return nil
}

// LoadRequirements reads a YAML requirements file of the form
//
//	story_1:
//	  type: running
//	  distance: 1000
func LoadRequirements(path string) (Requirements, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read requirements file %s: %w", path, err)
	}
	return ParseRequirements(data)
}

// ParseRequirements decodes and validates a YAML requirements document.
func ParseRequirements(data []byte) (Requirements, error) {
	var reqs Requirements
	if err := yaml.Unmarshal(data, &reqs); err != nil {
		return nil, fmt.Errorf("failed to parse requirements: %w", err)
	}
	for id, r := range reqs {
		if err := validate.Struct(r); err != nil {
			return nil, fmt.Errorf("invalid requirement for %q: %w", id, err)
		}
	}
	if reqs == nil {
		reqs = Requirements{}
	}
	return reqs, nil
}

// IDs returns the storyline ids with requirements, sorted.
func (rs Requirements) IDs() []string {
	ids := make([]string, 0, len(rs))
	for id := range rs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Evaluate returns the sorted ids whose requirement w meets and which are not
// already unlocked.
func (rs Requirements) Evaluate(w Workout, unlocked func(id string) bool) []string {
	newly := make([]string, 0)
	for _, id := range rs.IDs() {
		if unlocked != nil && unlocked(id) {
			continue
		}
		if rs[id].Met(w) {
			newly = append(newly, id)
		}
	}
	return newly
}
