package activity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequirement_Met(t *testing.T) {
	tests := []struct {
		name     string
		req      Requirement
		workout  Workout
		expected bool
	}{
		{name: "distance reached", req: Requirement{Type: "running", Distance: 1000}, workout: Workout{Type: "running", Distance: 1000}, expected: true},
		{name: "distance short", req: Requirement{Type: "running", Distance: 1000}, workout: Workout{Type: "running", Distance: 999}, expected: false},
		{name: "duration reached", req: Requirement{Type: "running", Duration: 1000}, workout: Workout{Type: "running", Duration: 1500}, expected: true},
		{name: "wrong type", req: Requirement{Type: "running", Distance: 1000}, workout: Workout{Type: "cycling", Distance: 5000}, expected: false},
		{name: "unset duration ignored", req: Requirement{Type: "running", Distance: 1000}, workout: Workout{Type: "running", Duration: 9999}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.req.Met(tt.workout))
		})
	}
}

func TestRequirements_Evaluate(t *testing.T) {
	reqs := DefaultRequirements()

	newly := reqs.Evaluate(Workout{Type: "running", Distance: 1100, Duration: 1100}, nil)
	assert.Equal(t, []string{"story_1", "story_2"}, newly)

	already := map[string]bool{"story_1": true}
	newly = reqs.Evaluate(Workout{Type: "running", Distance: 1300}, func(id string) bool { return already[id] })
	assert.Equal(t, []string{"story_3"}, newly)

	newly = reqs.Evaluate(Workout{Type: "walking", Distance: 5000}, nil)
	assert.Empty(t, newly)
	assert.NotNil(t, newly)
}

func TestParseRequirements(t *testing.T) {
	data := []byte(`
s1:
  type: running
  distance: 500
s2:
  type: cycling
  duration: 600
`)
	reqs, err := ParseRequirements(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, reqs.IDs())
	assert.Equal(t, Requirement{Type: "cycling", Duration: 600}, reqs["s2"])
}

func TestParseRequirements_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "malformed yaml", data: "s1: [type"},
		{name: "missing type", data: "s1:\n  distance: 100\n"},
		{name: "no threshold", data: "s1:\n  type: running\n"},
		{name: "negative distance", data: "s1:\n  type: running\n  distance: -5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequirements([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoadRequirements(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requirements.yaml")
	require.NoError(t, os.WriteFile(path, []byte("story_9:\n  type: swimming\n  distance: 200\n"), 0o644))

	reqs, err := LoadRequirements(path)
	require.NoError(t, err)
	assert.Contains(t, reqs, "story_9")

	_, err = LoadRequirements(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateWorkout(t *testing.T) {
	assert.NoError(t, ValidateWorkout(Workout{Type: "running", Distance: 10}))
	assert.Error(t, ValidateWorkout(Workout{Distance: 10}))
	assert.Error(t, ValidateWorkout(Workout{Type: "running", Duration: -1}))
}
