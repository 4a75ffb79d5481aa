package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jwebster45206/companion-engine/pkg/activity"
	"github.com/jwebster45206/companion-engine/pkg/profile"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <profile.json|profile.yaml> [requirements.yaml]\n", os.Args[0])
		os.Exit(1)
	}

	v := &ProfileValidator{}
	if err := v.validateFile(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
		os.Exit(1)
	}
	if len(os.Args) > 2 {
		if err := v.validateRequirements(os.Args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
			os.Exit(1)
		}
	}

	for _, w := range v.warnings {
		fmt.Printf("warning: %s\n", w)
	}
	fmt.Println("Profile is valid!")
}

type ProfileValidator struct {
	profile  *profile.Profile
	warnings []string
}

func (v *ProfileValidator) validateFile(filename string) error {
	fmt.Printf("Validating %s...\n", filename)

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json", ".yaml", ".yml":
	default:
		return fmt.Errorf("profile file must have a .json, .yaml or .yml extension: %s", filepath.Base(filename))
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filename, err)
	}

	p, err := profile.Parse(data)
	if err != nil {
		var cfgErr *profile.ConfigError
		if errors.As(err, &cfgErr) {
			return fmt.Errorf("%s:\n%s", filename, formatConfigError(cfgErr))
		}
		return err
	}
	v.profile = p

	for _, s := range p.Storylines {
		if !isValidID(s.ID) {
			v.addWarning(fmt.Sprintf("storyline id '%s' should be lowercase snake_case", s.ID))
		}
		for i, ch := range s.Chapters {
			if ch.Objective == "" {
				v.addWarning(fmt.Sprintf("storyline '%s' chapter %d has no objective", s.ID, i+1))
			}
		}
	}
	return nil
}

func (v *ProfileValidator) validateRequirements(filename string) error {
	reqs, err := activity.LoadRequirements(filename)
	if err != nil {
		return err
	}
	for _, id := range reqs.IDs() {
		if _, ok := v.profile.Storyline(id); !ok {
			v.addWarning(fmt.Sprintf("requirement '%s' does not match any storyline", id))
		}
	}
	return nil
}

func (v *ProfileValidator) addWarning(msg string) {
	v.warnings = append(v.warnings, msg)
}

func formatConfigError(e *profile.ConfigError) string {
	lines := make([]string, 0, len(e.Missing)+len(e.Invalid))
	for _, f := range e.Missing {
		lines = append(lines, "  missing: "+f)
	}
	for _, msg := range e.Invalid {
		lines = append(lines, "  invalid: "+msg)
	}
	return strings.Join(lines, "\n")
}

var idPattern = regexp.MustCompile(`^[a-z0-9]+(_[a-z0-9]+)*$`)

func isValidID(id string) bool {
	return idPattern.MatchString(id)
}
