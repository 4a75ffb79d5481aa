package profile

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their document names rather than Go names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ConfigError reports an invalid or incomplete profile definition.
type ConfigError struct {
	Missing []string // document paths of required fields that are absent or empty
	Invalid []string // other problems
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, strings.Join(e.Invalid, "; "))
	}
	if len(parts) == 0 {
		return "invalid profile"
	}
	return "invalid profile: " + strings.Join(parts, "; ")
}

// Validate checks required persona fields and that every storyline has an id,
// a title and at least one chapter. Storyline ids must be unique.
func Validate(p *Profile) error {
	cfgErr := &ConfigError{}

	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &ConfigError{Invalid: []string{err.Error()}}
		}
		for _, fe := range verrs {
			path := fieldPath(fe.Namespace())
			switch fe.Tag() {
			case "required", "min":
				cfgErr.Missing = append(cfgErr.Missing, path)
			default:
				cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("%s failed %q", path, fe.Tag()))
			}
		}
	}

	seen := make(map[string]bool, len(p.Storylines))
	for _, s := range p.Storylines {
		if s.ID == "" {
			continue
		}
		if seen[s.ID] {
			cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("duplicate storyline id %q", s.ID))
		}
		seen[s.ID] = true
	}

	if len(cfgErr.Missing) > 0 || len(cfgErr.Invalid) > 0 {
		return cfgErr
	}
	return nil
}

// fieldPath strips the root struct name from a validator namespace,
// e.g. "Profile.storylines[0].id" -> "storylines[0].id".
func fieldPath(ns string) string {
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return ns
}
