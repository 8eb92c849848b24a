package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidFlag wraps every validation failure returned by [Validate] so
// callers can classify rejections with errors.Is.
var ErrInvalidFlag = errors.New("invalid flag")

// Validate checks a flag definition before it is stored. It collects every
// problem rather than stopping at the first, and returns them joined in a
// single error wrapping [ErrInvalidFlag]. source supplies the existing flag
// set for dependency checks; the candidate flag itself shadows any flag
// already stored under the same key, so updates are validated against their
// own new dependency list.
//
// Checked: required key/name/description, rollout percentage in [0,100],
// A/B test shape (variants present, percentages sum to exactly 100, config
// payloads limited to string/bool/number/nested-map values), dependency keys
// resolving in source, and dependency cycles. Cycle rejection here is what
// lets the evaluator run without per-call graph traversal.
func Validate(flag FeatureFlag, source FlagSource) error {
	var problems []string

	if strings.TrimSpace(flag.Key) == "" {
		problems = append(problems, "flag key is required")
	}
	if strings.TrimSpace(flag.Name) == "" {
		problems = append(problems, "flag name is required")
	}
	if strings.TrimSpace(flag.Description) == "" {
		problems = append(problems, "flag description is required")
	}

	if p := flag.Rollout.Percentage; p < 0 || p > 100 {
		problems = append(problems, fmt.Sprintf("rollout percentage %d must be between 0 and 100", p))
	}

	problems = append(problems, validateABTest(flag.Rollout.ABTest)...)
	problems = append(problems, validateDependencies(flag, source)...)

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w %q: %s", ErrInvalidFlag, flag.Key, strings.Join(problems, "; "))
}

func validateABTest(ab *ABTestConfig) []string {
	if ab == nil || !ab.Enabled {
		return nil
	}

	if len(ab.Variants) == 0 {
		return []string{"A/B test is enabled but has no variants"}
	}

	var problems []string
	total := 0
	for _, variant := range ab.Variants {
		if strings.TrimSpace(variant.Name) == "" {
			problems = append(problems, "A/B variant name is required")
		}
		if variant.Percentage < 0 || variant.Percentage > 100 {
			problems = append(problems, fmt.Sprintf("A/B variant %q percentage %d must be between 0 and 100", variant.Name, variant.Percentage))
		}
		total += variant.Percentage
		problems = append(problems, validateVariantConfig(variant.Name, variant.Config)...)
	}
	if total != 100 {
		problems = append(problems, fmt.Sprintf("A/B variant percentages sum to %d, must sum to 100", total))
	}

	return problems
}

// validateVariantConfig keeps variant payloads to value kinds that serialize
// and compare identically across the export/import round trip.
func validateVariantConfig(variant string, config map[string]any) []string {
	var problems []string
	for key, value := range config {
		switch v := value.(type) {
		case string, bool, int, int64, float64:
		case map[string]any:
			problems = append(problems, validateVariantConfig(variant, v)...)
		default:
			problems = append(problems, fmt.Sprintf("A/B variant %q config key %q has unsupported value type %T", variant, key, v))
		}
	}
	return problems
}

func validateDependencies(flag FeatureFlag, source FlagSource) []string {
	if len(flag.Metadata.Dependencies) == 0 {
		return nil
	}

	var problems []string
	for _, dep := range flag.Metadata.Dependencies {
		if dep == flag.Key {
			problems = append(problems, fmt.Sprintf("flag cannot depend on itself: %q", dep))
			continue
		}
		if _, ok := source.Lookup(dep); !ok {
			problems = append(problems, fmt.Sprintf("dependency %q does not exist", dep))
		}
	}

	if cycle := findDependencyCycle(flag, source); len(cycle) > 0 {
		problems = append(problems, fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")))
	}

	return problems
}

// findDependencyCycle runs a depth-first search over the dependency graph as
// it would exist with the candidate flag stored, returning the first cycle
// path found reaching back to the candidate, or nil.
func findDependencyCycle(flag FeatureFlag, source FlagSource) []string {
	deps := func(key string) []string {
		if key == flag.Key {
			return flag.Metadata.Dependencies
		}
		if f, ok := source.Lookup(key); ok {
			return f.Metadata.Dependencies
		}
		return nil
	}

	var walk func(key string, path []string) []string
	walk = func(key string, path []string) []string {
		path = append(slices.Clone(path), key)
		for _, dep := range deps(key) {
			if dep == flag.Key {
				return append(path, dep)
			}
			if cycle := walk(dep, path); cycle != nil {
				return cycle
			}
		}
		return nil
	}

	return walk(flag.Key, nil)
}
