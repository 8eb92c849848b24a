package core

import (
	"fmt"
	"slices"
)

// Stable reason strings returned in [Result.Reason]. Parameterised reasons
// (dependency failures, percentile misses, variant assignment) are built by
// the helpers below.
const (
	ReasonFlagNotFound        = "Flag not found"
	ReasonEnvironmentOverride = "Environment override"
	ReasonDefaultValue        = "Default value"
	ReasonEnvironmentDisabled = "Disabled by environment"
	ReasonUserTargeted        = "User explicitly targeted"
	ReasonOrgTargeted         = "Organization explicitly targeted"
	ReasonAttributeMismatch   = "User attributes do not match"
	ReasonDefaultRollout      = "Default rollout behavior"
)

// maxDependencyDepth bounds dependency recursion. Cycles are rejected when
// flags are added, but the registry gives no snapshot isolation across keys,
// so a cycle can appear transiently during concurrent administration. Hitting
// the bound resolves the offending dependency as not enabled rather than
// recursing forever.
const maxDependencyDepth = 32

// DependencyReason is the reason reported when a dependency chain fails at
// the named flag key.
func DependencyReason(key string) string {
	return fmt.Sprintf("Dependency '%s' not enabled", key)
}

// PercentileReason is the reason reported when a user's percentile falls
// outside the rollout percentage.
func PercentileReason(percentile, percentage int) string {
	return fmt.Sprintf("User percentile %d > rollout %d%%", percentile, percentage)
}

// VariantReason is the reason reported when an A/B variant is assigned.
func VariantReason(name string) string {
	return fmt.Sprintf("A/B test variant: %s", name)
}

// Evaluate decides whether flagKey is enabled in the given environment for
// the given user, consulting source for the flag definition and any declared
// dependencies. A nil user requests anonymous evaluation: only the
// environment override and the default value are consulted, since percentage
// and attribute logic require an identity.
//
// The precedence order is fixed: lookup, anonymous short-circuit, dependency
// closure, environment disable, explicit user/org allow-lists, attribute
// targeting, percentage bucketing, A/B variant selection, default.
// A true environment override never short-circuits; it only floors the
// outcome so a richer result (an A/B variant) can still be selected.
func Evaluate(source FlagSource, environment, flagKey string, user *UserContext) Result {
	return evaluate(source, environment, flagKey, user, 0)
}

func evaluate(source FlagSource, environment, flagKey string, user *UserContext, depth int) Result {
	flag, ok := source.Lookup(flagKey)
	if !ok {
		return Result{Enabled: false, Reason: ReasonFlagNotFound}
	}

	if user == nil {
		if value, ok := flag.EnvironmentOverrides[environment]; ok {
			return Result{Enabled: value, Reason: ReasonEnvironmentOverride}
		}
		return Result{Enabled: flag.DefaultValue, Reason: ReasonDefaultValue}
	}

	for _, dep := range flag.Metadata.Dependencies {
		if depth >= maxDependencyDepth {
			return Result{Enabled: false, Reason: DependencyReason(dep)}
		}
		if res := evaluate(source, environment, dep, user, depth+1); !res.Enabled {
			return Result{Enabled: false, Reason: DependencyReason(dep)}
		}
	}

	override, hasOverride := flag.EnvironmentOverrides[environment]
	if hasOverride && !override {
		return Result{Enabled: false, Reason: ReasonEnvironmentDisabled}
	}

	if slices.Contains(flag.Rollout.ExplicitUserIDs, user.ID) {
		return Result{Enabled: true, Reason: ReasonUserTargeted}
	}
	if user.OrganizationID != "" && slices.Contains(flag.Rollout.ExplicitOrgIDs, user.OrganizationID) {
		return Result{Enabled: true, Reason: ReasonOrgTargeted}
	}

	if flag.Rollout.AttributeCriteria != nil && !MatchesCriteria(flag.Rollout.AttributeCriteria, *user) {
		return Result{Enabled: false, Reason: ReasonAttributeMismatch}
	}

	percentile := Percentile(user.ID, flag.Key)
	if percentile > flag.Rollout.Percentage {
		return Result{Enabled: false, Reason: PercentileReason(percentile, flag.Rollout.Percentage)}
	}

	if ab := flag.Rollout.ABTest; ab != nil && ab.Enabled && len(ab.Variants) > 0 {
		variant := selectVariant(ab.Variants, VariantBucket(user.ID, flag.Key))
		return Result{
			Enabled: true,
			Variant: variant.Name,
			Config:  variant.Config,
			Reason:  VariantReason(variant.Name),
		}
	}

	enabled := flag.DefaultValue
	if hasOverride {
		enabled = override
	}
	return Result{Enabled: enabled, Reason: ReasonDefaultRollout}
}

// selectVariant walks variants in declared order accumulating percentages and
// picks the first whose cumulative share exceeds the bucket. With percentages
// summing to 100 and bucket in [0,100) exactly one variant always matches;
// the first variant is the fallback for degenerate configurations that slip
// past validation.
func selectVariant(variants []ABVariant, bucket int) ABVariant {
	cumulative := 0
	for _, variant := range variants {
		cumulative += variant.Percentage
		if cumulative > bucket {
			return variant
		}
	}
	return variants[0]
}
