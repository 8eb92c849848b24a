// Package core implements the feature-flag evaluation algorithm: deterministic
// percentile bucketing, attribute targeting, dependency resolution, environment
// overrides, and A/B variant selection.
//
// The package is pure computation. It holds no state of its own; flag
// definitions are supplied through a [FlagSource] so the evaluator can resolve
// dependency chains without owning storage.
package core

import "time"

// FeatureFlag is a named rollout policy. Key is the immutable identity of the
// flag within a registry.
type FeatureFlag struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	DefaultValue bool   `json:"defaultValue"`
	// EnvironmentOverrides maps an environment name to a forced value.
	// A missing key means no override for that environment.
	EnvironmentOverrides map[string]bool `json:"environmentOverrides,omitempty"`
	Rollout              Rollout         `json:"rollout"`
	Metadata             FlagMetadata    `json:"metadata"`
}

// Rollout describes who a flag is enabled for when no environment override
// decides the outcome outright.
type Rollout struct {
	Percentage        int                `json:"percentage"`
	ExplicitUserIDs   []string           `json:"explicitUserIDs,omitempty"`
	ExplicitOrgIDs    []string           `json:"explicitOrgIDs,omitempty"`
	AttributeCriteria *AttributeCriteria `json:"attributeCriteria,omitempty"`
	ABTest            *ABTestConfig      `json:"abTest,omitempty"`
}

// ABTestConfig splits the rolled-out population across named variants.
// When Enabled, variant percentages must sum to exactly 100; [Validate]
// enforces this at insertion time, it is not re-checked per evaluation.
type ABTestConfig struct {
	Enabled  bool        `json:"enabled"`
	Variants []ABVariant `json:"variants,omitempty"`
}

// ABVariant is one branch of an A/B test. Config is an opaque payload
// delivered to callers alongside the variant name; values are restricted to
// strings, booleans, numbers, and nested maps of the same.
type ABVariant struct {
	Name       string         `json:"name"`
	Percentage int            `json:"percentage"`
	Config     map[string]any `json:"config,omitempty"`
}

// AttributeCriteria filters the rollout population by user attributes.
// All specified criteria must hold; absent criteria are vacuously satisfied.
type AttributeCriteria struct {
	Roles            []string   `json:"roles,omitempty"`
	Plans            []string   `json:"plans,omitempty"`
	RegisteredAfter  *time.Time `json:"registeredAfter,omitempty"`
	RegisteredBefore *time.Time `json:"registeredBefore,omitempty"`
}

// FlagMetadata carries display and administrative data. Dependencies names
// other flag keys that must independently evaluate to enabled before this
// flag can be.
type FlagMetadata struct {
	CreatedBy    string    `json:"createdBy,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitzero"`
	UpdatedAt    time.Time `json:"updatedAt,omitzero"`
	Tags         []string  `json:"tags,omitempty"`
	Dependencies []string  `json:"dependencies,omitempty"`
}

// UserContext is the caller-supplied identity a flag is evaluated against.
// It is ephemeral; the engine never persists it beyond bounded analytics.
type UserContext struct {
	ID               string         `json:"id"`
	Email            string         `json:"email,omitempty"`
	OrganizationID   string         `json:"organizationId,omitempty"`
	Role             string         `json:"role,omitempty"`
	Plan             string         `json:"plan,omitempty"`
	RegistrationDate time.Time      `json:"registrationDate,omitzero"`
	Attributes       map[string]any `json:"attributes,omitempty"`
}

// Result is the outcome of a single evaluation. Reason is a short, stable
// classification of the rule that decided the outcome, suitable for debugging
// and test assertions.
type Result struct {
	Enabled bool           `json:"enabled"`
	Variant string         `json:"variant,omitempty"`
	Config  map[string]any `json:"config,omitempty"`
	Reason  string         `json:"reason"`
}

// FlagSource resolves flag keys to definitions during evaluation and
// validation. Lookups for different keys within one evaluation may observe
// different states of a concurrently administered registry; implementations
// only guarantee that each individual flag read is consistent.
type FlagSource interface {
	Lookup(key string) (FeatureFlag, bool)
}
