// Package service wires the flag registry, evaluator, and analytics recorder
// into the engine consumers hold. The engine performs no I/O: evaluation is
// pure computation over the in-memory registry plus one bounded analytics
// append, so it is safe to call from any number of goroutines without
// caller-side locking.
package service

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jasonsaas/finhelm-flags/internal/analytics"
	"github.com/jasonsaas/finhelm-flags/internal/core"
	"github.com/jasonsaas/finhelm-flags/internal/registry"
)

// DefaultAnalyticsLimit caps analytics queries that do not specify a limit.
const DefaultAnalyticsLimit = 100

// Engine evaluates feature flags for one configured environment and records
// contextual evaluations into its analytics buffer. Construct with [New];
// tests build isolated engines rather than sharing process-wide state.
type Engine struct {
	registry    *registry.Registry
	recorder    *analytics.Recorder
	environment string
	log         *slog.Logger
	now         func() time.Time

	onEvaluation func(core.Result)
	onFlagCount  func(int)

	mu          sync.RWMutex
	defaultUser *core.UserContext
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithAnalyticsCapacity bounds the analytics buffer. Defaults to
// [analytics.DefaultCapacity].
func WithAnalyticsCapacity(capacity int) Option {
	return func(e *Engine) {
		e.recorder = analytics.NewRecorder(capacity)
	}
}

// WithEvaluationHook installs a callback invoked after every evaluation,
// used to bump metrics counters.
func WithEvaluationHook(fn func(core.Result)) Option {
	return func(e *Engine) {
		e.onEvaluation = fn
	}
}

// WithFlagCountHook installs a callback invoked with the registry size after
// every administrative change.
func WithFlagCountHook(fn func(int)) Option {
	return func(e *Engine) {
		e.onFlagCount = fn
	}
}

// WithDefaultContext seeds the ambient user context applied when a caller
// evaluates without one.
func WithDefaultContext(user core.UserContext) Option {
	return func(e *Engine) {
		e.defaultUser = &user
	}
}

// New builds an engine over reg for the given environment name.
func New(reg *registry.Registry, environment string, opts ...Option) *Engine {
	e := &Engine{
		registry:    reg,
		recorder:    analytics.NewRecorder(analytics.DefaultCapacity),
		environment: environment,
		log:         slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Environment returns the environment name evaluations run against.
func (e *Engine) Environment() string {
	return e.environment
}

// SetDefaultContext installs the ambient user context used by [Engine.IsEnabled]
// when no per-call context is supplied.
func (e *Engine) SetDefaultContext(user core.UserContext) {
	e.mu.Lock()
	e.defaultUser = &user
	e.mu.Unlock()
}

// ClearDefaultContext removes the ambient user context; subsequent calls to
// [Engine.IsEnabled] evaluate anonymously.
func (e *Engine) ClearDefaultContext() {
	e.mu.Lock()
	e.defaultUser = nil
	e.mu.Unlock()
}

// IsEnabled evaluates a flag against the ambient default context, or
// anonymously when none is set.
func (e *Engine) IsEnabled(flagKey string) core.Result {
	e.mu.RLock()
	user := e.defaultUser
	e.mu.RUnlock()
	return e.IsEnabledFor(flagKey, user)
}

// IsEnabledFor evaluates a flag for an explicit user context, overriding any
// ambient default. A nil user requests anonymous, environment-only
// evaluation. Every contextual evaluation is recorded into the analytics
// buffer after the result is computed; anonymous evaluations are not.
func (e *Engine) IsEnabledFor(flagKey string, user *core.UserContext) core.Result {
	result := core.Evaluate(e.registry, e.environment, flagKey, user)

	if user != nil {
		e.recorder.Record(analytics.Event{
			FlagKey:        flagKey,
			UserID:         user.ID,
			OrganizationID: user.OrganizationID,
			Enabled:        result.Enabled,
			Variant:        result.Variant,
			Timestamp:      e.now(),
			Context:        *user,
		})
	}
	if e.onEvaluation != nil {
		e.onEvaluation(result)
	}

	e.log.Debug("flag evaluated",
		"flag", flagKey,
		"enabled", result.Enabled,
		"reason", result.Reason,
	)

	return result
}

// AddFlag validates and upserts a flag. Creation and update timestamps are
// stamped here: CreatedAt survives across updates of an existing key.
func (e *Engine) AddFlag(flag core.FeatureFlag) error {
	now := e.now()
	if existing, ok := e.registry.Get(flag.Key); ok {
		flag.Metadata.CreatedAt = existing.Metadata.CreatedAt
	} else if flag.Metadata.CreatedAt.IsZero() {
		flag.Metadata.CreatedAt = now
	}
	flag.Metadata.UpdatedAt = now

	if err := e.registry.Add(flag); err != nil {
		e.log.Warn("flag rejected", "flag", flag.Key, "error", err)
		return err
	}

	e.log.Info("flag stored", "flag", flag.Key, "percentage", flag.Rollout.Percentage)
	e.notifyFlagCount()
	return nil
}

// RemoveFlag deletes a flag; removing an absent key is a no-op.
func (e *Engine) RemoveFlag(flagKey string) {
	e.registry.Remove(flagKey)
	e.log.Info("flag removed", "flag", flagKey)
	e.notifyFlagCount()
}

// GetFlag returns a flag definition by key.
func (e *Engine) GetFlag(flagKey string) (core.FeatureFlag, bool) {
	return e.registry.Get(flagKey)
}

// ListFlags returns all flags sorted by key.
func (e *Engine) ListFlags() []core.FeatureFlag {
	return e.registry.ListAll()
}

// ListFlagsByTag returns all flags carrying the given tag, sorted by key.
func (e *Engine) ListFlagsByTag(tag string) []core.FeatureFlag {
	return e.registry.ListByTag(tag)
}

// Analytics returns up to limit retained evaluation events, newest first,
// optionally filtered by flag key. A non-positive limit uses
// [DefaultAnalyticsLimit].
func (e *Engine) Analytics(flagKey string, limit int) []analytics.Event {
	if limit <= 0 {
		limit = DefaultAnalyticsLimit
	}
	return e.recorder.Events(flagKey, limit)
}

// UsageStats aggregates retained evaluation events, optionally filtered by
// flag key. Statistics cover the retention window only, not process lifetime.
func (e *Engine) UsageStats(flagKey string) analytics.UsageStats {
	return e.recorder.Stats(flagKey)
}

// AnalyticsDepth reports how many events the buffer currently retains and how
// many it has evicted since startup.
func (e *Engine) AnalyticsDepth() (retained int, dropped uint64) {
	return e.recorder.Len(), e.recorder.Dropped()
}

func (e *Engine) notifyFlagCount() {
	if e.onFlagCount != nil {
		e.onFlagCount(e.registry.Len())
	}
}
