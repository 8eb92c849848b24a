// Package registry holds the in-memory flag set the evaluator reads from.
//
// Reads (the evaluation path) and writes (administration) run concurrently
// from independent goroutines; a sync.RWMutex sized for high read, low write
// concurrency keeps individual flag reads consistent. There is no snapshot
// isolation across multiple reads within one evaluation: flag administration
// is rare relative to evaluation, and the evaluator tolerates seeing
// different registry states for different keys.
package registry

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/jasonsaas/finhelm-flags/internal/core"
)

// Registry is a concurrency-safe mapping of flag key to definition.
// The zero value is not usable; construct with [New].
type Registry struct {
	mu    sync.RWMutex
	flags map[string]core.FeatureFlag
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{flags: make(map[string]core.FeatureFlag)}
}

// Add validates and stores a flag, overwriting any flag already stored under
// the same key (last writer wins, no versioning). An invalid flag is never
// stored; the returned error wraps [core.ErrInvalidFlag] and lists every
// problem found.
func (r *Registry) Add(flag core.FeatureFlag) error {
	if err := core.Validate(flag, r); err != nil {
		return err
	}

	r.mu.Lock()
	r.flags[flag.Key] = flag
	r.mu.Unlock()

	return nil
}

// AddAll validates flags against the union of the current registry and the
// incoming set, then stores all of them under a single lock. Either every
// flag is stored or none is, which is what gives the importer its
// parse-then-apply atomicity. Dependencies between flags inside the batch
// resolve regardless of their order in the slice.
func (r *Registry) AddAll(flags []core.FeatureFlag) error {
	incoming := make(map[string]core.FeatureFlag, len(flags))
	for _, flag := range flags {
		incoming[flag.Key] = flag
	}
	union := unionSource{incoming: incoming, base: r}

	var errs []error
	for _, flag := range flags {
		if err := core.Validate(flag, union); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	r.mu.Lock()
	for _, flag := range flags {
		r.flags[flag.Key] = flag
	}
	r.mu.Unlock()

	return nil
}

// Remove deletes a flag. Removing an absent key is a no-op.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	delete(r.flags, key)
	r.mu.Unlock()
}

// Get returns the flag stored under key.
func (r *Registry) Get(key string) (core.FeatureFlag, bool) {
	r.mu.RLock()
	flag, ok := r.flags[key]
	r.mu.RUnlock()
	return flag, ok
}

// Lookup implements [core.FlagSource].
func (r *Registry) Lookup(key string) (core.FeatureFlag, bool) {
	return r.Get(key)
}

// ListAll returns every flag sorted by key.
func (r *Registry) ListAll() []core.FeatureFlag {
	r.mu.RLock()
	flags := make([]core.FeatureFlag, 0, len(r.flags))
	for _, flag := range r.flags {
		flags = append(flags, flag)
	}
	r.mu.RUnlock()

	slices.SortFunc(flags, func(a, b core.FeatureFlag) int {
		return strings.Compare(a.Key, b.Key)
	})

	return flags
}

// ListByTag returns every flag carrying the given metadata tag, sorted by key.
func (r *Registry) ListByTag(tag string) []core.FeatureFlag {
	all := r.ListAll()
	matched := make([]core.FeatureFlag, 0, len(all))
	for _, flag := range all {
		if slices.Contains(flag.Metadata.Tags, tag) {
			matched = append(matched, flag)
		}
	}
	return matched
}

// Len returns the number of stored flags.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.flags)
}

// unionSource resolves lookups against an incoming batch first, falling back
// to the live registry, so batch validation sees the post-import world.
type unionSource struct {
	incoming map[string]core.FeatureFlag
	base     *Registry
}

func (u unionSource) Lookup(key string) (core.FeatureFlag, bool) {
	if flag, ok := u.incoming[key]; ok {
		return flag, true
	}
	return u.base.Get(key)
}
