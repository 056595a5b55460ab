// Package packresolver fetches pack archive bytes from a pack_locator URI,
// dispatching on its scheme to a concrete resolver: local filesystem, or
// one of the object-storage backends a tenant binding may point at.
package packresolver

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Resolver fetches the raw bytes a pack_locator URI names.
type Resolver interface {
	Scheme() string
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// Registry dispatches a pack_locator to the Resolver registered for its
// scheme.
type Registry struct {
	resolvers map[string]Resolver
}

// NewRegistry builds a Registry from a set of resolvers, keyed by their own
// Scheme().
func NewRegistry(resolvers ...Resolver) *Registry {
	r := &Registry{resolvers: map[string]Resolver{}}
	for _, res := range resolvers {
		r.resolvers[res.Scheme()] = res
	}
	return r
}

// Fetch resolves locator's scheme prefix ("scheme://...") to a registered
// Resolver and fetches through it.
func (r *Registry) Fetch(ctx context.Context, locator string) ([]byte, error) {
	scheme, _, ok := strings.Cut(locator, "://")
	if !ok {
		return nil, errors.Errorf("packresolver: locator %q has no scheme", locator)
	}
	resolver, ok := r.resolvers[scheme]
	if !ok {
		return nil, errors.Errorf("packresolver: no resolver registered for scheme %q", scheme)
	}
	return resolver.Fetch(ctx, locator)
}
