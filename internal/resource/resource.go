// Package resource implements the Resource Retriever (spec §4.2): a
// scheme-keyed capability set for fetching a URI's bytes, checking
// existence, and globbing a pattern under a root.
package resource

import (
	"context"
	"fmt"
	"net/url"

	"lsgateway/internal/gwerr"
)

// GlobOptions configures a Glob call.
type GlobOptions struct {
	// Ignore is a set of doublestar-style patterns to exclude from the
	// result, matched against the same root-relative path as pattern.
	Ignore []string
}

// Retriever is the capability set the core consumes for one URI scheme.
type Retriever interface {
	// Fetch returns the bytes at uri. It returns a *gwerr.ResourceNotFound
	// error when the target is absent; any other failure is transport-level.
	Fetch(ctx context.Context, uri string) ([]byte, error)

	// Exists reports whether uri can be fetched, without transferring its
	// body where the underlying transport allows a cheaper check.
	Exists(ctx context.Context, uri string) (bool, error)

	// Glob lazily yields every URI under root matching pattern (a
	// doublestar-style glob, root-relative). The returned channel is
	// closed when enumeration completes or ctx is cancelled.
	Glob(ctx context.Context, root, pattern string, opts GlobOptions) (<-chan string, error)
}

// Registry dispatches to a Retriever by URI scheme.
type Registry struct {
	byScheme map[string]Retriever
}

// NewRegistry builds a Registry with no retrievers registered.
func NewRegistry() *Registry {
	return &Registry{byScheme: make(map[string]Retriever)}
}

// Register binds scheme (e.g. "file", "https") to r.
func (reg *Registry) Register(scheme string, r Retriever) {
	reg.byScheme[scheme] = r
}

// For returns the Retriever registered for uri's scheme.
func (reg *Registry) For(uri string) (Retriever, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, gwerr.NewMappingError(fmt.Sprintf("invalid uri %q: %v", uri, err))
	}
	r, ok := reg.byScheme[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("no resource retriever registered for scheme %q", u.Scheme)
	}
	return r, nil
}

// Fetch dispatches to the Retriever for uri's scheme.
func (reg *Registry) Fetch(ctx context.Context, uri string) ([]byte, error) {
	r, err := reg.For(uri)
	if err != nil {
		return nil, err
	}
	return r.Fetch(ctx, uri)
}

// Exists dispatches to the Retriever for uri's scheme.
func (reg *Registry) Exists(ctx context.Context, uri string) (bool, error) {
	r, err := reg.For(uri)
	if err != nil {
		return false, err
	}
	return r.Exists(ctx, uri)
}

// Glob dispatches to the Retriever for root's scheme.
func (reg *Registry) Glob(ctx context.Context, root, pattern string, opts GlobOptions) (<-chan string, error) {
	r, err := reg.For(root)
	if err != nil {
		return nil, err
	}
	return r.Glob(ctx, root, pattern, opts)
}
