// Package manifest implements the Manifest Registry (spec §4.4): the set
// of package-manifest directories discovered within a workspace, and the
// parent-of / declares-dependency queries the router and installation
// coordinator need.
package manifest

import (
	"encoding/json"
	"strings"
)

// Entry is a package-manifest directory within the workspace (a
// ManifestEntry in spec terms). Dir is the directory's file URI,
// including trailing slash. It is immutable once built.
type Entry struct {
	Dir          string
	Dependencies map[string]string // dependencies + devDependencies, merged
	Repository   string            // manifest "repository" field, if any
	GitHead      string            // manifest "gitHead" field, if any
	Name         string            // manifest "name" field, if any
}

// PackageManifest is the subset of package.json fields the registry and
// installation coordinator care about.
type PackageManifest struct {
	Name            string            `json:"name"`
	GitHead         string            `json:"gitHead"`
	Repository      json.RawMessage   `json:"repository"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// RepositoryString extracts a repository URL whether the manifest field
// is a bare string or an {"type":"git","url":"..."} object, per npm's
// package.json convention.
func (p PackageManifest) RepositoryString() string {
	if len(p.Repository) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(p.Repository, &asString); err == nil {
		return asString
	}
	var asObject struct {
		URL       string `json:"url"`
		Directory string `json:"directory"`
	}
	if err := json.Unmarshal(p.Repository, &asObject); err == nil {
		return asObject.URL
	}
	return ""
}

// RepositoryDirectory extracts the optional "directory" field from an
// object-shaped repository declaration (the npm convention for
// monorepo subdirectories).
func (p PackageManifest) RepositoryDirectory() string {
	if len(p.Repository) == 0 {
		return ""
	}
	var asObject struct {
		Directory string `json:"directory"`
	}
	if err := json.Unmarshal(p.Repository, &asObject); err == nil {
		return asObject.Directory
	}
	return ""
}

// Registry is the immutable-after-build set of manifest entries
// discovered during materialization (spec §4.4). It is built once at
// initialize time.
type Registry struct {
	entries []Entry
}

// NewRegistry builds a Registry from the given entries, built once at
// initialize time from the manifests the workspace materializer recorded.
func NewRegistry(entries []Entry) *Registry {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return &Registry{entries: cp}
}

// Iterate returns a snapshot of every entry, safe for concurrent
// traversal since the registry is never mutated after NewRegistry.
func (r *Registry) Iterate() []Entry {
	cp := make([]Entry, len(r.entries))
	copy(cp, r.entries)
	return cp
}

// ParentsOf returns every entry m such that fileURI has m.Dir as a
// prefix, deepest first (the most specific manifest for fileURI is
// ordinarily parents[0]).
func (r *Registry) ParentsOf(fileURI string) []Entry {
	var out []Entry
	for _, e := range r.entries {
		if strings.HasPrefix(fileURI, e.Dir) {
			out = append(out, e)
		}
	}
	// Deepest (longest Dir) first.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && len(out[j].Dir) > len(out[j-1].Dir); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// DeclaredIn returns every entry whose dependencies (merged
// dependencies + devDependencies) declare packageName.
func (r *Registry) DeclaredIn(packageName string) []Entry {
	var out []Entry
	for _, e := range r.entries {
		if _, ok := e.Dependencies[packageName]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Len reports the number of entries in the registry.
func (r *Registry) Len() int { return len(r.entries) }
