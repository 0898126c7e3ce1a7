// Package uri implements the bijection between the HTTP workspace
// namespace, the file workspace namespace, and external-repo URIs
// (spec §4.1), with path-escape defense on every conversion.
package uri

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"lsgateway/internal/gwerr"
	"lsgateway/internal/manifest"
)

const nodeModulesSegment = "node_modules/"

// Mapper converts between the three URI namespaces for one session.
// httpRoot and fileRoot are normalized to end in "/" so relative
// resolution is unambiguous, per spec §4.1 policy.
type Mapper struct {
	httpRoot string
	fileRoot string
}

// New builds a Mapper for the given roots. Both must already be absolute
// URIs; a trailing slash is added if missing.
func New(httpRoot, fileRoot string) *Mapper {
	return &Mapper{
		httpRoot: ensureTrailingSlash(httpRoot),
		fileRoot: ensureTrailingSlash(fileRoot),
	}
}

func ensureTrailingSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}

// HTTPRoot returns the session's http workspace root.
func (m *Mapper) HTTPRoot() string { return m.httpRoot }

// FileRoot returns the session's file workspace root.
func (m *Mapper) FileRoot() string { return m.fileRoot }

// HTTPToFile computes fileRoot + (u - httpRoot). It fails with a
// *gwerr.MappingError if u does not lie under httpRoot, or if the
// resulting path would escape fileRoot (defense against "../" traversal).
func (m *Mapper) HTTPToFile(u string) (string, error) {
	rel, err := m.relativeTo(m.httpRoot, u)
	if err != nil {
		return "", err
	}
	out := m.fileRoot + rel
	if err := m.assertUnderRoot(out, m.fileRoot); err != nil {
		return "", err
	}
	return out, nil
}

// FileToHTTP is the inverse of HTTPToFile. It additionally fails if the
// relative path contains a node_modules/ segment: those must never be
// exposed as in-workspace HTTP URIs (they map to external-repo URIs via
// ResolveExternal instead).
func (m *Mapper) FileToHTTP(u string) (string, error) {
	rel, err := m.relativeTo(m.fileRoot, u)
	if err != nil {
		return "", err
	}
	if strings.Contains(rel, nodeModulesSegment) {
		return "", gwerr.NewMappingError(fmt.Sprintf("%s lies under node_modules/ and cannot be exposed as an in-workspace URI", u))
	}
	out := m.httpRoot + rel
	if err := m.assertUnderRoot(out, m.httpRoot); err != nil {
		return "", err
	}
	return out, nil
}

// relativeTo computes u's path relative to root's path, after verifying
// u textually starts with root on the normalized href form, and cleaning
// "." / ".." segments. A relative path that climbs above root (e.g. via
// "httpRoot + /../etc/passwd") is a path-escape MappingError.
func (m *Mapper) relativeTo(root, u string) (string, error) {
	rootURL, err := url.Parse(root)
	if err != nil {
		return "", gwerr.NewMappingError(fmt.Sprintf("invalid root %q: %v", root, err))
	}
	uURL, err := url.Parse(u)
	if err != nil {
		return "", gwerr.NewMappingError(fmt.Sprintf("invalid uri %q: %v", u, err))
	}
	if uURL.Scheme != rootURL.Scheme || uURL.Host != rootURL.Host {
		return "", gwerr.NewMappingError(fmt.Sprintf("%s is not under root %s", u, root))
	}

	rootPath := rootURL.Path
	cleanedURIPath := cleanJoinedPath(uURL.Path)

	if !strings.HasPrefix(cleanedURIPath, rootPath) {
		return "", gwerr.NewMappingError(fmt.Sprintf("%s escapes root %s", u, root))
	}
	return strings.TrimPrefix(cleanedURIPath, rootPath), nil
}

// cleanJoinedPath resolves "." and ".." segments the way a browser would
// when following a relative reference, without collapsing a genuine
// trailing slash's significance for prefix comparisons.
func cleanJoinedPath(p string) string {
	hadTrailingSlash := strings.HasSuffix(p, "/")
	cleaned := path.Clean(p)
	if cleaned == "." {
		cleaned = "/"
	}
	if hadTrailingSlash && !strings.HasSuffix(cleaned, "/") {
		cleaned += "/"
	}
	return cleaned
}

// assertUnderRoot is a final defense-in-depth check: after constructing
// out by string concatenation, verify it still textually starts with
// root. This catches any construction bug upstream of relativeTo.
func (m *Mapper) assertUnderRoot(out, root string) error {
	if !strings.HasPrefix(out, root) {
		return gwerr.NewMappingError(fmt.Sprintf("%s escapes root %s", out, root))
	}
	return nil
}

// ExternalRepoMeta carries the package-manifest-derived facts needed to
// construct an external-repo URI: the repository declaration, resolved
// commit, and subdirectory within that repository.
type ExternalRepoMeta struct {
	RepoName  string // e.g. "github.com/lodash/lodash"
	Commit    string // gitHead, or "" if unknown
	Subdir    string // subdirectory within the repo, "" if at the root
}

// ResolveExternal constructs an external-repo HTTP URI for a file inside
// a node_modules/<pkg>/... tree, per spec §4.1. instanceUrl is
// the Sourcegraph-shaped instance root (typescript.sourcegraphUrl);
// bearer, if non-empty, is carried in the userinfo field. relPath is the
// path of the file within the package, not within node_modules.
func ResolveExternal(instanceUrl string, meta ExternalRepoMeta, bearer, relPath string) (string, error) {
	base, err := url.Parse(ensureTrailingSlash(instanceUrl))
	if err != nil {
		return "", gwerr.NewMappingError(fmt.Sprintf("invalid sourcegraph instance url %q: %v", instanceUrl, err))
	}
	if bearer != "" {
		base.User = url.User(bearer)
	}

	repoSegment := meta.RepoName
	if meta.Commit != "" {
		repoSegment += "@" + meta.Commit
	}

	rel := strings.TrimPrefix(relPath, "/")
	if meta.Subdir != "" {
		rel = strings.TrimSuffix(meta.Subdir, "/") + "/" + rel
	}

	base.Path = path.Join(base.Path, repoSegment, "-", "raw", rel)
	return base.String(), nil
}

// externalRawMarker is the "/-/raw/" separator between an external-repo
// URI's repository segment and its relative path, per spec §4.1's shape
// "<instanceUrl>/<repoName>[@<commit>]/-/raw/<relPath>".
const externalRawMarker = "/-/raw/"

// ParseExternalRepoURI reverses ResolveExternal: given the same
// instanceUrl used to mint an external-repo URI, it recovers the
// repoName, optional commit, and relPath a fresh incoming request
// against that shape carries (spec §4.9's cross-repository branch,
// "§4.1 external-repo parsing yields its name"). ok is false if u does
// not lie under instanceUrl or does not have the expected "/-/raw/"
// shape.
func ParseExternalRepoURI(instanceUrl, u string) (repoName, commit, relPath string, ok bool) {
	base, err := url.Parse(ensureTrailingSlash(instanceUrl))
	if err != nil {
		return "", "", "", false
	}
	target, err := url.Parse(u)
	if err != nil {
		return "", "", "", false
	}
	if target.Scheme != base.Scheme || target.Host != base.Host {
		return "", "", "", false
	}
	if !strings.HasPrefix(target.Path, base.Path) {
		return "", "", "", false
	}

	rest := strings.TrimPrefix(target.Path, base.Path)
	idx := strings.Index(rest, externalRawMarker)
	if idx == -1 {
		return "", "", "", false
	}
	repoSegment := strings.Trim(rest[:idx], "/")
	relPath = rest[idx+len(externalRawMarker):]
	if repoSegment == "" || relPath == "" {
		return "", "", "", false
	}

	if at := strings.LastIndex(repoSegment, "@"); at != -1 {
		return repoSegment[:at], repoSegment[at+1:], relPath, true
	}
	return repoSegment, "", relPath, true
}

// InferPackageName infers an npm package name from a parsed external-repo
// URI's repoName and relPath, for the purpose of locating which workspace
// manifests declare it (manifest.Registry.DeclaredIn). DefinitelyTyped's
// layout is recognized the same way findPackageRootAndName recognizes it
// for node_modules paths: a relPath beginning "types/<name>/..." names
// "@types/<name>" regardless of the repository it was minted from
// (DefinitelyTyped is a single monorepo for many packages' types).
// Otherwise the repository's own basename is the best available guess —
// the common case where the npm package name matches its repo name.
func InferPackageName(repoName, relPath string) string {
	segs := strings.Split(strings.TrimPrefix(relPath, "/"), "/")
	if len(segs) > 1 && segs[0] == "types" {
		return "@types/" + segs[1]
	}
	return path.Base(repoName)
}

// findPackageRootAndName is DefinitelyTyped-aware: for a file path under
// node_modules, it returns the owning package's root-relative directory
// and inferred package name. Paths matching .../types/<name>/[v<ver>/]...
// (the DefinitelyTyped layout vendored under @types) yield package name
// "@types/<name>"; otherwise the first path segment after node_modules/
// is the package name (two segments for a scoped "@scope/name" package).
func findPackageRootAndName(relFromFileRoot string) (pkgRootRel string, pkgName string, ok bool) {
	idx := strings.Index(relFromFileRoot, nodeModulesSegment)
	if idx == -1 {
		return "", "", false
	}
	afterNM := relFromFileRoot[idx+len(nodeModulesSegment):]
	segs := strings.Split(afterNM, "/")
	if len(segs) == 0 || segs[0] == "" {
		return "", "", false
	}

	if segs[0] == "types" && len(segs) > 1 {
		name := segs[1]
		depth := 2
		if len(segs) > 2 && strings.HasPrefix(segs[2], "v") {
			depth = 3
		}
		return relFromFileRoot[:idx+len(nodeModulesSegment)] + strings.Join(segs[:depth], "/"), "@types/" + name, true
	}

	if strings.HasPrefix(segs[0], "@") && len(segs) > 1 {
		return relFromFileRoot[:idx+len(nodeModulesSegment)] + segs[0] + "/" + segs[1], segs[0] + "/" + segs[1], true
	}

	return relFromFileRoot[:idx+len(nodeModulesSegment)] + segs[0], segs[0], true
}

// FindPackageRootAndName exposes findPackageRootAndName for callers in
// other packages (source-map resolution, the request router) that need
// to infer a package name from a node_modules-relative path.
func FindPackageRootAndName(relFromFileRoot string) (pkgRootRel string, pkgName string, ok bool) {
	return findPackageRootAndName(relFromFileRoot)
}

// ManifestForPackage finds, among reg's entries, the ManifestEntry whose
// directory corresponds to pkgRootRel (a file-root-relative directory
// computed by FindPackageRootAndName): the entry's Dir must equal
// fileRoot+pkgRootRel exactly, ignoring a trailing slash. Returns
// ok=false if none match.
func ManifestForPackage(reg *manifest.Registry, fileRoot, pkgRootRel string) (manifest.Entry, bool) {
	want := fileRoot + pkgRootRel
	for _, e := range reg.Iterate() {
		if strings.TrimSuffix(e.Dir, "/") == strings.TrimSuffix(want, "/") {
			return e, true
		}
	}
	return manifest.Entry{}, false
}
