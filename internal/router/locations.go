package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/tliron/commonlog"

	"lsgateway/internal/gwerr"
	"lsgateway/internal/manifest"
	"lsgateway/internal/session"
	"lsgateway/internal/uri"
)

// translateLocationResult implements spec §4.9's outgoing half: the
// downstream's Location / Location[] / LocationLink[] response,
// translated back into the client's URI namespace. It operates on the
// generic decoded JSON tree rather than a typed protocol result, since a
// response can be any of three shapes and the exact Go type the
// downstream's jsonrpc2 client would decode into is not worth guessing.
func translateLocationResult(ctx context.Context, s *session.Session, raw []byte, log commonlog.Logger) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	decoded, err := unmarshalGeneric(raw)
	if err != nil {
		return nil, err
	}
	if decoded == nil {
		return nil, nil
	}

	switch v := decoded.(type) {
	case map[string]any:
		translated, err := translateLocationMap(ctx, s, v, log)
		if err != nil {
			log.Warningf("translating location: %v", err)
			return nil, nil
		}
		return translated, nil
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			translated, err := translateLocationMap(ctx, s, m, log)
			if err != nil {
				log.Warningf("dropping untranslatable location: %v", err)
				continue
			}
			out = append(out, translated)
		}
		return out, nil
	default:
		return decoded, nil
	}
}

// translateLocationMap rewrites one Location- or LocationLink-shaped map
// in place: the former carries "uri"/"range", the latter
// "targetUri"/"targetRange"/"targetSelectionRange".
func translateLocationMap(ctx context.Context, s *session.Session, m map[string]any, log commonlog.Logger) (map[string]any, error) {
	if fileURI, ok := m["uri"].(string); ok {
		newURI, newRange, err := translateLocation(ctx, s, fileURI, asMap(m["range"]), log)
		if err != nil {
			return nil, err
		}
		m["uri"] = newURI
		if newRange != nil {
			m["range"] = newRange
		}
		return m, nil
	}

	if fileURI, ok := m["targetUri"].(string); ok {
		newURI, newRange, err := translateLocation(ctx, s, fileURI, asMap(m["targetRange"]), log)
		if err != nil {
			return nil, err
		}
		m["targetUri"] = newURI
		if newRange != nil {
			m["targetRange"] = newRange
			m["targetSelectionRange"] = newRange
		}
		return m, nil
	}

	return nil, gwerr.NewMappingError("location result missing uri/targetUri")
}

// translateLocation dispatches a single file URI + range to the lib,
// node_modules, or in-workspace translation path (spec §4.8/§4.9).
func translateLocation(ctx context.Context, s *session.Session, fileURI string, rng map[string]any, log commonlog.Logger) (string, map[string]any, error) {
	if s.TypeScriptLibRoot != "" && strings.HasPrefix(fileURI, s.TypeScriptLibRoot) {
		return libExternalURI(s, fileURI), rng, nil
	}
	if !containsNodeModules(fileURI) {
		httpURI, err := s.Mapper.FileToHTTP(fileURI)
		if err != nil {
			return "", nil, err
		}
		return httpURI, rng, nil
	}
	return translateNodeModulesLocation(ctx, s, fileURI, rng, log)
}

// libExternalURI rewrites a location inside the downstream's bundled
// lib.*.d.ts files to a fixed external URL keyed by the pinned
// TypeScript version (spec §4.8: these never live in node_modules and
// have no repository metadata to resolve).
func libExternalURI(s *session.Session, fileURI string) string {
	name := fileURI
	if idx := strings.LastIndex(fileURI, "/"); idx != -1 {
		name = fileURI[idx+1:]
	}
	return fmt.Sprintf("https://raw.githubusercontent.com/microsoft/TypeScript/v%s/lib/%s", s.TypeScriptVersion, name)
}

// translateNodeModulesLocation resolves a node_modules declaration-file
// location to its original source via the sibling .d.ts.map (when one
// exists), constructs the external-repo URI for that source from the
// owning package's manifest, and records the minting in the session's
// external index so a later request against that URI can be mapped back
// (spec §4.1, §4.6, §4.9).
func translateNodeModulesLocation(ctx context.Context, s *session.Session, fileURI string, rng map[string]any, log commonlog.Logger) (string, map[string]any, error) {
	rel := strings.TrimPrefix(fileURI, s.Mapper.FileRoot())
	pkgRootRel, pkgName, ok := uri.FindPackageRootAndName(rel)
	if !ok {
		return "", nil, gwerr.NewMappingError("cannot infer owning package for " + fileURI)
	}
	pkgRootFileURI := s.Mapper.FileRoot() + pkgRootRel + "/"

	meta, err := readPackageExternalMeta(ctx, s, pkgRootFileURI, pkgName, s.Config.PinUnversionedPackages)
	if err != nil {
		return "", nil, err
	}

	relPath := strings.TrimPrefix(fileURI, pkgRootFileURI)
	sourceRelPath := relPath
	outRange := rng

	if startLine, startCol, ok := decodeLineColFromMap(rng, "start"); ok {
		mapped, mapErr := s.ResolveOutgoing(ctx, fileURI, startLine, startCol)
		switch {
		case mapErr == nil:
			sourceRelPath = strings.TrimPrefix(mapped.URI, pkgRootFileURI)
			outRange = rangeFromPoint(mapped.Position.Line, mapped.Position.Character)
		case gwerr.IsResourceNotFound(mapErr):
			// No declaration map for this file; keep the .d.ts location itself.
		default:
			log.Warningf("resolving source map for %s: %v", fileURI, mapErr)
		}
	}

	externalURI, err := uri.ResolveExternal(s.Config.SourcegraphURL, meta, s.Config.AccessToken, sourceRelPath)
	if err != nil {
		return "", nil, err
	}

	s.ExternalIndex.Record(externalURI, uri.ExternalRecord{
		PkgRootFileURI: pkgRootFileURI,
		PkgName:        pkgName,
		RelPath:        sourceRelPath,
	})

	return externalURI, outRange, nil
}

// readPackageExternalMeta reads pkgRootFileURI/package.json directly
// through the resource registry: the manifest registry built at
// materialize time never indexes node_modules-nested manifests (spec
// §4.4), so this is the only way to recover a node_modules package's
// repository metadata.
func readPackageExternalMeta(ctx context.Context, s *session.Session, pkgRootFileURI, pkgName string, pinUnversioned bool) (uri.ExternalRepoMeta, error) {
	raw, err := s.Resources.Fetch(ctx, pkgRootFileURI+"package.json")
	if err != nil {
		return uri.ExternalRepoMeta{}, err
	}
	var pm manifest.PackageManifest
	if err := unmarshalJSON(raw, &pm); err != nil {
		return uri.ExternalRepoMeta{}, err
	}

	repoName := normalizeRepoName(pm.RepositoryString())
	if repoName == "" {
		return uri.ExternalRepoMeta{}, gwerr.NewMappingError(pkgName + " declares no repository field")
	}
	if pm.GitHead == "" && pinUnversioned {
		return uri.ExternalRepoMeta{}, gwerr.NewMappingError(pkgName + " has no resolvable commit and unversioned external mappings are disabled")
	}

	return uri.ExternalRepoMeta{
		RepoName: repoName,
		Commit:   pm.GitHead,
		Subdir:   pm.RepositoryDirectory(),
	}, nil
}

// normalizeRepoName strips the URL scheme, "git+" prefix and ".git"
// suffix npm's package.json repository field conventionally carries,
// leaving a bare "host/owner/repo" segment suitable for an external-repo
// instance path.
func normalizeRepoName(repo string) string {
	repo = strings.TrimPrefix(repo, "git+")
	repo = strings.TrimPrefix(repo, "git://")
	repo = strings.TrimPrefix(repo, "https://")
	repo = strings.TrimPrefix(repo, "http://")
	repo = strings.TrimPrefix(repo, "ssh://git@")
	repo = strings.TrimPrefix(repo, "git@")
	repo = strings.Replace(repo, ":", "/", 1)
	repo = strings.TrimSuffix(repo, ".git")
	return strings.Trim(repo, "/")
}

func decodeLineColFromMap(rng map[string]any, key string) (int, int, bool) {
	point := asMap(rng[key])
	if point == nil {
		return 0, 0, false
	}
	line, lineOk := point["line"].(float64)
	col, colOk := point["character"].(float64)
	if !lineOk || !colOk {
		return 0, 0, false
	}
	return int(line), int(col), true
}

// rangeFromPoint collapses a mapped source position into a zero-width
// range: the source-map resolver only yields a single point, not a span.
func rangeFromPoint(line, character int) map[string]any {
	p := map[string]any{"line": line, "character": character}
	return map[string]any{"start": p, "end": p}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
