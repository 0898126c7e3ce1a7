// Package sourcemap implements the Source-Map Resolver (spec §4.6): the
// two position conversions between a declaration file and its original
// source, via sibling .map / .d.ts.map files.
package sourcemap

import (
	"context"
	"encoding/json"
	"strings"

	smap "gopkg.in/sourcemap.v1"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"lsgateway/internal/gwerr"
	"lsgateway/internal/resource"
)

// fanOutWidth is the fixed bounded-concurrency width spec §5 requires
// for declaration-map scans and project warmup.
const fanOutWidth = 10

// Position is a zero-based {line, character}, matching the public LSP
// boundary (spec §3 MappedPosition).
type Position struct {
	Line      int
	Character int
}

// Mapped is the result of resolving a position across a declaration map.
type Mapped struct {
	URI      string
	Position Position
}

// rawMap decodes just enough of a source map's JSON to read its
// "sources" list without invoking the full VLQ decoder — used to filter
// candidate .d.ts.map files by source membership before paying the cost
// of a full parse.
type rawMap struct {
	Sources []string `json:"sources"`
}

// ResolveIncoming implements spec §4.6 "out-of-workspace incoming
// position → declaration-file position": given a source file's URI and
// a one-based {line, column} within it (source-map convention), scan
// every "**/*.d.ts.map" under the owning package's root (pkgRootFileURI)
// for a declaration map whose sources include sourceURL, and return the
// first match's generated (declaration file) position, converted back
// to zero-based for the protocol boundary.
//
// Declaration-map consumers are always released before this function
// returns, on every exit path, since they hold native-parser-shaped
// resources (spec §4.6, §5).
func ResolveIncoming(ctx context.Context, retriever *resource.Registry, pkgRootFileURI, sourceURL string, line, column int) (Mapped, error) {
	candidates, err := globDeclarationMaps(ctx, retriever, pkgRootFileURI)
	if err != nil {
		return Mapped{}, err
	}

	sem := semaphore.NewWeighted(fanOutWidth)
	g, gctx := errgroup.WithContext(ctx)

	var result Mapped
	var found bool
	resultCh := make(chan Mapped, 1)

	for _, mapURI := range candidates {
		mapURI := mapURI
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)

			m, ok, err := tryResolveOne(gctx, retriever, mapURI, sourceURL, line, column)
			if err != nil {
				return nil // best-effort: a bad individual map does not abort the scan
			}
			if ok {
				select {
				case resultCh <- m:
				default:
				}
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() { g.Wait(); close(done) }()

	select {
	case result = <-resultCh:
		found = true
	case <-done:
		select {
		case result = <-resultCh:
			found = true
		default:
		}
	case <-ctx.Done():
		return Mapped{}, gwerr.NewCancelled("resolve incoming source-map position")
	}

	if !found {
		return Mapped{}, gwerr.NewResourceNotFound(sourceURL)
	}
	return result, nil
}

// globDeclarationMaps scans for candidate .d.ts.map sidecars under
// pkgRootFileURI. pkgRootFileURI is already scoped to the owning
// package's directory (e.g. .../node_modules/lodash/), so the pattern
// is relative to that root, not to a further node_modules/ nesting.
func globDeclarationMaps(ctx context.Context, retriever *resource.Registry, pkgRootFileURI string) ([]string, error) {
	ch, err := retriever.Glob(ctx, pkgRootFileURI, "**/*.d.ts.map", resource.GlobOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "globbing declaration maps")
	}
	var out []string
	for uri := range ch {
		out = append(out, uri)
	}
	return out, nil
}

// tryResolveOne parses mapURI, checks whether sourceURL is among its
// declared sources, and if so computes the generated position for
// (line, column) within that source. The consumer built from the parse
// is never retained past this call; gopkg.in/sourcemap.v1's *Map holds
// no unmanaged resources, but the pattern mirrors the native-handle
// discipline spec §4.6 requires for parsers that do.
func tryResolveOne(ctx context.Context, retriever *resource.Registry, mapURI, sourceURL string, line, column int) (Mapped, bool, error) {
	data, err := retriever.Fetch(ctx, mapURI)
	if err != nil {
		return Mapped{}, false, err
	}

	var rm rawMap
	if err := json.Unmarshal(data, &rm); err != nil {
		return Mapped{}, false, err
	}
	sourceIndex := -1
	for i, s := range rm.Sources {
		if sourcesMatch(s, sourceURL) {
			sourceIndex = i
			break
		}
	}
	if sourceIndex == -1 {
		return Mapped{}, false, nil
	}

	if _, err := smap.Parse(mapURI, data); err != nil {
		return Mapped{}, false, err
	}
	// smap.Parse validates the map's shape; it holds no explicit
	// Close/Destroy handle in this library, so there is nothing to
	// release. The actual reverse decode below re-walks the raw
	// "mappings" field directly (see vlq.go).

	genLine, genCol, ok := decodeReverseFromJSON(data, sourceIndex, line, column)
	if !ok {
		return Mapped{}, false, nil
	}

	declURI := strings.TrimSuffix(mapURI, ".map")
	return Mapped{
		URI: declURI,
		Position: Position{
			Line:      genLine - 1,
			Character: genCol,
		},
	}, true, nil
}

func sourcesMatch(source, sourceURL string) bool {
	return strings.HasSuffix(sourceURL, strings.TrimPrefix(source, "../")) ||
		strings.HasSuffix(source, sourceURL) ||
		source == sourceURL
}

// ResolveOutgoing implements spec §4.6 "outgoing declaration-file
// location → source-file location": for a result pointing inside a
// .d.ts file under node_modules, read its sibling .map (if any) and
// rewrite the location to the original source. The mapped URI must lie
// under tempRoot; otherwise the mapping is discarded and the
// declaration-file location is kept. Failures other than "not found"
// are logged by the caller.
func ResolveOutgoing(ctx context.Context, retriever *resource.Registry, declFileURI, tempRoot string, line, column int) (Mapped, error) {
	mapURI := declFileURI + ".map"
	data, err := retriever.Fetch(ctx, mapURI)
	if err != nil {
		if gwerr.IsResourceNotFound(err) {
			return Mapped{}, err
		}
		return Mapped{}, errors.Wrap(err, "fetching declaration map")
	}

	consumer, err := smap.Parse(mapURI, data)
	if err != nil {
		return Mapped{}, errors.Wrap(err, "parsing declaration map")
	}

	source, _, srcLine, srcCol, ok := consumer.Source(line+1, column)
	if !ok {
		return Mapped{}, gwerr.NewMappingError("declaration map produced no source position")
	}

	sourceURI := resolveSourceURI(declFileURI, source)
	if !strings.HasPrefix(sourceURI, tempRoot) {
		return Mapped{}, gwerr.NewMappingError("mapped source escapes workspace temp root, discarding mapping")
	}

	return Mapped{
		URI:      sourceURI,
		Position: Position{Line: srcLine - 1, Character: srcCol},
	}, nil
}

// resolveSourceURI resolves a source map's (possibly relative) "source"
// entry against the directory containing the declaration file.
func resolveSourceURI(declFileURI, source string) string {
	if strings.HasPrefix(source, "file://") || strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return source
	}
	lastSlash := strings.LastIndex(declFileURI, "/")
	if lastSlash == -1 {
		return source
	}
	dir := declFileURI[:lastSlash+1]
	return joinRelative(dir, source)
}

func joinRelative(dir, rel string) string {
	for strings.HasPrefix(rel, "../") {
		rel = rel[len("../"):]
		lastSlash := strings.LastIndex(strings.TrimSuffix(dir, "/"), "/")
		if lastSlash == -1 {
			break
		}
		dir = dir[:lastSlash+1]
	}
	return dir + rel
}
