package router

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"lsgateway/internal/gwerr"
	"lsgateway/internal/manifest"
	"lsgateway/internal/resource"
	"lsgateway/internal/session"
	"lsgateway/internal/uri"
)

const nodeModulesSegment = "node_modules/"

// warmupFanOutWidth is the fixed bounded-concurrency width spec §5
// requires for project warmup's file-opening fan-out.
const warmupFanOutWidth = 10

// mapTextDocumentPosition implements spec §4.9's incoming half. An
// in-workspace request is a direct HTTP-to-file URI translation. A
// request against a previously minted external-repo URI (the client
// navigated into a library and is now hovering/defining from there) is
// resolved back to its node_modules declaration file via the session's
// external index and the source-map resolver. Anything else is a fresh
// cross-repository reference the client constructed itself, resolved via
// resolveCrossRepoPosition.
func mapTextDocumentPosition(ctx context.Context, s *session.Session, docURI string, pos protocol.Position, log commonlog.Logger) (string, protocol.Position, error) {
	if strings.HasPrefix(docURI, s.Mapper.HTTPRoot()) {
		fileURI, err := s.Mapper.HTTPToFile(docURI)
		return fileURI, pos, err
	}

	if rec, ok := s.ExternalIndex.Lookup(docURI); ok {
		mapped, err := s.ResolveIncoming(ctx, rec.PkgRootFileURI, rec.RelPath, int(pos.Line)+1, int(pos.Character))
		if err != nil {
			return "", protocol.Position{}, err
		}
		return mapped.URI, protocol.Position{Line: uint32(mapped.Position.Line), Character: uint32(mapped.Position.Character)}, nil
	}

	return resolveCrossRepoPosition(ctx, s, docURI, pos, log)
}

// resolveCrossRepoPosition implements spec §4.9's "Otherwise
// (cross-repository reference)" branch for an external-repo URI this
// session never minted itself: infer the referenced package's name from
// the URI's own shape (§4.1), find every workspace manifest that
// declares it (manifest.Registry.DeclaredIn), warm each of them up in
// parallel (ensureInstalled + tsconfig-project discovery/open), then try
// to resolve the position against each candidate's installed
// node_modules package in turn.
func resolveCrossRepoPosition(ctx context.Context, s *session.Session, docURI string, pos protocol.Position, log commonlog.Logger) (string, protocol.Position, error) {
	repoName, _, relPath, ok := uri.ParseExternalRepoURI(s.Config.SourcegraphURL, docURI)
	if !ok {
		return "", protocol.Position{}, gwerr.NewMappingError("unrecognized external document " + docURI)
	}
	pkgName := uri.InferPackageName(repoName, relPath)

	entries := s.Manifests.DeclaredIn(pkgName)
	if len(entries) == 0 {
		return "", protocol.Position{}, gwerr.NewMappingError(fmt.Sprintf("no manifest in the workspace declares %s (inferred from %s)", pkgName, docURI))
	}

	warmUpManifests(ctx, s, entries, log)

	var lastErr error
	for _, e := range entries {
		pkgRootFileURI := e.Dir + nodeModulesSegment + pkgName + "/"
		mapped, err := s.ResolveIncoming(ctx, pkgRootFileURI, relPath, int(pos.Line)+1, int(pos.Character))
		if err == nil {
			return mapped.URI, protocol.Position{Line: uint32(mapped.Position.Line), Character: uint32(mapped.Position.Character)}, nil
		}
		lastErr = err
		if !gwerr.IsResourceNotFound(err) {
			log.Warningf("resolving cross-repo position for %s via %s: %v", docURI, e.Dir, err)
		}
	}
	return "", protocol.Position{}, gwerr.NewMappingError(fmt.Sprintf("could not resolve %s against any manifest declaring %s: %v", docURI, pkgName, lastErr))
}

// warmUpManifests runs ensureInstalled and project warmup for every
// candidate manifest concurrently, per spec §4.9 ("in parallel, for
// every manifest that declares the inferred package, run (a)
// ensureInstalled(m) and (b) ... project warmup"). Both are best-effort:
// their errors are logged, never propagated, since the subsequent
// position resolution attempt is itself the real signal of success.
func warmUpManifests(ctx context.Context, s *session.Session, entries []manifest.Entry, log commonlog.Logger) {
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			if err := s.Installs.EnsureInstalled(gctx, e); err != nil {
				log.Warningf("ensuring %s installed for cross-repo resolution: %v", e.Dir, err)
			}
			return nil
		})
		g.Go(func() error {
			warmUpProjects(gctx, s, e, log)
			return nil
		})
	}
	_ = g.Wait()
}

// warmUpProjects discovers every tsconfig.json under e.Dir (excluding
// descent into node_modules) and opens one .ts(x) file per discovered
// project downstream, at a fixed bounded-concurrency width of 10 (spec
// §4.9, §5), so the downstream has a project loaded for the package by
// the time the position resolution attempt below runs.
func warmUpProjects(ctx context.Context, s *session.Session, e manifest.Entry, log commonlog.Logger) {
	configs, err := s.Resources.Glob(ctx, e.Dir, "**/tsconfig.json", resource.GlobOptions{Ignore: []string{"**/node_modules/**"}})
	if err != nil {
		log.Warningf("discovering tsconfig projects under %s: %v", e.Dir, err)
		return
	}

	sem := semaphore.NewWeighted(warmupFanOutWidth)
	var wg sync.WaitGroup
	for configURI := range configs {
		configURI := configURI
		if err := sem.Acquire(ctx, 1); err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			if err := openOneProjectFile(ctx, s, configURI, log); err != nil {
				log.Warningf("opening a file for project %s: %v", configURI, err)
			}
		}()
	}
	wg.Wait()
}

// openOneProjectFile opens the first .ts or .tsx file found under
// configURI's directory (excluding node_modules) downstream, so the
// downstream loads that tsconfig project.
func openOneProjectFile(ctx context.Context, s *session.Session, configURI string, log commonlog.Logger) error {
	projectDir := strings.TrimSuffix(configURI, "tsconfig.json")
	for _, pattern := range []string{"**/*.ts", "**/*.tsx"} {
		fileURI, err := firstGlobMatch(ctx, s, projectDir, pattern)
		if err != nil {
			return err
		}
		if fileURI != "" {
			return ensureOpen(ctx, s, fileURI)
		}
	}
	return nil
}

// firstGlobMatch returns the first URI glob yields for pattern under
// root, draining the rest of the channel first: the underlying
// resource.Retriever.Glob implementations send on an unbuffered channel
// and only give up on ctx cancellation, so abandoning a partially
// consumed channel would leak its producer goroutine.
func firstGlobMatch(ctx context.Context, s *session.Session, root, pattern string) (string, error) {
	ch, err := s.Resources.Glob(ctx, root, pattern, resource.GlobOptions{Ignore: []string{"**/node_modules/**"}})
	if err != nil {
		return "", err
	}
	first := ""
	for candidate := range ch {
		if first == "" {
			first = candidate
		}
	}
	return first, nil
}

// buildPositionParams constructs the generic wire shape every
// textDocument/{hover,definition,typeDefinition,references,implementation}
// request shares, via a plain map rather than a typed params struct:
// the downstream only ever reads these three fields off the wire.
func buildPositionParams(fileURI string, pos protocol.Position) map[string]any {
	return map[string]any{
		"textDocument": map[string]any{"uri": fileURI},
		"position":     map[string]any{"line": pos.Line, "character": pos.Character},
	}
}

// ensureOpen opens fileURI downstream if the session hasn't already, so
// a request that targets a document the client never explicitly opened
// (a cross-repository jump landing inside node_modules) still resolves.
func ensureOpen(ctx context.Context, s *session.Session, fileURI string) error {
	if s.OpenDocs.IsOpen(fileURI) {
		return nil
	}
	text, err := s.Resources.Fetch(ctx, fileURI)
	if err != nil {
		return err
	}
	params := buildDidOpenParams(fileURI, string(text))
	s.OpenDocs.Record(params)
	return s.Downstream.Notify(ctx, "textDocument/didOpen", params)
}

// buildDidOpenParams constructs a synthetic didOpen for a document the
// router opens on the client's behalf (spec §4.8).
func buildDidOpenParams(fileURI, text string) protocol.DidOpenTextDocumentParams {
	return protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{
			URI:        protocol.DocumentUri(fileURI),
			LanguageID: languageID(fileURI),
			Version:    0,
			Text:       text,
		},
	}
}

// languageID infers an LSP language identifier from a file URI's
// extension, defaulting to "typescript" for anything unrecognized
// (spec §4.8: every document this gateway handles is TS/JS-family).
func languageID(fileURI string) string {
	switch {
	case strings.HasSuffix(fileURI, ".tsx"):
		return "typescriptreact"
	case strings.HasSuffix(fileURI, ".jsx"):
		return "javascriptreact"
	case strings.HasSuffix(fileURI, ".d.ts"):
		return "typescript"
	case strings.HasSuffix(fileURI, ".ts"):
		return "typescript"
	case strings.HasSuffix(fileURI, ".mjs"), strings.HasSuffix(fileURI, ".cjs"), strings.HasSuffix(fileURI, ".js"):
		return "javascript"
	case strings.HasSuffix(fileURI, ".json"):
		return "json"
	default:
		return "typescript"
	}
}

// rewriteDocumentURI rewrites the textDocument.uri field of any
// JSON-shaped params value to fileURI, operating on a generic tree
// rather than the concrete params type: codeAction's params additionally
// carries a "context" with its own embedded diagnostics/uri fields whose
// exact Go shape is not worth depending on just to change one field.
func rewriteDocumentURI(params any, fileURI string) (map[string]any, error) {
	b, err := marshalJSON(params)
	if err != nil {
		return nil, err
	}
	generic, err := unmarshalGenericObject(b)
	if err != nil {
		return nil, err
	}
	td, ok := generic["textDocument"].(map[string]any)
	if !ok {
		td = map[string]any{}
	}
	td["uri"] = fileURI
	generic["textDocument"] = td
	return generic, nil
}

func containsNodeModules(fileURI string) bool {
	return strings.Contains(fileURI, nodeModulesSegment)
}
