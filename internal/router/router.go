// Package router implements the Request Router (spec §4.8): the per-kind
// request handling that sits between the client-facing glsp handler and
// the session's collaborators, translating URIs and positions on the way
// in and out. Grounded on the dispatch shape of
// _examples/teemuteemu-caddy-language-server/internal/handler.
package router

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"lsgateway/internal/gwerr"
	"lsgateway/internal/session"
	"lsgateway/internal/supervisor"
)

// anyOrImportPattern is the heuristic spec §4.8 specifies for deciding
// whether a hover response looks like it came from an untyped (any'd)
// import, worth triggering a background dependency install for.
var anyOrImportPattern = regexp.MustCompile(`\b(any|import)\b`)

// HoverSignal decides whether a hover response is worth triggering a
// background dependency install for. The default implementation is the
// literal regex heuristic spec §4.8 describes; it is exposed as an
// interface so a structurally-typed successor (inspecting a typed hover
// contents union instead of its rendered Markdown) can replace it
// without the router's dispatch logic changing.
type HoverSignal interface {
	Signals(hoverJSON []byte) bool
}

type regexHoverSignal struct{ pattern *regexp.Regexp }

func (s regexHoverSignal) Signals(hoverJSON []byte) bool { return s.pattern.Match(hoverJSON) }

// Router owns the single Session for one client connection; Initialize
// builds it, every other handler operates against it.
type Router struct {
	deps        session.Deps
	log         commonlog.Logger
	hoverSignal HoverSignal

	mu      sync.Mutex
	session *session.Session
}

// New builds a Router that will construct its Session from deps on the
// first Initialize request.
func New(deps session.Deps) *Router {
	return &Router{deps: deps, log: deps.Log, hoverSignal: regexHoverSignal{anyOrImportPattern}}
}

func (r *Router) activeSession() (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return nil, gwerr.NewValidationError("request received before initialize completed")
	}
	return r.session, nil
}

// Initialize handles the LSP initialize request: it builds the session
// (spec §4.8's Initialize pipeline, delegated to session.Initialize) and
// subscribes to the downstream's diagnostics stream for the lifetime of
// the connection.
func (r *Router) Initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	var onProgress func(int)
	if token := extractWorkDoneToken(params); token != nil {
		onProgress = buildProgressNotifier(ctx, token)
	}

	s, result, err := session.Initialize(context.Background(), params, r.deps, onProgress)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.session = s
	r.mu.Unlock()

	s.Downstream.SubscribeDiagnostics(r.diagnosticsRewriter(s), r.diagnosticsSink(ctx))

	return result, nil
}

// Initialized is a no-op acknowledgement; the downstream already
// received its own "initialized" notification from the supervisor.
func (r *Router) Initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

// Shutdown disposes the session in reverse disposable order (spec §5).
func (r *Router) Shutdown(ctx *glsp.Context) error {
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Dispose()
}

func (r *Router) SetTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// Hover maps the position, forwards to the downstream, then
// fire-and-forgets a dependency install if the response text looks like
// an untyped import (spec §4.8).
func (r *Router) Hover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	s, err := r.activeSession()
	if err != nil {
		return nil, err
	}
	bg := context.Background()

	fileURI, filePos, err := mapTextDocumentPosition(bg, s, string(params.TextDocument.URI), params.Position, r.log)
	if err != nil {
		return nil, err
	}

	var result protocol.Hover
	if err := s.Downstream.Forward(bg, "textDocument/hover", buildPositionParams(fileURI, filePos), &result); err != nil {
		return nil, err
	}

	if raw, marshalErr := json.Marshal(result); marshalErr == nil && r.hoverSignal.Signals(raw) {
		go r.ensureDependenciesForDocument(s, fileURI)
	}

	return &result, nil
}

// Definition, TypeDefinition, References and Implementation all follow
// spec §4.8's shared recipe: map the position, ensure the target
// document is open downstream, forward, then translate every returned
// location back into the client's namespace.
func (r *Router) Definition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	return r.forwardPositionRequest(string(params.TextDocument.URI), params.Position, "textDocument/definition")
}

func (r *Router) TypeDefinition(ctx *glsp.Context, params *protocol.TypeDefinitionParams) (any, error) {
	return r.forwardPositionRequest(string(params.TextDocument.URI), params.Position, "textDocument/typeDefinition")
}

func (r *Router) References(ctx *glsp.Context, params *protocol.ReferenceParams) (any, error) {
	return r.forwardPositionRequest(string(params.TextDocument.URI), params.Position, "textDocument/references")
}

func (r *Router) Implementation(ctx *glsp.Context, params *protocol.ImplementationParams) (any, error) {
	return r.forwardPositionRequest(string(params.TextDocument.URI), params.Position, "textDocument/implementation")
}

func (r *Router) forwardPositionRequest(httpURI string, pos protocol.Position, method string) (any, error) {
	s, err := r.activeSession()
	if err != nil {
		return nil, err
	}
	bg := context.Background()

	fileURI, filePos, err := mapTextDocumentPosition(bg, s, httpURI, pos, r.log)
	if err != nil {
		return nil, err
	}
	if err := ensureOpen(bg, s, fileURI); err != nil {
		r.log.Warningf("opening %s downstream: %v", fileURI, err)
	}

	var raw json.RawMessage
	if err := s.Downstream.Forward(bg, method, buildPositionParams(fileURI, filePos), &raw); err != nil {
		return nil, err
	}
	return translateLocationResult(bg, s, raw, r.log)
}

// CodeAction maps the document URI, ensures it is open downstream, and
// forwards the request verbatim (spec §4.8: no location translation on
// the way back for this kind).
func (r *Router) CodeAction(ctx *glsp.Context, params *protocol.CodeActionParams) (any, error) {
	s, err := r.activeSession()
	if err != nil {
		return nil, err
	}
	bg := context.Background()

	httpURI := string(params.TextDocument.URI)
	fileURI, _, err := mapTextDocumentPosition(bg, s, httpURI, params.Range.Start, r.log)
	if err != nil {
		return nil, err
	}
	if err := ensureOpen(bg, s, fileURI); err != nil {
		r.log.Warningf("opening %s downstream: %v", fileURI, err)
	}

	rewritten, err := rewriteDocumentURI(params, fileURI)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := s.Downstream.Forward(bg, "textDocument/codeAction", rewritten, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DidOpen maps the document URI to its file counterpart, forwards it
// downstream, and records it in the replay log (spec §4.8).
func (r *Router) DidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s, err := r.activeSession()
	if err != nil {
		return err
	}
	bg := context.Background()

	fileURI, err := s.Mapper.HTTPToFile(string(params.TextDocument.URI))
	if err != nil {
		return err
	}

	rewritten, err := rewriteDocumentURI(params, fileURI)
	if err != nil {
		return err
	}
	b, err := json.Marshal(rewritten)
	if err != nil {
		return err
	}
	var out protocol.DidOpenTextDocumentParams
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}

	if s.OpenDocs.IsOpen(fileURI) {
		return nil
	}
	s.OpenDocs.Record(out)
	return s.Downstream.Notify(bg, "textDocument/didOpen", out)
}

// extractWorkDoneToken reads initialize's optional workDoneToken field
// via a JSON round trip: spec.md §6/SPEC_FULL.md's progress supplement
// only has somewhere to report to when the client supplied one, and its
// value can be either a string or a number per the LSP spec.
func extractWorkDoneToken(params *protocol.InitializeParams) any {
	b, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	var generic struct {
		WorkDoneToken any `json:"workDoneToken"`
	}
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil
	}
	return generic.WorkDoneToken
}

// buildProgressNotifier returns a workspace.ProgressFunc-shaped callback
// that reports materialization progress as a standard $/progress
// notification sequence (begin/report/end), built as a generic map
// rather than typed WorkDoneProgress{Begin,Report,End} structs.
func buildProgressNotifier(ctx *glsp.Context, token any) func(int) {
	begun := false
	return func(percent int) {
		if !begun {
			begun = true
			ctx.Notify("$/progress", map[string]any{
				"token": token,
				"value": map[string]any{"kind": "begin", "title": "Materializing workspace", "percentage": percent},
			})
			return
		}
		if percent >= 100 {
			ctx.Notify("$/progress", map[string]any{"token": token, "value": map[string]any{"kind": "end"}})
			return
		}
		ctx.Notify("$/progress", map[string]any{"token": token, "value": map[string]any{"kind": "report", "percentage": percent}})
	}
}

func (r *Router) ensureDependenciesForDocument(s *session.Session, fileURI string) {
	parents := s.Manifests.ParentsOf(fileURI)
	if len(parents) == 0 {
		return
	}
	if err := s.Installs.EnsureInstalled(context.Background(), parents[0]); err != nil {
		r.log.Warningf("hover-triggered install for %s failed: %v", fileURI, err)
	}
}

// diagnosticsRewriter drops anything under node_modules/ and, when the
// client hasn't opted into diagnostics (spec §6 default off), drops
// everything.
func (r *Router) diagnosticsRewriter(s *session.Session) supervisor.DiagnosticsRewriter {
	return func(p protocol.PublishDiagnosticsParams) (protocol.PublishDiagnosticsParams, bool) {
		if !s.Config.DiagnosticsEnable {
			return p, false
		}
		if containsNodeModules(string(p.URI)) {
			return p, false
		}
		httpURI, err := s.Mapper.FileToHTTP(string(p.URI))
		if err != nil {
			return p, false
		}
		p.URI = httpURI
		return p, true
	}
}

// diagnosticsSink reuses the glsp.Context captured from Initialize (the
// only request the first connection ever makes before any diagnostics
// can arrive) to push a notification on the same underlying connection.
func (r *Router) diagnosticsSink(ctx *glsp.Context) supervisor.DiagnosticsSink {
	return func(p protocol.PublishDiagnosticsParams) {
		ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, p)
	}
}
