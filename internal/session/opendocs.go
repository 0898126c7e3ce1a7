package session

import (
	"sync"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// OpenDocuments is the session's replay log (spec §4.8, §5): every
// didOpen received from the client, keyed by file URI, in the order it
// was first seen. It doubles as the de-duplication set the router
// consults before re-opening a document downstream.
type OpenDocuments struct {
	mu    sync.Mutex
	order []string
	byURI map[string]protocol.DidOpenTextDocumentParams
}

// NewOpenDocuments builds an empty replay log.
func NewOpenDocuments() *OpenDocuments {
	return &OpenDocuments{byURI: make(map[string]protocol.DidOpenTextDocumentParams)}
}

// Record stores params under its file URI, before the corresponding
// didOpen notification is sent downstream (spec §5 ordering guarantee).
// Re-recording an already-open URI is a no-op: the map is written once
// per file URI, matching "ensure the document is open... exactly once".
func (o *OpenDocuments) Record(params protocol.DidOpenTextDocumentParams) {
	uri := string(params.TextDocument.URI)
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.byURI[uri]; ok {
		return
	}
	o.byURI[uri] = params
	o.order = append(o.order, uri)
}

// IsOpen reports whether uri has already been recorded.
func (o *OpenDocuments) IsOpen(uri string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.byURI[uri]
	return ok
}

// OpenDocumentsInOrder returns every recorded didOpen in insertion
// order, implementing supervisor.OpenDocumentsProvider for restart replay.
func (o *OpenDocuments) OpenDocumentsInOrder() []protocol.DidOpenTextDocumentParams {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]protocol.DidOpenTextDocumentParams, 0, len(o.order))
	for _, uri := range o.order {
		out = append(out, o.byURI[uri])
	}
	return out
}
