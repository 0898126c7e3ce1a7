// Package supervisor implements the Downstream Supervisor (spec §4.7):
// spawning and re-spawning the child language service, forwarding
// requests and diagnostics, and replaying open documents across a
// restart. Grounded on the stdio jsonrpc2 proxy shape in
// other_examples/84ea84c8_dao42-lsp-adapter__proxy.go.go.
package supervisor

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"lsgateway/internal/gwerr"
)

// OpenDocumentsProvider supplies the session's replay log in insertion
// order, so a restart can reopen every file the client had open (spec §5,
// "its iteration order is insertion order").
type OpenDocumentsProvider interface {
	OpenDocumentsInOrder() []protocol.DidOpenTextDocumentParams
}

// DiagnosticsRewriter rewrites a downstream publish-diagnostics
// notification into client-facing form, or reports that it should be
// dropped (spec §4.7: anything under node_modules/ is dropped).
type DiagnosticsRewriter func(params protocol.PublishDiagnosticsParams) (protocol.PublishDiagnosticsParams, bool)

// DiagnosticsSink receives a rewritten diagnostics notification.
type DiagnosticsSink func(params protocol.PublishDiagnosticsParams)

// Supervisor owns the child language service handle for one session.
type Supervisor struct {
	command string
	args    []string
	log     commonlog.Logger

	openDocs OpenDocumentsProvider

	// dial obtains the raw transport to the child process. It defaults to
	// spawning command/args over stdio; tests substitute an in-memory pipe.
	dial func() (io.ReadWriteCloser, error)

	mu         sync.Mutex
	conn       *jsonrpc2.Conn
	proc       io.ReadWriteCloser
	initParams *protocol.InitializeParams
	rewriter   DiagnosticsRewriter
	sink       DiagnosticsSink
	closed     bool
}

// New builds a Supervisor that spawns command/args over stdio on Start.
// openDocs is consulted on every Restart to replay didOpen notifications.
func New(command string, args []string, openDocs OpenDocumentsProvider, log commonlog.Logger) *Supervisor {
	s := &Supervisor{command: command, args: args, openDocs: openDocs, log: log}
	s.dial = func() (io.ReadWriteCloser, error) { return spawnStdio(s.command, s.args) }
	return s
}

// Start spawns the child process, sends Initialize with the given
// params, and returns its result. initializeParams is retained for use
// by Restart.
func (s *Supervisor) Start(ctx context.Context, initializeParams *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	s.mu.Lock()
	s.initParams = initializeParams
	s.mu.Unlock()

	return s.connectAndInitialize(ctx, initializeParams)
}

// Restart disposes the current handle, spawns a new one, re-sends the
// original initializeParams, then replays every open document as a
// didOpen notification in insertion order (spec §4.7).
func (s *Supervisor) Restart(ctx context.Context) (*protocol.InitializeResult, error) {
	s.mu.Lock()
	initParams := s.initParams
	conn := s.conn
	proc := s.proc
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if proc != nil {
		_ = proc.Close()
	}

	result, err := s.connectAndInitialize(ctx, initParams)
	if err != nil {
		return nil, err
	}

	if s.openDocs != nil {
		for _, params := range s.openDocs.OpenDocumentsInOrder() {
			if err := s.Notify(ctx, "textDocument/didOpen", params); err != nil {
				s.log.Warningf("replaying didOpen for %s after restart: %v", params.TextDocument.URI, err)
			}
		}
	}

	return result, nil
}

func (s *Supervisor) connectAndInitialize(ctx context.Context, initParams *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	proc, err := s.dial()
	if err != nil {
		return nil, gwerr.NewFatalSpawnError(err)
	}

	stream := jsonrpc2.NewBufferedStream(proc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(s.handleDownstreamMessage)))

	s.mu.Lock()
	s.proc = proc
	s.conn = conn
	s.closed = false
	s.mu.Unlock()

	var result protocol.InitializeResult
	if err := conn.Call(ctx, "initialize", initParams, &result); err != nil {
		_ = conn.Close()
		_ = proc.Close()
		return nil, gwerr.NewFatalSpawnError(err)
	}
	if err := conn.Notify(ctx, "initialized", &protocol.InitializedParams{}); err != nil {
		s.log.Warningf("sending initialized notification: %v", err)
	}

	return &result, nil
}

// handleDownstreamMessage dispatches unsolicited messages from the child
// process: currently only textDocument/publishDiagnostics is recognized.
func (s *Supervisor) handleDownstreamMessage(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	if req.Method != "textDocument/publishDiagnostics" || req.Params == nil {
		return nil, nil
	}

	var params protocol.PublishDiagnosticsParams
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		s.log.Warningf("decoding publishDiagnostics: %v", err)
		return nil, nil
	}

	s.mu.Lock()
	rewriter, sink := s.rewriter, s.sink
	s.mu.Unlock()
	if rewriter == nil || sink == nil {
		return nil, nil
	}

	rewritten, ok := rewriter(params)
	if !ok {
		return nil, nil
	}
	sink(rewritten)
	return nil, nil
}

// SubscribeDiagnostics registers rewriter and sink for downstream
// publish-diagnostics notifications. The subscription survives Restart
// because handleDownstreamMessage re-reads it from s on every call.
func (s *Supervisor) SubscribeDiagnostics(rewriter DiagnosticsRewriter, sink DiagnosticsSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewriter = rewriter
	s.sink = sink
}

// Forward sends a request downstream and decodes its result into result,
// propagating ctx cancellation to the downstream call.
func (s *Supervisor) Forward(ctx context.Context, method string, params, result any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("downstream not started")
	}

	err := conn.Call(ctx, method, params, result)
	if err != nil {
		if ctx.Err() != nil {
			return gwerr.NewCancelled("forward " + method)
		}
		if rpcErr, ok := err.(*jsonrpc2.Error); ok {
			return gwerr.NewDownstreamError(method, rpcErr.Message)
		}
		return gwerr.NewDownstreamError(method, err.Error())
	}
	return nil
}

// Notify sends a fire-and-forget notification downstream.
func (s *Supervisor) Notify(ctx context.Context, method string, params any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("downstream not started")
	}
	return conn.Notify(ctx, method, params)
}

// Dispose closes the downstream connection and terminates the child
// process. Safe to call multiple times.
func (s *Supervisor) Dispose() error {
	s.mu.Lock()
	conn := s.conn
	proc := s.proc
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if proc != nil {
		if procErr := proc.Close(); procErr != nil && err == nil {
			err = procErr
		}
	}
	return err
}
