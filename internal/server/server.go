// Package server wires the Request Router into a protocol.Handler and
// runs it over stdio, mirroring the teacher's glspServer.NewServer setup.
package server

import (
	"net/http"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspServer "github.com/tliron/glsp/server"

	"lsgateway/internal/router"
	"lsgateway/internal/session"
)

// Options configures the downstream child service and the shared
// collaborators every session is built from (spec §6).
type Options struct {
	LogLevel string

	DownstreamCommand string
	DownstreamArgs    []string
	NpmCommand        string
	TempRootDir       string
	AppVersion        string

	TypeScriptLibRoot string
	TypeScriptVersion string
}

// Run wires up the request router and starts the server on stdio.
func Run(opts Options) error {
	configureLogging(opts.LogLevel)
	log := commonlog.GetLogger("lsgateway")

	deps := session.Deps{
		DownstreamCommand: opts.DownstreamCommand,
		DownstreamArgs:    opts.DownstreamArgs,
		NpmCommand:        opts.NpmCommand,
		HTTPClient:        &http.Client{Timeout: 2 * time.Minute},
		TempRootDir:       opts.TempRootDir,
		AppVersion:        opts.AppVersion,
		TypeScriptLibRoot: opts.TypeScriptLibRoot,
		TypeScriptVersion: opts.TypeScriptVersion,
		Log:               log,
	}

	r := router.New(deps)

	lspHandler := protocol.Handler{
		Initialize:                 r.Initialize,
		Initialized:                r.Initialized,
		Shutdown:                   r.Shutdown,
		SetTrace:                   r.SetTrace,
		TextDocumentDidOpen:        r.DidOpen,
		TextDocumentHover:          r.Hover,
		TextDocumentDefinition:     r.Definition,
		TextDocumentTypeDefinition: r.TypeDefinition,
		TextDocumentReferences:     r.References,
		TextDocumentImplementation: r.Implementation,
		TextDocumentCodeAction:     r.CodeAction,
	}

	s := glspServer.NewServer(&lspHandler, "lsgateway", false)
	return s.RunStdio()
}

func configureLogging(level string) {
	// commonlog.Configure verbosity: 1=Error, 2=Warning, 3=Notice, 4=Info, 5=Debug
	verbosity := 2 // Warning by default
	switch level {
	case "debug":
		verbosity = 5
	case "info":
		verbosity = 4
	case "warning", "warn":
		verbosity = 2
	case "error":
		verbosity = 1
	}
	commonlog.Configure(verbosity, nil)
}
