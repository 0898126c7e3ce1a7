// Package session implements the Session Controller (spec §4 intro, C9):
// the per-connection object that owns every other collaborator (URI
// mapper, manifest registry, installation coordinator, downstream
// supervisor, open-document replay log) and their disposal order.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.uber.org/multierr"

	"lsgateway/internal/config"
	"lsgateway/internal/gwerr"
	"lsgateway/internal/install"
	"lsgateway/internal/manifest"
	"lsgateway/internal/resource"
	"lsgateway/internal/sourcemap"
	"lsgateway/internal/supervisor"
	"lsgateway/internal/uri"
	"lsgateway/internal/workspace"
)

// Deps bundles the process-wide collaborators a Session is built from:
// the external commands and clients, independent of any one connection.
type Deps struct {
	DownstreamCommand string
	DownstreamArgs    []string
	NpmCommand        string
	HTTPClient        *http.Client
	TempRootDir       string // parent directory under which each session's temp dir is created
	AppVersion        string

	// TypeScriptLibRoot is the absolute file-path prefix of the
	// downstream's bundled lib.*.d.ts files (spec §4.8: locations under
	// it are rewritten to a fixed external-repo URL rather than C1
	// fileToHttp). TypeScriptVersion names the pinned compiler version
	// used to build that URL.
	TypeScriptLibRoot string
	TypeScriptVersion string

	Log commonlog.Logger
}

// Session owns every resource materialized for one client connection.
type Session struct {
	ID            string
	Mapper        *uri.Mapper
	ExternalIndex *uri.ExternalIndex
	Config        config.Config
	Manifests     *manifest.Registry
	Resources     *resource.Registry
	Installs      *install.Coordinator
	Downstream    *supervisor.Supervisor
	OpenDocs      *OpenDocuments
	TempDir       string
	FileRootDir   string

	TypeScriptLibRoot string
	TypeScriptVersion string

	log         commonlog.Logger
	disposables []func() error
}

// restarterAdapter bridges install.Restarter (a synchronous fire call)
// to supervisor.Supervisor.Restart (an async, context-bound operation).
type restarterAdapter struct {
	downstream *supervisor.Supervisor
	log        commonlog.Logger
}

func (r *restarterAdapter) RequestRestart() {
	go func() {
		if _, err := r.downstream.Restart(context.Background()); err != nil {
			r.log.Errorf("downstream restart after installation failed: %v", err)
		}
	}()
}

// Initialize performs spec §4.8's Initialize pipeline: validate params,
// lift configuration, materialize the workspace, build the manifest
// registry, sanitize tsconfigs, then start the downstream. It returns the
// new Session and the downstream's own Initialize result, which the
// caller returns to the client verbatim.
func Initialize(ctx context.Context, params *protocol.InitializeParams, deps Deps, onProgress func(percent int)) (*Session, *protocol.InitializeResult, error) {
	httpRoot, err := workspaceRoot(params)
	if err != nil {
		return nil, nil, err
	}

	cfg := config.Default(workDoneProgressCapable(params))
	if cfg2, err := config.Merge(cfg, extractConfiguration(params.InitializationOptions)); err == nil {
		cfg = cfg2
	} else {
		deps.Log.Warningf("ignoring malformed initializationOptions.configuration: %v", err)
	}

	sessionID := uuid.New().String()
	tempDir, err := os.MkdirTemp(deps.TempRootDir, "lsgateway-"+sessionID+"-")
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating session temp directory")
	}
	fileRootDir := filepath.Join(tempDir, "repo")
	if err := os.MkdirAll(fileRootDir, 0o755); err != nil {
		os.RemoveAll(tempDir)
		return nil, nil, errors.Wrap(err, "creating workspace root directory")
	}
	fileRootURI := "file://" + fileRootDir + "/"

	s := &Session{
		ID:                sessionID,
		Mapper:            uri.New(httpRoot, fileRootURI),
		ExternalIndex:     uri.NewExternalIndex(),
		Config:            cfg,
		TempDir:           tempDir,
		FileRootDir:       fileRootDir,
		TypeScriptLibRoot: deps.TypeScriptLibRoot,
		TypeScriptVersion: deps.TypeScriptVersion,
		log:               deps.Log,
	}
	// The temp directory is registered for disposal first, so (being run
	// last in reverse order) it is removed only after every other
	// disposable that might still read from it has run (spec §5).
	s.addDisposable(func() error { return os.RemoveAll(tempDir) })

	s.Resources = resource.NewRegistry()
	s.Resources.Register("file", resource.NewFileRetriever())
	s.Resources.Register("http", resource.NewHTTPRetriever(deps.HTTPClient))
	s.Resources.Register("https", resource.NewHTTPRetriever(deps.HTTPClient))

	materializer := workspace.New(workspace.NewHTTPFetcher(deps.HTTPClient), deps.Log)
	var progress workspace.ProgressFunc
	if onProgress != nil && cfg.Progress {
		progress = workspace.ProgressFunc(onProgress)
	}
	result, err := materializer.Materialize(ctx, httpRoot, fileRootDir, fileRootURI, progress)
	if err != nil {
		s.Dispose()
		return nil, nil, err
	}
	s.Manifests = manifest.NewRegistry(result.Entries)

	if err := workspace.SanitizeTsconfigs(ctx, fileRootDir, deps.Log); err != nil {
		deps.Log.Warningf("sanitizing fetched tsconfigs: %v", err)
	}

	s.OpenDocs = NewOpenDocuments()
	s.Downstream = supervisor.New(deps.DownstreamCommand, deps.DownstreamArgs, s.OpenDocs, deps.Log)
	s.addDisposable(func() error { return s.Downstream.Dispose() })

	restarter := &restarterAdapter{downstream: s.Downstream, log: deps.Log}
	s.Installs = install.New(
		install.NewNpmRegistryMetadata(deps.HTTPClient),
		install.NewNpmInstaller(deps.NpmCommand),
		restarter,
		cfg.RestartAfterInstall,
		cfg.Npmrc,
		tempDir,
		deps.Log,
	)

	downstreamParams, err := rootedInitializeParams(params, fileRootURI)
	if err != nil {
		s.Dispose()
		return nil, nil, errors.Wrap(err, "rewriting initialize params for downstream")
	}

	initResult, err := s.Downstream.Start(ctx, downstreamParams)
	if err != nil {
		s.Dispose()
		return nil, nil, err
	}

	return s, initResult, nil
}

// ResolveIncoming exposes the C6 incoming source-map resolver scoped to
// this session's resource registry.
func (s *Session) ResolveIncoming(ctx context.Context, pkgRootFileURI, sourceURL string, line, column int) (sourcemap.Mapped, error) {
	return sourcemap.ResolveIncoming(ctx, s.Resources, pkgRootFileURI, sourceURL, line, column)
}

// ResolveOutgoing exposes the C6 outgoing source-map resolver scoped to
// this session's resource registry and temp root.
func (s *Session) ResolveOutgoing(ctx context.Context, declFileURI string, line, column int) (sourcemap.Mapped, error) {
	tempRootURI := "file://" + s.TempDir
	return sourcemap.ResolveOutgoing(ctx, s.Resources, declFileURI, tempRootURI, line, column)
}

func (s *Session) addDisposable(d func() error) {
	s.disposables = append(s.disposables, d)
}

// Dispose runs every registered disposable in reverse insertion order,
// aggregating failures rather than stopping at the first one (spec §5).
func (s *Session) Dispose() error {
	var err error
	for i := len(s.disposables) - 1; i >= 0; i-- {
		if dErr := s.disposables[i](); dErr != nil {
			err = multierr.Append(err, dErr)
		}
	}
	return err
}

// workDoneProgressCapable reports whether the client advertised
// window.workDoneProgress, read via a JSON round-trip rather than a
// direct field chase: capabilities nests several optional pointers, and
// decoding into a narrow local shape is resilient regardless of exactly
// how glsp names or types the intermediate fields.
func workDoneProgressCapable(params *protocol.InitializeParams) bool {
	b, err := json.Marshal(params.Capabilities)
	if err != nil {
		return false
	}
	var caps struct {
		Window struct {
			WorkDoneProgress bool `json:"workDoneProgress"`
		} `json:"window"`
	}
	if err := json.Unmarshal(b, &caps); err != nil {
		return false
	}
	return caps.Window.WorkDoneProgress
}

// rootedInitializeParams clones params with rootUri/rootPath repointed at
// fileRootURI and workspaceFolders cleared, via a JSON round-trip rather
// than struct-literal field assignment (same rationale as
// workDoneProgressCapable: the wire shape of these fields is load-bearing
// here, not their Go type).
func rootedInitializeParams(params *protocol.InitializeParams, fileRootURI string) (*protocol.InitializeParams, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, err
	}
	generic["rootUri"] = fileRootURI
	delete(generic, "rootPath")
	delete(generic, "workspaceFolders")

	patched, err := json.Marshal(generic)
	if err != nil {
		return nil, err
	}
	var out protocol.InitializeParams
	if err := json.Unmarshal(patched, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func workspaceRoot(params *protocol.InitializeParams) (string, error) {
	if len(params.WorkspaceFolders) > 1 {
		return "", gwerr.NewValidationError("at most one workspace folder is supported")
	}
	var root string
	if len(params.WorkspaceFolders) == 1 {
		root = fmt.Sprint(params.WorkspaceFolders[0].URI)
	} else if params.RootURI != nil {
		root = fmt.Sprint(*params.RootURI)
	}
	if root == "" {
		return "", gwerr.NewValidationError("rootUri is required")
	}
	if !strings.HasPrefix(root, "http://") && !strings.HasPrefix(root, "https://") {
		return "", gwerr.NewValidationError(fmt.Sprintf("rootUri %q must use scheme http or https", root))
	}
	return root, nil
}

// extractConfiguration pulls the "configuration" key out of
// initializationOptions, whatever shape the client sent it in.
func extractConfiguration(initializationOptions any) any {
	m, ok := initializationOptions.(map[string]any)
	if !ok {
		return nil
	}
	return m["configuration"]
}
