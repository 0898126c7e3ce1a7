// Package install implements the Installation Coordinator (spec §4.5):
// single-flight, on-demand installation of type-bearing dependencies for
// a package manifest.
package install

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/tliron/commonlog"

	"lsgateway/internal/manifest"
	"lsgateway/internal/workspace"
)

// State is the lifecycle of one manifest's installation, per spec §3.
type State int

const (
	NotStarted State = iota
	InProgress
	FinishedOk
	FinishedFailed
)

// RegistryMetadata is the external package-registry metadata lookup
// collaborator (spec §1, "package-registry metadata lookup" — out of
// scope beyond this interface).
type RegistryMetadata interface {
	// TypesField returns the "types"/"typings" field registered for
	// packageName, or "" if the package declares none. An error means
	// the registry was unreachable; the coordinator logs it and keeps
	// the dependency rather than dropping it (spec §4.5 step 1).
	TypesField(ctx context.Context, packageName, versionRange string) (string, error)
}

// Installer is the external dependency-installer collaborator (spec §1,
// "the dependency installer").
type Installer interface {
	// Install runs the installer for the manifest at manifestDir with
	// the given isolated global-store/cache directories and npmrc
	// (registry configuration), installing exactly deps.
	Install(ctx context.Context, manifestDir string, deps map[string]string, globalDir, cacheDir, npmrc string) error
}

// Restarter is notified once an installation completes, so the
// downstream supervisor can be restarted (spec §4.7).
type Restarter interface {
	RequestRestart()
}

// entry tracks one manifest's single-flight installation.
type entry struct {
	done  chan struct{}
	state State
	err   error
}

// Coordinator is the Installation Coordinator for one session.
type Coordinator struct {
	registry            RegistryMetadata
	installer           Installer
	restarter           Restarter
	restartAfterInstall bool
	npmrc               string
	isolationRoot        string // <tempDir>, cache/ and global/ subdirectories are created under it
	log                  commonlog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// New builds a Coordinator. isolationRoot is the session temp directory
// under which per-manifest cache/ and global/ directories are allocated
// (spec §6 filesystem layout).
func New(registry RegistryMetadata, installer Installer, restarter Restarter, restartAfterInstall bool, npmrc, isolationRoot string, log commonlog.Logger) *Coordinator {
	return &Coordinator{
		registry:            registry,
		installer:           installer,
		restarter:           restarter,
		restartAfterInstall: restartAfterInstall,
		npmrc:               npmrc,
		isolationRoot:       isolationRoot,
		log:                 log,
		entries:             make(map[string]*entry),
	}
}

// StateOf reports the current State for m, NotStarted if ensureInstalled
// has never been called for it.
func (c *Coordinator) StateOf(m manifest.Entry) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[m.Dir]
	if !ok {
		return NotStarted
	}
	return e.state
}

// EnsureInstalled returns once m's installation has completed,
// triggering it if this is the first call for m (single-flight: callers
// arriving while InProgress await the same outcome; FinishedFailed is
// terminal and is not retried). Errors are returned to the caller, but
// per spec §4.5 policy they are logged by the background goroutine, not
// propagated as the request's own failure — callers that must not block
// on enrichment should call this in a background goroutine instead of
// awaiting it (see router's hover-triggered install, spec §4.8).
func (c *Coordinator) EnsureInstalled(ctx context.Context, m manifest.Entry) error {
	c.mu.Lock()
	e, ok := c.entries[m.Dir]
	if !ok {
		e = &entry{done: make(chan struct{}), state: InProgress}
		c.entries[m.Dir] = e
		c.mu.Unlock()
		go c.run(m, e)
	} else {
		c.mu.Unlock()
	}

	select {
	case <-e.done:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) run(m manifest.Entry, e *entry) {
	err := c.install(context.Background(), m)
	if err != nil {
		c.log.Errorf("installation for %s failed (not retried): %v", m.Dir, err)
	} else if c.restartAfterInstall {
		c.restarter.RequestRestart()
	}

	c.mu.Lock()
	e.err = err
	if err != nil {
		e.state = FinishedFailed
	} else {
		e.state = FinishedOk
	}
	c.mu.Unlock()
	close(e.done)
}

func (c *Coordinator) install(ctx context.Context, m manifest.Entry) error {
	manifestDir, err := filepath.Abs(strings.TrimPrefix(m.Dir, "file://"))
	if err != nil {
		return errors.Wrap(err, "resolving manifest directory")
	}
	pkgPath := filepath.Join(manifestDir, "package.json")

	raw, err := os.ReadFile(pkgPath)
	if err != nil {
		return errors.Wrap(err, "reading package.json")
	}
	var pm manifest.PackageManifest
	if err := json.Unmarshal(raw, &pm); err != nil {
		return errors.Wrap(err, "parsing package.json")
	}

	kept, removedAny, err := c.filterTypeBearing(ctx, pm.Dependencies)
	if err != nil {
		return err
	}
	keptDev, removedDevAny, err := c.filterTypeBearing(ctx, pm.DevDependencies)
	if err != nil {
		return err
	}
	removedAny = removedAny || removedDevAny

	if len(kept) == 0 && len(keptDev) == 0 {
		return nil
	}

	// spec §4.5 step 1: write the filtered manifest back only if at
	// least one dependency was removed AND at least one remains. If
	// nothing was excluded, every original dependency (including
	// non-type-bearing ones) is left in place; this is the spec's
	// documented, if surprising, behavior (see DESIGN.md).
	if removedAny && (len(kept) > 0 || len(keptDev) > 0) {
		pm.Dependencies = kept
		pm.DevDependencies = keptDev
		filtered, err := json.MarshalIndent(pm, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encoding filtered package.json")
		}
		if err := os.WriteFile(pkgPath, filtered, 0o644); err != nil {
			return errors.Wrap(err, "writing filtered package.json")
		}
	}

	globalDir := filepath.Join(c.isolationRoot, "global", relManifestDir(manifestDir, c.isolationRoot))
	cacheDir := filepath.Join(c.isolationRoot, "cache", relManifestDir(manifestDir, c.isolationRoot))
	if err := os.MkdirAll(globalDir, 0o755); err != nil {
		return errors.Wrap(err, "creating global store directory")
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return errors.Wrap(err, "creating cache directory")
	}

	allDeps := make(map[string]string, len(kept)+len(keptDev))
	for k, v := range kept {
		allDeps[k] = v
	}
	for k, v := range keptDev {
		allDeps[k] = v
	}

	if err := c.installer.Install(ctx, manifestDir, allDeps, globalDir, cacheDir, c.npmrc); err != nil {
		return errors.Wrap(err, "running dependency installer")
	}

	nodeModules := filepath.Join(manifestDir, "node_modules")
	if err := workspace.SanitizeTsconfigs(ctx, nodeModules, c.log); err != nil {
		c.log.Warningf("sanitizing tsconfigs under %s: %v", nodeModules, err)
	}

	return nil
}

// filterTypeBearing keeps @types/* dependencies unconditionally, and
// other dependencies only when the registry reports a types/typings
// field. Registry lookup failures are logged and the dependency is
// kept, per spec §4.5 step 1.
func (c *Coordinator) filterTypeBearing(ctx context.Context, deps map[string]string) (kept map[string]string, removedAny bool, err error) {
	kept = make(map[string]string, len(deps))
	for name, version := range deps {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if strings.HasPrefix(name, "@types/") {
			kept[name] = version
			continue
		}
		typesField, lookupErr := c.registry.TypesField(ctx, name, version)
		if lookupErr != nil {
			c.log.Warningf("registry metadata unreachable for %s: %v (keeping dependency)", name, lookupErr)
			kept[name] = version
			continue
		}
		if typesField != "" {
			kept[name] = version
		} else {
			removedAny = true
		}
	}
	return kept, removedAny, nil
}

func relManifestDir(manifestDir, isolationRoot string) string {
	rel, err := filepath.Rel(isolationRoot, manifestDir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Base(manifestDir)
	}
	return rel
}
