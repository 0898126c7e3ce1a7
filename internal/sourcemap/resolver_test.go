package sourcemap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lsgateway/internal/gwerr"
	"lsgateway/internal/resource"
)

// memRetriever is a minimal in-memory resource.Retriever used to exercise
// the resolver without touching the filesystem or network.
type memRetriever struct {
	files map[string]string
}

func (m *memRetriever) Fetch(ctx context.Context, uri string) ([]byte, error) {
	b, ok := m.files[uri]
	if !ok {
		return nil, gwerr.NewResourceNotFound(uri)
	}
	return []byte(b), nil
}

func (m *memRetriever) Exists(ctx context.Context, uri string) (bool, error) {
	_, ok := m.files[uri]
	return ok, nil
}

func (m *memRetriever) Glob(ctx context.Context, root, pattern string, opts resource.GlobOptions) (<-chan string, error) {
	out := make(chan string, len(m.files))
	for uri := range m.files {
		if strings.HasPrefix(uri, root) && strings.HasSuffix(uri, ".d.ts.map") {
			out <- uri
		}
	}
	close(out)
	return out, nil
}

func newRegistry(files map[string]string) *resource.Registry {
	reg := resource.NewRegistry()
	reg.Register("file", &memRetriever{files: files})
	return reg
}

func TestResolveIncoming_FindsMatchingDeclarationMap(t *testing.T) {
	mapJSON := `{
		"version": 3,
		"sources": ["../../src/index.ts"],
		"names": [],
		"mappings": ";AAAA"
	}`
	files := map[string]string{
		"file:///pkg/node_modules/lodash/index.d.ts.map": mapJSON,
	}
	reg := newRegistry(files)

	mapped, err := ResolveIncoming(context.Background(), reg, "file:///pkg", "src/index.ts", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, "file:///pkg/node_modules/lodash/index.d.ts", mapped.URI)
	assert.Equal(t, 1, mapped.Position.Line)
	assert.Equal(t, 0, mapped.Position.Character)
}

// TestResolveIncoming_RealFileRetrieverFindsSiblingMap drives the real
// resource.FileRetriever (not the pattern-blind memRetriever fake above)
// against a .d.ts.map sitting directly at the package root, the common
// on-disk shape (e.g. .../node_modules/lodash/index.d.ts.map, with no
// further node_modules/ nesting beneath the package root for the glob
// pattern to match against).
func TestResolveIncoming_RealFileRetrieverFindsSiblingMap(t *testing.T) {
	mapJSON := `{
		"version": 3,
		"sources": ["../../src/index.ts"],
		"names": [],
		"mappings": ";AACA"
	}`
	pkgRoot := filepath.Join(t.TempDir(), "node_modules", "lodash")
	require.NoError(t, os.MkdirAll(pkgRoot, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkgRoot, "index.d.ts.map"), []byte(mapJSON), 0o644))

	reg := resource.NewRegistry()
	reg.Register("file", resource.NewFileRetriever())

	pkgRootURI := "file://" + pkgRoot + "/"
	mapped, err := ResolveIncoming(context.Background(), reg, pkgRootURI, "src/index.ts", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(pkgRoot, "index.d.ts"), mapped.URI)
	assert.Equal(t, 1, mapped.Position.Line)
	assert.Equal(t, 0, mapped.Position.Character)
}

func TestResolveIncoming_NoCandidatesIsNotFound(t *testing.T) {
	reg := newRegistry(map[string]string{})
	_, err := ResolveIncoming(context.Background(), reg, "file:///pkg", "file:///src/index.ts", 1, 0)
	require.Error(t, err)
	assert.True(t, gwerr.IsResourceNotFound(err))
}

func TestResolveOutgoing_RewritesToSourceWithinTempRoot(t *testing.T) {
	mapJSON := `{
		"version": 3,
		"sources": ["../src/index.ts"],
		"names": [],
		"mappings": "AAAA"
	}`
	files := map[string]string{
		"file:///tmp/ws/node_modules/lodash/index.d.ts.map": mapJSON,
	}
	reg := newRegistry(files)

	mapped, err := ResolveOutgoing(context.Background(), reg, "file:///tmp/ws/node_modules/lodash/index.d.ts", "file:///tmp/ws", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "file:///tmp/ws/node_modules/src/index.ts", mapped.URI)
}

func TestResolveOutgoing_DiscardsMappingOutsideTempRoot(t *testing.T) {
	mapJSON := `{
		"version": 3,
		"sources": ["file:///somewhere/else/index.ts"],
		"names": [],
		"mappings": "AAAA"
	}`
	files := map[string]string{
		"file:///tmp/ws/node_modules/lodash/index.d.ts.map": mapJSON,
	}
	reg := newRegistry(files)

	_, err := ResolveOutgoing(context.Background(), reg, "file:///tmp/ws/node_modules/lodash/index.d.ts", "file:///tmp/ws", 0, 0)
	require.Error(t, err)
	assert.True(t, gwerr.IsMappingError(err))
}

func TestResolveOutgoing_NoMapFileIsNotFound(t *testing.T) {
	reg := newRegistry(map[string]string{})
	_, err := ResolveOutgoing(context.Background(), reg, "file:///tmp/ws/node_modules/lodash/index.d.ts", "file:///tmp/ws", 1, 0)
	require.Error(t, err)
	assert.True(t, gwerr.IsResourceNotFound(err))
}
