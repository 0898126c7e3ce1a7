package resource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lsgateway/internal/gwerr"
)

func TestFileRetriever_FetchAndExists(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.ts"), []byte("hello"), 0o644))

	r := NewFileRetriever()
	ctx := context.Background()

	b, err := r.Fetch(ctx, "file://"+filepath.Join(dir, "a.ts"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	ok, err := r.Exists(ctx, "file://"+filepath.Join(dir, "a.ts"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Exists(ctx, "file://"+filepath.Join(dir, "missing.ts"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.Fetch(ctx, "file://"+filepath.Join(dir, "missing.ts"))
	require.Error(t, err)
	assert.True(t, gwerr.IsResourceNotFound(err))
}

func TestFileRetriever_Glob(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "lodash"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "lodash", "index.d.ts.map"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.ts"), []byte("x"), 0o644))

	r := NewFileRetriever()
	out, err := r.Glob(context.Background(), "file://"+dir, "**/*.d.ts.map", GlobOptions{})
	require.NoError(t, err)

	var got []string
	for v := range out {
		got = append(got, v)
	}
	require.Len(t, got, 1)
	assert.Contains(t, got[0], "node_modules/lodash/index.d.ts.map")
}

func TestHTTPRetriever_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r := NewHTTPRetriever(srv.Client())
	_, err := r.Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.True(t, gwerr.IsResourceNotFound(err))
}

func TestRegistry_DispatchByScheme(t *testing.T) {
	reg := NewRegistry()
	reg.Register("file", NewFileRetriever())
	reg.Register("https", NewHTTPRetriever(nil))

	_, err := reg.For("file:///tmp/a.ts")
	require.NoError(t, err)
	_, err = reg.For("https://example.com/a.ts")
	require.NoError(t, err)
	_, err = reg.For("ftp://example.com/a.ts")
	require.Error(t, err)
}
