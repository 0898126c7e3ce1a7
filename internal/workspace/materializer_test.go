package workspace

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

type fakeFetcher struct {
	body        []byte
	contentType string
}

func (f *fakeFetcher) OpenArchive(ctx context.Context, httpRoot string) (io.ReadCloser, string, int64, error) {
	return io.NopCloser(bytes.NewReader(f.body)), f.contentType, int64(len(f.body)), nil
}

func buildTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestMaterialize_FiltersAndRecordsManifests(t *testing.T) {
	archive := buildTar(t, map[string]string{
		"a.ts":                          "export const a = 1",
		"README.md":                     "ignored",
		"package.json":                  `{"name":"root","dependencies":{"lodash":"*"}}`,
		"node_modules/x/package.json":   `{"name":"x"}`,
		"node_modules/x/index.d.ts":     "declare const x: number",
	})

	dir := t.TempDir()
	m := New(&fakeFetcher{body: archive, contentType: "application/x-tar"}, commonlog.GetLogger("lsgateway.workspace"))

	result, err := m.Materialize(context.Background(), "https://h/repo@abc/-/raw", dir, "file:///tmp/repo", nil)
	require.NoError(t, err)

	require.Len(t, result.Entries, 1)
	assert.Equal(t, "file:///tmp/repo/", result.Entries[0].Dir)
	assert.Contains(t, result.Entries[0].Dependencies, "lodash")

	_, err = os.Stat(filepath.Join(dir, "a.ts"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "README.md"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "node_modules", "x", "index.d.ts"))
	require.NoError(t, err)
}

func TestMaterialize_RejectsNonApplicationContentType(t *testing.T) {
	m := New(&fakeFetcher{body: []byte{}, contentType: "text/html"}, commonlog.GetLogger("lsgateway.workspace"))
	_, err := m.Materialize(context.Background(), "https://h/repo/-/raw", t.TempDir(), "file:///tmp/repo", nil)
	require.Error(t, err)
}

func TestSanitizeTsconfigs_StripsPlugins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsconfig.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  // comment
  "compilerOptions": {
    "strict": true,
    "plugins": [{"name": "evil-plugin"}],
  },
}`), 0o644))

	require.NoError(t, SanitizeTsconfigs(context.Background(), dir, commonlog.GetLogger("lsgateway.workspace")))

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "plugins")
	assert.Contains(t, string(out), "strict")
}
