package uri

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lsgateway/internal/gwerr"
)

func testMapper() *Mapper {
	return New("https://h/repo@abc/-/raw", "file:///tmp/sess-1/repo")
}

func TestHTTPToFile(t *testing.T) {
	m := testMapper()
	f, err := m.HTTPToFile("https://h/repo@abc/-/raw/src/a.ts")
	require.NoError(t, err)
	assert.Equal(t, "file:///tmp/sess-1/repo/src/a.ts", f)
}

func TestHTTPToFile_RoundTrip(t *testing.T) {
	m := testMapper()
	f, err := m.HTTPToFile("https://h/repo@abc/-/raw/src/a.ts")
	require.NoError(t, err)
	back, err := m.FileToHTTP(f)
	require.NoError(t, err)
	assert.Equal(t, "https://h/repo@abc/-/raw/src/a.ts", back)
}

func TestHTTPToFile_PathEscape(t *testing.T) {
	m := testMapper()
	_, err := m.HTTPToFile("https://h/repo@abc/-/raw/../../../etc/passwd")
	require.Error(t, err)
	assert.True(t, gwerr.IsMappingError(err))
}

func TestFileToHTTP_RejectsNodeModules(t *testing.T) {
	m := testMapper()
	_, err := m.FileToHTTP("file:///tmp/sess-1/repo/node_modules/lodash/index.d.ts")
	require.Error(t, err)
	assert.True(t, gwerr.IsMappingError(err))
}

func TestHTTPToFile_WrongHost(t *testing.T) {
	m := testMapper()
	_, err := m.HTTPToFile("https://other/repo@abc/-/raw/src/a.ts")
	require.Error(t, err)
}

func TestResolveExternal(t *testing.T) {
	out, err := ResolveExternal("https://sourcegraph.example.com", ExternalRepoMeta{
		RepoName: "github.com/lodash/lodash",
		Commit:   "deadbeef",
	}, "tok123", "index.d.ts")
	require.NoError(t, err)
	assert.Equal(t, "https://tok123@sourcegraph.example.com/github.com/lodash/lodash@deadbeef/-/raw/index.d.ts", out)
}

func TestResolveExternal_WithSubdirNoCommit(t *testing.T) {
	out, err := ResolveExternal("https://sg/", ExternalRepoMeta{
		RepoName: "github.com/foo/bar",
		Subdir:   "packages/core",
	}, "", "src/index.ts")
	require.NoError(t, err)
	assert.Equal(t, "https://sg/github.com/foo/bar/-/raw/packages/core/src/index.ts", out)
}

func TestFindPackageRootAndName_Scoped(t *testing.T) {
	root, name, ok := FindPackageRootAndName("node_modules/@scope/pkg/dist/index.d.ts")
	require.True(t, ok)
	assert.Equal(t, "@scope/pkg", name)
	assert.Equal(t, "node_modules/@scope/pkg", root)
}

func TestFindPackageRootAndName_Plain(t *testing.T) {
	root, name, ok := FindPackageRootAndName("node_modules/lodash/index.d.ts")
	require.True(t, ok)
	assert.Equal(t, "lodash", name)
	assert.Equal(t, "node_modules/lodash", root)
}

func TestFindPackageRootAndName_DefinitelyTyped(t *testing.T) {
	root, name, ok := FindPackageRootAndName("node_modules/types/lodash/v4/index.d.ts")
	require.True(t, ok)
	assert.Equal(t, "@types/lodash", name)
	assert.Equal(t, "node_modules/types/lodash/v4", root)
}

func TestFindPackageRootAndName_NotInNodeModules(t *testing.T) {
	_, _, ok := FindPackageRootAndName("src/index.ts")
	assert.False(t, ok)
}

func TestParseExternalRepoURI_RoundTripsResolveExternal(t *testing.T) {
	minted, err := ResolveExternal("https://sg/", ExternalRepoMeta{
		RepoName: "github.com/other-org/other-repo",
		Commit:   "def",
	}, "", "src/x.ts")
	require.NoError(t, err)

	repoName, commit, relPath, ok := ParseExternalRepoURI("https://sg/", minted)
	require.True(t, ok)
	assert.Equal(t, "github.com/other-org/other-repo", repoName)
	assert.Equal(t, "def", commit)
	assert.Equal(t, "src/x.ts", relPath)
}

func TestParseExternalRepoURI_NoCommit(t *testing.T) {
	repoName, commit, relPath, ok := ParseExternalRepoURI("https://sg/", "https://sg/other-repo/-/raw/src/x.ts")
	require.True(t, ok)
	assert.Equal(t, "other-repo", repoName)
	assert.Equal(t, "", commit)
	assert.Equal(t, "src/x.ts", relPath)
}

func TestParseExternalRepoURI_WrongHost(t *testing.T) {
	_, _, _, ok := ParseExternalRepoURI("https://sg/", "https://other/other-repo@def/-/raw/src/x.ts")
	assert.False(t, ok)
}

func TestParseExternalRepoURI_MissingRawMarker(t *testing.T) {
	_, _, _, ok := ParseExternalRepoURI("https://sg/", "https://sg/other-repo@def/src/x.ts")
	assert.False(t, ok)
}

func TestInferPackageName_DefinitelyTyped(t *testing.T) {
	assert.Equal(t, "@types/lodash", InferPackageName("github.com/DefinitelyTyped/DefinitelyTyped", "types/lodash/index.d.ts"))
}

func TestInferPackageName_FallsBackToRepoBasename(t *testing.T) {
	assert.Equal(t, "other-repo", InferPackageName("github.com/other-org/other-repo", "src/x.ts"))
}
