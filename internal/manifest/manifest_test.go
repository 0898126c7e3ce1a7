package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryParentsOf_DeepestFirst(t *testing.T) {
	reg := NewRegistry([]Entry{
		{Dir: "file:///ws/"},
		{Dir: "file:///ws/packages/a/"},
		{Dir: "file:///ws/packages/a/nested/"},
	})

	parents := reg.ParentsOf("file:///ws/packages/a/nested/src/index.ts")
	require.Len(t, parents, 3)
	assert.Equal(t, "file:///ws/packages/a/nested/", parents[0].Dir)
	assert.Equal(t, "file:///ws/packages/a/", parents[1].Dir)
	assert.Equal(t, "file:///ws/", parents[2].Dir)
}

func TestRegistryParentsOf_NoMatch(t *testing.T) {
	reg := NewRegistry([]Entry{{Dir: "file:///ws/packages/a/"}})
	assert.Empty(t, reg.ParentsOf("file:///ws/packages/b/index.ts"))
}

func TestRegistryDeclaredIn(t *testing.T) {
	reg := NewRegistry([]Entry{
		{Dir: "file:///ws/a/", Dependencies: map[string]string{"lodash": "*"}},
		{Dir: "file:///ws/b/", Dependencies: map[string]string{"react": "*"}},
	})
	found := reg.DeclaredIn("lodash")
	require.Len(t, found, 1)
	assert.Equal(t, "file:///ws/a/", found[0].Dir)
	assert.Empty(t, reg.DeclaredIn("vue"))
}

func TestPackageManifest_RepositoryString(t *testing.T) {
	var p PackageManifest
	p.Repository = []byte(`"github.com/lodash/lodash"`)
	assert.Equal(t, "github.com/lodash/lodash", p.RepositoryString())

	p.Repository = []byte(`{"type":"git","url":"git+https://github.com/a/b.git","directory":"packages/b"}`)
	assert.Equal(t, "git+https://github.com/a/b.git", p.RepositoryString())
	assert.Equal(t, "packages/b", p.RepositoryDirectory())
}

func TestRegistryIterate_IsSnapshot(t *testing.T) {
	reg := NewRegistry([]Entry{{Dir: "file:///ws/a/"}})
	snap := reg.Iterate()
	snap[0].Dir = "mutated"
	assert.Equal(t, "file:///ws/a/", reg.Iterate()[0].Dir)
}
