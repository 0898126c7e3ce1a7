package uri

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExternalIndex_RecordAndLookup(t *testing.T) {
	idx := NewExternalIndex()

	_, ok := idx.Lookup("https://sourcegraph.example.com/github.com/lodash/lodash/-/raw/lodash.js")
	assert.False(t, ok)

	rec := ExternalRecord{
		PkgRootFileURI: "file:///repo/node_modules/lodash/",
		PkgName:        "lodash",
		RelPath:        "lodash.js",
	}
	idx.Record("https://sourcegraph.example.com/github.com/lodash/lodash/-/raw/lodash.js", rec)

	got, ok := idx.Lookup("https://sourcegraph.example.com/github.com/lodash/lodash/-/raw/lodash.js")
	assert.True(t, ok)
	assert.Equal(t, rec, got)
}
