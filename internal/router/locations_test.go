package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRepoName(t *testing.T) {
	cases := map[string]string{
		"git+https://github.com/lodash/lodash.git": "github.com/lodash/lodash",
		"https://github.com/facebook/react.git":    "github.com/facebook/react",
		"git://github.com/foo/bar.git":              "github.com/foo/bar",
		"git@github.com:foo/bar.git":                "github.com/foo/bar",
		"github.com/foo/bar":                        "github.com/foo/bar",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeRepoName(in), in)
	}
}

func TestDecodeLineColFromMap(t *testing.T) {
	rng := map[string]any{
		"start": map[string]any{"line": float64(4), "character": float64(2)},
		"end":   map[string]any{"line": float64(4), "character": float64(9)},
	}
	line, col, ok := decodeLineColFromMap(rng, "start")
	assert.True(t, ok)
	assert.Equal(t, 4, line)
	assert.Equal(t, 2, col)

	_, _, ok = decodeLineColFromMap(map[string]any{}, "start")
	assert.False(t, ok)
}

func TestRangeFromPoint(t *testing.T) {
	rng := rangeFromPoint(3, 7)
	assert.Equal(t, map[string]any{"line": 3, "character": 7}, rng["start"])
	assert.Equal(t, rng["start"], rng["end"])
}

func TestContainsNodeModules(t *testing.T) {
	assert.True(t, containsNodeModules("file:///repo/node_modules/lodash/index.d.ts"))
	assert.False(t, containsNodeModules("file:///repo/src/index.ts"))
}
