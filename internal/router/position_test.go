package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLanguageID(t *testing.T) {
	assert.Equal(t, "typescript", languageID("file:///repo/src/a.ts"))
	assert.Equal(t, "typescript", languageID("file:///repo/src/a.d.ts"))
	assert.Equal(t, "typescriptreact", languageID("file:///repo/src/a.tsx"))
	assert.Equal(t, "javascript", languageID("file:///repo/src/a.js"))
	assert.Equal(t, "javascriptreact", languageID("file:///repo/src/a.jsx"))
	assert.Equal(t, "json", languageID("file:///repo/package.json"))
}

func TestBuildDidOpenParams(t *testing.T) {
	params := buildDidOpenParams("file:///repo/a.ts", "const x = 1;")
	assert.Equal(t, "const x = 1;", params.TextDocument.Text)
	assert.Equal(t, "typescript", params.TextDocument.LanguageID)
	assert.Equal(t, "file:///repo/a.ts", string(params.TextDocument.URI))
}

func TestRewriteDocumentURI(t *testing.T) {
	params := map[string]any{
		"textDocument": map[string]any{"uri": "http://example.com/ws/a.ts", "version": 1},
		"position":     map[string]any{"line": 0, "character": 0},
	}
	rewritten, err := rewriteDocumentURI(params, "file:///repo/a.ts")
	require.NoError(t, err)
	td, ok := rewritten["textDocument"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "file:///repo/a.ts", td["uri"])
	assert.Equal(t, float64(1), td["version"])
}
