package workspace

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/tailscale/hujson"
	"github.com/tliron/commonlog"
)

// SanitizeTsconfigs finds every tsconfig.json under dir and strips
// compilerOptions.plugins from each, per spec §4.3: plugins are loaded
// from untrusted node_modules and must never execute. Parsing is
// lenient (JSON-with-comments, trailing commas), since tsconfig.json
// permits both; the rewritten file is plain JSON.
func SanitizeTsconfigs(ctx context.Context, dir string, log commonlog.Logger) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Base(path) != "tsconfig.json" {
			return nil
		}
		if sanitizeErr := sanitizeOne(path); sanitizeErr != nil {
			log.Warningf("sanitizing %s: %v", path, sanitizeErr)
		}
		return nil
	})
}

func sanitizeOne(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading tsconfig")
	}

	ast, err := hujson.Parse(raw)
	if err != nil {
		return errors.Wrap(err, "parsing tsconfig leniently")
	}
	ast.Standardize()
	standardJSON := ast.Pack()

	var doc map[string]any
	if err := json.Unmarshal(standardJSON, &doc); err != nil {
		return errors.Wrap(err, "decoding tsconfig")
	}

	compilerOptions, ok := doc["compilerOptions"].(map[string]any)
	if !ok {
		return nil
	}
	if _, hasPlugins := compilerOptions["plugins"]; !hasPlugins {
		return nil
	}
	delete(compilerOptions, "plugins")

	rewritten, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding sanitized tsconfig")
	}
	return os.WriteFile(path, rewritten, 0o644)
}
