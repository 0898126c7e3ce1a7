package resource

import (
	"context"
	"net/url"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"lsgateway/internal/gwerr"
)

// FileRetriever implements Retriever for file: URIs against the local
// filesystem.
type FileRetriever struct{}

// NewFileRetriever builds a FileRetriever.
func NewFileRetriever() *FileRetriever { return &FileRetriever{} }

func toPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", gwerr.NewMappingError("invalid file uri: " + uri)
	}
	return u.Path, nil
}

// Fetch reads the file named by uri.
func (f *FileRetriever) Fetch(ctx context.Context, uri string) ([]byte, error) {
	p, err := toPath(uri)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, gwerr.NewResourceNotFound(uri)
		}
		return nil, err
	}
	return b, nil
}

// Exists reports whether uri names a file that is present on disk.
func (f *FileRetriever) Exists(ctx context.Context, uri string) (bool, error) {
	p, err := toPath(uri)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Glob enumerates files under root matching pattern using doublestar,
// excluding anything matching opts.Ignore.
func (f *FileRetriever) Glob(ctx context.Context, root, pattern string, opts GlobOptions) (<-chan string, error) {
	rootPath, err := toPath(root)
	if err != nil {
		return nil, err
	}

	matches, err := doublestar.Glob(os.DirFS(rootPath), pattern)
	if err != nil {
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for _, m := range matches {
			if ctx.Err() != nil {
				return
			}
			if matchesAny(m, opts.Ignore) {
				continue
			}
			select {
			case out <- "file://" + strings.TrimSuffix(rootPath, "/") + "/" + m:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func matchesAny(relPath string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, relPath); ok {
			return true
		}
	}
	return false
}
