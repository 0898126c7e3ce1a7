// Package workspace implements the Workspace Materializer (spec §4.3):
// streaming a remote tarball into a temp directory, filtering by
// extension, and recording package-manifest locations as they are seen.
package workspace

import (
	"archive/tar"
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/tliron/commonlog"

	"lsgateway/internal/gwerr"
	"lsgateway/internal/manifest"
)

var keepExtension = regexp.MustCompile(`(?:\.d)?\.(ts|tsx|js|jsx|json)$`)

const manifestFileName = "package.json"

// ProgressFunc receives a completion percentage (0-100) as the archive
// streams in; it is only called when the response carries a
// Content-Length header (spec §4.3).
type ProgressFunc func(percent int)

// Result is what materialization discovered: the recorded manifest
// entries, suitable for building a manifest.Registry.
type Result struct {
	Entries []manifest.Entry
}

// Fetcher retrieves the archive bytes as a stream. It is the resource
// retriever's HTTP capability, scoped down to exactly what
// materialization needs.
type Fetcher interface {
	// OpenArchive opens httpRoot's tarball for streaming and returns its
	// body, content type, and content length (-1 if unknown).
	OpenArchive(ctx context.Context, httpRoot string) (body io.ReadCloser, contentType string, contentLength int64, err error)
}

// Materializer streams a workspace archive onto local disk.
type Materializer struct {
	fetcher Fetcher
	log     commonlog.Logger
}

// New builds a Materializer using fetcher to retrieve archives.
func New(fetcher Fetcher, log commonlog.Logger) *Materializer {
	return &Materializer{fetcher: fetcher, log: log}
}

// Materialize streams httpRoot's tarball into fileRootDir (an existing
// directory on local disk, the "repo/" subdirectory of the session temp
// dir), filtering entries to the extensions spec §4.3 names, and
// recording package.json manifests (excluding node_modules/ descendants)
// as manifest.Entry values rooted at fileRootURI.
//
// Cancellation aborts the stream; the caller is responsible for cleaning
// up the partial extraction on disposal, per spec §5.
func (m *Materializer) Materialize(ctx context.Context, httpRoot, fileRootDir, fileRootURI string, progress ProgressFunc) (Result, error) {
	body, contentType, contentLength, err := m.fetcher.OpenArchive(ctx, httpRoot)
	if err != nil {
		return Result{}, errors.Wrap(err, "opening workspace archive")
	}
	defer body.Close()

	if !strings.HasPrefix(contentType, "application/") {
		return Result{}, gwerr.NewValidationError(fmt.Sprintf("archive content-type %q does not match application/*", contentType))
	}

	counting := &countingReader{r: body}
	reader, err := maybeDecompress(counting)
	if err != nil {
		return Result{}, errors.Wrap(err, "opening archive stream")
	}

	tr := tar.NewReader(reader)
	var entries []manifest.Entry

	lastPercent := -1
	for {
		if ctx.Err() != nil {
			return Result{}, gwerr.NewCancelled("workspace materialize")
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, errors.Wrap(err, "reading tar stream")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		relPath := cleanRelPath(hdr.Name)
		if relPath == "" {
			continue
		}

		base := filepath.Base(relPath)
		isManifest := base == manifestFileName && !strings.Contains(relPath, "node_modules/")
		if !keepExtension.MatchString(relPath) && !isManifest {
			continue
		}

		destPath := filepath.Join(fileRootDir, filepath.FromSlash(relPath))
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return Result{}, errors.Wrapf(err, "creating directory for %s", relPath)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return Result{}, errors.Wrapf(err, "reading entry %s", relPath)
		}
		if err := os.WriteFile(destPath, data, 0o644); err != nil {
			return Result{}, errors.Wrapf(err, "writing %s", relPath)
		}

		if isManifest {
			entry, err := buildManifestEntry(data, strings.TrimSuffix(fileRootURI, "/")+"/"+strings.TrimSuffix(relPath, manifestFileName))
			if err != nil {
				m.log.Warningf("skipping unparseable manifest %s: %v", relPath, err)
			} else {
				entries = append(entries, entry)
			}
		}

		if progress != nil && contentLength > 0 {
			percent := int(counting.n * 100 / contentLength)
			if percent != lastPercent {
				progress(percent)
				lastPercent = percent
			}
		}
	}

	return Result{Entries: entries}, nil
}

func buildManifestEntry(data []byte, dirURI string) (manifest.Entry, error) {
	var pm manifest.PackageManifest
	if err := json.Unmarshal(data, &pm); err != nil {
		return manifest.Entry{}, err
	}
	deps := make(map[string]string, len(pm.Dependencies)+len(pm.DevDependencies))
	for k, v := range pm.Dependencies {
		deps[k] = v
	}
	for k, v := range pm.DevDependencies {
		deps[k] = v
	}
	return manifest.Entry{
		Dir:          dirURI,
		Dependencies: deps,
		Repository:   pm.RepositoryString(),
		GitHead:      pm.GitHead,
		Name:         pm.Name,
	}, nil
}

// cleanRelPath normalizes a tar entry name to a clean, rooted-at-nothing
// relative path, discarding any entry that tries to escape via "..".
func cleanRelPath(name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "/")
	cleaned := filepath.ToSlash(filepath.Clean(name))
	if cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return ""
	}
	return cleaned
}

// maybeDecompress peeks the stream for the gzip magic number and wraps r
// in a gzip reader if present; otherwise it is assumed to be a plain tar
// stream.
func maybeDecompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		return gzip.NewReader(br)
	}
	return br, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
