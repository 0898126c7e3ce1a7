package resource

import (
	"context"
	"io"
	"net/http"

	"lsgateway/internal/gwerr"
)

// HTTPRetriever implements Retriever for http/https URIs by issuing GET
// requests against client. Glob is unsupported for this scheme: nothing
// in spec §4 globs a remote HTTP namespace, only the extracted local
// workspace.
type HTTPRetriever struct {
	Client *http.Client
}

// NewHTTPRetriever builds an HTTPRetriever using client, or
// http.DefaultClient if client is nil.
func NewHTTPRetriever(client *http.Client) *HTTPRetriever {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRetriever{Client: client}
}

// Fetch issues a GET request for uri and returns its body.
func (h *HTTPRetriever) Fetch(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, gwerr.NewResourceNotFound(uri)
	}
	if resp.StatusCode >= 400 {
		return nil, &httpStatusError{uri: uri, status: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// Exists issues a HEAD request for uri.
func (h *HTTPRetriever) Exists(ctx context.Context, uri string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, uri, nil)
	if err != nil {
		return false, err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400, nil
}

// Glob always returns an error: HTTP resources are never enumerated by
// pattern in this system.
func (h *HTTPRetriever) Glob(ctx context.Context, root, pattern string, opts GlobOptions) (<-chan string, error) {
	return nil, errGlobUnsupported
}

var errGlobUnsupported = &globUnsupportedError{}

type globUnsupportedError struct{}

func (*globUnsupportedError) Error() string { return "glob is not supported over http(s) resources" }

type httpStatusError struct {
	uri    string
	status int
}

func (e *httpStatusError) Error() string {
	return "fetch " + e.uri + " failed: unexpected status code"
}
