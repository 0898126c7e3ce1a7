package workspace

import (
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"lsgateway/internal/gwerr"
)

// HTTPFetcher implements Fetcher by streaming a GET request's body
// directly, without buffering it the way resource.HTTPRetriever.Fetch
// does — materialization needs to stream potentially large tarballs.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher builds an HTTPFetcher using client, or
// http.DefaultClient if client is nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{Client: client}
}

// OpenArchive issues a GET against httpRoot and returns its streaming body.
func (f *HTTPFetcher) OpenArchive(ctx context.Context, httpRoot string) (io.ReadCloser, string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpRoot, nil)
	if err != nil {
		return nil, "", 0, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, "", 0, err
	}

	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, "", 0, gwerr.NewResourceNotFound(httpRoot)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, "", 0, errors.Errorf("fetching workspace archive: unexpected status %d", resp.StatusCode)
	}

	return resp.Body, resp.Header.Get("Content-Type"), resp.ContentLength, nil
}
