package install

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// NpmRegistryMetadata is the default RegistryMetadata: a thin client over
// the npm registry's package metadata endpoint. None of the retrieved
// example repositories carry a dedicated REST client library, so this
// narrow single-endpoint lookup is written directly against net/http
// (see DESIGN.md).
type NpmRegistryMetadata struct {
	BaseURL string // default https://registry.npmjs.org
	Client  *http.Client
}

// NewNpmRegistryMetadata builds a NpmRegistryMetadata against the public
// npm registry, or client if non-nil.
func NewNpmRegistryMetadata(client *http.Client) *NpmRegistryMetadata {
	if client == nil {
		client = http.DefaultClient
	}
	return &NpmRegistryMetadata{BaseURL: "https://registry.npmjs.org", Client: client}
}

type npmVersionMetadata struct {
	Types   string `json:"types"`
	Typings string `json:"typings"`
}

type npmPackageMetadata struct {
	DistTags struct {
		Latest string `json:"latest"`
	} `json:"dist-tags"`
	Versions map[string]npmVersionMetadata `json:"versions"`
}

// TypesField fetches the registry metadata for packageName and returns
// the types/typings field declared by its latest published version. A
// version-range-aware lookup would resolve versionRange against the
// registry's available versions; this queries latest, which is
// sufficient for the types/no-types classification EnsureInstalled needs.
func (n *NpmRegistryMetadata) TypesField(ctx context.Context, packageName, versionRange string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.BaseURL+"/"+url.PathEscape(packageName), nil)
	if err != nil {
		return "", err
	}
	resp, err := n.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil
	}

	var meta npmPackageMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", err
	}
	v, ok := meta.Versions[meta.DistTags.Latest]
	if !ok {
		return "", nil
	}
	if v.Types != "" {
		return v.Types, nil
	}
	return v.Typings, nil
}
