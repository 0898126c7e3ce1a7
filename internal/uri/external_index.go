package uri

import "sync"

// ExternalRecord is the provenance of one minted external-repo URI: which
// node_modules package and source-relative path it was minted from, so a
// later request against that same URI can be resolved back to a package
// root without re-parsing a possibly ambiguous repository URL.
type ExternalRecord struct {
	PkgRootFileURI string
	PkgName        string
	RelPath        string
}

// ExternalIndex remembers every external-repo URI minted during a
// session. ResolveExternal is the forward direction of C1's bijection;
// ExternalIndex.Lookup is its inverse, since a GitHub-shaped repo slug
// cannot in general be parsed back into an npm package name.
type ExternalIndex struct {
	mu      sync.RWMutex
	records map[string]ExternalRecord
}

// NewExternalIndex builds an empty index.
func NewExternalIndex() *ExternalIndex {
	return &ExternalIndex{records: make(map[string]ExternalRecord)}
}

// Record remembers that externalURI was minted from rec.
func (idx *ExternalIndex) Record(externalURI string, rec ExternalRecord) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.records[externalURI] = rec
}

// Lookup returns the record externalURI was minted from, if any.
func (idx *ExternalIndex) Lookup(externalURI string) (ExternalRecord, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	rec, ok := idx.records[externalURI]
	return rec, ok
}
