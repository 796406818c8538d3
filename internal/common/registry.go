package common

import (
	"sync"

	"github.com/aptly-dev/aptly/utils"
)

// Registry is the indexed-file registry of spec.md §2 item 4: the set of
// every file a mirror run has decided belongs in the tree, each entry
// carrying the size and digests it must have on disk. mirror, prune and
// verify all build one from scratch at the start of a run — it is never
// persisted between runs, so a stale entry can never survive past the
// process that produced it.
type Registry struct {
	mu      sync.Mutex
	entries map[string]utils.ChecksumInfo // path relative to the mirror root -> expected checksum
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]utils.ChecksumInfo)}
}

// Add records that path is expected to exist with the given checksum.
// Adding the same path twice with differing checksums is a conflict
// between two index entries describing the same file and is reported to
// the caller rather than silently overwritten.
func (r *Registry) Add(path string, expected utils.ChecksumInfo) (conflict bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.entries[path]
	if !ok {
		r.entries[path] = expected
		return false
	}
	_, existingDigest, _ := StrongestAvailable(existing)
	_, newDigest, _ := StrongestAvailable(expected)
	if existingDigest != "" && newDigest != "" && !EqualFold(existingDigest, newDigest) {
		return true
	}
	return false
}

// Paths returns every path currently registered, in no particular order.
func (r *Registry) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	paths := make([]string, 0, len(r.entries))
	for p := range r.entries {
		paths = append(paths, p)
	}
	return paths
}

// Lookup returns the expected checksum for path and whether it is
// registered.
func (r *Registry) Lookup(path string) (utils.ChecksumInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.entries[path]
	return c, ok
}

// Len returns the number of registered files.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Contains reports whether path is registered.
func (r *Registry) Contains(path string) bool {
	_, ok := r.Lookup(path)
	return ok
}
