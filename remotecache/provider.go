// Package remotecache defines the pluggable remote cache provider
// abstraction: a shared, network-backed L2 sitting behind the local cache.
package remotecache

import (
	"context"

	"github.com/buildcache-go/buildcache/entry"
	"github.com/buildcache-go/buildcache/hash"
)

// Provider is a key/value backend storing opaque cache blobs, keyed by
// fingerprint and file id. Implementations must be safe for concurrent use.
//
// Every method is expected to carry its own timeout internally; callers do
// not pass a deadline-bearing context expecting the provider to honor it
// beyond that. A Provider that cannot reach its backend returns an error
// rather than blocking indefinitely: cachefacade.Facade treats an error
// from a lookup or download as a miss and logs a failed push, never
// failing the overall run. A failed call does not stop the facade from
// making later remote calls in the same invocation.
type Provider interface {
	// Connect establishes (or verifies) connectivity to the backend. It is
	// called once before the first Lookup/Add of a process's lifetime.
	Connect(ctx context.Context) error

	// Lookup fetches and decodes the entry descriptor for h. It returns
	// (nil, false, nil) on a clean miss.
	Lookup(ctx context.Context, h hash.Hash) (*entry.Entry, bool, error)

	// Add uploads the entry descriptor for h and every file named in
	// localPaths (file id -> local path to read from).
	Add(ctx context.Context, h hash.Hash, e entry.Entry, localPaths map[string]string) error

	// GetFile downloads the stored file fileID for h into targetPath.
	// compressed indicates whether the stored blob is zstd-compressed and
	// should be decompressed during download.
	GetFile(ctx context.Context, h hash.Hash, fileID, targetPath string, compressed bool) error

	// Close releases any held connections. It is safe to call more than
	// once.
	Close() error
}

// Namespace builds the key prefix shared by every key belonging to one
// logical cache, letting multiple unrelated tools or cache generations
// share a single backend without colliding.
type Namespace string

// EntryKey returns the key under which h's entry descriptor is stored.
func (ns Namespace) EntryKey(h hash.Hash) string {
	return string(ns) + ":" + h.String() + ":.entry"
}

// FileKey returns the key under which one of h's captured files is stored.
func (ns Namespace) FileKey(h hash.Hash, fileID string) string {
	return string(ns) + ":" + h.String() + ":" + fileID
}
