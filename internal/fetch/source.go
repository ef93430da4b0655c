// Package fetch executes a planner.Plan against a source that is
// either a local directory, an HTTP(S) URL, or an S3 bucket/prefix,
// bounded by a fixed connection-pool cap (spec.md §4.5, §5).
package fetch

import (
	"context"

	"github.com/patchkit/contentpatch/internal/manifest"
)

// MaxConnections bounds concurrent remote fetch operations.
const MaxConnections = 15

// Source resolves bundle members and individual blocks to their raw
// (possibly still-compressed) payload bytes.
type Source interface {
	// FetchBundle returns payload bytes for the requested members of
	// a bundle, keyed by member hash.
	FetchBundle(ctx context.Context, bundleID string, members []manifest.BundleMember) (map[string][]byte, error)
	// FetchBlock returns the payload bytes of one standalone block.
	FetchBlock(ctx context.Context, hash string) ([]byte, error)
}
