package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/patchkit/contentpatch/internal/bundle"
	"github.com/patchkit/contentpatch/internal/manifest"
)

// LocalSource reads bundles and blocks from a local manifest root
// (spec.md §4.5 "Local mode").
type LocalSource struct {
	Root string
}

// NewLocalSource returns a Source backed by the directory tree at
// root (containing bundles/ and blocks/).
func NewLocalSource(root string) *LocalSource {
	return &LocalSource{Root: root}
}

func (s *LocalSource) FetchBundle(_ context.Context, bundleID string, members []manifest.BundleMember) (map[string][]byte, error) {
	path := filepath.Join(s.Root, "bundles", bundleID)
	full, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fetch: read bundle %s: %w", path, err)
	}

	out := make(map[string][]byte, len(members))
	for _, m := range members {
		slice, err := bundle.Slice(full, m)
		if err != nil {
			return nil, fmt.Errorf("fetch: slice member %s of bundle %s: %w", m.Hash, bundleID, err)
		}
		out[m.Hash] = slice
	}
	return out, nil
}

func (s *LocalSource) FetchBlock(_ context.Context, hash string) ([]byte, error) {
	path := filepath.Join(s.Root, "blocks", hash)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fetch: read block %s: %w", path, err)
	}
	return data, nil
}
