package fetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/patchkit/contentpatch/internal/manifest"
	"github.com/stretchr/testify/require"
)

func TestLocalSource_FetchBundleSlicesMembers(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bundles"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bundles", "b1"), []byte("abcdefghij"), 0o644))

	src := NewLocalSource(root)
	members := []manifest.BundleMember{
		{Hash: "h1", BlockOffset: 0, Length: 3},
		{Hash: "h2", BlockOffset: 3, Length: 7},
	}
	got, err := src.FetchBundle(context.Background(), "b1", members)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got["h1"])
	require.Equal(t, []byte("defghij"), got["h2"])
}

func TestLocalSource_FetchBlock(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "blocks"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "blocks", "h1"), []byte("payload"), 0o644))

	src := NewLocalSource(root)
	got, err := src.FetchBlock(context.Background(), "h1")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)
}
