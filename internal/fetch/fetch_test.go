package fetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/patchkit/contentpatch/internal/blockpool"
	"github.com/patchkit/contentpatch/internal/manifest"
	"github.com/patchkit/contentpatch/internal/planner"
	"github.com/stretchr/testify/require"
)

func TestRunner_Run_PopulatesPoolFromBundleAndBlockFetches(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bundles"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "blocks"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bundles", "b1"), []byte("abcdefghij"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "blocks", "h3"), []byte("standalone"), 0o644))

	m := manifest.New()
	m.Bundles["b1"] = manifest.Bundle{Members: []manifest.BundleMember{
		{Hash: "h1", BlockOffset: 0, Length: 3},
		{Hash: "h2", BlockOffset: 3, Length: 7},
	}}

	plan := planner.Plan{
		BundleFetches: []planner.BundleFetch{{BundleID: "b1", Needed: []string{"h1", "h2"}}},
		BlockFetches:  []string{"h3"},
	}

	pool := blockpool.New()
	runner := NewRunner(NewLocalSource(root), nil, pool, nil)

	var lastProgress Progress
	err := runner.Run(context.Background(), m, plan, func(p Progress) { lastProgress = p })
	require.NoError(t, err)

	got1, ok := pool.Get("h1")
	require.True(t, ok)
	require.Equal(t, []byte("abc"), got1)

	got3, ok := pool.Get("h3")
	require.True(t, ok)
	require.Equal(t, []byte("standalone"), got3)

	require.Equal(t, 1.0, lastProgress.Fraction())
}

func TestRunner_Run_UnknownBundleIsIntegrityError(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bundles"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "bundles", "b1"), []byte("abc"), 0o644))

	m := manifest.New()
	m.Bundles["b1"] = manifest.Bundle{Members: []manifest.BundleMember{{Hash: "h1", BlockOffset: 0, Length: 3}}}

	plan := planner.Plan{BundleFetches: []planner.BundleFetch{{BundleID: "nonexistent", Needed: []string{"h1"}}}}

	pool := blockpool.New()
	runner := NewRunner(NewLocalSource(root), nil, pool, nil)
	err := runner.Run(context.Background(), m, plan, nil)
	require.Error(t, err)

	var integrityErr *IntegrityError
	require.ErrorAs(t, err, &integrityErr)
}
