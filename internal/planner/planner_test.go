package planner

import (
	"testing"

	"github.com/patchkit/contentpatch/internal/manifest"
	"github.com/stretchr/testify/require"
)

type noTamper struct{}

func (noTamper) IsTampered(string) bool { return false }

func TestCompute_FileMissingLocallyNeedsPatch(t *testing.T) {
	m := manifest.New()
	m.Files["a.txt"] = manifest.FileRecord{Hash: "fh1", Blocks: []string{"b1", "b2"}}
	m.Bundles["bundle1"] = manifest.Bundle{Members: []manifest.BundleMember{{Hash: "b1"}, {Hash: "b2"}}}

	local := LocalState{FileHashes: map[string]string{}, HasBlock: func(string) bool { return false }}
	plan := Compute(m, local, noTamper{})

	require.Equal(t, []string{"a.txt"}, plan.FilesToPatch)
}

func TestCompute_MatchingHashNeedsNoPatch(t *testing.T) {
	m := manifest.New()
	m.Files["a.txt"] = manifest.FileRecord{Hash: "fh1", Blocks: []string{"b1"}}

	local := LocalState{FileHashes: map[string]string{"a.txt": "fh1"}, HasBlock: func(string) bool { return true }}
	plan := Compute(m, local, noTamper{})

	require.Empty(t, plan.FilesToPatch)
	require.Empty(t, plan.BundleFetches)
	require.Empty(t, plan.BlockFetches)
}

type tamperedPath struct{ path string }

func (t tamperedPath) IsTampered(p string) bool { return p == t.path }

func TestCompute_ChangelogTamperForcesPatch(t *testing.T) {
	m := manifest.New()
	m.Files["a.txt"] = manifest.FileRecord{Hash: "fh1", Blocks: []string{"b1"}}

	local := LocalState{FileHashes: map[string]string{"a.txt": "fh1"}, HasBlock: func(string) bool { return true }}
	plan := Compute(m, local, tamperedPath{path: "a.txt"})

	require.Equal(t, []string{"a.txt"}, plan.FilesToPatch)
}

func TestCompute_ThresholdBoundaryIncludesBundle(t *testing.T) {
	// 2 members, 1 missing: percent_needed == 0.5, meets the >= threshold.
	m := manifest.New()
	m.Files["a.txt"] = manifest.FileRecord{Hash: "fh1", Blocks: []string{"b1", "b2"}}
	m.Bundles["bundle1"] = manifest.Bundle{Members: []manifest.BundleMember{{Hash: "b1"}, {Hash: "b2"}}}

	local := LocalState{
		FileHashes: map[string]string{},
		HasBlock:   func(h string) bool { return h == "b1" }, // b2 missing
	}
	plan := Compute(m, local, noTamper{})

	require.Len(t, plan.BundleFetches, 1)
	require.Equal(t, "bundle1", plan.BundleFetches[0].BundleID)
	require.Equal(t, []string{"b2"}, plan.BundleFetches[0].Needed)
	require.Empty(t, plan.BlockFetches, "members resolved via a scheduled bundle fetch must not also appear as residual block fetches")
}

func TestCompute_BelowThresholdUsesIndividualBlocks(t *testing.T) {
	// 3 members, 1 missing: ratio = 1/3 < 0.5.
	m := manifest.New()
	m.Files["a.txt"] = manifest.FileRecord{Hash: "fh1", Blocks: []string{"b1", "b2", "b3"}}
	m.Bundles["bundle1"] = manifest.Bundle{Members: []manifest.BundleMember{{Hash: "b1"}, {Hash: "b2"}, {Hash: "b3"}}}

	local := LocalState{
		FileHashes: map[string]string{},
		HasBlock:   func(h string) bool { return h == "b1" || h == "b2" },
	}
	plan := Compute(m, local, noTamper{})

	require.Empty(t, plan.BundleFetches)
	require.Equal(t, []string{"b3"}, plan.BlockFetches)
}
