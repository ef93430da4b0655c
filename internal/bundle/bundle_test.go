package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/patchkit/contentpatch/internal/manifest"
	"github.com/stretchr/testify/require"
)

func payloadOf(hash string) ([]byte, error) {
	return []byte(fmt.Sprintf("payload-%s", hash)), nil
}

func TestPacker_PacksIntoGroupsOfCardinality(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, payloadOf)

	var hashes []string
	for i := 0; i < Cardinality+10; i++ {
		hashes = append(hashes, fmt.Sprintf("h%03d", i))
	}

	bundles, err := p.Pack(hashes, nil)
	require.NoError(t, err)
	require.Len(t, bundles, 2)

	total := 0
	for _, b := range bundles {
		total += len(b.Members)
	}
	require.Equal(t, len(hashes), total)
}

func TestPacker_NewWithCardinality_UsesConfiguredGroupSize(t *testing.T) {
	dir := t.TempDir()
	p := NewWithCardinality(dir, payloadOf, 4)

	var hashes []string
	for i := 0; i < 10; i++ {
		hashes = append(hashes, fmt.Sprintf("h%03d", i))
	}

	bundles, err := p.Pack(hashes, nil)
	require.NoError(t, err)
	require.Len(t, bundles, 3) // 4 + 4 + 2

	for _, b := range bundles {
		require.LessOrEqual(t, len(b.Members), 4)
	}
}

func TestPacker_NewWithCardinality_NonPositiveFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	p := NewWithCardinality(dir, payloadOf, 0)
	require.Equal(t, Cardinality, p.cardinality)
}

func TestPacker_ReusesSurvivingBundleAcrossVersions(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, payloadOf)

	v1Hashes := []string{"h1", "h2", "h3"}
	v1Bundles, err := p.Pack(v1Hashes, nil)
	require.NoError(t, err)
	require.Len(t, v1Bundles, 1)

	var v1ID string
	for id := range v1Bundles {
		v1ID = id
	}

	priorManifest := manifest.New()
	priorManifest.Bundles = v1Bundles

	v2Hashes := []string{"h1", "h2", "h3", "h4"}
	v2Bundles, err := p.Pack(v2Hashes, priorManifest)
	require.NoError(t, err)

	require.Contains(t, v2Bundles, v1ID, "surviving bundle must keep its id across versions")
	require.Equal(t, v1Bundles[v1ID].Members, v2Bundles[v1ID].Members)

	// A new bundle must exist for the new block.
	require.Len(t, v2Bundles, 2)
}

func TestPacker_DropsBundleWhenAMemberIsGone(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, payloadOf)

	v1Bundles, err := p.Pack([]string{"h1", "h2"}, nil)
	require.NoError(t, err)

	priorManifest := manifest.New()
	priorManifest.Bundles = v1Bundles

	// h2 no longer exists in v2's block set.
	v2Bundles, err := p.Pack([]string{"h1", "h3"}, priorManifest)
	require.NoError(t, err)

	for id, b := range v1Bundles {
		if _, ok := v2Bundles[id]; ok {
			for _, m := range b.Members {
				require.NotEqual(t, "h2", m.Hash, "a bundle referencing a dropped block must not be reused verbatim")
			}
		}
	}
}

func TestPacker_WritesBundleFilesAndGarbageCollects(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, payloadOf)

	stalePath := filepath.Join(dir, "stale-bundle-id")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(stalePath, []byte("old"), 0o644))

	bundles, err := p.Pack([]string{"h1", "h2"}, nil)
	require.NoError(t, err)

	for id := range bundles {
		_, err := os.Stat(filepath.Join(dir, id))
		require.NoError(t, err)
	}
	_, err = os.Stat(stalePath)
	require.True(t, os.IsNotExist(err), "gc must remove files not in the produced bundle set")
}

func TestSlice_ExtractsMemberRange(t *testing.T) {
	full := []byte("abcdefghij")
	got, err := Slice(full, manifest.BundleMember{BlockOffset: 2, Length: 3})
	require.NoError(t, err)
	require.Equal(t, []byte("cde"), got)
}

func TestSlice_RejectsOutOfBounds(t *testing.T) {
	full := []byte("abc")
	_, err := Slice(full, manifest.BundleMember{BlockOffset: 2, Length: 10})
	require.Error(t, err)
}
