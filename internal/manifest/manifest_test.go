package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBundleID_Deterministic(t *testing.T) {
	members := []BundleMember{
		{Hash: "aaa", Length: 10, BlockOffset: 0},
		{Hash: "bbb", Length: 20, BlockOffset: 10},
	}
	id1 := BundleID(members)
	id2 := BundleID(members)
	require.Equal(t, id1, id2, "packing the same ordered members twice must yield the same bundle id")
	require.Len(t, id1, 64)
}

func TestBundleID_OrderSensitive(t *testing.T) {
	a := []BundleMember{{Hash: "aaa", Length: 1, BlockOffset: 0}, {Hash: "bbb", Length: 1, BlockOffset: 1}}
	b := []BundleMember{{Hash: "bbb", Length: 1, BlockOffset: 0}, {Hash: "aaa", Length: 1, BlockOffset: 1}}
	require.NotEqual(t, BundleID(a), BundleID(b))
}

func TestBundle_JSONRoundtrip(t *testing.T) {
	b := Bundle{Members: []BundleMember{
		{Hash: "aaa", Length: 5, BlockOffset: 0},
		{Hash: "bbb", Length: 7, BlockOffset: 5},
	}}
	raw, err := b.MarshalJSON()
	require.NoError(t, err)

	var got Bundle
	require.NoError(t, got.UnmarshalJSON(raw))
	require.Equal(t, b.Members, got.Members)
}

func TestParse_ValidManifest(t *testing.T) {
	raw := []byte(`{
		"compression": {"enabled": false, "level": null},
		"files": {"foo.txt": {"hash": "abc", "blocks": ["h1", "h2"]}},
		"bundles": {"bundle1": {"0": {"hash": "h1", "length": 5, "blockOffset": 0}, "1": {"hash": "h2", "length": 6, "blockOffset": 5}}}
	}`)
	m, err := Parse(raw)
	require.NoError(t, err)
	require.False(t, m.Compression.Enabled)
	require.Equal(t, []string{"h1", "h2"}, m.Files["foo.txt"].Blocks)
	require.Len(t, m.Bundles["bundle1"].Members, 2)
}

func TestParse_RejectsInvalidSchema(t *testing.T) {
	raw := []byte(`{"compression": {"enabled": true}, "files": "not-an-object"}`)
	_, err := Parse(raw)
	require.Error(t, err)
}

func TestAllBlockHashes_UnionAcrossBundles(t *testing.T) {
	m := New()
	m.Bundles["b1"] = Bundle{Members: []BundleMember{{Hash: "h1"}, {Hash: "h2"}}}
	m.Bundles["b2"] = Bundle{Members: []BundleMember{{Hash: "h3"}}}

	got := m.AllBlockHashes()
	require.Len(t, got, 3)
	require.Contains(t, got, "h1")
	require.Contains(t, got, "h3")
}

func TestSave_VersionHashMatchesBytesWrittenToDisk(t *testing.T) {
	m := New()
	m.Files["foo.txt"] = FileRecord{Hash: "abc", Blocks: []string{"h1", "h2"}}
	m.Bundles["bundle1"] = Bundle{Members: []BundleMember{{Hash: "h1", Length: 5, BlockOffset: 0}}}

	path := filepath.Join(t.TempDir(), "patchData.json")
	version, err := Save(m, path)
	require.NoError(t, err)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(onDisk)
	require.Equal(t, hex.EncodeToString(sum[:]), version, "the returned version must be the SHA-256 of the exact bytes written, not a separate re-serialization")
}

func TestBundleContainingBlock(t *testing.T) {
	m := New()
	m.Bundles["b1"] = Bundle{Members: []BundleMember{{Hash: "h1"}, {Hash: "h2"}}}

	id, ok := m.BundleContainingBlock("h2")
	require.True(t, ok)
	require.Equal(t, "b1", id)

	_, ok = m.BundleContainingBlock("missing")
	require.False(t, ok)
}
