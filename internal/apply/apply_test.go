package apply

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/patchkit/contentpatch/internal/blockpool"
	"github.com/patchkit/contentpatch/internal/manifest"
	"github.com/stretchr/testify/require"
)

func TestApplyFile_WritesBlocksInOrder(t *testing.T) {
	root := t.TempDir()
	pool := blockpool.New()
	pool.Put("h1", []byte("hello "))
	pool.Put("h2", []byte("world"))

	a := New(root, pool)
	rec := manifest.FileRecord{Hash: "fh", Blocks: []string{"h1", "h2"}}
	require.NoError(t, a.ApplyFile("nested/dir/foo.txt", rec))

	got, err := os.ReadFile(filepath.Join(root, "nested", "dir", "foo.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))
}

func TestApplyFile_OverwritesExistingAtomically(t *testing.T) {
	root := t.TempDir()
	pool := blockpool.New()
	pool.Put("h1", []byte("new content"))

	dest := filepath.Join(root, "foo.txt")
	require.NoError(t, os.WriteFile(dest, []byte("old content"), 0o644))

	a := New(root, pool)
	rec := manifest.FileRecord{Hash: "fh", Blocks: []string{"h1"}}
	require.NoError(t, a.ApplyFile("foo.txt", rec))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "new content", string(got))
}

func TestApplyFile_MissingBlockLeavesNoTempFile(t *testing.T) {
	root := t.TempDir()
	pool := blockpool.New()

	a := New(root, pool)
	rec := manifest.FileRecord{Hash: "fh", Blocks: []string{"missing"}}
	err := a.ApplyFile("foo.txt", rec)
	require.Error(t, err)

	var missingErr *MissingBlockError
	require.ErrorAs(t, err, &missingErr)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Empty(t, entries, "no temp file should remain after a failed apply")
}

func TestApplyAll_Idempotent(t *testing.T) {
	root := t.TempDir()
	pool := blockpool.New()
	pool.Put("h1", []byte("content"))

	m := manifest.New()
	m.Files["foo.txt"] = manifest.FileRecord{Hash: "fh", Blocks: []string{"h1"}}

	a := New(root, pool)
	require.NoError(t, a.ApplyAll(m, []string{"foo.txt"}))
	first, err := os.ReadFile(filepath.Join(root, "foo.txt"))
	require.NoError(t, err)

	require.NoError(t, a.ApplyAll(m, []string{"foo.txt"}))
	second, err := os.ReadFile(filepath.Join(root, "foo.txt"))
	require.NoError(t, err)

	require.Equal(t, first, second, "applying the same manifest twice must leave the install tree byte-identical")
}
