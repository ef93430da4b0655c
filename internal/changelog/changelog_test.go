package changelog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTrackedFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func recordCurrentState(t *testing.T, c *Changelog, root, relPath string) {
	t.Helper()
	info, err := os.Stat(filepath.Join(root, relPath))
	require.NoError(t, err)
	c.Update(relPath, FormatSize(info.Size()), FormatModTime(float64(info.ModTime().UnixNano())/1e9))
}

func TestValidateCurrentInstallation_PassesWhenUntouched(t *testing.T) {
	root := t.TempDir()
	writeTrackedFile(t, root, "foo.txt", "hello")

	c := New(filepath.Join(root, "changelog.json"), root)
	recordCurrentState(t, c, root, "foo.txt")

	require.True(t, c.ValidateCurrentInstallation())
}

func TestValidateCurrentInstallation_FailsWhenSizeChanges(t *testing.T) {
	root := t.TempDir()
	writeTrackedFile(t, root, "foo.txt", "hello")

	c := New(filepath.Join(root, "changelog.json"), root)
	recordCurrentState(t, c, root, "foo.txt")

	writeTrackedFile(t, root, "foo.txt", "hello world, much longer now")
	require.False(t, c.ValidateCurrentInstallation())
}

func TestValidateCurrentInstallation_FailsWhenFileMissing(t *testing.T) {
	root := t.TempDir()
	writeTrackedFile(t, root, "foo.txt", "hello")

	c := New(filepath.Join(root, "changelog.json"), root)
	recordCurrentState(t, c, root, "foo.txt")

	require.NoError(t, os.Remove(filepath.Join(root, "foo.txt")))
	require.False(t, c.ValidateCurrentInstallation())
}

func TestValidateCurrentInstallation_SkipsDSStore(t *testing.T) {
	root := t.TempDir()
	c := New(filepath.Join(root, "changelog.json"), root)
	c.Update(".DS_Store", "999", "999.0")

	require.True(t, c.ValidateCurrentInstallation(), "a nonexistent .DS_Store entry must never fail validation")
}

func TestSaveAndLoad_Roundtrip(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "changelog.json")

	c := New(path, root)
	c.Update("foo.txt", "5", "123.456")
	require.NoError(t, c.Save())

	loaded, err := Load(path, root)
	require.NoError(t, err)
	require.Equal(t, c.entries, loaded.entries)
}

func TestLoad_MissingFileReturnsEmptyChangelog(t *testing.T) {
	root := t.TempDir()
	c, err := Load(filepath.Join(root, "nonexistent.json"), root)
	require.NoError(t, err)
	require.Empty(t, c.entries)
}

func TestIsTampered_DetectsMismatch(t *testing.T) {
	root := t.TempDir()
	writeTrackedFile(t, root, "foo.txt", "hello")

	c := New(filepath.Join(root, "changelog.json"), root)
	recordCurrentState(t, c, root, "foo.txt")
	require.False(t, c.IsTampered("foo.txt"))

	writeTrackedFile(t, root, "foo.txt", "a different length entirely")
	require.True(t, c.IsTampered("foo.txt"))
}

func TestRemove_DropsEntry(t *testing.T) {
	root := t.TempDir()
	c := New(filepath.Join(root, "changelog.json"), root)
	c.Update("foo.txt", "1", "2")
	c.Remove("foo.txt")
	require.NotContains(t, c.entries, "foo.txt")
}
