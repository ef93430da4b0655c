package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/patchkit/contentpatch/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeSourceTree(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hello world, this is the first version\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "data.bin"), make([]byte, 200_000), 0o644))
}

func TestCreateThenApply_FreshInstall(t *testing.T) {
	base := t.TempDir()
	sourceDir := filepath.Join(base, "source")
	distDir := filepath.Join(base, "dist")
	installRoot := filepath.Join(base, "install-root")
	require.NoError(t, os.MkdirAll(sourceDir, 0o755))
	writeSourceTree(t, sourceDir)

	cfg := testConfig()
	logger := zap.NewNop()

	require.NoError(t, create(sourceDir, distDir, "", cfg, logger))
	require.FileExists(t, filepath.Join(distDir, "patchData.json"))
	require.FileExists(t, filepath.Join(distDir, "version"))

	require.NoError(t, apply(installRoot, distDir, cfg, logger))

	installed, err := os.ReadFile(filepath.Join(installRoot, "install", "readme.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world, this is the first version\n", string(installed))

	require.True(t, validate(installRoot))
}

func TestCreateThenApply_SecondVersionUpdatesChangedFile(t *testing.T) {
	base := t.TempDir()
	sourceDir := filepath.Join(base, "source")
	distV1 := filepath.Join(base, "dist-v1")
	distV2 := filepath.Join(base, "dist-v2")
	installRoot := filepath.Join(base, "install-root")
	require.NoError(t, os.MkdirAll(sourceDir, 0o755))
	writeSourceTree(t, sourceDir)

	cfg := testConfig()
	logger := zap.NewNop()

	require.NoError(t, create(sourceDir, distV1, "", cfg, logger))
	require.NoError(t, apply(installRoot, distV1, cfg, logger))

	require.NoError(t, os.WriteFile(filepath.Join(sourceDir, "readme.txt"), []byte("hello world, this is the SECOND version\n"), 0o644))
	require.NoError(t, create(sourceDir, distV2, filepath.Join(distV1, "patchData.json"), cfg, logger))
	require.NoError(t, apply(installRoot, distV2, cfg, logger))

	installed, err := os.ReadFile(filepath.Join(installRoot, "install", "readme.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello world, this is the SECOND version\n", string(installed))

	require.True(t, validate(installRoot))
}

func TestValidate_FalseWhenInstallTampered(t *testing.T) {
	base := t.TempDir()
	sourceDir := filepath.Join(base, "source")
	distDir := filepath.Join(base, "dist")
	installRoot := filepath.Join(base, "install-root")
	require.NoError(t, os.MkdirAll(sourceDir, 0o755))
	writeSourceTree(t, sourceDir)

	cfg := testConfig()
	logger := zap.NewNop()
	require.NoError(t, create(sourceDir, distDir, "", cfg, logger))
	require.NoError(t, apply(installRoot, distDir, cfg, logger))

	require.NoError(t, os.WriteFile(filepath.Join(installRoot, "install", "readme.txt"), []byte("tampered"), 0o644))
	require.False(t, validate(installRoot))
}

func testConfig() *config.Config {
	cfg, _ := config.Load("")
	cfg.Chunker.AvgBlockSize = 4096
	cfg.Observability.MetricsPort = 0
	return cfg
}
