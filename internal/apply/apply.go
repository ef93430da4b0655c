// Package apply materializes target files atomically from a block
// pool: each file is assembled into a temp file in its destination
// directory, then renamed into place, so a crash between any two
// files never leaves a half-written file on disk.
package apply

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/patchkit/contentpatch/internal/blockpool"
	"github.com/patchkit/contentpatch/internal/manifest"
)

// Applier reconstructs files under root from a manifest and a block
// pool holding decompressed block bytes.
type Applier struct {
	root string
	pool *blockpool.Pool
}

// New returns an Applier that writes under root, pulling block bytes
// from pool.
func New(root string, pool *blockpool.Pool) *Applier {
	return &Applier{root: root, pool: pool}
}

// ApplyFile reconstructs one relative path's file from the manifest's
// recorded block order. It ensures the destination directory exists,
// writes into a temp file beside the destination, then atomically
// renames over any existing file.
func (a *Applier) ApplyFile(relPath string, rec manifest.FileRecord) (err error) {
	dest := filepath.Join(a.root, filepath.FromSlash(relPath))
	destDir := filepath.Dir(dest)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("apply: mkdir %s: %w", destDir, err)
	}

	tmp, err := os.CreateTemp(destDir, ".patch-tmp-*")
	if err != nil {
		return fmt.Errorf("apply: create temp file in %s: %w", destDir, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	for _, hash := range rec.Blocks {
		data, ok := a.pool.Get(hash)
		if !ok {
			return fmt.Errorf("apply: %s: %w", relPath, &MissingBlockError{Hash: hash})
		}
		if _, werr := tmp.Write(data); werr != nil {
			return fmt.Errorf("apply: write block %s into %s: %w", hash, tmpPath, werr)
		}
	}

	if cerr := tmp.Close(); cerr != nil {
		return fmt.Errorf("apply: close temp file %s: %w", tmpPath, cerr)
	}

	if _, statErr := os.Stat(dest); statErr == nil {
		if rerr := os.Remove(dest); rerr != nil {
			return fmt.Errorf("apply: remove existing %s: %w", dest, rerr)
		}
	}
	if rerr := os.Rename(tmpPath, dest); rerr != nil {
		return fmt.Errorf("apply: rename %s to %s: %w", tmpPath, dest, rerr)
	}
	return nil
}

// ApplyAll reconstructs every file in filesToPatch, in the order
// given. Files are independent: an error on one aborts the remaining
// work but already-renamed files are kept in place.
func (a *Applier) ApplyAll(m *manifest.Manifest, filesToPatch []string) error {
	for _, path := range filesToPatch {
		rec, ok := m.Files[path]
		if !ok {
			return fmt.Errorf("apply: %s: %w", path, &manifestMissingPathError{Path: path})
		}
		if err := a.ApplyFile(path, rec); err != nil {
			return err
		}
	}
	return nil
}

// MissingBlockError marks an integrity failure: the manifest
// references a block hash the pool never received.
type MissingBlockError struct {
	Hash string
}

func (e *MissingBlockError) Error() string {
	return fmt.Sprintf("block %s not found in pool", e.Hash)
}

type manifestMissingPathError struct {
	Path string
}

func (e *manifestMissingPathError) Error() string {
	return fmt.Sprintf("path %s not present in manifest", e.Path)
}
