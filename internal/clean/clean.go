// Package clean walks an installation tree bottom-up, removing files
// no longer present in the manifest and any directory left empty by
// that removal (spec.md §4.7).
package clean

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/patchkit/contentpatch/internal/changelog"
	"github.com/patchkit/contentpatch/internal/manifest"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// MaxWorkers bounds concurrent per-file cleanup work (spec.md §5:
// cleaning uses up to 20 workers).
const MaxWorkers = 20

// DefaultIgnorePatterns are doublestar globs always skipped by the
// cleaner, generalizing the spec's hardcoded ".DS_Store" exclusion
// (spec.md §4.7) into a configurable ignore list.
var DefaultIgnorePatterns = []string{"**/.DS_Store"}

// Cleaner removes files not present in a manifest and prunes empty
// directories left behind.
type Cleaner struct {
	root     string
	ignore   []string
	log      *zap.Logger
	changelog *changelog.Changelog
}

// New returns a Cleaner rooted at root. ignore is appended to
// DefaultIgnorePatterns. log may be nil.
func New(root string, ignore []string, cl *changelog.Changelog, log *zap.Logger) *Cleaner {
	if log == nil {
		log = zap.NewNop()
	}
	patterns := append(append([]string{}, DefaultIgnorePatterns...), ignore...)
	return &Cleaner{root: root, ignore: patterns, changelog: cl, log: log}
}

func (c *Cleaner) isIgnored(relPath string) bool {
	for _, pat := range c.ignore {
		if ok, _ := doublestar.Match(pat, relPath); ok {
			return true
		}
		if strings.Contains(filepath.Base(relPath), ".DS_Store") {
			return true
		}
	}
	return false
}

// Clean walks the install tree, removing any regular file whose
// relative path is not a key of m.Files (updating the changelog
// accordingly), then removes directories left empty by that pass.
func (c *Cleaner) Clean(m *manifest.Manifest) error {
	var paths []string
	err := filepath.WalkDir(c.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			c.log.Warn("walk error", zap.String("path", path), zap.Error(err))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(c.root, path)
		if rerr != nil {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return fmt.Errorf("clean: walk %s: %w", c.root, err)
	}

	sem := semaphore.NewWeighted(MaxWorkers)
	g, gctx := errgroup.WithContext(context.Background())
	for _, rel := range paths {
		rel := rel
		if c.isIgnored(rel) {
			continue
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			return c.processFile(rel, m)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return c.removeEmptyDirs()
}

func (c *Cleaner) processFile(rel string, m *manifest.Manifest) error {
	full := filepath.Join(c.root, filepath.FromSlash(rel))
	if _, ok := m.Files[rel]; !ok {
		if err := os.Remove(full); err != nil {
			c.log.Warn("remove stale file failed", zap.String("path", full), zap.Error(err))
			return nil
		}
		if c.changelog != nil {
			c.changelog.Remove(rel)
		}
		return nil
	}

	if c.changelog != nil {
		info, err := os.Stat(full)
		if err != nil {
			c.log.Warn("stat for changelog update failed", zap.String("path", full), zap.Error(err))
			return nil
		}
		c.changelog.Update(rel,
			changelog.FormatSize(info.Size()),
			changelog.FormatModTime(float64(info.ModTime().UnixNano())/1e9))
	}
	return nil
}

// removeEmptyDirs walks the tree bottom-up (deepest first) and
// removes any directory left with no entries.
func (c *Cleaner) removeEmptyDirs() error {
	var dirs []string
	err := filepath.WalkDir(c.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clean: walk for empty dirs %s: %w", c.root, err)
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		dir := dirs[i]
		if dir == c.root {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		if len(entries) == 0 {
			if err := os.Remove(dir); err != nil {
				c.log.Warn("remove empty dir failed", zap.String("path", dir), zap.Error(err))
			}
		}
	}
	return nil
}
