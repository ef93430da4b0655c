// Package changelog tracks the (size, mtime) of every successfully
// installed file, solely to detect local tampering between apply
// operations (spec.md §3, §4.7).
package changelog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Entry is one tracked file's recorded size and modification time,
// both stored as decimal strings to match the textual comparison the
// upstream engine performs.
type Entry struct {
	Size    string `json:"size"`
	LastMod string `json:"lastMod"`
}

// Changelog is the in-memory form of changelog.json. installRoot is
// the directory relative paths are resolved against when checking
// current on-disk state; it is not itself persisted.
type Changelog struct {
	path        string
	installRoot string
	entries     map[string]Entry
}

// New returns an empty changelog bound to path, resolving tracked
// relative paths against installRoot.
func New(path, installRoot string) *Changelog {
	return &Changelog{path: path, installRoot: installRoot, entries: make(map[string]Entry)}
}

// Load reads changelog.json from path, or returns an empty changelog
// if the file does not exist yet.
func Load(path, installRoot string) (*Changelog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(path, installRoot), nil
		}
		return nil, fmt.Errorf("changelog: read %s: %w", path, err)
	}
	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("changelog: decode %s: %w", path, err)
	}
	return &Changelog{path: path, installRoot: installRoot, entries: entries}, nil
}

// Save writes the changelog to its bound path as indented JSON.
func (c *Changelog) Save() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("changelog: serialize: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("changelog: mkdir for %s: %w", c.path, err)
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("changelog: write %s: %w", c.path, err)
	}
	return nil
}

// isDSStore skips entries whose basename contains .DS_Store, matching
// the producer/consumer's shared exclusion rule.
func isDSStore(path string) bool {
	return strings.Contains(filepath.Base(path), ".DS_Store")
}

// FormatSize renders a file size the way the changelog stores it.
func FormatSize(size int64) string {
	return strconv.FormatInt(size, 10)
}

// FormatModTime renders a Unix-seconds float modification time the
// way the changelog stores it: a decimal string with no fixed
// precision, matching the upstream engine's textual rendering of
// os.path.getmtime closely enough for same-OS upgrades (spec.md §9
// flags this as a known cross-platform caveat).
func FormatModTime(unixSeconds float64) string {
	return strconv.FormatFloat(unixSeconds, 'f', -1, 64)
}

// Update records a file's current on-disk (size, mtime) as its
// expected state after a successful apply.
func (c *Changelog) Update(relPath string, size string, lastMod string) {
	if isDSStore(relPath) {
		return
	}
	c.entries[relPath] = Entry{Size: size, LastMod: lastMod}
}

// Remove drops a path's entry, used when the cleaner deletes a file
// no longer present in the manifest.
func (c *Changelog) Remove(relPath string) {
	delete(c.entries, relPath)
}

// IsTampered reports whether relPath's current on-disk state no
// longer matches its recorded entry (used by the planner to force a
// re-patch of a locally-modified file). A path with no recorded entry
// is not considered tampered here — that case is handled by
// "file missing locally" in the planner.
func (c *Changelog) IsTampered(relPath string) bool {
	if isDSStore(relPath) {
		return false
	}
	entry, ok := c.entries[relPath]
	if !ok {
		return false
	}
	size, lastMod, err := statStrings(filepath.Join(c.installRoot, filepath.FromSlash(relPath)))
	if err != nil {
		return true
	}
	return size != entry.Size || lastMod != entry.LastMod
}

// ValidateCurrentInstallation returns true iff every recorded path
// exists and its current (size, mtime) string-matches the stored
// values. Entries with .DS_Store in the path are skipped.
func (c *Changelog) ValidateCurrentInstallation() bool {
	for relPath, entry := range c.entries {
		if isDSStore(relPath) {
			continue
		}
		size, lastMod, err := statStrings(filepath.Join(c.installRoot, filepath.FromSlash(relPath)))
		if err != nil {
			return false
		}
		if size != entry.Size || lastMod != entry.LastMod {
			return false
		}
	}
	return true
}

// statFunc is overridable in tests to avoid depending on real
// filesystem timestamps.
var statFunc = os.Stat

func statStrings(path string) (size string, lastMod string, err error) {
	info, err := statFunc(path)
	if err != nil {
		return "", "", err
	}
	return FormatSize(info.Size()), FormatModTime(float64(info.ModTime().UnixNano()) / 1e9), nil
}
