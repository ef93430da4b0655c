// Package planner computes the minimal fetch plan needed to bring a
// local installation up to date with a new manifest: a mix of
// whole-bundle fetches and individual-block fetches, chosen by a
// coverage-ratio policy (spec.md §4.4).
package planner

import (
	"sort"

	"github.com/patchkit/contentpatch/internal/manifest"
)

// BundleThreshold is the fraction of a bundle's members that must be
// needed before the whole bundle is scheduled for fetch instead of
// its members individually.
const BundleThreshold = 0.5

// Changelog reports whether a path is known to be tampered with
// relative to the last successful apply.
type Changelog interface {
	IsTampered(path string) bool
}

// LocalState is what the planner needs to know about the current
// installation: which files exist with which file-record hash, and
// which block hashes are already available locally.
type LocalState struct {
	// FileHashes maps relative path to the locally-derived file-record
	// hash, for files that exist locally.
	FileHashes map[string]string
	// HasBlock reports whether a block hash is present in the local
	// block pool (derived by chunking installed files).
	HasBlock func(hash string) bool
}

// BundleFetch schedules a whole-bundle fetch for the given subset of
// needed member hashes within that bundle.
type BundleFetch struct {
	BundleID string
	Needed   []string // member hashes to actually slice out of the bundle
}

// Plan is the computed fetch plan.
type Plan struct {
	FilesToPatch   []string
	BundleFetches  []BundleFetch
	BlockFetches   []string // individual block hashes fetched standalone
}

// Compute builds the fetch plan for bringing local up to date with m.
func Compute(m *manifest.Manifest, local LocalState, cl Changelog) Plan {
	filesToPatch := filesToPatch(m, local, cl)
	needed := missingBlocks(m, filesToPatch, local)

	var bundleFetches []BundleFetch
	for id, b := range m.Bundles {
		var neededInBundle []string
		for _, mem := range b.Members {
			if _, ok := needed[mem.Hash]; ok {
				neededInBundle = append(neededInBundle, mem.Hash)
			}
		}
		if len(b.Members) == 0 {
			continue
		}
		ratio := float64(len(neededInBundle)) / float64(len(b.Members))
		if ratio >= BundleThreshold {
			sort.Strings(neededInBundle)
			bundleFetches = append(bundleFetches, BundleFetch{BundleID: id, Needed: neededInBundle})
			for _, h := range neededInBundle {
				delete(needed, h)
			}
		}
	}

	residual := make([]string, 0, len(needed))
	for h := range needed {
		residual = append(residual, h)
	}
	sort.Strings(residual)

	sort.Slice(bundleFetches, func(i, j int) bool { return bundleFetches[i].BundleID < bundleFetches[j].BundleID })
	sort.Strings(filesToPatch)

	return Plan{
		FilesToPatch:  filesToPatch,
		BundleFetches: bundleFetches,
		BlockFetches:  residual,
	}
}

// filesToPatch implements spec.md §4.4 step 1: a file needs patching
// when it is missing locally, its file-record hash differs, or the
// changelog marks it tampered.
func filesToPatch(m *manifest.Manifest, local LocalState, cl Changelog) []string {
	var out []string
	for path, rec := range m.Files {
		localHash, exists := local.FileHashes[path]
		switch {
		case !exists:
			out = append(out, path)
		case localHash != rec.Hash:
			out = append(out, path)
		case cl != nil && cl.IsTampered(path):
			out = append(out, path)
		}
	}
	return out
}

// missingBlocks is the union of block hashes needed by files-to-patch
// that are not already present in the local block pool.
func missingBlocks(m *manifest.Manifest, filesToPatch []string, local LocalState) map[string]struct{} {
	needed := make(map[string]struct{})
	for _, path := range filesToPatch {
		rec, ok := m.Files[path]
		if !ok {
			continue
		}
		for _, h := range rec.Blocks {
			if local.HasBlock != nil && local.HasBlock(h) {
				continue
			}
			needed[h] = struct{}{}
		}
	}
	return needed
}
