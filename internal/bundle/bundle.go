// Package bundle packs compressed blocks into fixed-cardinality
// bundles, reusing a prior manifest's bundle compositions whenever
// every member of a prior bundle survives into the new block set.
package bundle

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/patchkit/contentpatch/internal/manifest"
)

// Cardinality is the default number of blocks packed per bundle
// (spec.md §4.3 fixes this at 60; the final bundle of a build may hold
// fewer). Callers that want a different cardinality pass one to
// NewWithCardinality; NewWithCardinality(dir, payload, 0) falls back
// to this default.
const Cardinality = 60

// PayloadSource resolves a block hash to its (already compressed, if
// applicable) on-disk payload bytes.
type PayloadSource func(hash string) ([]byte, error)

// Packer builds the new manifest's bundle set from an ordered list of
// distinct block hashes, reusing bundles from a prior manifest where
// possible.
type Packer struct {
	payload     PayloadSource
	dir         string
	cardinality int
}

// New returns a Packer that writes bundle files under dir and resolves
// block payloads via payload, packing Cardinality blocks per bundle.
func New(dir string, payload PayloadSource) *Packer {
	return NewWithCardinality(dir, payload, Cardinality)
}

// NewWithCardinality is New with an explicit blocks-per-bundle count
// (e.g. from config.BundlerConfig.Cardinality). A non-positive
// cardinality falls back to Cardinality.
func NewWithCardinality(dir string, payload PayloadSource, cardinality int) *Packer {
	if cardinality <= 0 {
		cardinality = Cardinality
	}
	return &Packer{payload: payload, dir: dir, cardinality: cardinality}
}

// Pack builds bundles over blockOrder (the insertion-ordered list of
// distinct block hashes discovered by the producer scan), reusing
// compositions from prior when every member of a prior bundle is
// still present in blockOrder. It writes one file per bundle under
// the packer's directory and garbage-collects any file there that is
// not part of the produced set.
func (p *Packer) Pack(blockOrder []string, prior *manifest.Manifest) (map[string]manifest.Bundle, error) {
	present := make(map[string]struct{}, len(blockOrder))
	for _, h := range blockOrder {
		present[h] = struct{}{}
	}

	out := make(map[string]manifest.Bundle)
	consumed := make(map[string]struct{})

	if prior != nil {
		for id, b := range prior.Bundles {
			if bundleSurvives(b, present) {
				out[id] = b
				for _, m := range b.Members {
					consumed[m.Hash] = struct{}{}
				}
				if err := p.writeBundleFile(id, b); err != nil {
					return nil, err
				}
			}
		}
	}

	var remaining []string
	for _, h := range blockOrder {
		if _, done := consumed[h]; !done {
			remaining = append(remaining, h)
		}
	}

	for start := 0; start < len(remaining); start += p.cardinality {
		end := start + p.cardinality
		if end > len(remaining) {
			end = len(remaining)
		}
		group := remaining[start:end]

		members, err := p.buildMembers(group)
		if err != nil {
			return nil, err
		}
		id := manifest.BundleID(members)
		b := manifest.Bundle{Members: members}
		out[id] = b
		if err := p.writeBundleFile(id, b); err != nil {
			return nil, err
		}
	}

	if err := p.gc(out); err != nil {
		return nil, err
	}
	return out, nil
}

// bundleSurvives reports whether every member of b is still present
// in the new block set.
func bundleSurvives(b manifest.Bundle, present map[string]struct{}) bool {
	if len(b.Members) == 0 {
		return false
	}
	for _, m := range b.Members {
		if _, ok := present[m.Hash]; !ok {
			return false
		}
	}
	return true
}

// buildMembers resolves each hash's payload, assigning blockOffset by
// cumulative sum of compressed length.
func (p *Packer) buildMembers(hashes []string) ([]manifest.BundleMember, error) {
	members := make([]manifest.BundleMember, 0, len(hashes))
	offset := 0
	for _, h := range hashes {
		payload, err := p.payload(h)
		if err != nil {
			return nil, fmt.Errorf("bundle: resolve payload for %s: %w", h, err)
		}
		members = append(members, manifest.BundleMember{
			Hash:        h,
			Length:      len(payload),
			BlockOffset: offset,
		})
		offset += len(payload)
	}
	return members, nil
}

func (p *Packer) writeBundleFile(id string, b manifest.Bundle) error {
	path := filepath.Join(p.dir, id)
	if _, err := os.Stat(path); err == nil {
		return nil // reused bundle, file already exists verbatim
	}
	var out []byte
	for _, m := range b.Members {
		payload, err := p.payload(m.Hash)
		if err != nil {
			return fmt.Errorf("bundle: write %s: resolve payload for %s: %w", id, m.Hash, err)
		}
		out = append(out, payload...)
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("bundle: mkdir %s: %w", p.dir, err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("bundle: write %s: %w", path, err)
	}
	return nil
}

// gc removes any file under the packer's directory whose name is not
// among produced bundle ids (spec.md §4.3 step 5).
func (p *Packer) gc(produced map[string]manifest.Bundle) error {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("bundle: gc read dir %s: %w", p.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := produced[e.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(p.dir, e.Name())); err != nil {
			return fmt.Errorf("bundle: gc remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Slice extracts the byte range for member m from a bundle's full
// payload bytes.
func Slice(full []byte, m manifest.BundleMember) ([]byte, error) {
	end := m.BlockOffset + m.Length
	if m.BlockOffset < 0 || end > len(full) {
		return nil, fmt.Errorf("bundle: member range [%d:%d] out of bounds (len %d)", m.BlockOffset, end, len(full))
	}
	return full[m.BlockOffset:end], nil
}
