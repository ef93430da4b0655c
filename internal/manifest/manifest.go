// Package manifest defines the patch manifest's typed shape
// (compression settings, file records, bundle indices), computes the
// deterministic bundle-id textual rendering, and handles load/save and
// schema validation of patchData.json.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// CompressionSettings records whether blocks are compressed and at
// what level.
type CompressionSettings struct {
	Enabled bool `json:"enabled"`
	Level   *int `json:"level"`
}

// FileRecord is one file's ordered block sequence and its derived
// file-record hash (not a content hash; see FileHash in the chunker
// package for how it is computed).
type FileRecord struct {
	Hash   string   `json:"hash"`
	Blocks []string `json:"blocks"`
}

// BundleMember is one block's placement within a bundle.
type BundleMember struct {
	Hash        string `json:"hash"`
	Length      int    `json:"length"`
	BlockOffset int    `json:"blockOffset"`
}

// Bundle is the ordered member list of a single bundle, keyed
// internally by its integer index for deterministic id rendering.
type Bundle struct {
	Members []BundleMember
}

// MarshalJSON renders a bundle as a JSON object with stringified
// integer keys "0".."n-1", matching spec.md's wire schema.
func (b Bundle) MarshalJSON() ([]byte, error) {
	m := make(map[string]BundleMember, len(b.Members))
	for i, mem := range b.Members {
		m[strconv.Itoa(i)] = mem
	}
	return json.Marshal(m)
}

// UnmarshalJSON reads a bundle keyed by stringified integer indices
// back into an ordered member slice.
func (b *Bundle) UnmarshalJSON(data []byte) error {
	var raw map[string]BundleMember
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	members := make([]BundleMember, len(raw))
	for k, v := range raw {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("manifest: bundle member key %q is not an integer: %w", k, err)
		}
		if idx < 0 || idx >= len(raw) {
			return fmt.Errorf("manifest: bundle member key %q out of range for %d members", k, len(raw))
		}
		members[idx] = v
	}
	b.Members = members
	return nil
}

// Manifest is the canonical JSON patch description.
type Manifest struct {
	Compression CompressionSettings   `json:"compression"`
	Files       map[string]FileRecord `json:"files"`
	Bundles     map[string]Bundle     `json:"bundles"`
}

// New returns an empty manifest with initialized maps.
func New() *Manifest {
	return &Manifest{
		Files:   make(map[string]FileRecord),
		Bundles: make(map[string]Bundle),
	}
}

// BundleID computes the deterministic SHA-256 identity of an ordered
// member list: the textual rendering of its member map, keyed by
// stringified integer index in numeric order, each member rendered in
// a fixed field order. This exact rendering must stay stable across
// producer implementations for bundle ids to remain compatible
// (spec.md §9, "Bundle-id textual rendering").
func BundleID(members []BundleMember) string {
	rendering := renderMemberMap(members)
	sum := sha256.Sum256([]byte(rendering))
	return hex.EncodeToString(sum[:])
}

// renderMemberMap builds the canonical textual form used for bundle
// identity: a Python-dict-literal-shaped string with integer keys in
// ascending order and each member as an ordered {hash, length,
// blockOffset} mapping. The exact shape only needs to be stable and
// collision-resistant across producers that share this implementation;
// it intentionally does not attempt to reproduce the upstream Python
// engine's repr() byte-for-byte (see DESIGN.md for the id-compatibility
// tradeoff spec.md §9 calls out explicitly as acceptable).
func renderMemberMap(members []BundleMember) string {
	indices := make([]int, len(members))
	for i := range members {
		indices[i] = i
	}
	sort.Ints(indices)

	var sb []byte
	sb = append(sb, '{')
	for i, idx := range indices {
		if i > 0 {
			sb = append(sb, ',', ' ')
		}
		m := members[idx]
		sb = append(sb, '\'')
		sb = append(sb, []byte(strconv.Itoa(idx))...)
		sb = append(sb, '\'', ':', ' ', '{')
		sb = append(sb, []byte(fmt.Sprintf("'hash': '%s', 'length': %d, 'blockOffset': %d", m.Hash, m.Length, m.BlockOffset))...)
		sb = append(sb, '}')
	}
	sb = append(sb, '}')
	return string(sb)
}

// VersionHash computes the manifest's version: SHA-256 hex of its
// canonical JSON serialization, the same indented bytes Save writes,
// so it equals the version Save returns for the same manifest.
func VersionHash(m *Manifest) (string, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("manifest: serialize for version hash: %w", err)
	}
	return versionHashOf(data), nil
}

func versionHashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AllBlockHashes returns the set of distinct block hashes referenced
// by any bundle in the manifest (the partition's union side).
func (m *Manifest) AllBlockHashes() map[string]struct{} {
	out := make(map[string]struct{})
	for _, b := range m.Bundles {
		for _, mem := range b.Members {
			out[mem.Hash] = struct{}{}
		}
	}
	return out
}

// BundleContainingBlock returns the id of the bundle that contains
// hash, and whether one was found. The partition invariant (spec.md
// §3) guarantees at most one match; the first found is returned.
func (m *Manifest) BundleContainingBlock(hash string) (string, bool) {
	for id, b := range m.Bundles {
		for _, mem := range b.Members {
			if mem.Hash == hash {
				return id, true
			}
		}
	}
	return "", false
}
