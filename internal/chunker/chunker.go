// Package chunker implements content-defined chunking (FastCDC-style):
// files are split into variable-sized blocks whose boundaries depend
// only on local content, so a localized edit perturbs only the blocks
// near it. Block identity is the SHA-256 hex digest of its raw bytes.
package chunker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/patchkit/contentpatch/internal/blockpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// MaxScanWorkers bounds concurrent per-file chunking during a
// directory scan (spec §5: chunking uses up to 6 workers).
const MaxScanWorkers = 6

// Block is a single content-defined chunk: the SHA-256 hex digest of
// raw (uncompressed) bytes, and the bytes themselves.
type Block struct {
	Hash  string
	Bytes []byte
}

// Params controls boundary detection. Min and Max bound block size;
// Avg tunes the target average via the Gear-hash mask width.
type Params struct {
	Min, Avg, Max int
}

// DefaultParams returns the spec's default triple for a given average
// block size: min = avg/2, max = 2*avg.
func DefaultParams(avg int) Params {
	if avg <= 0 {
		avg = 65536
	}
	return Params{Min: avg / 2, Avg: avg, Max: avg * 2}
}

// Chunker splits byte streams into blocks under a fixed Params.
type Chunker struct {
	p            Params
	maskS, maskL uint64
}

// New builds a Chunker for the given params.
func New(p Params) *Chunker {
	if p.Avg < 1 {
		p.Avg = 1
	}
	bits := bitLength(uint64(p.Avg))
	var maskS, maskL uint64
	if bits > 0 {
		maskS = (uint64(1) << (bits - 1)) - 1
	}
	maskL = (uint64(1) << (bits + 1)) - 1
	return &Chunker{p: p, maskS: maskS, maskL: maskL}
}

func bitLength(n uint64) uint {
	var bits uint
	for n > 1 {
		n >>= 1
		bits++
	}
	return bits
}

// Iterator is a lazy, finite sequence of blocks over a byte slice.
// Concatenating the bytes yielded by successive Next calls reproduces
// the original input exactly.
type Iterator struct {
	c    *Chunker
	data []byte
	pos  int
}

// ChunkBytes returns a lazy iterator over data's content-defined blocks.
func (c *Chunker) ChunkBytes(data []byte) *Iterator {
	return &Iterator{c: c, data: data}
}

// ChunkFile reads path and returns a lazy iterator over its blocks.
func (c *Chunker) ChunkFile(path string) (*Iterator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chunker: read %s: %w", path, err)
	}
	return c.ChunkBytes(data), nil
}

// Next returns the next block, or ok=false when the sequence is exhausted.
func (it *Iterator) Next() (Block, bool) {
	if it.pos >= len(it.data) {
		return Block{}, false
	}
	remaining := it.data[it.pos:]
	boundary := it.c.findBoundary(remaining)
	raw := remaining[:boundary]
	sum := sha256.Sum256(raw)
	it.pos += boundary
	return Block{Hash: hex.EncodeToString(sum[:]), Bytes: raw}, true
}

// findBoundary returns the length of the next block within buf.
func (c *Chunker) findBoundary(buf []byte) int {
	n := len(buf)
	if n <= c.p.Min {
		return n
	}
	maxPos := c.p.Max
	if maxPos > n {
		maxPos = n
	}

	var h uint64
	pos := c.p.Min

	upper := c.p.Avg
	if upper > maxPos {
		upper = maxPos
	}
	for pos < upper {
		h = gear(buf[pos-1:pos], h)
		if h&c.maskS == 0 {
			return pos
		}
		pos++
	}
	for pos < maxPos {
		h = gear(buf[pos-1:pos], h)
		if h&c.maskL == 0 {
			return pos
		}
		pos++
	}
	return maxPos
}

// FileHash computes the file-record hash of an ordered block-hash
// sequence: SHA-256 of the UTF-8 concatenation of the hashes, hex
// encoded. This is distinct from a hash of the file's raw content.
func FileHash(blockHashes []string) string {
	h := sha256.New()
	for _, bh := range blockHashes {
		h.Write([]byte(bh))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FileBlocks is one file's ordered block-hash sequence and its
// resulting file-record hash.
type FileBlocks struct {
	RelPath string
	Hashes  []string
	Hash    string
}

// ScanDir chunks every file listed in paths concurrently (up to
// MaxScanWorkers at a time; each individual file is chunked by a
// single worker). root is not walked; callers list the files
// themselves. Discovered blocks are inserted into pool.
func ScanDir(ctx context.Context, root string, params Params, pool *blockpool.Pool, paths []string, relOf func(string) string, log *zap.Logger) ([]FileBlocks, error) {
	c := New(params)
	sem := semaphore.NewWeighted(MaxScanWorkers)
	g, gctx := errgroup.WithContext(ctx)

	results := make([]FileBlocks, len(paths))
	failed := make([]bool, len(paths))
	for i, p := range paths {
		i, p := i, p
		if err := sem.Acquire(gctx, 1); err != nil {
			return nil, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			fb, err := chunkOneFile(c, p, relOf(p), pool)
			if err != nil {
				// Per-file I/O errors during chunking are best-effort
				// (spec.md §7): log and skip this file rather than
				// aborting the whole scan.
				if log != nil {
					log.Warn("chunk file failed, skipping", zap.String("path", p), zap.Error(err))
				}
				failed[i] = true
				return nil
			}
			results[i] = fb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]FileBlocks, 0, len(paths))
	for i, fb := range results {
		if failed[i] {
			continue
		}
		out = append(out, fb)
	}
	return out, nil
}

func chunkOneFile(c *Chunker, path, relPath string, pool *blockpool.Pool) (FileBlocks, error) {
	it, err := c.ChunkFile(path)
	if err != nil {
		return FileBlocks{}, err
	}
	var hashes []string
	for {
		b, ok := it.Next()
		if !ok {
			break
		}
		pool.Put(b.Hash, b.Bytes)
		hashes = append(hashes, b.Hash)
	}
	return FileBlocks{RelPath: relPath, Hashes: hashes, Hash: FileHash(hashes)}, nil
}
