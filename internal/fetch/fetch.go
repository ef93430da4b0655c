package fetch

import (
	"context"
	"fmt"

	"github.com/patchkit/contentpatch/internal/blockpool"
	"github.com/patchkit/contentpatch/internal/blockstore"
	"github.com/patchkit/contentpatch/internal/manifest"
	"github.com/patchkit/contentpatch/internal/obs"
	"github.com/patchkit/contentpatch/internal/planner"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Progress reports fetch progress as operations complete, matching
// spec.md §4.5's (bundles_done + blocks_done) / (bundles_total +
// blocks_total) formula.
type Progress struct {
	BundlesTotal, BundlesDone int
	BlocksTotal, BlocksDone   int
}

// Fraction returns the completed share of total scheduled operations.
func (p Progress) Fraction() float64 {
	total := p.BundlesTotal + p.BlocksTotal
	if total == 0 {
		return 1
	}
	return float64(p.BundlesDone+p.BlocksDone) / float64(total)
}

// Runner executes a planner.Plan against a Source, decompressing each
// retrieved payload (if compression is enabled) and storing the
// result in a block pool. At most MaxConnections operations run
// concurrently.
type Runner struct {
	source Source
	codec  *blockstore.Codec
	pool   *blockpool.Pool
	log    *zap.Logger
}

// NewRunner returns a Runner. codec may be nil when the manifest has
// compression disabled.
func NewRunner(source Source, codec *blockstore.Codec, pool *blockpool.Pool, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{source: source, codec: codec, pool: pool, log: log}
}

// Run executes plan's bundle and block fetches concurrently (bounded
// by MaxConnections) against m's bundle definitions, reporting
// progress via onProgress after each completed operation. onProgress
// may be nil.
func (r *Runner) Run(ctx context.Context, m *manifest.Manifest, plan planner.Plan, onProgress func(Progress)) error {
	progress := Progress{
		BundlesTotal: len(plan.BundleFetches),
		BlocksTotal:  len(plan.BlockFetches),
	}
	report := func() {
		if onProgress != nil {
			onProgress(progress)
		}
	}

	sem := semaphore.NewWeighted(MaxConnections)
	g, gctx := errgroup.WithContext(ctx)

	for _, bf := range plan.BundleFetches {
		bf := bf
		b, ok := m.Bundles[bf.BundleID]
		if !ok {
			return fmt.Errorf("fetch: %w", &IntegrityError{Reason: fmt.Sprintf("plan references unknown bundle %s", bf.BundleID)})
		}
		members := membersFor(b, bf.Needed)

		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			payloads, err := r.source.FetchBundle(gctx, bf.BundleID, members)
			if err != nil {
				return err
			}
			for _, m := range members {
				raw, ok := payloads[m.Hash]
				if !ok {
					return fmt.Errorf("fetch: %w", &IntegrityError{Reason: fmt.Sprintf("bundle %s response missing member %s", bf.BundleID, m.Hash)})
				}
				obs.BytesFetchedBundle.Add(float64(len(raw)))
				if err := r.store(m.Hash, raw); err != nil {
					return err
				}
			}
			progress.BundlesDone++
			report()
			return nil
		})
	}

	for _, hash := range plan.BlockFetches {
		hash := hash
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			raw, err := r.source.FetchBlock(gctx, hash)
			if err != nil {
				return err
			}
			obs.BytesFetchedBlock.Add(float64(len(raw)))
			if err := r.store(hash, raw); err != nil {
				return err
			}
			progress.BlocksDone++
			report()
			return nil
		})
	}

	return g.Wait()
}

func (r *Runner) store(hash string, raw []byte) error {
	data := raw
	if r.codec != nil {
		decompressed, err := r.codec.Decompress(raw)
		if err != nil {
			return fmt.Errorf("fetch: decompress block %s: %w", hash, err)
		}
		data = decompressed
	}
	r.pool.Put(hash, data)
	return nil
}

func membersFor(b manifest.Bundle, hashes []string) []manifest.BundleMember {
	want := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		want[h] = struct{}{}
	}
	var out []manifest.BundleMember
	for _, m := range b.Members {
		if _, ok := want[m.Hash]; ok {
			out = append(out, m)
		}
	}
	return out
}

// IntegrityError marks a fetch-time inconsistency between the plan
// and the manifest or source response (missing block, malformed
// bundle index) — distinguished from transport errors so callers can
// branch on errors.As.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("fetch integrity error: %s", e.Reason)
}
