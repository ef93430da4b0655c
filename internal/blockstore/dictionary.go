package blockstore

import (
	"math/rand"
)

// DefaultSampleCap is the maximum number of raw blocks drawn into a
// trained dictionary when regen_dict is not set.
const DefaultSampleCap = 2000

// DictionaryTrainer collects a bounded, uniform sample of raw blocks
// and turns them into a raw content dictionary.
//
// klauspost/compress/zstd has no COVER-style dictionary trainer (the
// teacher's own ZstdCompressor.BuildDictionary stubs this out with a
// TODO and falls back to "just concatenate the samples"); this trainer
// finishes that job for real traffic by reservoir-sampling blocks
// uniformly at random rather than truncating to the first N bytes, so
// the resulting dictionary actually reflects the whole corpus instead
// of only its earliest blocks.
type DictionaryTrainer struct {
	cap       int
	unbounded bool
	seen      int
	samples   [][]byte
	rnd       *rand.Rand
}

// NewDictionaryTrainer returns a trainer. When unbounded is true
// (regen_dict), every observed block is retained; otherwise the
// trainer keeps a reservoir of at most cap blocks.
func NewDictionaryTrainer(cap int, unbounded bool, rnd *rand.Rand) *DictionaryTrainer {
	if cap <= 0 {
		cap = DefaultSampleCap
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(1))
	}
	return &DictionaryTrainer{cap: cap, unbounded: unbounded, rnd: rnd}
}

// Observe feeds one raw block into the trainer's reservoir.
func (t *DictionaryTrainer) Observe(block []byte) {
	if t.unbounded {
		t.samples = append(t.samples, block)
		t.seen++
		return
	}

	t.seen++
	if len(t.samples) < t.cap {
		cp := make([]byte, len(block))
		copy(cp, block)
		t.samples = append(t.samples, cp)
		return
	}

	// Reservoir sampling (Algorithm R): replace a uniformly random
	// existing slot with probability cap/seen.
	j := t.rnd.Intn(t.seen)
	if j < t.cap {
		cp := make([]byte, len(block))
		copy(cp, block)
		t.samples[j] = cp
	}
}

// SampleCount returns the number of blocks currently retained.
func (t *DictionaryTrainer) SampleCount() int {
	return len(t.samples)
}

// Build concatenates the retained samples into a raw content
// dictionary, truncated to maxSize bytes if positive.
func (t *DictionaryTrainer) Build(maxSize int) []byte {
	var total int
	for _, s := range t.samples {
		total += len(s)
	}
	out := make([]byte, 0, total)
	for _, s := range t.samples {
		out = append(out, s...)
	}
	if maxSize > 0 && len(out) > maxSize {
		out = out[:maxSize]
	}
	return out
}
