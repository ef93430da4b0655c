// Package blockpool provides the concurrency-safe hash-to-bytes map
// shared by the chunker, fetcher, and applier. Spec: insertion of the
// same hash by multiple workers must be idempotent, never a race.
package blockpool

import "sync"

// Pool is a concurrent map from block hash to block bytes.
type Pool struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{data: make(map[string][]byte)}
}

// Put inserts hash->bytes. Re-inserting the same hash is a no-op: the
// first writer wins, matching the content-addressed invariant that two
// blocks with the same hash have identical bytes.
func (p *Pool) Put(hash string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.data[hash]; ok {
		return
	}
	p.data[hash] = data
}

// Get returns the bytes for hash and whether it was present.
func (p *Pool) Get(hash string) ([]byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.data[hash]
	return b, ok
}

// Has reports whether hash is present without copying its bytes.
func (p *Pool) Has(hash string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.data[hash]
	return ok
}

// Len returns the number of distinct blocks held.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.data)
}

// Keys returns a snapshot of all hashes currently in the pool.
func (p *Pool) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.data))
	for k := range p.data {
		keys = append(keys, k)
	}
	return keys
}

// Each iterates the pool in an unspecified order. fn must not mutate
// the pool.
func (p *Pool) Each(fn func(hash string, data []byte)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for k, v := range p.data {
		fn(k, v)
	}
}
