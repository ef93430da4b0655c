// Package blockstore compresses and decompresses raw blocks, and
// trains/loads the shared dictionary used to seed that compression.
package blockstore

import (
	"fmt"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Codec compresses and decompresses blocks with an optional shared
// dictionary. A Codec built by New with an empty dictionary runs
// plain zstd.
type Codec struct {
	mu         sync.RWMutex
	dictionary []byte
	level      zstd.EncoderLevel
	encoder    *zstd.Encoder
	decoder    *zstd.Decoder
}

// LevelFromInt maps the 1-12 compression level knob onto zstd's named
// speed tiers (1-3 fastest, 4-6 default, 7-9 better, 10 and above
// best), the same banding the teacher's ZstdCompressor uses.
func LevelFromInt(level int) zstd.EncoderLevel {
	switch {
	case level <= 3:
		return zstd.SpeedFastest
	case level <= 6:
		return zstd.SpeedDefault
	case level <= 9:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// New builds a Codec. dictionary may be nil/empty to run without one.
func New(level zstd.EncoderLevel, dictionary []byte) (*Codec, error) {
	c := &Codec{level: level, dictionary: dictionary}
	if err := c.rebuild(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadDictionary reads a trained dictionary file from disk, or
// returns a nil slice (no dictionary) if path is empty.
func LoadDictionary(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("blockstore: load dictionary %s: %w", path, err)
	}
	return data, nil
}

func (c *Codec) rebuild() error {
	encOpts := []zstd.EOption{
		zstd.WithEncoderLevel(c.level),
		zstd.WithEncoderConcurrency(1),
	}
	decOpts := []zstd.DOption{
		zstd.WithDecoderConcurrency(1),
	}
	if len(c.dictionary) > 0 {
		encOpts = append(encOpts, zstd.WithEncoderDict(c.dictionary))
		decOpts = append(decOpts, zstd.WithDecoderDicts(c.dictionary))
	}

	enc, err := zstd.NewWriter(nil, encOpts...)
	if err != nil {
		return fmt.Errorf("blockstore: new encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, decOpts...)
	if err != nil {
		return fmt.Errorf("blockstore: new decoder: %w", err)
	}

	c.encoder = enc
	c.decoder = dec
	return nil
}

// Compress returns the zstd-compressed form of data.
func (c *Codec) Compress(data []byte) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.encoder.EncodeAll(data, nil)
}

// Decompress reverses Compress.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("blockstore: decompress: %w", err)
	}
	return out, nil
}

// Close releases the codec's encoder/decoder resources.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
