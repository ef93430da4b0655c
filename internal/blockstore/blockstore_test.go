package blockstore

import (
	"math/rand"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundtripNoDictionary(t *testing.T) {
	c, err := New(zstd.SpeedDefault, nil)
	require.NoError(t, err)
	defer c.Close()

	data := []byte("the quick brown fox jumps over the lazy dog, repeated many times to compress well. " +
		"the quick brown fox jumps over the lazy dog, repeated many times to compress well.")
	compressed := c.Compress(data)
	require.NotEmpty(t, compressed)

	got, err := c.Decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestCodec_RoundtripWithDictionary(t *testing.T) {
	dict := []byte("common prefix bytes shared across many small blocks in this corpus")
	c, err := New(zstd.SpeedDefault, dict)
	require.NoError(t, err)
	defer c.Close()

	data := []byte("common prefix bytes shared across many small blocks in this corpus, plus a payload")
	compressed := c.Compress(data)
	got, err := c.Decompress(compressed)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestLevelFromInt(t *testing.T) {
	require.Equal(t, zstd.SpeedFastest, LevelFromInt(1))
	require.Equal(t, zstd.SpeedDefault, LevelFromInt(5))
	require.Equal(t, zstd.SpeedBetterCompression, LevelFromInt(8))
	require.Equal(t, zstd.SpeedBestCompression, LevelFromInt(12))
}

func TestDictionaryTrainer_BoundedReservoir(t *testing.T) {
	trainer := NewDictionaryTrainer(10, false, rand.New(rand.NewSource(42)))
	for i := 0; i < 1000; i++ {
		trainer.Observe([]byte{byte(i % 256)})
	}
	require.Equal(t, 10, trainer.SampleCount(), "reservoir must not exceed its cap regardless of how many blocks are observed")
}

func TestDictionaryTrainer_UnboundedKeepsEverything(t *testing.T) {
	trainer := NewDictionaryTrainer(10, true, nil)
	for i := 0; i < 50; i++ {
		trainer.Observe([]byte{byte(i)})
	}
	require.Equal(t, 50, trainer.SampleCount(), "regen_dict mode must retain every observed block")
}

func TestDictionaryTrainer_BuildTruncatesToMaxSize(t *testing.T) {
	trainer := NewDictionaryTrainer(10, true, nil)
	trainer.Observe([]byte("0123456789"))
	trainer.Observe([]byte("abcdefghij"))

	full := trainer.Build(0)
	require.Len(t, full, 20)

	truncated := trainer.Build(5)
	require.Len(t, truncated, 5)
	require.Equal(t, []byte("01234"), truncated)
}
