package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/patchkit/contentpatch/internal/blockpool"
	"github.com/patchkit/contentpatch/internal/blockstore"
	"github.com/patchkit/contentpatch/internal/bundle"
	"github.com/patchkit/contentpatch/internal/chunker"
	"github.com/patchkit/contentpatch/internal/config"
	"github.com/patchkit/contentpatch/internal/manifest"
	"github.com/patchkit/contentpatch/internal/obs"
	"go.uber.org/zap"
)

func runCreate(args []string) {
	fs := newFlagSet("create")
	var (
		configPath       string
		output           string
		patchDataPath    string
		blockSize        int
		compress         bool
		compressionLevel int
		dictPath         string
		regenDict        bool
	)
	fs.StringVar(&configPath, "config", "", "Path to config file")
	fs.StringVar(&output, "output", "dist", "Output directory D")
	fs.StringVar(&patchDataPath, "patch-data", "", "Path to prior patchData.json, used for bundle reuse")
	fs.IntVar(&blockSize, "block-size", 0, "Average block size (0 = config default)")
	fs.BoolVar(&compress, "compress", false, "Enable block compression")
	fs.IntVar(&compressionLevel, "compression-level", 0, "Compression level 1-12 (0 = config default)")
	fs.StringVar(&dictPath, "dict-path", "", "Path to dictionary file (trained if missing)")
	fs.BoolVar(&regenDict, "regen-dict", false, "Force dictionary retraining with an unbounded sample")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "create: source directory required")
		os.Exit(1)
	}
	sourceDir := fs.Arg(0)

	if _, err := os.Stat(sourceDir); err != nil {
		fmt.Fprintf(os.Stderr, "create: source directory %s: %v\n", sourceDir, err)
		os.Exit(1)
	}

	cfg := loadConfig(configPath)
	logger := setupLogger(cfg)
	defer logger.Sync()

	if blockSize > 0 {
		cfg.Chunker.AvgBlockSize = blockSize
	}
	if compress {
		cfg.Compression.Enabled = true
	}
	if compressionLevel > 0 {
		cfg.Compression.Level = compressionLevel
	}
	if dictPath != "" {
		cfg.Compression.DictPath = dictPath
	}
	if regenDict {
		cfg.Compression.RegenDict = true
	}

	if err := create(sourceDir, output, patchDataPath, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "create: %v\n", err)
		os.Exit(1)
	}
}

func create(sourceDir, output, priorManifestPath string, cfg *config.Config, logger *zap.Logger) error {
	paths, err := listFiles(sourceDir)
	if err != nil {
		return fmt.Errorf("list source files: %w", err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("source directory %s is empty", sourceDir)
	}

	pool := blockpool.New()
	params := chunker.DefaultParams(cfg.Chunker.AvgBlockSize)
	relOf := func(p string) string {
		rel, _ := filepath.Rel(sourceDir, p)
		return filepath.ToSlash(rel)
	}

	results, err := chunker.ScanDir(context.Background(), sourceDir, params, pool, paths, relOf, logger)
	if err != nil {
		return fmt.Errorf("chunk source tree: %w", err)
	}

	totalChunks := 0
	for _, r := range results {
		totalChunks += len(r.Hashes)
	}
	obs.BlocksChunked.Add(float64(totalChunks))
	obs.BlocksDeduplicated.Add(float64(totalChunks - pool.Len()))

	var prior *manifest.Manifest
	if priorManifestPath != "" {
		prior, err = manifest.Load(priorManifestPath)
		if err != nil {
			logger.Warn("failed to load prior manifest, proceeding without bundle reuse", obs.Err(err))
			prior = nil
		}
	}

	blockOrder := pool.Keys()

	var codec *blockstore.Codec
	var dictionary []byte
	if cfg.Compression.Enabled {
		dictionary, err = loadOrTrainDictionary(cfg, pool, output)
		if err != nil {
			return fmt.Errorf("dictionary: %w", err)
		}
		codec, err = blockstore.New(blockstore.LevelFromInt(cfg.Compression.Level), dictionary)
		if err != nil {
			return fmt.Errorf("build codec: %w", err)
		}
		defer codec.Close()
	}

	blocksDir := filepath.Join(output, "blocks")
	if err := os.MkdirAll(blocksDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", blocksDir, err)
	}

	payloadCache := make(map[string][]byte, len(blockOrder))
	for _, hash := range blockOrder {
		raw, _ := pool.Get(hash)
		payload := raw
		if codec != nil {
			payload = codec.Compress(raw)
		}
		payloadCache[hash] = payload
		if err := os.WriteFile(filepath.Join(blocksDir, hash), payload, 0o644); err != nil {
			return fmt.Errorf("write block %s: %w", hash, err)
		}
	}

	bundlesDir := filepath.Join(output, "bundles")
	packer := bundle.NewWithCardinality(bundlesDir, func(h string) ([]byte, error) {
		p, ok := payloadCache[h]
		if !ok {
			return nil, fmt.Errorf("unknown block %s", h)
		}
		return p, nil
	}, cfg.Bundler.Cardinality)
	bundles, err := packer.Pack(blockOrder, prior)
	if err != nil {
		return fmt.Errorf("pack bundles: %w", err)
	}
	obs.BundleReuseRatio.Set(bundleReuseRatio(bundles, prior))

	m := manifest.New()
	m.Bundles = bundles
	level := cfg.Compression.Level
	m.Compression = manifest.CompressionSettings{Enabled: cfg.Compression.Enabled}
	if cfg.Compression.Enabled {
		m.Compression.Level = &level
	}
	for _, r := range results {
		m.Files[r.RelPath] = manifest.FileRecord{Hash: r.Hash, Blocks: r.Hashes}
	}

	versionHash, err := manifest.Save(m, filepath.Join(output, "patchData.json"))
	if err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(output, "version"), []byte(versionHash), 0o644); err != nil {
		return fmt.Errorf("write version file: %w", err)
	}
	if cfg.Compression.Enabled {
		if err := os.WriteFile(filepath.Join(output, "dictionary"), dictionary, 0o644); err != nil {
			return fmt.Errorf("write dictionary file: %w", err)
		}
	}

	logger.Info("create complete",
		obs.Int("files", len(m.Files)),
		obs.Int("blocks", len(blockOrder)),
		obs.Int("bundles", len(bundles)),
		obs.String("version", versionHash))
	return nil
}

// loadOrTrainDictionary loads an existing dictionary file unless one
// is missing or regen_dict was requested, in which case it trains a
// fresh one from the current block pool (spec.md §4.2).
func loadOrTrainDictionary(cfg *config.Config, pool *blockpool.Pool, output string) ([]byte, error) {
	path := cfg.Compression.DictPath
	if path == "" {
		path = filepath.Join(output, "dictionary")
	}
	if !cfg.Compression.RegenDict {
		if existing, err := blockstore.LoadDictionary(path); err == nil && len(existing) > 0 {
			return existing, nil
		}
	}

	trainer := blockstore.NewDictionaryTrainer(cfg.Compression.SampleCap, cfg.Compression.RegenDict, rand.New(rand.NewSource(1)))
	pool.Each(func(_ string, data []byte) {
		trainer.Observe(data)
	})
	return trainer.Build(0), nil
}

// bundleReuseRatio reports the fraction of bundles in the new manifest
// whose id already existed in the prior manifest, i.e. were carried
// forward without repacking (spec.md §4.3).
func bundleReuseRatio(bundles map[string]manifest.Bundle, prior *manifest.Manifest) float64 {
	if len(bundles) == 0 {
		return 0
	}
	if prior == nil {
		return 0
	}
	reused := 0
	for id := range bundles {
		if _, ok := prior.Bundles[id]; ok {
			reused++
		}
	}
	return float64(reused) / float64(len(bundles))
}

func listFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		out = append(out, path)
		return nil
	})
	return out, err
}
