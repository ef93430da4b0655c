package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	applypkg "github.com/patchkit/contentpatch/internal/apply"
	"github.com/patchkit/contentpatch/internal/blockpool"
	"github.com/patchkit/contentpatch/internal/blockstore"
	"github.com/patchkit/contentpatch/internal/changelog"
	"github.com/patchkit/contentpatch/internal/chunker"
	"github.com/patchkit/contentpatch/internal/clean"
	"github.com/patchkit/contentpatch/internal/config"
	"github.com/patchkit/contentpatch/internal/fetch"
	"github.com/patchkit/contentpatch/internal/manifest"
	"github.com/patchkit/contentpatch/internal/obs"
	"github.com/patchkit/contentpatch/internal/planner"
	"github.com/patchkit/contentpatch/internal/telemetry"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

func runApply(args []string) {
	fs := newFlagSet("apply")
	var configPath, patchData string
	fs.StringVar(&configPath, "config", "", "Path to config file")
	fs.StringVar(&patchData, "patch-data", "", "URL or path to patchData.json's directory")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "apply: install-root required")
		os.Exit(1)
	}
	installRoot := fs.Arg(0)

	cfg := loadConfig(configPath)
	logger := setupLogger(cfg)
	defer logger.Sync()

	if err := apply(installRoot, patchData, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "apply: %v\n", err)
		os.Exit(1)
	}
}

func apply(installRoot, patchData string, cfg *config.Config, logger *zap.Logger) error {
	start := time.Now()
	defer func() { obs.ApplyDuration.Observe(time.Since(start).Seconds()) }()

	if cfg.Observability.MetricsPort > 0 {
		srv := obs.StartMetricsServer(cfg.Observability.MetricsPort)
		defer srv.Close()
	}

	var tp *sdktrace.TracerProvider
	if cfg.Observability.Tracing.Enabled {
		var err error
		tp, err = obs.MaybeInitTracing(cfg.Observability.Tracing.Endpoint, "production")
		if err != nil {
			logger.Warn("tracing init failed, continuing without it", obs.Err(err))
		}
	}
	ctx, span := obs.StartApplySpan(context.Background(), installRoot)
	defer span.End()
	defer obs.TracerShutdown(context.Background(), tp)

	dataDir := filepath.Join(installRoot, "data")
	installDir := filepath.Join(installRoot, "install")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dataDir, err)
	}

	source, fetchRaw, err := sourceFor(patchData, cfg)
	if err != nil {
		return fmt.Errorf("resolve patch-data source: %w", err)
	}

	manifestBytes, err := fetchRaw("patchData.json")
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	m, err := manifest.Parse(manifestBytes)
	if err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}

	var codec *blockstore.Codec
	if m.Compression.Enabled {
		dict, err := fetchRaw("dictionary")
		if err != nil {
			return fmt.Errorf("load dictionary: %w", err)
		}
		level := 6
		if m.Compression.Level != nil {
			level = *m.Compression.Level
		}
		codec, err = blockstore.New(blockstore.LevelFromInt(level), dict)
		if err != nil {
			return fmt.Errorf("build codec: %w", err)
		}
		defer codec.Close()
	}

	cl, err := changelog.Load(filepath.Join(dataDir, "changelog.json"), installDir)
	if err != nil {
		return fmt.Errorf("load changelog: %w", err)
	}

	localState, err := scanLocal(installDir, cfg)
	if err != nil {
		return fmt.Errorf("scan local install: %w", err)
	}

	plan := planner.Compute(m, localState, cl)

	pool := blockpool.New()
	runner := fetch.NewRunner(source, codec, pool, logger)
	if err := runner.Run(ctx, m, plan, func(p fetch.Progress) {
		logger.Info("fetch progress", obs.String("fraction", fmt.Sprintf("%.2f", p.Fraction())))
	}); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	applier := applypkg.New(installDir, pool)
	if err := applier.ApplyAll(m, plan.FilesToPatch); err != nil {
		return fmt.Errorf("apply files: %w", err)
	}

	cleaner := clean.New(installDir, cfg.IgnoreGlobs, cl, logger)
	if err := cleaner.Clean(m); err != nil {
		return fmt.Errorf("clean: %w", err)
	}

	if err := cl.Save(); err != nil {
		return fmt.Errorf("save changelog: %w", err)
	}

	if cfg.Telemetry.Enabled {
		pub, err := telemetry.NewPublisher(cfg.Telemetry.URL, cfg.Telemetry.Subject, logger)
		if err != nil {
			logger.Warn("telemetry publisher unavailable", obs.Err(err))
		} else {
			versionHash, _ := manifest.VersionHash(m)
			pub.Publish(telemetry.ApplyEvent{
				VersionHash:  versionHash,
				FilesPatched: len(plan.FilesToPatch),
				Duration:     time.Since(start),
				Success:      true,
			})
			pub.Close()
		}
	}

	logger.Info("apply complete", obs.Int("files_patched", len(plan.FilesToPatch)))
	fmt.Println("apply complete")
	return nil
}

// sourceFor resolves patchData (a local directory, an http(s) URL, or
// an s3://bucket/prefix locator when cfg.S3.Enabled) into a
// fetch.Source for bundle/block retrieval plus a fetchRaw closure for
// the two top-level artifacts (patchData.json, dictionary) that live
// alongside bundles/ and blocks/ but aren't part of the Source
// interface itself.
func sourceFor(patchData string, cfg *config.Config) (fetch.Source, func(leaf string) ([]byte, error), error) {
	switch {
	case cfg.S3.Enabled:
		sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.S3.Region)})
		if err != nil {
			return nil, nil, fmt.Errorf("s3 session: %w", err)
		}
		bucket, prefix := cfg.S3.Bucket, cfg.S3.Prefix
		if bucket == "" {
			bucket, prefix = parseS3Locator(patchData)
		}
		client := s3.New(sess)
		fetchRaw := func(leaf string) ([]byte, error) {
			key := strings.TrimPrefix(strings.TrimRight(prefix, "/")+"/"+leaf, "/")
			out, err := client.GetObject(&s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
			if err != nil {
				return nil, fmt.Errorf("s3 get %s: %w", key, err)
			}
			defer out.Body.Close()
			return io.ReadAll(out.Body)
		}
		return fetch.NewS3Source(sess, bucket, prefix), fetchRaw, nil

	case strings.HasPrefix(patchData, "http://") || strings.HasPrefix(patchData, "https://"):
		root := strings.TrimSuffix(patchData, "/patchData.json")
		client := &http.Client{Timeout: 60 * time.Second}
		fetchRaw := func(leaf string) ([]byte, error) {
			resp, err := client.Get(strings.TrimSuffix(root, "/") + "/" + leaf)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("fetch %s: unexpected status %d", leaf, resp.StatusCode)
			}
			return io.ReadAll(resp.Body)
		}
		return fetch.NewHTTPSource(root, client), fetchRaw, nil

	default:
		root := strings.TrimSuffix(patchData, "/patchData.json")
		if root == "" {
			root = "."
		}
		fetchRaw := func(leaf string) ([]byte, error) {
			return os.ReadFile(filepath.Join(root, leaf))
		}
		return fetch.NewLocalSource(root), fetchRaw, nil
	}
}

// parseS3Locator splits an "s3://bucket/prefix" locator into its
// bucket and prefix parts, used when the caller points -patch-data
// directly at an S3 URL instead of configuring s3.bucket/s3.prefix.
func parseS3Locator(locator string) (bucket, prefix string) {
	trimmed := strings.TrimPrefix(locator, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}

// scanLocal chunks every file currently installed at installDir,
// deriving each file's local file-record hash and populating a
// "has-block" predicate from the local scan results (spec.md §4.4).
func scanLocal(installDir string, cfg *config.Config) (planner.LocalState, error) {
	if _, err := os.Stat(installDir); os.IsNotExist(err) {
		return planner.LocalState{FileHashes: map[string]string{}, HasBlock: func(string) bool { return false }}, nil
	}

	paths, err := listFiles(installDir)
	if err != nil {
		return planner.LocalState{}, err
	}
	pool := blockpool.New()
	params := chunker.DefaultParams(cfg.Chunker.AvgBlockSize)
	relOf := func(p string) string {
		rel, _ := filepath.Rel(installDir, p)
		return filepath.ToSlash(rel)
	}

	results, err := chunker.ScanDir(context.Background(), installDir, params, pool, paths, relOf, nil)
	if err != nil {
		return planner.LocalState{}, err
	}

	fileHashes := make(map[string]string, len(results))
	for _, r := range results {
		fileHashes[r.RelPath] = r.Hash
	}
	return planner.LocalState{
		FileHashes: fileHashes,
		HasBlock:   pool.Has,
	}, nil
}
