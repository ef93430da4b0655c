// Copyright 2025 James Ross
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/patchkit/contentpatch/internal/config"
	"github.com/patchkit/contentpatch/internal/obs"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	sub := os.Args[1]
	args := os.Args[2:]

	switch sub {
	case "create":
		runCreate(args)
	case "apply":
		runApply(args)
	case "validate":
		runValidate(args)
	case "serve":
		runServe(args)
	case "-version", "--version", "version":
		fmt.Println(version)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: patchctl <create|apply|validate|serve> [flags]")
}

func setupLogger(cfg *config.Config) *zap.Logger {
	logger, err := obs.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}
