package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/patchkit/contentpatch/internal/changelog"
)

// runValidate implements `patchctl validate <install-root>`: prints
// "1" when every tracked file still matches the recorded changelog
// entry, "0" otherwise, with no trailing newline. Once an install-root
// is given it always exits 0: a malformed changelog prints "0" rather
// than failing the tool, and a missing changelog has no entries to
// contradict, so it prints "1". Without an install-root it exits 1.
func runValidate(args []string) {
	fs := newFlagSet("validate")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "validate: install-root required")
		os.Exit(1)
	}
	installRoot := fs.Arg(0)

	ok := validate(installRoot)
	if ok {
		fmt.Print("1")
	} else {
		fmt.Print("0")
	}
}

func validate(installRoot string) bool {
	installDir := filepath.Join(installRoot, "install")
	changelogPath := filepath.Join(installRoot, "data", "changelog.json")

	cl, err := changelog.Load(changelogPath, installDir)
	if err != nil {
		return false
	}
	return cl.ValidateCurrentInstallation()
}
