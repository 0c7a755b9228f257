package main

import (
	"github.com/cyclicchamp/cyclictools/internal/cmd"
)

// Populated at link time via -ldflags.
var (
	version   = "dev"
	commit    = "HEAD"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	cmd.Execute()
}
