package main

import (
	"fmt"
	"os"

	"practice-insights/internal/cli"
)

// Set by ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cli.SetVersionInfo(version, commit)

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
