// Package main is the entry point for the playerd daemon.
// playerd is a headless media playback daemon that integrates with OS media
// sessions and communicates with clients via IPC.
package main

import (
	"fmt"
	"os"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
