// Package main is the entry point for the cardinal IRC bot.
package main

import (
	"fmt"
	"os"

	"github.com/dalnet/cardinal/internal/irc"
)

// Version information set at build time via ldflags.
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

func main() {
	irc.Version = version
	irc.BuildDate = buildDate
	irc.GitCommit = gitCommit

	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (built: %s, commit: %s)", version, buildDate, gitCommit)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
