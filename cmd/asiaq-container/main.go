// Package main is the entry point for the asiaq-container CLI.
//
// The binary is multi-call. Started under its own name it behaves as a
// regular cobra CLI; started through a symlink named after a toolkit
// command it runs that command inside the toolkit image and exits with the
// command's status.
//
// Build-time variables (version, commit, date) are injected via ldflags
// by GoReleaser during the release process.
package main

import (
	"context"
	"os"

	"github.com/shinji-kodama/asiaq-container/internal/cli"
	"github.com/shinji-kodama/asiaq-container/internal/runner"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if inv, ok := runner.ParseInvocation(os.Args); ok {
		os.Exit(cli.RunAlias(context.Background(), inv))
	}

	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	rootCmd := cli.NewRootCommand()
	cli.Execute(rootCmd)
}
