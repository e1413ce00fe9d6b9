// Package main provides the warmstart controller CLI.
//
// Usage:
//
//	warmstart <command> [options]
//
// Exit codes:
//   - 0: success
//   - 1: the worker failed or did not finish
//   - 2: invalid flags, config or handler artifact
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/warmstart/cli/cmd"
	"github.com/justapithecus/warmstart/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "warmstart",
		Usage:          "Drive checkpointable function workers",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: cmd.ExitErrHandler,
		Commands: []*cli.Command{
			cmd.InvokeCommand(),
			cmd.JournalCommand(),
			cmd.VersionCommand(commit),
		},
	}

	os.Exit(cmd.ExitCode(app.Run(os.Args), os.Stderr))
}
