// Package main provides the warmstart function worker.
//
// The worker speaks the line protocol on stdin/stdout and diagnostics go to
// stderr. It is meant to be started, checkpointed once it announces
// readiness, and restored as many times as needed.
//
// Exit codes:
//   - 0: terminated by SIGTERM/SIGINT
//   - 1: fatal worker error (reported as an error envelope first)
//   - 2: invalid flags or config
package main

import (
	"os"

	"github.com/justapithecus/warmstart/cli/cmd"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := cmd.WorkerApp(commit)
	app.ExitErrHandler = cmd.ExitErrHandler
	os.Exit(cmd.ExitCode(app.Run(os.Args), os.Stderr))
}
