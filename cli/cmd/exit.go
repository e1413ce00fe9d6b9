package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
)

// Exit codes shared by both binaries.
const (
	exitOK = 0
	// exitFailure reports a worker that failed: a fatal worker error, or for
	// invoke a worker that did not finish cleanly.
	exitFailure = 1
	// exitUsage reports bad flags, config or setup.
	exitUsage = 2
)

// ExitCode maps an App.Run error to a process exit code, printing its
// message to stderr. cli.Exit codes pass through, even when wrapped;
// anything else exits 1.
func ExitCode(err error, stderr io.Writer) int {
	if err == nil {
		return exitOK
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		// cli.Exit("", N) carries no message worth printing.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(stderr, msg)
		}
		return code
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitFailure
}

// ExitErrHandler leaves exiting to the caller of App.Run.
func ExitErrHandler(*cli.Context, error) {}
