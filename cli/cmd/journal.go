package cmd

import (
	"fmt"
	"slices"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/warmstart/cli/reader"
	"github.com/justapithecus/warmstart/cli/render"
	"github.com/justapithecus/warmstart/cli/tui"
)

// JournalCommand returns the journal command, a read-only view of a worker
// journal file.
func JournalCommand() *cli.Command {
	return &cli.Command{
		Name:      "journal",
		Usage:     "Show the envelopes recorded in a worker journal",
		ArgsUsage: "<path>",
		Flags: append(ReadOnlyFlags(),
			&cli.BoolFlag{
				Name:  "summary",
				Usage: "Show a run summary instead of every record",
			},
			&cli.StringSliceFlag{
				Name:  "kind",
				Usage: "Only show records of this kind (repeatable)",
			},
		),
		Action: journalAction,
	}
}

func journalAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("journal: exactly one journal path is required", exitUsage)
	}

	j, err := reader.ReadJournal(c.Args().First())
	if j == nil {
		return cli.Exit(fmt.Sprintf("journal: %v", err), exitFailure)
	}
	if err != nil {
		// Truncated journal: show what was read and report the damage.
		fmt.Fprintf(c.App.ErrWriter, "warning: %v\n", err)
	}

	if kinds := c.StringSlice("kind"); len(kinds) > 0 {
		j.Entries = filterKinds(j.Entries, kinds)
	}

	var (
		view string
		data any
	)
	if c.Bool("summary") {
		view, data = tui.ViewSummary, j.Summarize()
	} else {
		view, data = tui.ViewJournal, j
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	if c.Bool("tui") {
		return r.RenderTUI(view, data)
	}
	if view == tui.ViewJournal && r.Format() == render.FormatTable {
		return r.Render(j.Entries)
	}
	return r.Render(data)
}

func filterKinds(entries []reader.Entry, kinds []string) []reader.Entry {
	out := make([]reader.Entry, 0, len(entries))
	for _, e := range entries {
		if slices.Contains(kinds, e.Kind) {
			out = append(out, e)
		}
	}
	return out
}
