package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rtpsmesh/rtpsd/cli/table"
	"github.com/rtpsmesh/rtpsd/rtps/edp"
)

func newMatchesCommand(adminAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "matches",
		Short: "List currently matched writer/reader pairs",
		RunE: func(*cobra.Command, []string) error {
			var matches []edp.Match
			if err := fetchJSON(*adminAddr, "/matches", &matches); err != nil {
				return err
			}
			renderMatches(matches)
			return nil
		},
	}
}

func renderMatches(matches []edp.Match) {
	cols := []table.Column{
		{Header: "WRITER", Flexible: true, LeftAlign: true},
		{Header: "READER", Flexible: true, LeftAlign: true},
	}
	rows := make([]table.Row, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, table.Row{m.Writer.String(), m.Reader.String()})
	}
	t := table.NewTable(cols, rows)
	t.Render(stdout)
	if len(matches) == 0 {
		fmt.Fprintln(stdout, warnStatus, "no matched endpoints")
	}
}
