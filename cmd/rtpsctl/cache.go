package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rtpsmesh/rtpsd/cli/table"
	"github.com/rtpsmesh/rtpsd/rtps/participant"
)

type cacheReport struct {
	PoolResidentBytes int64                      `json:"poolResidentBytes"`
	Writers           []participant.EndpointStat `json:"writers"`
}

func newCacheCommand(adminAddr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cache",
		Short: "Show local writer history cache occupancy",
		RunE: func(*cobra.Command, []string) error {
			var report cacheReport
			if err := fetchJSON(*adminAddr, "/cache", &report); err != nil {
				return err
			}
			renderCache(report)
			return nil
		},
	}
}

func renderCache(report cacheReport) {
	fmt.Fprintf(stdout, "pool resident bytes: %d\n", report.PoolResidentBytes)

	cols := []table.Column{
		{Header: "GUID", Flexible: true, LeftAlign: true},
		{Header: "TOPIC", Width: 20, LeftAlign: true},
		{Header: "TYPE", Width: 16, LeftAlign: true},
		{Header: "RELIABLE", Width: 8, LeftAlign: true},
		{Header: "SAMPLES", Width: 8, LeftAlign: true},
		{Header: "BYTES", Width: 10, LeftAlign: true},
	}
	rows := make([]table.Row, 0, len(report.Writers))
	for _, w := range report.Writers {
		rows = append(rows, table.Row{
			w.GUID.String(),
			w.Topic,
			w.Type,
			strconv.FormatBool(w.Reliable),
			strconv.Itoa(w.CachedCount),
			strconv.FormatInt(w.CachedBytes, 10),
		})
	}
	t := table.NewTable(cols, rows)
	t.Sort = []int{0}
	t.Render(stdout)
	if len(report.Writers) == 0 {
		fmt.Fprintln(stdout, warnStatus, "no local writers")
	}
}
